package tokenstore

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestEffectiveStateReportsExpiredPastDeadline(t *testing.T) {
	r := Record{State: Valid, ExpiresAt: time.Now().Add(-time.Minute)}
	assert.Equal(t, Expired, r.EffectiveState())
}

func TestEffectiveStateReportsStoredStateWhenNotExpired(t *testing.T) {
	r := Record{State: Refreshed, ExpiresAt: time.Now().Add(time.Hour)}
	assert.Equal(t, Refreshed, r.EffectiveState())
}

func TestEffectiveStateDoesNotMaskRevoked(t *testing.T) {
	r := Record{State: Revoked, ExpiresAt: time.Now().Add(time.Hour)}
	assert.Equal(t, Revoked, r.EffectiveState())
}

func TestIsUniqueViolationMatchesPostgresCode(t *testing.T) {
	err := &pgconn.PgError{Code: "23505"}
	assert.True(t, isUniqueViolation(err))
}

func TestIsUniqueViolationRejectsOtherErrors(t *testing.T) {
	assert.False(t, isUniqueViolation(errors.New("connection reset")))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
}
