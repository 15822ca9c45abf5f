package apierr

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindStatus(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		want int
	}{
		{"bad request", BadRequest, http.StatusBadRequest},
		{"unauthorized", Unauthorized, http.StatusUnauthorized},
		{"forbidden", Forbidden, http.StatusForbidden},
		{"not found", NotFound, http.StatusNotFound},
		{"conflict", Conflict, http.StatusConflict},
		{"upstream error maps to bad gateway", UpstreamError, http.StatusBadGateway},
		{"server error", ServerError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.Status())
		})
	}
}

func TestNewFormatsMessage(t *testing.T) {
	err := New(BadRequest, "scope %q is not allowed", "bogus")
	assert.Equal(t, BadRequest, err.Kind)
	assert.Equal(t, `scope "bogus" is not allowed`, err.Message)
	assert.Nil(t, err.Details)
}

func TestWithDetailsAttachesPayload(t *testing.T) {
	err := New(ServerError, "boom").WithDetails(map[string]string{"refresh_token": "abc"})
	assert.Equal(t, map[string]string{"refresh_token": "abc"}, err.Details)
}

func TestAs(t *testing.T) {
	err := New(Forbidden, "nope")
	assert.True(t, As(err, Forbidden))
	assert.False(t, As(err, NotFound))
	assert.False(t, As(assert.AnError, Forbidden))
}

func TestErrorStringIncludesKind(t *testing.T) {
	err := New(Conflict, "project name is ambiguous")
	assert.Contains(t, err.Error(), "Conflict")
	assert.Contains(t, err.Error(), "project name is ambiguous")
}
