package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabric-testbed/credential-broker/internal/directory"
)

var assertAnError = errors.New("directory: lookup failed")

func mustParseTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(timeFormat, s)
	require.NoError(t, err)
	return ts
}

func TestValidateLifetimeHours(t *testing.T) {
	tests := []struct {
		name    string
		hours   int
		wantErr bool
	}{
		{"minimum bound", 1, false},
		{"maximum bound", 1512, false},
		{"typical short lived", 4, false},
		{"zero rejected", 0, true},
		{"negative rejected", -1, true},
		{"over ceiling rejected", 1513, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateLifetimeHours(tt.hours)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHashTokenIsDeterministicAndKeyed(t *testing.T) {
	s1 := &Service{Secret: "shared-secret"}
	s2 := &Service{Secret: "shared-secret"}
	s3 := &Service{Secret: "other-secret"}

	h1 := s1.hashToken("signed-jwt")
	h2 := s2.hashToken("signed-jwt")
	h3 := s3.hashToken("signed-jwt")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

type fakeAdapter struct {
	roles []directory.Role
	err   error
}

func (f *fakeAdapter) WhoAmI() (string, string, error) { return "", "", nil }
func (f *fakeAdapter) Roles(string) ([]directory.Role, error) {
	return f.roles, f.err
}
func (f *fakeAdapter) EnrichForProject(string, string, string) (string, string, []directory.Role, []directory.Project, error) {
	return "", "", nil, nil, nil
}

func TestIsFleetOperatorTrueWhenRolePresent(t *testing.T) {
	svc := &Service{
		FacilityOperatorRole: "facility-operators",
		DirFactory: func(cookie, token string) (directory.Adapter, error) {
			return &fakeAdapter{roles: []directory.Role{{Name: "facility-operators"}}}, nil
		},
	}
	assert.True(t, svc.IsFleetOperator("user-uuid", "cookie", ""))
}

func TestIsFleetOperatorFalseWhenRoleAbsent(t *testing.T) {
	svc := &Service{
		FacilityOperatorRole: "facility-operators",
		DirFactory: func(cookie, token string) (directory.Adapter, error) {
			return &fakeAdapter{roles: []directory.Role{{Name: "project-leads"}}}, nil
		},
	}
	assert.False(t, svc.IsFleetOperator("user-uuid", "cookie", ""))
}

func TestIsFleetOperatorFalseWhenUnconfigured(t *testing.T) {
	svc := &Service{DirFactory: func(cookie, token string) (directory.Adapter, error) {
		t.Fatal("directory factory should not be called when no role is configured")
		return nil, nil
	}}
	assert.False(t, svc.IsFleetOperator("user-uuid", "cookie", ""))
}

func TestIsFleetOperatorFalseOnDirectoryError(t *testing.T) {
	svc := &Service{
		FacilityOperatorRole: "facility-operators",
		DirFactory: func(cookie, token string) (directory.Adapter, error) {
			return &fakeAdapter{err: assertAnError}, nil
		},
	}
	assert.False(t, svc.IsFleetOperator("user-uuid", "cookie", ""))
}

func TestFormatTimeMatchesWireFormat(t *testing.T) {
	ts := mustParseTime(t, "2026-07-31 12:00:00 +0000")
	assert.Equal(t, "2026-07-31 12:00:00 +0000", FormatTime(ts))
}
