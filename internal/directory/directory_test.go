package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsUUIDLike(t *testing.T) {
	assert.True(t, isUUIDLike("550e8400-e29b-41d4-a716-446655440000"))
	assert.False(t, isUUIDLike("my-project-name"))
	assert.False(t, isUUIDLike("550e8400e29b41d4a716446655440000"))
}

func TestProjectIsTokenHolder(t *testing.T) {
	tests := []struct {
		name string
		p    Project
		want bool
	}{
		{"nil memberships", Project{}, false},
		{"missing key", Project{Memberships: map[string]any{"is_member": true}}, false},
		{"explicit true", Project{Memberships: map[string]any{"is_token_holder": true}}, true},
		{"explicit false", Project{Memberships: map[string]any{"is_token_holder": false}}, false},
		{"wrong type", Project{Memberships: map[string]any{"is_token_holder": "yes"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.IsTokenHolder())
		})
	}
}

func TestNewHTTPClientRespectsSSLVerifyFlag(t *testing.T) {
	verifying := NewHTTPClient(true)
	assert.Nil(t, verifying.Transport)

	skipping := NewHTTPClient(false)
	require := assert.New(t)
	require.NotNil(skipping.Transport)
}
