package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLocalhostRedirect(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want bool
	}{
		{"localhost with port", "http://localhost:12345/callback", true},
		{"loopback IP with port", "http://127.0.0.1:8765/callback", true},
		{"missing port rejected", "http://localhost/callback", false},
		{"https rejected", "https://localhost:12345/callback", false},
		{"remote host rejected", "http://example.org:12345/callback", false},
		{"empty rejected", "", false},
		{"malformed rejected", "://bad-url", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isLocalhostRedirect(tt.uri))
		})
	}
}
