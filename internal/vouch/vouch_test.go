package vouch

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClaimsType(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   ClaimsType
		wantOK bool
	}{
		{"openid", "OPENID", OpenID, true},
		{"lowercase email", "email", Email, true},
		{"profile", "PROFILE", Profile, true},
		{"cilogon user info", "CILOGON_USER_INFO", CILogonUserInfo, true},
		{"unknown", "BOGUS", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseClaimsType(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	codec := NewCodec("super-secret", "fabric-vouch", true, []ClaimsType{OpenID, Email})

	tokens := PTokens{
		IDToken:      "upstream-id-token",
		RefreshToken: "upstream-refresh-token",
		IDPClaims: jwt.MapClaims{
			"sub":   "abc-123",
			"email": "researcher@example.org",
		},
	}

	encoded, err := codec.Encode(tokens, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	claims, err := codec.Decode(encoded, true)
	require.NoError(t, err)
	assert.Equal(t, "upstream-id-token", claims["PIdToken"])
	assert.Equal(t, "upstream-refresh-token", claims["PRefreshToken"])
	assert.Equal(t, "researcher@example.org", claims["username"])
}

func TestEncodeWithoutCompression(t *testing.T) {
	codec := NewCodec("super-secret", "fabric-vouch", false, []ClaimsType{OpenID})

	tokens := PTokens{
		IDToken:   "upstream-id-token",
		IDPClaims: jwt.MapClaims{"sub": "abc-123"},
	}

	encoded, err := codec.Encode(tokens, time.Hour)
	require.NoError(t, err)

	claims, err := codec.Decode(encoded, true)
	require.NoError(t, err)
	assert.Equal(t, "upstream-id-token", claims["PIdToken"])
}

func TestEncodeRejectsMissingIDToken(t *testing.T) {
	codec := NewCodec("super-secret", "fabric-vouch", true, nil)
	_, err := codec.Encode(PTokens{IDPClaims: jwt.MapClaims{}}, time.Hour)
	assert.Error(t, err)
}

func TestDecodeRejectsTamperedSignature(t *testing.T) {
	codec := NewCodec("super-secret", "fabric-vouch", true, []ClaimsType{OpenID})
	other := NewCodec("different-secret", "fabric-vouch", true, []ClaimsType{OpenID})

	encoded, err := codec.Encode(PTokens{IDToken: "id-token", IDPClaims: jwt.MapClaims{"sub": "x"}}, time.Hour)
	require.NoError(t, err)

	_, err = other.Decode(encoded, true)
	assert.Error(t, err)
}

func TestDecodeStripsCookieNamePrefix(t *testing.T) {
	codec := NewCodec("super-secret", "fabric-vouch", false, []ClaimsType{OpenID})
	encoded, err := codec.Encode(PTokens{IDToken: "id-token", IDPClaims: jwt.MapClaims{"sub": "x"}}, time.Hour)
	require.NoError(t, err)

	claims, err := codec.Decode("fabric-vouch="+encoded, true)
	require.NoError(t, err)
	assert.Equal(t, "id-token", claims["PIdToken"])
}

func TestCookieName(t *testing.T) {
	codec := NewCodec("secret", "my-cookie", true, nil)
	assert.Equal(t, "my-cookie", codec.CookieName())
}
