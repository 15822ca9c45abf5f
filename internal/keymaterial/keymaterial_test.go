package keymaterial

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadUnencryptedPKCS1Key(t *testing.T) {
	store, err := Load("testdata/unencrypted.pem", "credmgr-1", "")
	require.NoError(t, err)
	assert.Equal(t, "credmgr-1", store.Kid())
	assert.NotNil(t, store.PublicKey())
}

func TestLoadPKCS8Key(t *testing.T) {
	store, err := Load("testdata/pkcs8.pem", "credmgr-1", "")
	require.NoError(t, err)
	assert.NotNil(t, store.PublicKey())
}

func TestLoadEncryptedKeyWithPassphrase(t *testing.T) {
	store, err := Load("testdata/encrypted.pem", "credmgr-1", "testpass123")
	require.NoError(t, err)
	assert.NotNil(t, store.PublicKey())
}

func TestLoadEncryptedKeyWrongPassphraseFails(t *testing.T) {
	_, err := Load("testdata/encrypted.pem", "credmgr-1", "wrong-pass")
	assert.Error(t, err)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("testdata/does-not-exist.pem", "credmgr-1", "")
	assert.Error(t, err)
}

func TestSignSetsIatExpAndKidHeader(t *testing.T) {
	store, err := Load("testdata/unencrypted.pem", "credmgr-1", "")
	require.NoError(t, err)

	claims := jwt.MapClaims{"sub": "user-uuid", "email": "researcher@example.org"}
	signed, err := store.Sign(claims, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	parsed, err := parser.Parse(signed, func(t *jwt.Token) (any, error) {
		return store.PublicKey(), nil
	})
	require.NoError(t, err)
	assert.True(t, parsed.Valid)
	assert.Equal(t, "credmgr-1", parsed.Header["kid"])

	exp, err := parsed.Claims.GetExpirationTime()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp.Time, time.Minute)
}

func TestPublicJWKSShape(t *testing.T) {
	store, err := Load("testdata/unencrypted.pem", "credmgr-1", "")
	require.NoError(t, err)

	jwks := store.PublicJWKS()
	require.Len(t, jwks.Keys, 1)
	key := jwks.Keys[0]
	assert.Equal(t, "RSA", key.Kty)
	assert.Equal(t, "RS256", key.Alg)
	assert.Equal(t, "sig", key.Use)
	assert.Equal(t, "credmgr-1", key.Kid)
	assert.NotEmpty(t, key.N)
	assert.NotEmpty(t, key.E)
}

func TestMarshalJWKSProducesValidJSON(t *testing.T) {
	store, err := Load("testdata/unencrypted.pem", "credmgr-1", "")
	require.NoError(t, err)

	raw, err := store.MarshalJWKS()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"kty":"RSA"`)
}
