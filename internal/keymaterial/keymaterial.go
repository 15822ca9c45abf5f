// Package keymaterial loads the broker's own RSA signing key and exposes
// it for signing testbed tokens and for publishing the public half as a
// JWKS entry (§3 "Key material", §4.A).
package keymaterial

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Store holds the process-wide signing key. Immutable after startup
// except for a future scheduled reload (§3 "Ownership"); rotation itself
// is out of scope for the core but Kid is carried so it is additive.
type Store struct {
	privateKey *rsa.PrivateKey
	kid        string
}

// Load reads a PEM-encoded RSA private key, optionally pass-phrase
// protected, from privateKeyPath. A parse failure or pass-phrase mismatch
// is fatal at startup, matching JWTManager.encode's behavior of failing
// the whole process rather than degrading to an unsigned mode.
func Load(privateKeyPath, kid, passPhrase string) (*Store, error) {
	raw, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: reading private key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("keymaterial: no PEM block found in %s", privateKeyPath)
	}

	der := block.Bytes
	if passPhrase != "" {
		//nolint:staticcheck // x509.IsEncryptedPEMBlock/DecryptPEMBlock are
		// deprecated but match the legacy PKCS#1-encrypted key files this
		// broker inherits; no replacement ships in the standard library.
		if x509.IsEncryptedPEMBlock(block) {
			der, err = x509.DecryptPEMBlock(block, []byte(passPhrase))
			if err != nil {
				return nil, fmt.Errorf("keymaterial: decrypting private key: %w", err)
			}
		}
	}

	key, err := parsePrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: parsing private key: %w", err)
	}

	log.Printf("keymaterial: loaded RSA signing key kid=%s", kid)
	return &Store{privateKey: key, kid: kid}, nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return rsaKey, nil
}

// Sign builds and signs a JWT under RS256 with the configured kid,
// setting iat/exp from validity (§4.F step 8). claims is mutated with
// iat/exp in place, matching JWTManager.encode.
func (s *Store) Sign(claims jwt.MapClaims, validity time.Duration) (string, error) {
	now := time.Now()
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(validity).Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.kid

	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("keymaterial: signing token: %w", err)
	}
	return signed, nil
}

// PublicKey returns the public half of the signing key, for verification
// paths that don't want to go through PublicJWKS's JSON shape.
func (s *Store) PublicKey() *rsa.PublicKey {
	return &s.privateKey.PublicKey
}

// Kid returns the active key identifier.
func (s *Store) Kid() string {
	return s.kid
}

// JWK is the wire shape of one JSON Web Key, §3's `{kty, alg, use, kid, n, e}`.
type JWK struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is the standard `{keys: [...]}` JWKS envelope.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// PublicJWKS serializes the public half of the signing key as a JWKS
// document for publication at GET /certs (§6).
func (s *Store) PublicJWKS() JWKS {
	pub := s.privateKey.PublicKey
	n := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	eBytes := big32(pub.E)
	e := base64.RawURLEncoding.EncodeToString(eBytes)

	return JWKS{Keys: []JWK{{
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		Kid: s.kid,
		N:   n,
		E:   e,
	}}}
}

// big32 mirrors how encoding/json and most JWK libraries trim the
// exponent to its minimal big-endian byte representation (commonly 3
// bytes for 65537).
func big32(e int) []byte {
	if e == 0 {
		return []byte{0}
	}
	var b []byte
	for e > 0 {
		b = append([]byte{byte(e & 0xff)}, b...)
		e >>= 8
	}
	return b
}

// MarshalJWKS is a convenience for handlers that want raw bytes directly.
func (s *Store) MarshalJWKS() ([]byte, error) {
	return json.Marshal(s.PublicJWKS())
}
