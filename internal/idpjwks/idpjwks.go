// Package idpjwks fetches and periodically refreshes the upstream
// identity provider's signing keys, and validates upstream ID tokens
// against them (§4.B).
package idpjwks

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrorKind classifies why upstream token validation failed.
type ErrorKind int

const (
	_ ErrorKind = iota
	Unparsable
	UnknownKey
	Expired
	AudienceMismatch
	Invalid
)

// ValidationError reports a structured upstream-token validation failure.
type ValidationError struct {
	Kind ErrorKind
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("idpjwks: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

type jwksDoc struct {
	Keys []jwkEntry `json:"keys"`
}

type jwkEntry struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Cache holds the upstream IdP's kid -> public key map, refreshed on a
// fixed-period background timer. Guarded by an RWMutex so readers never
// block each other; only the refresher writes (§5 "Shared mutable state").
type Cache struct {
	jwksURL  string
	audience string
	client   *http.Client

	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey

	stop chan struct{}
}

// NewCache builds a Cache and performs a synchronous first fetch so the
// service never serves requests with an empty key set. The caller should
// invoke StartRefresh to keep it current.
func NewCache(jwksURL, audience string, httpClient *http.Client) (*Cache, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	c := &Cache{
		jwksURL:  jwksURL,
		audience: audience,
		client:   httpClient,
		keys:     make(map[string]*rsa.PublicKey),
		stop:     make(chan struct{}),
	}
	if err := c.refresh(); err != nil {
		return nil, err
	}
	return c, nil
}

// StartRefresh launches the detached background refresher at the given
// interval. It logs and continues on failure, never calling back into
// request handlers (§5 "Background work").
func (c *Cache) StartRefresh(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.refresh(); err != nil {
					log.Printf("idpjwks: refresh failed: %v", err)
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts the background refresher.
func (c *Cache) Stop() {
	close(c.stop)
}

func (c *Cache) refresh() error {
	req, err := http.NewRequest(http.MethodGet, c.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("idpjwks: building request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("idpjwks: fetching jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("idpjwks: jwks endpoint returned %d", resp.StatusCode)
	}

	var doc jwksDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("idpjwks: decoding jwks: %w", err)
	}

	next := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := toRSAPublicKey(k.N, k.E)
		if err != nil {
			log.Printf("idpjwks: skipping key kid=%s: %v", k.Kid, err)
			continue
		}
		next[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = next
	c.mu.Unlock()

	log.Printf("idpjwks: refreshed %d signing keys from %s", len(next), c.jwksURL)
	return nil
}

func toRSAPublicKey(nEnc, eEnc string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(nEnc)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(eEnc)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}

// Validate parses and verifies an upstream ID token: signature against
// the cached kid, expiry, and audience (§4.B).
func (c *Cache) Validate(upstreamJWT string) (jwt.MapClaims, error) {
	var kid string
	_, _, err := jwt.NewParser().ParseUnverified(upstreamJWT, jwt.MapClaims{})
	if err != nil {
		return nil, &ValidationError{Kind: Unparsable, Err: err}
	}

	// Claims validation is performed by hand below so that expiry,
	// missing-claim, and audience failures each map to their own
	// ValidationError Kind instead of collapsing into Invalid.
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithoutClaimsValidation())
	token, err := parser.Parse(upstreamJWT, func(t *jwt.Token) (any, error) {
		k, ok := t.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid header")
		}
		kid = k

		c.mu.RLock()
		pub, found := c.keys[kid]
		c.mu.RUnlock()
		if !found {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return pub, nil
	})

	if err != nil {
		if _, found := c.lookupKid(kid); !found {
			return nil, &ValidationError{Kind: UnknownKey, Err: err}
		}
		return nil, &ValidationError{Kind: Invalid, Err: err}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, &ValidationError{Kind: Invalid, Err: fmt.Errorf("token not valid")}
	}

	if exp, err := claims.GetExpirationTime(); err != nil || exp == nil || exp.Before(time.Now()) {
		return nil, &ValidationError{Kind: Expired, Err: fmt.Errorf("token expired")}
	}

	if c.audience != "" {
		aud, err := claims.GetAudience()
		if err != nil || !containsAudience(aud, c.audience) {
			return nil, &ValidationError{Kind: AudienceMismatch, Err: fmt.Errorf("aud mismatch")}
		}
	}

	return claims, nil
}

func (c *Cache) lookupKid(kid string) (*rsa.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pub, ok := c.keys[kid]
	return pub, ok
}

func containsAudience(aud []string, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
