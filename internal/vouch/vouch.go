// Package vouch implements the proxy-cookie codec: a compressed,
// HMAC-signed cookie carrying the upstream ID/refresh tokens and a
// projected subset of IdP claims between browser requests (§4.D).
package vouch

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClaimsType selects which groups of upstream IdP claims get projected
// into a cookie's CustomClaims (§3 "Proxy cookie payload").
type ClaimsType int

const (
	OpenID ClaimsType = iota + 1
	Email
	Profile
	CILogonUserInfo
)

// claimNames mirrors CustomClaimsType.interpret()'s mapping of claim
// type to the upstream claim names it pulls in.
func (c ClaimsType) claimNames() []string {
	switch c {
	case OpenID:
		return []string{"sub", "iss", "aud", "token_id"}
	case Email:
		return []string{"email"}
	case Profile:
		return []string{"given_name", "family_name", "name"}
	case CILogonUserInfo:
		return []string{"idp", "idp_name", "eppn", "eptid", "affiliation", "ou", "oidc", "cert_subject_dn"}
	default:
		return nil
	}
}

// ParseClaimsType maps a configuration string (vouch.custom_claims, §6)
// to its ClaimsType.
func ParseClaimsType(name string) (ClaimsType, bool) {
	switch strings.ToUpper(name) {
	case "OPENID":
		return OpenID, true
	case "EMAIL":
		return Email, true
	case "PROFILE":
		return Profile, true
	case "CILOGON_USER_INFO":
		return CILogonUserInfo, true
	default:
		return 0, false
	}
}

// PTokens encapsulates the upstream tokens and decoded identity claims
// carried inside a vouch cookie (PTokens in vouch_helper.py). All tokens
// are assumed already validated by the caller.
type PTokens struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	IDPClaims    jwt.MapClaims
}

// Codec encodes and decodes the proxy cookie (VouchHelper).
type Codec struct {
	secret      string
	cookieName  string
	compression bool
	claimsTypes []ClaimsType
}

// NewCodec builds a Codec from the vouch configuration section.
func NewCodec(secret, cookieName string, compression bool, claimsTypes []ClaimsType) *Codec {
	return &Codec{secret: secret, cookieName: cookieName, compression: compression, claimsTypes: claimsTypes}
}

func generateCustomClaims(idpClaims jwt.MapClaims, types []ClaimsType) (map[string]any, string) {
	result := make(map[string]any)
	var username string
	for _, t := range types {
		for _, claim := range t.claimNames() {
			if v, ok := idpClaims[claim]; ok && v != nil {
				result[claim] = v
			}
			if claim == "email" {
				if v, ok := idpClaims[claim]; ok {
					if s, ok := v.(string); ok {
						username = s
					}
				}
			}
		}
	}
	return result, username
}

// Encode builds, signs, and (optionally) compresses a vouch cookie
// (VouchHelper.encode).
func (c *Codec) Encode(tokens PTokens, validity time.Duration) (string, error) {
	if tokens.IDToken == "" || tokens.IDPClaims == nil {
		return "", fmt.Errorf("vouch: missing identity token/idp claims")
	}

	customClaims, username := generateCustomClaims(tokens.IDPClaims, c.claimsTypes)

	vouchClaims := jwt.MapClaims{
		"username":    username,
		"sites":       []string{},
		"CustomClaims": customClaims,
		"PIdToken":    tokens.IDToken,
	}
	if tokens.AccessToken != "" {
		vouchClaims["PAccessToken"] = tokens.AccessToken
	}
	if tokens.RefreshToken != "" {
		vouchClaims["PRefreshToken"] = tokens.RefreshToken
	}
	vouchClaims["exp"] = time.Now().Add(validity).Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, vouchClaims)
	signed, err := token.SignedString([]byte(c.secret))
	if err != nil {
		return "", fmt.Errorf("vouch: signing cookie: %w", err)
	}

	if !c.compression {
		return signed, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(signed)); err != nil {
		return "", fmt.Errorf("vouch: compressing cookie: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("vouch: compressing cookie: %w", err)
	}

	return base64.URLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode parses a raw Set-Cookie-style value of the form "name=value" (or
// a bare value) and returns the decoded claim map (VouchHelper.decode).
// When verify is false, the signature is not checked — used for
// best-effort introspection where a caller only needs the claims.
func (c *Codec) Decode(rawCookie string, verify bool) (jwt.MapClaims, error) {
	value := rawCookie
	if idx := strings.Index(rawCookie, c.cookieName+"="); idx >= 0 {
		value = rawCookie[idx+len(c.cookieName)+1:]
	}

	payload := []byte(value)
	if c.compression {
		decoded, err := base64.URLEncoding.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("vouch: base64 decoding cookie: %w", err)
		}
		zr, err := gzip.NewReader(bytes.NewReader(decoded))
		if err != nil {
			return nil, fmt.Errorf("vouch: decompressing cookie: %w", err)
		}
		defer zr.Close()
		payload, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("vouch: decompressing cookie: %w", err)
		}
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))

	if !verify {
		_, _, err := parser.ParseUnverified(string(payload), claims)
		if err != nil {
			return nil, fmt.Errorf("vouch: parsing cookie: %w", err)
		}
		return claims, nil
	}

	_, err := parser.ParseWithClaims(string(payload), claims, func(*jwt.Token) (any, error) {
		return []byte(c.secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("vouch: verifying cookie: %w", err)
	}
	return claims, nil
}

// CookieName returns the configured cookie name.
func (c *Codec) CookieName() string { return c.cookieName }
