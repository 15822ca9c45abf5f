// Package lifecycle implements the framework-agnostic Token Lifecycle
// API (§4.G): create, refresh, revoke, delete, list, revocation-list,
// and validate, each gated by cookie or self-token authentication.
package lifecycle

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/fabric-testbed/credential-broker/internal/apierr"
	"github.com/fabric-testbed/credential-broker/internal/audit"
	"github.com/fabric-testbed/credential-broker/internal/directory"
	"github.com/fabric-testbed/credential-broker/internal/keymaterial"
	"github.com/fabric-testbed/credential-broker/internal/mint"
	"github.com/fabric-testbed/credential-broker/internal/tokenstore"
	"github.com/fabric-testbed/credential-broker/internal/vouch"
)

// Identity is the caller's resolved identity, set by either the cookie
// authenticator or the self-token (bearer) authenticator (§4.G).
type Identity struct {
	UserID          string
	UserEmail       string
	IsFleetOperator bool
	UpstreamIDToken string
	IDPClaims       jwt.MapClaims
	Cookie          string
	RefreshToken    string
}

// Service implements every §4.G operation on top of the mint pipeline,
// token store, vouch codec, and key material.
type Service struct {
	Pipeline             *mint.Pipeline
	Store                *tokenstore.Store
	Vouch                *vouch.Codec
	Keys                 *keymaterial.Store
	DirFactory           directory.Factory
	OAuth                *oauth2.Config
	RevokeURL            string
	Secret               string // shared vouch secret, reused for token_hash (see mint.Pipeline.Secret)
	Audience             string
	FacilityOperatorRole string
}

// IsFleetOperator reports whether uuid holds the configured
// facility-operator role, grounded on Utils.is_facility_operator: the
// original resolves uuid/email via CoreApi.get_user_id_and_email then
// checks CONFIG_OBJ.get_facility_operator_role() against
// CoreApi.get_user_roles(uuid). cookie/token scope the directory lookup
// to the caller's own session.
func (s *Service) IsFleetOperator(uuid, cookie, token string) bool {
	if s.FacilityOperatorRole == "" {
		return false
	}
	dir, err := s.DirFactory(cookie, token)
	if err != nil {
		return false
	}
	roles, err := dir.Roles(uuid)
	if err != nil {
		return false
	}
	for _, r := range roles {
		if r.Name == s.FacilityOperatorRole {
			return true
		}
	}
	return false
}

const timeFormat = "2006-01-02 15:04:05 -0700"

// FormatTime renders a timestamp in the wire format §4.G specifies.
func FormatTime(t time.Time) string {
	return t.Format(timeFormat)
}

// CreateRequest is the input to Create (cookie-authenticated, §4.G).
type CreateRequest struct {
	Identity    Identity
	ProjectID   string
	ProjectName string
	Scope       string
	LifetimeHrs int
	Comment     string
	RemoteAddr  string
}

// Create mints a new token on behalf of a logged-in (cookie-bearing)
// caller.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*mint.Result, error) {
	if err := validateLifetimeHours(req.LifetimeHrs); err != nil {
		return nil, err
	}

	result, err := s.Pipeline.Run(ctx, mint.Request{
		UpstreamIDToken: req.Identity.UpstreamIDToken,
		Scope:           req.Scope,
		ProjectID:       req.ProjectID,
		ProjectName:     req.ProjectName,
		Lifetime:        time.Duration(req.LifetimeHrs) * time.Hour,
		RemoteAddr:      req.RemoteAddr,
		Comment:         req.Comment,
		Cookie:          req.Identity.Cookie,
	})
	if err != nil {
		return nil, err
	}

	audit.Event("create", result.TokenHash, req.ProjectID, req.Identity.UserID, req.Identity.UserEmail)
	return result, nil
}

// RefreshRequest is the input to Refresh: the upstream refresh token is
// exchanged at the IdP before the mint pipeline runs again (§4.F step 3
// "refresh orchestrator").
type RefreshRequest struct {
	RefreshToken string
	ProjectID    string
	ProjectName  string
	Scope        string
	RemoteAddr   string
	ShortHours   int    // lifetime used for the re-minted token
	Cookie       string // prior proxy cookie, if resent alongside the refresh token; scopes the directory lookup
}

// RefreshResult carries the new upstream refresh token even on failure,
// per §7's "user-visible failure behavior" quirk: a failed enrichment or
// signing step after the IdP already issued a new refresh token must not
// strand the client.
type RefreshResult struct {
	Mint            *mint.Result
	NewRefreshToken string
}

// Refresh exchanges refreshToken at the upstream IdP, then re-runs the
// mint pipeline with refresh=true (§4.F step 10 sets state=Refreshed).
func (s *Service) Refresh(ctx context.Context, req RefreshRequest) (*RefreshResult, error) {
	if req.ProjectID == "" && req.ProjectName == "" {
		return nil, apierr.New(apierr.BadRequest, "either project_id or project_name must be specified")
	}

	tok := &oauth2.Token{RefreshToken: req.RefreshToken}
	tokenSource := s.OAuth.TokenSource(ctx, tok)
	newToken, err := tokenSource.Token()
	if err != nil {
		return nil, apierr.New(apierr.UpstreamError, "refresh at identity provider failed: %v", err)
	}

	newRefreshToken := newToken.RefreshToken
	idToken, _ := newToken.Extra("id_token").(string)
	if idToken == "" || newRefreshToken == "" {
		return nil, apierr.New(apierr.UpstreamError, "identity provider did not return refresh and id tokens")
	}

	result, err := s.Pipeline.Run(ctx, mint.Request{
		UpstreamIDToken: idToken,
		Scope:           req.Scope,
		ProjectID:       req.ProjectID,
		ProjectName:     req.ProjectName,
		Lifetime:        time.Duration(req.ShortHours) * time.Hour,
		RemoteAddr:      req.RemoteAddr,
		Refresh:         true,
		Cookie:          req.Cookie,
		Token:           newToken.AccessToken,
	})
	if err != nil {
		// The new refresh token must still reach the caller (§7).
		return &RefreshResult{NewRefreshToken: newRefreshToken}, apierr.New(
			apierr.ServerError,
			"failed generating the token but still returning refresh token: %v", err,
		).WithDetails(map[string]string{"refresh_token": newRefreshToken})
	}

	audit.Event("refresh", result.TokenHash, req.ProjectID, "", "")
	return &RefreshResult{Mint: result, NewRefreshToken: newRefreshToken}, nil
}

// RevokeUpstream revokes an upstream refresh token directly at the IdP's
// revocation endpoint (oauth_credmgr.py::revoke_token).
func (s *Service) RevokeUpstream(ctx context.Context, refreshToken string) error {
	req, err := newRevokeRequest(ctx, s.OAuth, s.RevokeURL, refreshToken)
	if err != nil {
		return apierr.New(apierr.ServerError, "building revoke request: %v", err)
	}
	if err := doRevoke(req); err != nil {
		return apierr.New(apierr.UpstreamError, "refresh token could not be revoked: %v", err)
	}
	return nil
}

// RevokeByHash revokes a single identity token by its stored hash
// (§4.G "revoke-by-hash"). Fleet operators may target any row; everyone
// else is implicitly filtered to their own email/project.
func (s *Service) RevokeByHash(ctx context.Context, caller Identity, tokenHash, projectID string) error {
	q := tokenstore.Query{TokenHash: tokenHash, Limit: 1}
	if !caller.IsFleetOperator {
		q.UserEmail = caller.UserEmail
		q.ProjectID = projectID
	}

	rows, err := s.Store.Find(ctx, q)
	if err != nil {
		return apierr.New(apierr.ServerError, "looking up token: %v", err)
	}
	if len(rows) == 0 {
		return apierr.New(apierr.NotFound, "token %s not found", tokenHash)
	}

	row := rows[0]
	if row.State == tokenstore.Revoked {
		return nil
	}
	if err := s.Store.Update(ctx, tokenHash, tokenstore.Revoked); err != nil {
		return apierr.New(apierr.ServerError, "revoking token: %v", err)
	}

	audit.Event("revoke", tokenHash, row.ProjectID, row.UserID, row.UserEmail)
	return nil
}

// DeleteAllMine hard-deletes every row owned by the caller
// (§4.G "delete-all-mine").
func (s *Service) DeleteAllMine(ctx context.Context, caller Identity) error {
	rows, err := s.Store.Find(ctx, tokenstore.Query{UserEmail: caller.UserEmail, Limit: 10000})
	if err != nil {
		return apierr.New(apierr.ServerError, "looking up tokens: %v", err)
	}
	for _, row := range rows {
		if err := s.Store.Remove(ctx, row.TokenHash); err != nil {
			return apierr.New(apierr.ServerError, "deleting token %s: %v", row.TokenHash, err)
		}
		audit.Event("delete", row.TokenHash, row.ProjectID, row.UserID, row.UserEmail)
	}
	return nil
}

// DeleteByHash hard-deletes one row owned by the caller
// (§4.G "delete-by-hash").
func (s *Service) DeleteByHash(ctx context.Context, caller Identity, tokenHash string) error {
	rows, err := s.Store.Find(ctx, tokenstore.Query{TokenHash: tokenHash, UserEmail: caller.UserEmail, Limit: 1})
	if err != nil {
		return apierr.New(apierr.ServerError, "looking up token: %v", err)
	}
	if len(rows) == 0 {
		return nil
	}
	row := rows[0]
	if err := s.Store.Remove(ctx, tokenHash); err != nil {
		return apierr.New(apierr.ServerError, "deleting token: %v", err)
	}
	audit.Event("delete", tokenHash, row.ProjectID, row.UserID, row.UserEmail)
	return nil
}

// ListRequest filters List's output (§4.G "list").
type ListRequest struct {
	Caller        Identity
	TokenHash     string
	ProjectID     string
	ExpiresBefore *time.Time
	States        []tokenstore.State
	Limit, Offset int
}

// List returns the caller's (or, for fleet operators, anyone's) token
// records with expiry-derived state resolved (§3 "Invariants").
func (s *Service) List(ctx context.Context, req ListRequest) ([]tokenstore.Record, error) {
	q := tokenstore.Query{
		TokenHash:     req.TokenHash,
		ProjectID:     req.ProjectID,
		ExpiresBefore: req.ExpiresBefore,
		States:        req.States,
		Limit:         req.Limit,
		Offset:        req.Offset,
	}
	if !req.Caller.IsFleetOperator {
		q.UserEmail = req.Caller.UserEmail
	}

	rows, err := s.Store.Find(ctx, q)
	if err != nil {
		return nil, apierr.New(apierr.ServerError, "listing tokens: %v", err)
	}
	for i := range rows {
		rows[i].State = rows[i].EffectiveState()
	}
	return rows, nil
}

// RevocationList returns the hashes of every row in state Revoked for
// projectID (§4.G "revocation-list").
func (s *Service) RevocationList(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.Store.Find(ctx, tokenstore.Query{
		ProjectID: projectID,
		States:    []tokenstore.State{tokenstore.Revoked},
		Limit:     10000,
	})
	if err != nil {
		return nil, apierr.New(apierr.ServerError, "listing revoked tokens: %v", err)
	}
	hashes := make([]string, 0, len(rows))
	for _, r := range rows {
		hashes = append(hashes, r.TokenHash)
	}
	return hashes, nil
}

// ValidateResult is what Validate returns (§4.G "validate").
type ValidateResult struct {
	State  tokenstore.State
	Claims jwt.MapClaims
}

// Validate verifies a testbed token's signature against this service's
// own public key, then looks up its revocation/expiry state
// (oauth_credmgr.py::validate_token).
func (s *Service) Validate(ctx context.Context, token string) (*ValidateResult, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithAudience(s.Audience))
	claims := jwt.MapClaims{}

	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token does not specify kid")
		}
		if kid != s.Keys.Kid() {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return s.Keys.PublicKey(), nil
	})
	if err != nil {
		return nil, apierr.New(apierr.Unauthorized, "token validation failed: %v", err)
	}
	if !parsed.Valid {
		return nil, apierr.New(apierr.Unauthorized, "token is not valid")
	}

	tokenHash := s.hashToken(token)
	rows, err := s.Store.Find(ctx, tokenstore.Query{TokenHash: tokenHash, Limit: 1})
	if err != nil {
		return nil, apierr.New(apierr.ServerError, "looking up token: %v", err)
	}
	if len(rows) == 0 {
		return nil, apierr.New(apierr.NotFound, "token not found")
	}

	return &ValidateResult{State: rows[0].EffectiveState(), Claims: claims}, nil
}

func (s *Service) hashToken(signedJWT string) string {
	mac := hmac.New(sha256.New, []byte(s.Secret))
	mac.Write([]byte(signedJWT))
	return hex.EncodeToString(mac.Sum(nil))
}

// lifetimeHoursValidate registers a "lifetime_hours" struct tag enforcing
// the [1, 1512] bound, following the teacher's pattern of registering
// custom domain validators on a validator.Validate instance
// (services/validation.go's strong_password/username/tenant_name tags)
// instead of an ad hoc if-statement.
var lifetimeHoursValidate = newLifetimeHoursValidate()

func newLifetimeHoursValidate() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("lifetime_hours", func(fl validator.FieldLevel) bool {
		hrs := fl.Field().Int()
		return hrs >= 1 && hrs <= 1512
	})
	return v
}

type lifetimeInput struct {
	Hours int `validate:"lifetime_hours"`
}

func validateLifetimeHours(hrs int) error {
	if err := lifetimeHoursValidate.Struct(lifetimeInput{Hours: hrs}); err != nil {
		return apierr.New(apierr.BadRequest, "lifetime_hours %d out of range [1, 1512]", hrs)
	}
	return nil
}
