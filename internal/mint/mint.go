// Package mint implements the single internal pipeline shared by the
// create and refresh operations: validate upstream token, enrich
// claims, enforce lifetime policy, sign, persist, and return (§4.F).
package mint

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"

	"github.com/fabric-testbed/credential-broker/internal/apierr"
	"github.com/fabric-testbed/credential-broker/internal/directory"
	"github.com/fabric-testbed/credential-broker/internal/idpjwks"
	"github.com/fabric-testbed/credential-broker/internal/keymaterial"
	"github.com/fabric-testbed/credential-broker/internal/tokenstore"
)

// uuidLikePattern filters out role entries whose name is itself a uuid
// (§3 "roles ... entries whose name matches a UUID regex are filtered
// out"), grounded on TokenEncoder.exclude_uuid_roles.
var uuidLikePattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Policy carries the runtime knobs the pipeline enforces (§6 "runtime").
type Policy struct {
	AllowedScopes    []string
	ShortThreshold   time.Duration
	MinLifetime      time.Duration
	MaxLifetime      time.Duration
	MaxLLTPerProject int
	Audience         string
}

// Request is one mint call's inputs (§4.F "Inputs"). Cookie/Token scope
// the Directory Adapter to this caller's session (§5); exactly one is
// normally set, matching how the caller authenticated.
type Request struct {
	UpstreamIDToken string
	Scope           string
	ProjectID       string
	ProjectName     string
	Lifetime        time.Duration
	RemoteAddr      string
	Comment         string
	Refresh         bool
	Cookie          string
	Token           string
}

// Result is the record returned to the Lifecycle API (§4.F step 11).
type Result struct {
	TokenHash   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	State       tokenstore.State
	Comment     string
	CreatedFrom string
	IDToken     string
	ShortLived  bool
}

// Pipeline wires together the components the mint algorithm depends on.
type Pipeline struct {
	Policy     Policy
	JWKS       *idpjwks.Cache
	DirFactory directory.Factory
	Keys       *keymaterial.Store
	Store      *tokenstore.Store
	Secret     string // HMAC key for token_hash, the vouch secret (shared, see config.VouchConfig)

	scopeOnce     sync.Once
	scopeValidate *validator.Validate
}

// scopeInput is validated with a "scope_allowed" struct tag bound to this
// Pipeline's Policy.AllowedScopes, following the teacher's
// NewValidationService pattern of registering closures against a
// validator.Validate instance (services/validation.go).
type scopeInput struct {
	Scope string `validate:"required,scope_allowed"`
}

// validator lazily builds (and caches) a *validator.Validate with a
// "scope_allowed" tag closed over this Pipeline's configured allow-list.
func (p *Pipeline) validator() *validator.Validate {
	p.scopeOnce.Do(func() {
		p.scopeValidate = validator.New()
		allowed := p.Policy.AllowedScopes
		_ = p.scopeValidate.RegisterValidation("scope_allowed", func(fl validator.FieldLevel) bool {
			return containsScope(allowed, fl.Field().String())
		})
	})
	return p.scopeValidate
}

// Run executes the 11-step algorithm of §4.F and persists the resulting
// record. The caller (Lifecycle API) is responsible for the refresh-token
// exchange itself; Run only consumes the already-validated upstream ID
// token.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	// Step 1: scope allow-list.
	if err := p.validator().Struct(scopeInput{Scope: req.Scope}); err != nil {
		return nil, apierr.New(apierr.BadRequest, "scope %q is not allowed; allowed scopes: %v", req.Scope, p.Policy.AllowedScopes)
	}

	// Step 2: project resolution. project_id takes precedence over name.
	if req.ProjectID == "" && req.ProjectName == "" {
		return nil, apierr.New(apierr.BadRequest, "either project_id or project_name must be specified")
	}
	projectSelector := req.ProjectID
	if projectSelector == "" {
		projectSelector = req.ProjectName
	}

	// Step 3: lifetime policy.
	if req.Lifetime < p.Policy.MinLifetime || req.Lifetime > p.Policy.MaxLifetime {
		return nil, apierr.New(apierr.BadRequest, "lifetime %s out of bounds [%s, %s]", req.Lifetime, p.Policy.MinLifetime, p.Policy.MaxLifetime)
	}
	shortLived := req.Lifetime <= p.Policy.ShortThreshold

	// Step 4: validate upstream token.
	upstreamClaims, err := p.JWKS.Validate(req.UpstreamIDToken)
	if err != nil {
		return nil, apierr.New(apierr.UpstreamError, "upstream token validation failed: %v", err)
	}

	eppn, _ := upstreamClaims["eppn"].(string)
	claimEmail, _ := upstreamClaims["email"].(string)

	// Step 5: enrich claims via Directory Adapter, scoped to this caller's
	// session (§5 "HTTPS sessions are per-request").
	dir, err := p.DirFactory(req.Cookie, req.Token)
	if err != nil {
		return nil, apierr.New(apierr.UpstreamError, "building directory adapter: %v", err)
	}
	email, uuid, roles, projects, err := dir.EnrichForProject(eppn, claimEmail, projectSelector)
	if err != nil {
		return nil, apierr.New(apierr.Forbidden, "directory enrichment failed: %v", err)
	}
	if len(projects) == 0 {
		return nil, apierr.New(apierr.Conflict, "no project resolved for selector %q", projectSelector)
	}
	if req.ProjectID == "" && len(projects) > 1 {
		return nil, apierr.New(apierr.Conflict, "project name %q is ambiguous: %d matches", req.ProjectName, len(projects))
	}
	resolvedProjectID := projects[0].UUID

	if !shortLived {
		if !projects[0].IsTokenHolder() {
			return nil, apierr.New(apierr.Forbidden, "user is not a token holder for project %s", resolvedProjectID)
		}
		count, err := p.Store.CountLongLived(ctx, uuid, resolvedProjectID, p.Policy.ShortThreshold)
		if err != nil {
			return nil, apierr.New(apierr.ServerError, "checking long-lived token cap: %v", err)
		}
		if count >= p.Policy.MaxLLTPerProject {
			return nil, apierr.New(apierr.Forbidden, "user already has %d long-lived tokens for project %s", count, resolvedProjectID)
		}
	}

	filteredRoles := filterUUIDRoles(roles)

	// Step 6: standard + enrichment claims.
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":      "credential-broker",
		"aud":      p.Policy.Audience,
		"sub":      upstreamClaims["sub"],
		"email":    email,
		"uuid":     uuid,
		"scope":    req.Scope,
		"projects": toClaimProjects(projects),
		"roles":    toClaimRoles(filteredRoles),
	}

	// Step 7: best-effort expired row cleanup.
	if err := p.Store.DeleteExpired(ctx, uuid); err != nil {
		// non-fatal: the error is dropped and never aborts the mint.
		_ = err
	}

	// Step 8: sign.
	signed, err := p.Keys.Sign(claims, req.Lifetime)
	if err != nil {
		return nil, apierr.New(apierr.ServerError, "signing token: %v", err)
	}

	// Step 9: hash.
	tokenHash := p.hashToken(signed)

	// Step 10: persist.
	state := tokenstore.Valid
	comment := req.Comment
	if req.Refresh {
		state = tokenstore.Refreshed
		comment = "Refreshed via API"
	} else if comment == "" {
		comment = "Created via GUI"
	}

	record := tokenstore.Record{
		UserID:      uuid,
		UserEmail:   email,
		ProjectID:   resolvedProjectID,
		TokenHash:   tokenHash,
		State:       state,
		CreatedAt:   now,
		ExpiresAt:   time.Unix(toInt64(claims["exp"]), 0),
		CreatedFrom: req.RemoteAddr,
		Comment:     comment,
	}
	if err := p.Store.Add(ctx, record); err != nil {
		return nil, apierr.New(apierr.ServerError, "persisting token record: %v", err)
	}

	return &Result{
		TokenHash:   tokenHash,
		CreatedAt:   record.CreatedAt,
		ExpiresAt:   record.ExpiresAt,
		State:       state,
		Comment:     comment,
		CreatedFrom: req.RemoteAddr,
		IDToken:     signed,
		ShortLived:  shortLived,
	}, nil
}

// hashToken fingerprints a signed JWT with HMAC-SHA256 under the shared
// vouch secret (§4.F step 9; __generate_token_hash reuses
// CONFIG_OBJ.get_vouch_secret(), not a separate database secret).
func (p *Pipeline) hashToken(signedJWT string) string {
	mac := hmac.New(sha256.New, []byte(p.Secret))
	mac.Write([]byte(signedJWT))
	return hex.EncodeToString(mac.Sum(nil))
}

func containsScope(allowed []string, scope string) bool {
	for _, s := range allowed {
		if s == scope {
			return true
		}
	}
	return false
}

func filterUUIDRoles(roles []directory.Role) []directory.Role {
	var out []directory.Role
	for _, r := range roles {
		if uuidLikePattern.MatchString(r.Name) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func toClaimProjects(projects []directory.Project) []map[string]any {
	out := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		entry := map[string]any{"uuid": p.UUID, "name": p.Name}
		if p.Tags != nil {
			entry["tags"] = p.Tags
		}
		if p.Memberships != nil {
			entry["memberships"] = p.Memberships
		}
		out = append(out, entry)
	}
	return out
}

func toClaimRoles(roles []directory.Role) []map[string]any {
	out := make([]map[string]any, 0, len(roles))
	for _, r := range roles {
		out = append(out, map[string]any{"name": r.Name})
	}
	return out
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
