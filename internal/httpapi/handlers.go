package httpapi

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fabric-testbed/credential-broker/internal/apierr"
	"github.com/fabric-testbed/credential-broker/internal/lifecycle"
	"github.com/fabric-testbed/credential-broker/internal/tokenstore"
)

// tokenResponse is the wire shape of a minted or stored token record.
type tokenResponse struct {
	TokenHash    string `json:"token_hash"`
	CreatedAt    string `json:"created_at"`
	ExpiresAt    string `json:"expires_at"`
	State        string `json:"state"`
	Comment      string `json:"comment"`
	CreatedFrom  string `json:"created_from,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func stateName(s tokenstore.State) string {
	switch s {
	case tokenstore.Nascent:
		return "Nascent"
	case tokenstore.Valid:
		return "Valid"
	case tokenstore.Refreshed:
		return "Refreshed"
	case tokenstore.Revoked:
		return "Revoked"
	case tokenstore.Expired:
		return "Expired"
	default:
		return "Unknown"
	}
}

type createRequest struct {
	ProjectID     string `json:"project_id"`
	ProjectName   string `json:"project_name"`
	Scope         string `json:"scope" binding:"required"`
	LifetimeHours int    `json:"lifetime_hours" binding:"required"`
	Comment       string `json:"comment"`
}

// handleCreate implements POST /tokens/create (§4.G "create").
func (s *Server) handleCreate(c *gin.Context) {
	identity := identityFromContext(c)

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierr.New(apierr.BadRequest, "malformed request body: %v", err))
		return
	}

	result, err := s.Lifecycle.Create(c.Request.Context(), lifecycle.CreateRequest{
		Identity:    identity,
		ProjectID:   req.ProjectID,
		ProjectName: req.ProjectName,
		Scope:       req.Scope,
		LifetimeHrs: req.LifetimeHours,
		Comment:     req.Comment,
		RemoteAddr:  clientIP(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	resp := tokenResponse{
		TokenHash:   result.TokenHash,
		CreatedAt:   lifecycle.FormatTime(result.CreatedAt),
		ExpiresAt:   lifecycle.FormatTime(result.ExpiresAt),
		State:       stateName(result.State),
		Comment:     result.Comment,
		CreatedFrom: result.CreatedFrom,
		IDToken:     result.IDToken,
	}
	if result.ShortLived {
		resp.RefreshToken = identity.RefreshToken
	}
	respondOne(c, "token", resp)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
	ProjectID    string `json:"project_id"`
	ProjectName  string `json:"project_name"`
	Scope        string `json:"scope" binding:"required"`
}

// handleRefresh implements POST /tokens/refresh (§4.G "refresh"). Auth is
// "none" in the sense that no cookie/bearer gate runs first: the refresh
// token itself is the credential, exchanged at the upstream IdP.
func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierr.New(apierr.BadRequest, "malformed request body: %v", err))
		return
	}

	rawCookie, _ := c.Cookie(s.Lifecycle.Vouch.CookieName())

	result, err := s.Lifecycle.Refresh(c.Request.Context(), lifecycle.RefreshRequest{
		RefreshToken: req.RefreshToken,
		ProjectID:    req.ProjectID,
		ProjectName:  req.ProjectName,
		Scope:        req.Scope,
		RemoteAddr:   clientIP(c),
		ShortHours:   int(s.ShortThreshold.Hours()),
		Cookie:       rawCookie,
	})
	if err != nil {
		// Per §7: a failed refresh after the IdP already minted a new
		// refresh token must still surface it to the caller.
		respondError(c, err)
		return
	}

	respondOne(c, "token", tokenResponse{
		TokenHash:    result.Mint.TokenHash,
		CreatedAt:    lifecycle.FormatTime(result.Mint.CreatedAt),
		ExpiresAt:    lifecycle.FormatTime(result.Mint.ExpiresAt),
		State:        stateName(result.Mint.State),
		Comment:      result.Mint.Comment,
		CreatedFrom:  result.Mint.CreatedFrom,
		IDToken:      result.Mint.IDToken,
		RefreshToken: result.NewRefreshToken,
	})
}

type revokeRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// handleRevokeUpstream implements POST /tokens/revoke (§4.G "revoke-upstream").
func (s *Server) handleRevokeUpstream(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierr.New(apierr.BadRequest, "malformed request body: %v", err))
		return
	}
	if err := s.Lifecycle.RevokeUpstream(c.Request.Context(), req.RefreshToken); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c)
}

type revokesRequest struct {
	Token string `json:"token" binding:"required"`
	Type  string `json:"type" binding:"required"` // "identity" | "refresh"
}

// handleRevokes implements POST /tokens/revokes, dispatching on
// body.type between an identity token_hash revoke and an upstream
// refresh-token revoke (§6 route table).
func (s *Server) handleRevokes(c *gin.Context) {
	var req revokesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierr.New(apierr.BadRequest, "malformed request body: %v", err))
		return
	}

	switch req.Type {
	case "refresh":
		if err := s.Lifecycle.RevokeUpstream(c.Request.Context(), req.Token); err != nil {
			respondError(c, err)
			return
		}
	case "identity":
		identity := identityFromContext(c)
		if err := s.Lifecycle.RevokeByHash(c.Request.Context(), identity, req.Token, c.Query("project_id")); err != nil {
			respondError(c, err)
			return
		}
	default:
		respondError(c, apierr.New(apierr.BadRequest, "type must be 'identity' or 'refresh', got %q", req.Type))
		return
	}
	respondOK(c)
}

// handleDeleteAllMine implements DELETE /tokens/delete (§4.G "delete-all-mine").
func (s *Server) handleDeleteAllMine(c *gin.Context) {
	identity := identityFromContext(c)
	if err := s.Lifecycle.DeleteAllMine(c.Request.Context(), identity); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c)
}

// handleDeleteByHash implements DELETE /tokens/delete/{hash} (§4.G "delete-by-hash").
func (s *Server) handleDeleteByHash(c *gin.Context) {
	identity := identityFromContext(c)
	if err := s.Lifecycle.DeleteByHash(c.Request.Context(), identity, c.Param("hash")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c)
}

// handleList implements GET /tokens (§4.G "list").
func (s *Server) handleList(c *gin.Context) {
	identity := identityFromContext(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	var expiresBefore *time.Time
	if raw := c.Query("expires_before"); raw != "" {
		if t, err := time.Parse("2006-01-02 15:04:05 -0700", raw); err == nil {
			expiresBefore = &t
		}
	}

	rows, err := s.Lifecycle.List(c.Request.Context(), lifecycle.ListRequest{
		Caller:        identity,
		TokenHash:     c.Query("token_hash"),
		ProjectID:     c.Query("project_id"),
		ExpiresBefore: expiresBefore,
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]any, 0, len(rows))
	for _, r := range rows {
		items = append(items, tokenResponse{
			TokenHash:   r.TokenHash,
			CreatedAt:   lifecycle.FormatTime(r.CreatedAt),
			ExpiresAt:   lifecycle.FormatTime(r.ExpiresAt),
			State:       stateName(r.State),
			Comment:     r.Comment,
			CreatedFrom: r.CreatedFrom,
		})
	}
	respondList(c, "token", items)
}

// handleRevocationList implements GET /tokens/revoke_list (§4.G "revocation-list").
func (s *Server) handleRevocationList(c *gin.Context) {
	hashes, err := s.Lifecycle.RevocationList(c.Request.Context(), c.Query("project_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	items := make([]any, 0, len(hashes))
	for _, h := range hashes {
		items = append(items, h)
	}
	respondList(c, "token_hash", items)
}

type validateRequest struct {
	Token string `json:"token" binding:"required"`
	Type  string `json:"type"`
}

// handleValidate implements POST /tokens/validate (§4.G "validate").
func (s *Server) handleValidate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierr.New(apierr.BadRequest, "malformed request body: %v", err))
		return
	}

	result, err := s.Lifecycle.Validate(c.Request.Context(), req.Token)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOne(c, "validation", gin.H{
		"state":  stateName(result.State),
		"claims": result.Claims,
	})
}

// handleCerts implements GET /certs (§6), publishing the JWKS document.
func (s *Server) handleCerts(c *gin.Context) {
	respondOne(c, "jwks", s.Keys.PublicJWKS())
}
