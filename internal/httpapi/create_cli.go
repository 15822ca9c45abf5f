package httpapi

import (
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fabric-testbed/credential-broker/internal/apierr"
	"github.com/fabric-testbed/credential-broker/internal/lifecycle"
)

// isLocalhostRedirect mirrors _validate_localhost_redirect: the
// callback must be a plain http URL pointing at localhost/127.0.0.1 with
// an explicit port (Part 4 supplement #1).
func isLocalhostRedirect(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" && (u.Hostname() == "localhost" || u.Hostname() == "127.0.0.1") && u.Port() != ""
}

// handleCreateCLI implements the two-phase browser-to-terminal flow
// grounded on tokens_controller.py::tokens_create_cli_get: validate
// redirect_uri, and when the caller has no valid proxy cookie yet,
// 302-redirect to the login flow (which redirects back here once vouch
// has authenticated the browser); once authenticated, mint a token and
// 302-redirect to redirect_uri with the token fields appended as query
// parameters, preserving any query parameters redirect_uri already carried.
func (s *Server) handleCreateCLI(c *gin.Context) {
	redirectURI := c.Query("redirect_uri")
	if !isLocalhostRedirect(redirectURI) {
		respondError(c, apierr.New(apierr.BadRequest, "redirect_uri is required and must point to localhost (e.g. http://localhost:12345/callback)"))
		return
	}

	raw, err := c.Cookie(s.Lifecycle.Vouch.CookieName())
	if err != nil || raw == "" {
		s.redirectToLogin(c)
		return
	}
	claims, err := s.Lifecycle.Vouch.Decode(raw, true)
	if err != nil {
		s.redirectToLogin(c)
		return
	}
	idToken, _ := claims["PIdToken"].(string)
	if idToken == "" {
		s.redirectToLogin(c)
		return
	}
	upstreamClaims, err := s.JWKS.Validate(idToken)
	if err != nil {
		s.redirectToLogin(c)
		return
	}

	username, _ := claims["username"].(string)
	refreshToken, _ := claims["PRefreshToken"].(string)
	uuid, _ := upstreamClaims["uuid"].(string)

	identity := lifecycle.Identity{
		UserID:          uuid,
		UserEmail:       username,
		UpstreamIDToken: idToken,
		IDPClaims:       upstreamClaims,
		Cookie:          raw,
		RefreshToken:    refreshToken,
	}

	lifetime := 4
	if h := c.Query("lifetime"); h != "" {
		if n, err := strconv.Atoi(h); err == nil {
			lifetime = n
		}
	}

	result, err := s.Lifecycle.Create(c.Request.Context(), lifecycle.CreateRequest{
		Identity:    identity,
		ProjectID:   c.Query("project_id"),
		ProjectName: c.Query("project_name"),
		Scope:       c.Query("scope"),
		LifetimeHrs: lifetime,
		Comment:     c.Query("comment"),
		RemoteAddr:  clientIP(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	target, _ := url.Parse(redirectURI)
	q := target.Query()
	q.Set("id_token", result.IDToken)
	if result.ShortLived {
		q.Set("refresh_token", identity.RefreshToken)
	}
	q.Set("token_hash", result.TokenHash)
	q.Set("created_at", lifecycle.FormatTime(result.CreatedAt))
	q.Set("expires_at", lifecycle.FormatTime(result.ExpiresAt))
	q.Set("state", stateName(result.State))
	target.RawQuery = q.Encode()

	c.Redirect(302, target.String())
}

// redirectToLogin sends the browser to the vouch login flow, carrying
// the original request URL so it lands back here once authenticated.
func (s *Server) redirectToLogin(c *gin.Context) {
	scheme := c.GetHeader("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
	}
	host := c.Request.Host
	originalURL := scheme + "://" + host + c.Request.URL.RequestURI()
	c.Redirect(302, scheme+"://"+host+"/login?url="+url.QueryEscape(originalURL))
}
