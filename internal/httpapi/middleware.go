package httpapi

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fabric-testbed/credential-broker/internal/apierr"
	"github.com/fabric-testbed/credential-broker/internal/lifecycle"
	"github.com/fabric-testbed/credential-broker/internal/tokenstore"
)

const identityContextKey = "identity"

// clientIP prefers X-Real-IP over the socket remote address, matching
// tokens_controller.py's create_cli handling of created_from (Part 4
// supplement #2).
func clientIP(c *gin.Context) string {
	if real := c.GetHeader("X-Real-IP"); real != "" {
		return real
	}
	return c.ClientIP()
}

// cookieAuth implements the cookie-authenticated gate of §4.G: the proxy
// cookie must be present, decode cleanly, and carry a non-expired
// upstream ID token. On success it stores a lifecycle.Identity in gin
// context under identityContextKey.
func (s *Server) cookieAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(s.Lifecycle.Vouch.CookieName())
		if err != nil || raw == "" {
			respondError(c, apierr.New(apierr.Unauthorized, "proxy cookie is missing"))
			return
		}

		claims, err := s.Lifecycle.Vouch.Decode(raw, true)
		if err != nil {
			respondError(c, apierr.New(apierr.Unauthorized, "proxy cookie invalid: %v", err))
			return
		}

		idToken, _ := claims["PIdToken"].(string)
		if idToken == "" {
			respondError(c, apierr.New(apierr.Unauthorized, "proxy cookie carries no identity token"))
			return
		}
		upstreamClaims, err := s.JWKS.Validate(idToken)
		if err != nil {
			respondError(c, apierr.New(apierr.Unauthorized, "upstream identity token invalid: %v", err))
			return
		}

		username, _ := claims["username"].(string)
		refreshToken, _ := claims["PRefreshToken"].(string)

		identity := lifecycle.Identity{
			UserEmail:       username,
			UpstreamIDToken: idToken,
			IDPClaims:       upstreamClaims,
			Cookie:          raw,
			RefreshToken:    refreshToken,
		}
		if uuid, _ := upstreamClaims["uuid"].(string); uuid != "" {
			identity.UserID = uuid
			identity.IsFleetOperator = s.Lifecycle.IsFleetOperator(uuid, raw, "")
		}

		c.Set(identityContextKey, identity)
		c.Next()
	}
}

// bearerAuth implements the self-token-authenticated gate of §4.G: an
// Authorization: Bearer <token> whose signature verifies against this
// service's own key, whose aud matches, and whose token_hash is present
// and not Revoked.
func (s *Server) bearerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			respondError(c, apierr.New(apierr.Unauthorized, "bearer token required"))
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		result, err := s.Lifecycle.Validate(c.Request.Context(), token)
		if err != nil {
			respondError(c, err)
			return
		}
		if result.State == tokenstore.Revoked {
			respondError(c, apierr.New(apierr.Unauthorized, "token has been revoked"))
			return
		}

		email, _ := result.Claims["email"].(string)
		uuid, _ := result.Claims["uuid"].(string)
		identity := lifecycle.Identity{
			UserID:    uuid,
			UserEmail: email,
		}
		identity.IsFleetOperator = s.Lifecycle.IsFleetOperator(uuid, "", token)

		c.Set(identityContextKey, identity)
		c.Next()
	}
}

// cookieOrBearerAuth accepts either authenticator, trying the cookie
// first (cookie-or-token operations of §4.G).
func (s *Server) cookieOrBearerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw, err := c.Cookie(s.Lifecycle.Vouch.CookieName()); err == nil && raw != "" {
			s.cookieAuth()(c)
			return
		}
		s.bearerAuth()(c)
	}
}

func identityFromContext(c *gin.Context) lifecycle.Identity {
	v, _ := c.Get(identityContextKey)
	identity, _ := v.(lifecycle.Identity)
	return identity
}
