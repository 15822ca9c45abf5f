package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/fabric-testbed/credential-broker/internal/apierr"
	"github.com/fabric-testbed/credential-broker/internal/idpjwks"
	"github.com/fabric-testbed/credential-broker/internal/keymaterial"
	"github.com/fabric-testbed/credential-broker/internal/lifecycle"
)

// Server bundles the dependencies the Gin routes close over.
type Server struct {
	Lifecycle      *lifecycle.Service
	JWKS           *idpjwks.Cache
	Keys           *keymaterial.Store
	ShortThreshold time.Duration
}

// NewRouter builds the Gin engine with CORS, logging/recovery, and the
// route table of §6.
func (s *Server) NewRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Authorization", "Content-Type"},
	}))

	router.NoRoute(func(c *gin.Context) {
		respondError(c, apierr.New(apierr.NotFound, "route %s %s not found", c.Request.Method, c.Request.URL.Path))
	})

	tokens := router.Group("/tokens")
	{
		tokens.POST("/create", s.cookieAuth(), s.handleCreate)
		tokens.GET("/create_cli", s.handleCreateCLI)
		tokens.POST("/refresh", s.handleRefresh)
		tokens.POST("/revoke", s.cookieOrBearerAuth(), s.handleRevokeUpstream)
		tokens.POST("/revokes", s.cookieOrBearerAuth(), s.handleRevokes)
		tokens.DELETE("/delete", s.cookieAuth(), s.handleDeleteAllMine)
		tokens.DELETE("/delete/:hash", s.cookieAuth(), s.handleDeleteByHash)
		tokens.GET("", s.cookieOrBearerAuth(), s.handleList)
		tokens.GET("/revoke_list", s.handleRevocationList)
		tokens.POST("/validate", s.handleValidate)
	}
	router.GET("/certs", s.handleCerts)

	return router
}
