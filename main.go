// Package main boots the Credential Broker HTTP server, wiring
// configuration, the token store, signing key material, the upstream
// IdP JWKS cache, the directory adapter, and the Gin routing layer.
//
// This file intentionally keeps logic focused on composition; the
// domain logic lives in internal/mint and internal/lifecycle.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"github.com/fabric-testbed/credential-broker/internal/config"
	"github.com/fabric-testbed/credential-broker/internal/directory"
	"github.com/fabric-testbed/credential-broker/internal/httpapi"
	"github.com/fabric-testbed/credential-broker/internal/idpjwks"
	"github.com/fabric-testbed/credential-broker/internal/keymaterial"
	"github.com/fabric-testbed/credential-broker/internal/lifecycle"
	"github.com/fabric-testbed/credential-broker/internal/mint"
	"github.com/fabric-testbed/credential-broker/internal/tokenstore"
	"github.com/fabric-testbed/credential-broker/internal/vouch"
)

func main() {
	log.Println("Credential Broker starting...")

	loadEnvFiles()
	cfg := config.Load()

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, databaseURL(cfg.Database))
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer pool.Close()

	if err := tokenstore.RunMigrations(databaseURL(cfg.Database), cfg.Database.MigrationsPath); err != nil {
		log.Printf("migration warning: %v", err)
	}
	store := tokenstore.New(pool)

	keys, err := keymaterial.Load(cfg.JWT.PrivateKeyPath, cfg.JWT.PublicKeyKid, cfg.JWT.PassPhrase)
	if err != nil {
		log.Fatalf("loading signing key material: %v", err)
	}

	jwksCache, err := idpjwks.NewCache(cfg.OAuth.JWKSURL, cfg.OAuth.ClientID, nil)
	if err != nil {
		log.Fatalf("fetching upstream IdP JWKS: %v", err)
	}
	jwksCache.StartRefresh(cfg.OAuth.KeyRefresh)

	dirFactory := newDirectoryFactory(cfg)

	claimTypes := make([]vouch.ClaimsType, 0, len(cfg.Vouch.CustomClaims))
	for _, name := range cfg.Vouch.CustomClaims {
		if t, ok := vouch.ParseClaimsType(name); ok {
			claimTypes = append(claimTypes, t)
		}
	}
	vouchCodec := vouch.NewCodec(cfg.Vouch.Secret, cfg.Vouch.CookieName, cfg.Vouch.Compression, claimTypes)

	pipeline := &mint.Pipeline{
		Policy: mint.Policy{
			AllowedScopes:    cfg.Runtime.AllowedScopes,
			ShortThreshold:   cfg.Runtime.TokenLifetime,
			MinLifetime:      time.Duration(cfg.Runtime.MinLifetimeHours) * time.Hour,
			MaxLifetime:      time.Duration(cfg.Runtime.MaxLifetimeHours) * time.Hour,
			MaxLLTPerProject: cfg.Runtime.MaxLLTPerProject,
			Audience:         cfg.OAuth.ClientID,
		},
		JWKS:       jwksCache,
		DirFactory: dirFactory,
		Keys:       keys,
		Store:      store,
		Secret:     cfg.Vouch.Secret,
	}

	lifecycleService := &lifecycle.Service{
		Pipeline:   pipeline,
		Store:      store,
		Vouch:      vouchCodec,
		Keys:       keys,
		DirFactory: dirFactory,
		OAuth: &oauth2.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.OAuth.TokenURL},
		},
		RevokeURL:            cfg.OAuth.RevokeURL,
		Secret:               cfg.Vouch.Secret,
		Audience:             cfg.OAuth.ClientID,
		FacilityOperatorRole: cfg.Runtime.FacilityOperatorRole,
	}

	server := &httpapi.Server{
		Lifecycle:      lifecycleService,
		JWKS:           jwksCache,
		Keys:           keys,
		ShortThreshold: cfg.Runtime.TokenLifetime,
	}
	router := server.NewRouter()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Runtime.RestPort),
		Handler: router,
	}

	go func() {
		log.Printf("Credential Broker listening on :%d", cfg.Runtime.RestPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	jwksCache.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server forced to shutdown: %v", err)
	}
	log.Println("server gracefully stopped")
}

// newDirectoryFactory selects the REST or LDAP directory path per
// runtime.enable-core-api (§4.C "Fallback").
func newDirectoryFactory(cfg *config.Config) directory.Factory {
	if cfg.Runtime.EnableCoreAPI {
		client := directory.NewHTTPClient(cfg.CoreAPI.SSLVerify)
		return directory.NewCoreAPIFactory(cfg.CoreAPI.URL, cfg.Vouch.CookieName, cfg.Vouch.CookieDomainName, client)
	}
	ldapAdapter := directory.NewLDAPAdapter(
		cfg.LDAP.Host, cfg.LDAP.User, cfg.LDAP.Password, cfg.LDAP.SearchBase,
		cfg.Runtime.ProjectNamesIgnoreList, cfg.Runtime.RolesList,
	)
	return directory.NewLDAPFactory(ldapAdapter)
}

func databaseURL(db config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		db.User, db.Password, db.Host, db.Port, db.Name)
}

// loadEnvFiles loads .env.local then .env from the working directory,
// matching the teacher's loadEnvFiles ordering (local overrides win).
func loadEnvFiles() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
}
