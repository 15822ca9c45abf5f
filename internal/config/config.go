// Package config defines strongly-typed runtime configuration for the
// Credential Broker, loaded from a single sectioned configuration file
// (§6) with environment-variable overrides for local development and
// secrets that should never live on disk.
//
// All durations are parsed using time.ParseDuration syntax.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates all configuration sections for the service.
type Config struct {
	Runtime  RuntimeConfig
	OAuth    OAuthConfig
	JWT      JWTConfig
	Database DatabaseConfig
	Vouch    VouchConfig
	CoreAPI  CoreAPIConfig
	LDAP     LDAPConfig
	Logging  LoggingConfig
}

// RuntimeConfig controls HTTP listen ports and broker-wide policy knobs.
type RuntimeConfig struct {
	RestPort               int
	PrometheusPort         int
	TokenLifetime          time.Duration // short-lived ceiling, §4.F step 3
	MaxLLTPerProject       int
	AllowedScopes          []string
	RolesList              []string
	ProjectNamesIgnoreList []string
	EnableCoreAPI          bool
	EnableProjectRegistry  bool
	MinLifetimeHours       int
	MaxLifetimeHours       int
	// FacilityOperatorRole is the directory role name that grants the
	// fleet-operator bypass on revoke-by-hash/list (§4.G "Authorization
	// detail"), restored from Utils.is_facility_operator's
	// CONFIG_OBJ.get_facility_operator_role().
	FacilityOperatorRole string
}

// OAuthConfig configures the upstream OIDC/OAuth2 identity provider.
type OAuthConfig struct {
	Provider     string
	ClientID     string
	ClientSecret string
	TokenURL     string
	RevokeURL    string
	JWKSURL      string
	KeyRefresh   time.Duration
}

// JWTConfig configures this service's own RSA signing material.
type JWTConfig struct {
	PrivateKeyPath string
	PublicKeyPath  string
	PublicKeyKid   string
	PassPhrase     string
}

// DatabaseConfig configures the token store's Postgres connection.
type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	MigrationsPath string
}

// VouchConfig configures the proxy-cookie codec (§4.D). Secret doubles as
// the HMAC key for the token store's token_hash fingerprint (§3) — the
// mint pipeline never holds a second secret for that purpose, matching
// __generate_token_hash's reuse of the vouch secret in the original.
type VouchConfig struct {
	Secret           string
	Compression      bool
	CustomClaims     []string
	Lifetime         time.Duration
	CookieName       string
	CookieDomainName string
}

// CoreAPIConfig configures the external user directory REST service (§4.C).
type CoreAPIConfig struct {
	URL       string
	SSLVerify bool
}

// LDAPConfig configures the LDAP fallback directory path (§4.C).
type LDAPConfig struct {
	Host       string
	User       string
	Password   string
	SearchBase string
}

// LoggingConfig groups log destination and retention knobs.
type LoggingConfig struct {
	Directory string
	File      string
	Level     string
	Retain    int
	SizeMB    int
}

// Load reads the sectioned YAML configuration file whose base name is
// CREDMGR_CONFIG_NAME (default "credmgr", i.e. "credmgr.yaml"), looked up
// in the current directory and in CREDMGR_CONFIG_DIR (default "."),
// applying defaults first and allowing any key
// to be overridden by an environment variable of the same dotted path
// (e.g. "database.db-host" -> DATABASE_DB-HOST is not a valid env name,
// so overrides use underscores: DATABASE_DB_HOST).
//
// TEST_ENVIRONMENT=True redirects the config file lookup to a fixture
// directory (testdata/config) matching §6's "Environment" row.
func Load() *Config {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	configDir := "."
	if strings.EqualFold(v.GetString("test_environment"), "true") || isTestEnvironment() {
		configDir = "testdata/config"
	}

	v.SetConfigName(envOrDefault("CREDMGR_CONFIG_NAME", "credmgr"))
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(envOrDefault("CREDMGR_CONFIG_DIR", "."))

	// A missing config file is not fatal: every key has a default and can
	// be supplied purely through the environment (container deployments).
	_ = v.ReadInConfig()

	return &Config{
		Runtime: RuntimeConfig{
			RestPort:               v.GetInt("runtime.rest-port"),
			PrometheusPort:         v.GetInt("runtime.prometheus-port"),
			TokenLifetime:          v.GetDuration("runtime.token-lifetime"),
			MaxLLTPerProject:       v.GetInt("runtime.max-llt-per-project"),
			AllowedScopes:          v.GetStringSlice("runtime.allowed-scopes"),
			RolesList:              v.GetStringSlice("runtime.roles-list"),
			ProjectNamesIgnoreList: v.GetStringSlice("runtime.prject-names-ignore-list"),
			EnableCoreAPI:          v.GetBool("runtime.enable-core-api"),
			EnableProjectRegistry:  v.GetBool("runtime.enable-project-registry"),
			MinLifetimeHours:       v.GetInt("runtime.min-lifetime-hours"),
			MaxLifetimeHours:       v.GetInt("runtime.max-lifetime-hours"),
			FacilityOperatorRole:   v.GetString("runtime.facility-operator-role"),
		},
		OAuth: OAuthConfig{
			Provider:     v.GetString("oauth.oauth-provider"),
			ClientID:     v.GetString("oauth.oauth-client-id"),
			ClientSecret: v.GetString("oauth.oauth-client-secret"),
			TokenURL:     v.GetString("oauth.oauth-token-url"),
			RevokeURL:    v.GetString("oauth.oauth-revoke-url"),
			JWKSURL:      v.GetString("oauth.oauth-jwks-url"),
			KeyRefresh:   v.GetDuration("oauth.oauth-key-refresh"),
		},
		JWT: JWTConfig{
			PrivateKeyPath: v.GetString("jwt.jwt-private-key"),
			PublicKeyPath:  v.GetString("jwt.jwt-public-key"),
			PublicKeyKid:   v.GetString("jwt.jwt-public-key-kid"),
			PassPhrase:     v.GetString("jwt.jwt-pass-phrase"),
		},
		Database: DatabaseConfig{
			Host:           v.GetString("database.db-host"),
			Port:           v.GetInt("database.db-port"),
			User:           v.GetString("database.db-user"),
			Password:       v.GetString("database.db-password"),
			Name:           v.GetString("database.db-name"),
			MigrationsPath: v.GetString("database.migrations-path"),
		},
		Vouch: VouchConfig{
			Secret:           v.GetString("vouch.secret"),
			Compression:      v.GetBool("vouch.compression"),
			CustomClaims:     v.GetStringSlice("vouch.custom_claims"),
			Lifetime:         v.GetDuration("vouch.lifetime"),
			CookieName:       v.GetString("vouch.cookie-name"),
			CookieDomainName: v.GetString("vouch.cookie-domain-name"),
		},
		CoreAPI: CoreAPIConfig{
			URL:       v.GetString("core-api.url"),
			SSLVerify: v.GetBool("core-api.ssl_verify"),
		},
		LDAP: LDAPConfig{
			Host:       v.GetString("ldap.ldap-host"),
			User:       v.GetString("ldap.ldap-user"),
			Password:   v.GetString("ldap.ldap-password"),
			SearchBase: v.GetString("ldap.ldap-search-base"),
		},
		Logging: LoggingConfig{
			Directory: v.GetString("logging.log-directory"),
			File:      v.GetString("logging.log-file"),
			Level:     v.GetString("logging.log-level"),
			Retain:    v.GetInt("logging.log-retain"),
			SizeMB:    v.GetInt("logging.log-size"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("runtime.rest-port", 8080)
	v.SetDefault("runtime.prometheus-port", 9090)
	v.SetDefault("runtime.token-lifetime", 4*time.Hour)
	v.SetDefault("runtime.max-llt-per-project", 10)
	v.SetDefault("runtime.allowed-scopes", []string{"all", "cf", "mf"})
	v.SetDefault("runtime.roles-list", []string{})
	v.SetDefault("runtime.prject-names-ignore-list", []string{})
	v.SetDefault("runtime.enable-core-api", true)
	v.SetDefault("runtime.enable-project-registry", false)
	v.SetDefault("runtime.min-lifetime-hours", 1)
	v.SetDefault("runtime.max-lifetime-hours", 1512)
	v.SetDefault("runtime.facility-operator-role", "facility-operators")

	v.SetDefault("oauth.oauth-provider", "cilogon")
	v.SetDefault("oauth.oauth-token-url", "https://cilogon.org/oauth2/token")
	v.SetDefault("oauth.oauth-revoke-url", "https://cilogon.org/oauth2/revoke")
	v.SetDefault("oauth.oauth-jwks-url", "https://cilogon.org/oauth2/certs")
	v.SetDefault("oauth.oauth-key-refresh", time.Hour)

	v.SetDefault("jwt.jwt-private-key", "jwt-private.pem")
	v.SetDefault("jwt.jwt-public-key", "jwt-public.pem")
	v.SetDefault("jwt.jwt-public-key-kid", "credmgr-1")

	v.SetDefault("database.db-host", "localhost")
	v.SetDefault("database.db-port", 5432)
	v.SetDefault("database.db-user", "credmgr")
	v.SetDefault("database.db-name", "credmgr")
	v.SetDefault("database.migrations-path", "db/migrations")

	v.SetDefault("vouch.compression", true)
	v.SetDefault("vouch.custom_claims", []string{"OPENID", "EMAIL", "PROFILE"})
	v.SetDefault("vouch.lifetime", 12*time.Hour)
	v.SetDefault("vouch.cookie-name", "fabric-vouch")

	v.SetDefault("core-api.url", "https://core-api.fabric-testbed.net")
	v.SetDefault("core-api.ssl_verify", true)

	v.SetDefault("logging.log-directory", ".")
	v.SetDefault("logging.log-file", "credmgr.log")
	v.SetDefault("logging.log-level", "INFO")
	v.SetDefault("logging.log-retain", 5)
	v.SetDefault("logging.log-size", 20)
}

func isTestEnvironment() bool {
	return strings.EqualFold(envOrDefault("TEST_ENVIRONMENT", ""), "true")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
