package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))

	cfg := Load()
	assert.Equal(t, 8080, cfg.Runtime.RestPort)
	assert.Equal(t, 4*time.Hour, cfg.Runtime.TokenLifetime)
	assert.Equal(t, 10, cfg.Runtime.MaxLLTPerProject)
	assert.Equal(t, []string{"all", "cf", "mf"}, cfg.Runtime.AllowedScopes)
	assert.True(t, cfg.Runtime.EnableCoreAPI)
	assert.Equal(t, "facility-operators", cfg.Runtime.FacilityOperatorRole)
	assert.Equal(t, "cilogon", cfg.OAuth.Provider)
	assert.Equal(t, "fabric-vouch", cfg.Vouch.CookieName)
	assert.True(t, cfg.Vouch.Compression)
}

func TestLoadHonorsEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))

	t.Setenv("RUNTIME_REST_PORT", "9999")
	t.Setenv("RUNTIME_ENABLE_CORE_API", "false")
	t.Setenv("VOUCH_SECRET", "env-provided-secret")

	cfg := Load()
	assert.Equal(t, 9999, cfg.Runtime.RestPort)
	assert.False(t, cfg.Runtime.EnableCoreAPI)
	assert.Equal(t, "env-provided-secret", cfg.Vouch.Secret)
}

func TestLoadRedirectsToTestdataUnderTestEnvironment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	require.NoError(t, os.MkdirAll("testdata/config", 0o755))
	require.NoError(t, os.WriteFile("testdata/config/credmgr.yaml", []byte("runtime:\n  rest-port: 7070\n"), 0o644))

	t.Setenv("TEST_ENVIRONMENT", "True")

	cfg := Load()
	assert.Equal(t, 7070, cfg.Runtime.RestPort)
}
