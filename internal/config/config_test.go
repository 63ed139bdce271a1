package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signin/internal/auth"
	"signin/internal/tokenstore"
	"signin/pkg/oauth"
)

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0600))
}

func TestLoadConfig_DefaultsWhenMissing(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
issuer: https://example.okta.com
client_id: abc
redirect_uri: app://callback
scopes: [openid, email]
refresh_window: 2m
endpoints:
  authorization: https://example.okta.com/oauth2/v1/authorize
  token: https://example.okta.com/oauth2/v1/token
storage:
  backend: redis
  redis_addr: localhost:6379
  ttl: 24h
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "https://example.okta.com", cfg.Issuer)
	assert.Equal(t, "abc", cfg.ClientID)
	assert.Equal(t, "app://callback", cfg.RedirectURI)
	assert.Equal(t, []string{"openid", "email"}, cfg.Scopes)
	assert.Equal(t, 2*time.Minute, cfg.RefreshWindow)
	assert.Equal(t, oauth.DefaultClockSkew, cfg.ClockSkew, "unset fields keep defaults")
	assert.Equal(t, "https://example.okta.com/oauth2/v1/token", cfg.Endpoints.Token)
	assert.Equal(t, tokenstore.BackendRedis, cfg.Storage.Backend)
	assert.Equal(t, "localhost:6379", cfg.Storage.RedisAddr)
	assert.Equal(t, 24*time.Hour, cfg.Storage.TTL)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "issuer: https://file.example.com\nclient_id: from-file\n")

	t.Setenv("SIGNIN_CLIENT_ID", "from-env")
	t.Setenv("SIGNIN_SCOPES", "openid offline_access")
	t.Setenv("SIGNIN_CLOCK_SKEW", "1m")
	t.Setenv("SIGNIN_ENDPOINT_USERINFO", "https://file.example.com/me")
	t.Setenv("SIGNIN_STORAGE_BACKEND", "sqlite")
	t.Setenv("SIGNIN_STORAGE_PATH", "/tmp/signin.db")
	t.Setenv("SIGNIN_OTEL_ENDPOINT", "localhost:4318")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "https://file.example.com", cfg.Issuer)
	assert.Equal(t, "from-env", cfg.ClientID)
	assert.Equal(t, []string{"openid", "offline_access"}, cfg.Scopes)
	assert.Equal(t, time.Minute, cfg.ClockSkew)
	assert.Equal(t, "https://file.example.com/me", cfg.Endpoints.UserInfo)
	assert.Equal(t, tokenstore.BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/signin.db", cfg.Storage.Path)
	assert.Equal(t, "localhost:4318", cfg.Telemetry.Endpoint)
}

func TestLoadConfig_Malformed(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "issuer: [not, a, string\n")

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

func TestLoadConfig_BadEnvValue(t *testing.T) {
	t.Setenv("SIGNIN_REFRESH_WINDOW", "soon")
	_, err := LoadConfig(t.TempDir())
	assert.Error(t, err)
}

func TestSaveThenLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "signin")
	cfg := GetDefaultConfig()
	cfg.Issuer = "https://example.okta.com"
	cfg.ClientID = "abc"

	require.NoError(t, Save(dir, cfg))
	loaded, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConfig_Validate(t *testing.T) {
	base := func() Config {
		cfg := GetDefaultConfig()
		cfg.Issuer = "https://example.okta.com"
		cfg.ClientID = "abc"
		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing client id", mutate: func(c *Config) { c.ClientID = "" }, wantField: "client_id"},
		{name: "negative timeout", mutate: func(c *Config) { c.HTTPTimeout = -time.Second }, wantField: "http_timeout"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantField: "log_level"},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "floppy" }, wantField: "storage.backend"},
		{name: "redis without address", mutate: func(c *Config) { c.Storage.Backend = tokenstore.BackendRedis }, wantField: "storage.redis_addr"},
		{name: "negative ttl", mutate: func(c *Config) { c.Storage.TTL = -time.Hour }, wantField: "storage.ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *oauth.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantField, cfgErr.Field)
			assert.ErrorIs(t, err, oauth.ErrConfig)
		})
	}
}

func TestConfig_Auth(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Issuer = "https://example.okta.com"
	cfg.ClientID = "abc"
	cfg.PostLogoutRedirectURI = "app://signed-out"
	cfg.Endpoints.Revocation = "https://example.okta.com/oauth2/v1/revoke"

	got := cfg.Auth()
	assert.Equal(t, auth.Config{
		Issuer:                "https://example.okta.com",
		ClientID:              "abc",
		RedirectURI:           DefaultRedirectURI,
		PostLogoutRedirectURI: "app://signed-out",
		Scopes:                oauth.DefaultScopes,
		Endpoints:             oauth.Endpoints{Revocation: "https://example.okta.com/oauth2/v1/revoke"},
		ClockSkew:             oauth.DefaultClockSkew,
		RefreshWindow:         oauth.DefaultRefreshWindow,
		PendingTTL:            auth.DefaultPendingTTL,
	}, got)
}
