package config

import (
	"signin/internal/auth"
	"signin/internal/tokenstore"
	"signin/pkg/logging"
	"signin/pkg/oauth"
)

// Auth converts the configuration into session settings.
func (c Config) Auth() auth.Config {
	return auth.Config{
		Issuer:                c.Issuer,
		ClientID:              c.ClientID,
		RedirectURI:           c.RedirectURI,
		PostLogoutRedirectURI: c.PostLogoutRedirectURI,
		Scopes:                c.Scopes,
		Endpoints: oauth.Endpoints{
			Authorization: c.Endpoints.Authorization,
			Token:         c.Endpoints.Token,
			UserInfo:      c.Endpoints.UserInfo,
			EndSession:    c.Endpoints.EndSession,
			Revocation:    c.Endpoints.Revocation,
		},
		ClockSkew:     c.ClockSkew,
		RefreshWindow: c.RefreshWindow,
		PendingTTL:    c.PendingTTL,
	}
}

// Validate reports the first invalid field as an *oauth.ConfigError.
func (c Config) Validate() error {
	if err := c.Auth().Validate(); err != nil {
		return err
	}
	if c.HTTPTimeout < 0 {
		return &oauth.ConfigError{Field: "http_timeout", Reason: "must not be negative"}
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return &oauth.ConfigError{Field: "log_level", Reason: "must be one of debug, info, warn, error"}
	}

	switch c.Storage.Backend {
	case "", tokenstore.BackendMemory, tokenstore.BackendFile, tokenstore.BackendKeyring, tokenstore.BackendSQLite:
	case tokenstore.BackendRedis:
		if c.Storage.RedisAddr == "" {
			return &oauth.ConfigError{Field: "storage.redis_addr"}
		}
	default:
		return &oauth.ConfigError{Field: "storage.backend", Reason: "must be one of memory, file, keyring, redis, sqlite"}
	}
	if c.Storage.TTL < 0 {
		return &oauth.ConfigError{Field: "storage.ttl", Reason: "must not be negative"}
	}
	return nil
}
