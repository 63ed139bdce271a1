package config

import (
	"slices"
	"time"

	"signin/internal/auth"
	"signin/internal/tokenstore"
	"signin/pkg/oauth"
)

const (
	// DefaultRedirectURI is the loopback callback the CLI listens on.
	DefaultRedirectURI = "http://127.0.0.1:8085/callback"

	// DefaultHTTPTimeout bounds every request to the authorization server.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "warn"
)

// GetDefaultConfig returns the configuration used when no file or
// environment override exists.
func GetDefaultConfig() Config {
	return Config{
		RedirectURI:   DefaultRedirectURI,
		Scopes:        slices.Clone(oauth.DefaultScopes),
		ClockSkew:     oauth.DefaultClockSkew,
		RefreshWindow: oauth.DefaultRefreshWindow,
		PendingTTL:    auth.DefaultPendingTTL,
		HTTPTimeout:   DefaultHTTPTimeout,
		LogLevel:      DefaultLogLevel,
		Storage: tokenstore.Config{
			Backend: tokenstore.BackendFile,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "signin",
		},
	}
}
