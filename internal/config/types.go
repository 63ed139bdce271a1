package config

import (
	"time"

	"signin/internal/tokenstore"
)

// Config is the top-level configuration structure for signin.
//
// Every field can be set in config.yaml and overridden by the environment
// variable named in its env tag, prefixed with SIGNIN_.
type Config struct {
	Issuer                string   `yaml:"issuer,omitempty" env:"ISSUER"`
	ClientID              string   `yaml:"client_id,omitempty" env:"CLIENT_ID"`
	RedirectURI           string   `yaml:"redirect_uri,omitempty" env:"REDIRECT_URI"`
	PostLogoutRedirectURI string   `yaml:"post_logout_redirect_uri,omitempty" env:"POST_LOGOUT_REDIRECT_URI"`
	Scopes                []string `yaml:"scopes,omitempty" env:"SCOPES" envSeparator:" "`

	// Endpoints skip or override discovery.
	Endpoints EndpointsConfig `yaml:"endpoints,omitempty" envPrefix:"ENDPOINT_"`

	ClockSkew     time.Duration `yaml:"clock_skew,omitempty" env:"CLOCK_SKEW"`
	RefreshWindow time.Duration `yaml:"refresh_window,omitempty" env:"REFRESH_WINDOW"`
	PendingTTL    time.Duration `yaml:"pending_ttl,omitempty" env:"PENDING_TTL"`
	HTTPTimeout   time.Duration `yaml:"http_timeout,omitempty" env:"HTTP_TIMEOUT"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level,omitempty" env:"LOG_LEVEL"`

	Storage   tokenstore.Config `yaml:"storage,omitempty" envPrefix:"STORAGE_"`
	Telemetry TelemetryConfig   `yaml:"telemetry,omitempty" envPrefix:"OTEL_"`
}

// EndpointsConfig names authorization server endpoints explicitly.
type EndpointsConfig struct {
	Authorization string `yaml:"authorization,omitempty" env:"AUTHORIZATION"`
	Token         string `yaml:"token,omitempty" env:"TOKEN"`
	UserInfo      string `yaml:"userinfo,omitempty" env:"USERINFO"`
	EndSession    string `yaml:"end_session,omitempty" env:"END_SESSION"`
	Revocation    string `yaml:"revocation,omitempty" env:"REVOCATION"`
}

// TelemetryConfig enables OTLP trace export of protocol requests.
type TelemetryConfig struct {
	// Endpoint is the OTLP/HTTP collector endpoint (host:port). Empty disables tracing.
	Endpoint string `yaml:"endpoint,omitempty" env:"ENDPOINT"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure,omitempty" env:"INSECURE"`

	// ServiceName is reported as service.name. Defaults to "signin".
	ServiceName string `yaml:"service_name,omitempty" env:"SERVICE_NAME"`
}
