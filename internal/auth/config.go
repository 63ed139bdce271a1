package auth

import (
	"net/url"
	"slices"
	"time"

	"signin/pkg/oauth"
)

// DefaultPendingTTL is how long an unconsumed authorization attempt blocks a
// new one.
const DefaultPendingTTL = 10 * time.Minute

// Config describes the client registration and the lifecycle tuning of a Session.
type Config struct {
	// Issuer is the authorization server base URL, used for discovery and
	// recorded on every credential.
	Issuer string

	// ClientID is the public client identifier.
	ClientID string

	// RedirectURI receives the authorization response.
	RedirectURI string

	// PostLogoutRedirectURI is sent to the end-session endpoint when set.
	PostLogoutRedirectURI string

	// Scopes requested at sign-in. Defaults to oauth.DefaultScopes.
	Scopes []string

	// Endpoints overrides discovery. When Authorization and Token are both
	// set, discovery is skipped entirely.
	Endpoints oauth.Endpoints

	// ClockSkew tolerated when checking expiry. Defaults to oauth.DefaultClockSkew.
	ClockSkew time.Duration

	// RefreshWindow before expiry in which a refresh is triggered.
	// Defaults to oauth.DefaultRefreshWindow.
	RefreshWindow time.Duration

	// PendingTTL bounds the lifetime of an unconsumed PKCE context.
	// Defaults to DefaultPendingTTL.
	PendingTTL time.Duration
}

// Validate reports the first missing or malformed field as an *oauth.ConfigError.
func (c Config) Validate() error {
	if c.ClientID == "" {
		return &oauth.ConfigError{Field: "client_id"}
	}
	if c.Issuer == "" {
		return &oauth.ConfigError{Field: "issuer"}
	}
	if err := validateHTTPURL("issuer", c.Issuer); err != nil {
		return err
	}
	if c.RedirectURI == "" {
		return &oauth.ConfigError{Field: "redirect_uri"}
	}
	if u, err := url.Parse(c.RedirectURI); err != nil || u.Scheme == "" {
		return &oauth.ConfigError{Field: "redirect_uri", Reason: "must be an absolute URI"}
	}
	if c.PostLogoutRedirectURI != "" {
		if u, err := url.Parse(c.PostLogoutRedirectURI); err != nil || u.Scheme == "" {
			return &oauth.ConfigError{Field: "post_logout_redirect_uri", Reason: "must be an absolute URI"}
		}
	}

	endpoints := []struct{ field, value string }{
		{"endpoints.authorization", c.Endpoints.Authorization},
		{"endpoints.token", c.Endpoints.Token},
		{"endpoints.userinfo", c.Endpoints.UserInfo},
		{"endpoints.end_session", c.Endpoints.EndSession},
		{"endpoints.revocation", c.Endpoints.Revocation},
	}
	for _, e := range endpoints {
		if e.value == "" {
			continue
		}
		if err := validateHTTPURL(e.field, e.value); err != nil {
			return err
		}
	}

	durations := []struct {
		field string
		value time.Duration
	}{
		{"clock_skew", c.ClockSkew},
		{"refresh_window", c.RefreshWindow},
		{"pending_ttl", c.PendingTTL},
	}
	for _, d := range durations {
		if d.value < 0 {
			return &oauth.ConfigError{Field: d.field, Reason: "must not be negative"}
		}
	}
	return nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return &oauth.ConfigError{Field: field, Reason: "must be an http(s) URL"}
	}
	return nil
}

// withDefaults fills zero values with the package defaults.
func (c Config) withDefaults() Config {
	if len(c.Scopes) == 0 {
		c.Scopes = slices.Clone(oauth.DefaultScopes)
	}
	if c.ClockSkew == 0 {
		c.ClockSkew = oauth.DefaultClockSkew
	}
	if c.RefreshWindow == 0 {
		c.RefreshWindow = oauth.DefaultRefreshWindow
	}
	if c.PendingTTL == 0 {
		c.PendingTTL = DefaultPendingTTL
	}
	return c
}
