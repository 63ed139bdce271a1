package oauth

import (
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultClockSkew is the default tolerance when comparing token expiry to
// the local clock.
const DefaultClockSkew = 30 * time.Second

// DefaultRefreshWindow is the duration before expiry at which a credential is
// considered near expiry and gets refreshed proactively.
const DefaultRefreshWindow = 5 * time.Minute

// DefaultScopes are requested when the configuration does not name any.
var DefaultScopes = []string{"openid", "profile", "email", "offline_access"}

// Credential is the token set obtained from a successful token exchange.
//
// A Credential is immutable once published: refresh replaces it wholesale
// with a new value carrying a new ID.
type Credential struct {
	// ID identifies this credential instance. Caches tied to a credential
	// (user info) are keyed on it.
	ID string `json:"id"`

	// AccessToken is the bearer token used for API authorization.
	AccessToken string `json:"access_token"`

	// IDToken is the raw OIDC ID token (signed JWT).
	IDToken string `json:"id_token,omitempty"`

	// RefreshToken is used to obtain new tokens (optional).
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// ExpiresAt is when the access token expires. Zero means no expiry.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Scopes are the granted scopes.
	Scopes []string `json:"scopes,omitempty"`

	// Issuer is the authorization server that issued the tokens.
	Issuer string `json:"issuer,omitempty"`

	// CreatedAt is when the credential was obtained.
	CreatedAt time.Time `json:"created_at"`
}

// IsExpiredAt reports whether the access token has passed its expiry by more
// than the given skew at time now.
func (c *Credential) IsExpiredAt(now time.Time, skew time.Duration) bool {
	if c == nil {
		return true
	}
	if c.ExpiresAt.IsZero() {
		return false
	}
	return now.After(c.ExpiresAt.Add(skew))
}

// NeedsRefreshAt reports whether the credential is within window of its expiry.
func (c *Credential) NeedsRefreshAt(now time.Time, window time.Duration) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt.Add(-window))
}

// HasScope reports whether the scope was granted.
func (c *Credential) HasScope(scope string) bool {
	return c != nil && slices.Contains(c.Scopes, scope)
}

// Clone returns a deep copy.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	out.Scopes = slices.Clone(c.Scopes)
	return &out
}

// Equal reports whether two credentials carry the same values.
func (c *Credential) Equal(other *Credential) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.ID == other.ID &&
		c.AccessToken == other.AccessToken &&
		c.IDToken == other.IDToken &&
		c.RefreshToken == other.RefreshToken &&
		c.TokenType == other.TokenType &&
		c.ExpiresAt.Equal(other.ExpiresAt) &&
		slices.Equal(c.Scopes, other.Scopes) &&
		c.Issuer == other.Issuer &&
		c.CreatedAt.Equal(other.CreatedAt)
}

// credentialFromToken converts a token endpoint response to a Credential.
// The caller assigns ID and CreatedAt.
func credentialFromToken(token *oauth2.Token, issuer string) *Credential {
	cred := &Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
		ExpiresAt:    token.Expiry,
		Issuer:       issuer,
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		cred.IDToken = idToken
	}
	if scope, ok := token.Extra("scope").(string); ok {
		cred.Scopes = strings.Fields(scope)
	}
	return cred
}

// PKCEContext is the per-attempt secret material of an authorization request.
// It is created by BeginSignIn and consumed exactly once.
type PKCEContext struct {
	// CodeVerifier is kept secret and sent only to the token endpoint.
	CodeVerifier string

	// CodeChallenge is base64url(SHA-256(CodeVerifier)) without padding.
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string

	// State is the anti-CSRF token echoed back in the callback.
	State string

	// Nonce binds the ID token to this request.
	Nonce string

	// RedirectURI is the redirect URI sent in the authorization request.
	RedirectURI string

	// CreatedAt is when the context was generated.
	CreatedAt time.Time
}

// AuthorizationRequest is what the presentation layer needs to run the
// browser part of a sign-in.
type AuthorizationRequest struct {
	// URL is the authorization endpoint URL to open.
	URL string

	// Context must be handed back to CompleteSignIn.
	Context *PKCEContext
}

// UserInfo holds the claims returned by the userinfo endpoint.
type UserInfo struct {
	Subject string         `json:"sub"`
	Claims  map[string]any `json:"-"`
}

// Claim returns a string claim, or "" when absent or not a string.
func (u *UserInfo) Claim(name string) string {
	if u == nil {
		return ""
	}
	s, _ := u.Claims[name].(string)
	return s
}

// TokenInfo is a read-only view of the ID token claims.
type TokenInfo struct {
	Issuer    string
	Subject   string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Email     string
	Name      string
	Claims    map[string]any
}

// IsExpiredAt reports whether the ID token has expired at now.
func (t *TokenInfo) IsExpiredAt(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// Endpoints are the authorization server URLs the client talks to.
type Endpoints struct {
	Authorization string `yaml:"authorization,omitempty" json:"authorization_endpoint"`
	Token         string `yaml:"token,omitempty" json:"token_endpoint"`
	UserInfo      string `yaml:"userinfo,omitempty" json:"userinfo_endpoint,omitempty"`
	EndSession    string `yaml:"end_session,omitempty" json:"end_session_endpoint,omitempty"`
	Revocation    string `yaml:"revocation,omitempty" json:"revocation_endpoint,omitempty"`
}

// Complete reports whether the endpoints required for sign-in are set.
func (e Endpoints) Complete() bool {
	return e.Authorization != "" && e.Token != ""
}

// Metadata represents OpenID Connect provider metadata, with the RFC 8414
// fields the client uses.
type Metadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	UserinfoEndpoint              string   `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint            string   `json:"end_session_endpoint,omitempty"`
	RevocationEndpoint            string   `json:"revocation_endpoint,omitempty"`
	JwksURI                       string   `json:"jwks_uri,omitempty"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// SupportsPKCE returns true if the server supports S256 PKCE.
func (m *Metadata) SupportsPKCE() bool {
	if len(m.CodeChallengeMethodsSupported) == 0 {
		return true
	}
	return slices.Contains(m.CodeChallengeMethodsSupported, "S256")
}

// Endpoints returns the endpoint set described by the metadata.
func (m *Metadata) Endpoints() Endpoints {
	return Endpoints{
		Authorization: m.AuthorizationEndpoint,
		Token:         m.TokenEndpoint,
		UserInfo:      m.UserinfoEndpoint,
		EndSession:    m.EndSessionEndpoint,
		Revocation:    m.RevocationEndpoint,
	}
}
