// Package oauth provides the OAuth 2.0 / OpenID Connect protocol primitives
// used by the signin client.
//
// The package is stateless: it knows how to talk to an authorization server
// but never holds the active credential. Lifecycle management (which
// credential is active, when to refresh, when to clear) lives in
// internal/auth.
//
// # Core Components
//
//   - Credential: the token set returned by the token endpoint
//   - PKCEContext: per-attempt verifier, challenge, state and nonce (RFC 7636)
//   - Client: discovery, authorization URL, code exchange, refresh,
//     userinfo, revocation (RFC 7009) and end-session requests
//   - TokenInfo: unverified projection of the ID token claims
//   - Errors: the sign-in error taxonomy (ErrCSRFMismatch, ErrInvalidGrant,
//     ErrReauthRequired, *ExchangeFailedError, ...)
//
// # Usage
//
//	client := oauth.NewClient(oauth.WithHTTPClient(httpClient))
//	metadata, err := client.DiscoverMetadata(ctx, issuer)
//	pkce, err := oauth.NewPKCEContext(redirectURI, time.Now())
//	authURL := client.AuthorizationURL(metadata.Endpoints(), clientID, scopes, pkce)
//	cred, err := client.ExchangeCode(ctx, metadata.Endpoints(), clientID, code, pkce)
package oauth
