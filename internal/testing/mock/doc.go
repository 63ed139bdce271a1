// Package mock provides test doubles for signin: a mock OpenID Connect
// provider and a controllable clock.
//
// OAuthServer implements discovery (OIDC and RFC 8414), an auto-approving
// authorization endpoint with mandatory S256 PKCE, the authorization_code
// and refresh_token grants, userinfo, RFC 7009 revocation and an
// end-session endpoint. Request counters and OAuthErrorSimulation let tests
// assert how often an endpoint was hit and make any endpoint fail.
//
// Usage:
//
//	clock := mock.NewMockClock(time.Time{})
//	server := mock.NewOAuthServer(mock.OAuthServerConfig{Clock: clock})
//	issuer, err := server.Start(ctx)
//	defer server.Stop(ctx)
//
//	// Play the browser: approve and capture the redirect.
//	callbackURL, err := server.Authorize(ctx, req.URL)
//
// ID tokens are unsigned (alg none). They are for tests only.
package mock
