// Package auth manages the token lifecycle of a single user against an
// OAuth 2.0 / OpenID Connect authorization server using the authorization
// code flow with PKCE.
//
// Session is the facade. It composes:
//   - FlowController: creates PKCE attempts, validates callbacks (state,
//     single use, nonce) and exchanges authorization codes
//   - RefreshCoordinator: refreshes near-expiry credentials, sharing one
//     in-flight request between concurrent callers
//   - UserInfoCache: userinfo claims cached per credential
//
// The active credential is immutable and published through a single write
// path. A refresh result is only published while the credential it was
// derived from is still active, so a refresh finishing after sign-out never
// brings the old session back.
//
// # Usage
//
//	store, _ := tokenstore.Open(tokenstore.Config{Backend: "file"})
//	session, err := auth.NewSession(ctx, auth.Config{
//		Issuer:      "https://example.okta.com",
//		ClientID:    "abc",
//		RedirectURI: "http://127.0.0.1:8085/callback",
//	}, store)
//
//	if !session.IsAuthenticated() {
//		_, err = session.SignIn(ctx, presenter)
//	}
//	err = session.RefreshIfNeeded(ctx)
//
// Listeners registered with Subscribe run through the configured Dispatcher,
// inline by default.
package auth
