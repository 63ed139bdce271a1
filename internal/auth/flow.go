package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"signin/pkg/logging"
	"signin/pkg/oauth"
)

// FlowController runs the authorization-code-with-PKCE exchange. It holds
// at most one pending attempt, and every attempt is consumed exactly once.
type FlowController struct {
	cfg    Config
	client *oauth.Client
	clock  Clock

	mu      sync.Mutex
	pending *oauth.PKCEContext
}

// NewFlowController creates a flow controller. Zero durations and scopes in
// cfg take the package defaults.
func NewFlowController(cfg Config, client *oauth.Client, clock Clock) *FlowController {
	if clock == nil {
		clock = systemClock{}
	}
	return &FlowController{cfg: cfg.withDefaults(), client: client, clock: clock}
}

// Endpoints resolves the authorization server endpoints. Explicitly
// configured endpoints win over discovered ones; discovery is skipped when
// both the authorization and token endpoints are configured.
func (f *FlowController) Endpoints(ctx context.Context) (oauth.Endpoints, error) {
	explicit := f.cfg.Endpoints
	if explicit.Complete() {
		return explicit, nil
	}

	metadata, err := f.client.DiscoverMetadata(ctx, f.cfg.Issuer)
	if err != nil {
		return oauth.Endpoints{}, fmt.Errorf("failed to discover endpoints for %s: %w", f.cfg.Issuer, err)
	}

	endpoints := metadata.Endpoints()
	if explicit.Authorization != "" {
		endpoints.Authorization = explicit.Authorization
	}
	if explicit.Token != "" {
		endpoints.Token = explicit.Token
	}
	if explicit.UserInfo != "" {
		endpoints.UserInfo = explicit.UserInfo
	}
	if explicit.EndSession != "" {
		endpoints.EndSession = explicit.EndSession
	}
	if explicit.Revocation != "" {
		endpoints.Revocation = explicit.Revocation
	}
	if !endpoints.Complete() {
		return oauth.Endpoints{}, &oauth.ConfigError{Field: "endpoints", Reason: "authorization and token endpoints could not be resolved"}
	}
	return endpoints, nil
}

// BeginSignIn creates a new PKCE context and the authorization URL the user
// agent has to open.
func (f *FlowController) BeginSignIn(ctx context.Context) (*oauth.AuthorizationRequest, error) {
	if err := f.cfg.Validate(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	if f.pending != nil {
		if f.clock.Now().Sub(f.pending.CreatedAt) < f.cfg.PendingTTL {
			f.mu.Unlock()
			return nil, oauth.ErrOperationInProgress
		}
		logging.Debug("FlowController", "Discarding expired authorization attempt")
		f.pending = nil
	}
	f.mu.Unlock()

	endpoints, err := f.Endpoints(ctx)
	if err != nil {
		return nil, err
	}

	pkce, err := oauth.NewPKCEContext(f.cfg.RedirectURI, f.clock.Now())
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	// Another attempt may have started while endpoints were resolved.
	if f.pending != nil {
		return nil, oauth.ErrOperationInProgress
	}
	f.pending = pkce

	return &oauth.AuthorizationRequest{
		URL:     f.client.AuthorizationURL(endpoints, f.cfg.ClientID, f.cfg.Scopes, pkce),
		Context: pkce,
	}, nil
}

// CancelSignIn discards the pending attempt, if any.
func (f *FlowController) CancelSignIn() {
	f.mu.Lock()
	f.pending = nil
	f.mu.Unlock()
}

// Pending reports whether an unconsumed attempt exists.
func (f *FlowController) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending != nil
}

// CompleteSignIn validates the callback URL against the attempt described
// by pkce and exchanges the code. A nil pkce selects the pending attempt.
//
// The attempt is consumed before any validation, so a callback can never be
// replayed, whatever the outcome.
func (f *FlowController) CompleteSignIn(ctx context.Context, callbackURL string, pkce *oauth.PKCEContext) (*oauth.Credential, error) {
	attempt, err := f.consume(pkce)
	if err != nil {
		return nil, err
	}

	code, err := parseCallback(callbackURL, attempt.State)
	if err != nil {
		return nil, err
	}

	endpoints, err := f.Endpoints(ctx)
	if err != nil {
		return nil, &oauth.ExchangeFailedError{Grant: "authorization_code", Reason: "endpoint resolution failed", Err: err}
	}

	cred, err := f.client.ExchangeCode(ctx, endpoints, f.cfg.ClientID, code, attempt)
	if err != nil {
		return nil, err
	}

	if err := checkIDToken(cred.IDToken, attempt.Nonce, f.cfg.Issuer); err != nil {
		return nil, err
	}

	return stamp(cred, f.cfg.Issuer, f.clock), nil
}

func (f *FlowController) consume(pkce *oauth.PKCEContext) (*oauth.PKCEContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pending := f.pending
	if pending == nil {
		return nil, oauth.ErrNoPendingSignIn
	}
	if pkce != nil && pkce.CodeVerifier != pending.CodeVerifier {
		return nil, oauth.ErrNoPendingSignIn
	}
	f.pending = nil

	if f.clock.Now().Sub(pending.CreatedAt) >= f.cfg.PendingTTL {
		return nil, fmt.Errorf("%w: authorization attempt expired", oauth.ErrNoPendingSignIn)
	}
	return pending, nil
}

// parseCallback checks the redirect's state and returns the authorization code.
func parseCallback(callbackURL, expectedState string) (string, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return "", &oauth.ExchangeFailedError{Grant: "callback", Reason: "malformed callback URL", Err: err}
	}
	query := u.Query()

	state := query.Get("state")
	if subtle.ConstantTimeCompare([]byte(state), []byte(expectedState)) != 1 {
		logging.Warn("FlowController", "Callback state does not match the pending attempt")
		return "", oauth.ErrCSRFMismatch
	}

	if errCode := query.Get("error"); errCode != "" {
		reason := errCode
		if desc := query.Get("error_description"); desc != "" {
			reason = errCode + ": " + desc
		}
		return "", &oauth.ExchangeFailedError{Grant: "callback", Reason: reason}
	}

	code := query.Get("code")
	if code == "" {
		return "", &oauth.ExchangeFailedError{Grant: "callback", Reason: "no authorization code in callback"}
	}
	return code, nil
}

// checkIDToken rejects an ID token whose nonce claim differs from the one
// sent with the attempt, or whose issuer is not the configured one. Tokens
// without a nonce claim are accepted.
func checkIDToken(rawIDToken, expectedNonce, expectedIssuer string) error {
	if rawIDToken == "" {
		return nil
	}
	info, err := oauth.ParseTokenInfo(rawIDToken)
	if err != nil {
		return &oauth.ExchangeFailedError{Grant: "authorization_code", Reason: "malformed id token", Err: err}
	}
	if expectedIssuer != "" && strings.TrimSuffix(info.Issuer, "/") != strings.TrimSuffix(expectedIssuer, "/") {
		logging.Warn("FlowController", "ID token issued by %q, expected %q", info.Issuer, expectedIssuer)
		return &oauth.ExchangeFailedError{Grant: "authorization_code", Reason: "id token issuer mismatch"}
	}
	nonce, ok := info.Claims["nonce"].(string)
	if !ok {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(nonce), []byte(expectedNonce)) != 1 {
		return &oauth.ExchangeFailedError{Grant: "authorization_code", Reason: "id token nonce mismatch"}
	}
	return nil
}
