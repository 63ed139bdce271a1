package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"signin/internal/tokenstore"
	"signin/pkg/logging"
	"signin/pkg/oauth"
)

// Presenter shows the authorization URL to the user and returns the
// callback URL the authorization server redirected to.
type Presenter interface {
	Present(ctx context.Context, req *oauth.AuthorizationRequest) (callbackURL string, err error)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(ctx context.Context, req *oauth.AuthorizationRequest) (string, error)

func (f PresenterFunc) Present(ctx context.Context, req *oauth.AuthorizationRequest) (string, error) {
	return f(ctx, req)
}

// Session is the single entry point for the token lifecycle of one user:
// sign in, sign out, refresh, cached token reads and user info.
type Session struct {
	cfg    Config
	client *oauth.Client
	clock  Clock
	store  tokenstore.Store

	holder    *holder
	flow      *FlowController
	refresher *RefreshCoordinator
	userInfo  *UserInfoCache
	notifier  *notifier

	// op serializes sign-in and sign-out.
	op sync.Mutex
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	client     *oauth.Client
	clock      Clock
	dispatcher Dispatcher
}

// WithClient sets the protocol client. Defaults to oauth.NewClient() using
// the session clock.
func WithClient(client *oauth.Client) SessionOption {
	return func(o *sessionOptions) {
		o.client = client
	}
}

// WithClock sets the time source for expiry decisions.
func WithClock(clock Clock) SessionOption {
	return func(o *sessionOptions) {
		o.clock = clock
	}
}

// WithDispatcher sets where event listeners run. Defaults to InlineDispatcher.
func WithDispatcher(d Dispatcher) SessionOption {
	return func(o *sessionOptions) {
		o.dispatcher = d
	}
}

// NewSession creates a session backed by store and adopts any credential
// already stored there.
func NewSession(ctx context.Context, cfg Config, store tokenstore.Store, opts ...SessionOption) (*Session, error) {
	o := sessionOptions{clock: systemClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = oauth.NewClient(
			oauth.WithLogger(logging.Logger("OAuthClient")),
			oauth.WithClock(o.clock.Now),
		)
	}

	cfg = cfg.withDefaults()
	s := &Session{
		cfg:      cfg,
		client:   o.client,
		clock:    o.clock,
		store:    store,
		holder:   newHolder(store),
		notifier: newNotifier(o.dispatcher),
	}
	s.flow = NewFlowController(cfg, o.client, o.clock)
	s.refresher = newRefreshCoordinator(cfg, o.client, o.clock, s.holder, s.flow.Endpoints, s.notifier)
	s.userInfo = newUserInfoCache(cfg, o.client, o.clock, s.holder, s.flow.Endpoints)

	if _, _, err := s.holder.reload(ctx); err != nil {
		return nil, fmt.Errorf("failed to load stored credential: %w", err)
	}
	return s, nil
}

// Config returns the effective configuration, defaults applied.
func (s *Session) Config() Config {
	return s.cfg
}

// Flow exposes the flow controller for callers that drive the redirect
// themselves instead of using a Presenter.
func (s *Session) Flow() *FlowController {
	return s.flow
}

// Subscribe registers a listener for state changes and returns a function
// that removes it.
func (s *Session) Subscribe(listener func(Event)) func() {
	return s.notifier.subscribe(listener)
}

// IsAuthenticated reports whether a credential is active and not expired
// beyond the configured clock skew.
func (s *Session) IsAuthenticated() bool {
	cur := s.holder.Current()
	return cur != nil && !cur.IsExpiredAt(s.clock.Now(), s.cfg.ClockSkew)
}

// Credential returns a copy of the active credential, or nil.
func (s *Session) Credential() *oauth.Credential {
	return s.holder.Current().Clone()
}

// IDToken returns the raw ID token of the active credential, expired or not.
func (s *Session) IDToken() (string, bool) {
	cur := s.holder.Current()
	if cur == nil || cur.IDToken == "" {
		return "", false
	}
	return cur.IDToken, true
}

// TokenInfo returns the claims of the active ID token, or nil when there is
// none or it cannot be parsed.
func (s *Session) TokenInfo() *oauth.TokenInfo {
	cur := s.holder.Current()
	if cur == nil || cur.IDToken == "" {
		return nil
	}
	info, err := oauth.ParseTokenInfo(cur.IDToken)
	if err != nil {
		logging.Debug("Session", "ID token could not be parsed: %v", err)
		return nil
	}
	return info
}

// State reports the refresh lifecycle state.
func (s *Session) State() RefreshState {
	return s.refresher.State()
}

// SignIn runs a complete authorization: it presents the authorization URL,
// validates the callback, exchanges the code and stores the credential.
func (s *Session) SignIn(ctx context.Context, presenter Presenter) (*oauth.Credential, error) {
	if !s.op.TryLock() {
		return nil, oauth.ErrOperationInProgress
	}
	defer s.op.Unlock()

	req, err := s.flow.BeginSignIn(ctx)
	if err != nil {
		return nil, err
	}

	callbackURL, err := presenter.Present(ctx, req)
	if err != nil {
		s.flow.CancelSignIn()
		return nil, fmt.Errorf("sign-in was not completed: %w", err)
	}

	cred, err := s.flow.CompleteSignIn(ctx, callbackURL, req.Context)
	if err != nil {
		logging.Warn("Session", "Sign-in failed: %v", err)
		return nil, err
	}

	s.adopt(ctx, cred)
	return cred.Clone(), nil
}

// CompleteSignIn finishes an attempt started with Flow().BeginSignIn and
// stores the resulting credential.
func (s *Session) CompleteSignIn(ctx context.Context, callbackURL string, pkce *oauth.PKCEContext) (*oauth.Credential, error) {
	if !s.op.TryLock() {
		return nil, oauth.ErrOperationInProgress
	}
	defer s.op.Unlock()

	cred, err := s.flow.CompleteSignIn(ctx, callbackURL, pkce)
	if err != nil {
		return nil, err
	}
	s.adopt(ctx, cred)
	return cred.Clone(), nil
}

func (s *Session) adopt(ctx context.Context, cred *oauth.Credential) {
	if err := s.holder.publish(ctx, cred); err != nil {
		logging.Warn("Session", "Signed in, but the credential is only held in memory: %v", err)
	}
	s.refresher.reset()
	s.userInfo.Invalidate()
	logging.Info("Session", "Signed in to %s", cred.Issuer)
	s.notifier.emit(Event{Type: EventSignedIn, Credential: cred})
}

// SignOut clears the local credential and asks the authorization server to
// revoke the tokens and end its session. The local clear always happens;
// remote failures are reported as *oauth.RemoteSignOutError.
func (s *Session) SignOut(ctx context.Context) error {
	if !s.op.TryLock() {
		return oauth.ErrOperationInProgress
	}
	defer s.op.Unlock()

	cur := s.holder.Current()
	clearErr := s.holder.clear(ctx)
	s.flow.CancelSignIn()
	s.refresher.reset()
	s.userInfo.Invalidate()
	if cur == nil {
		return clearErr
	}

	logging.Info("Session", "Signed out of %s", cur.Issuer)
	s.notifier.emit(Event{Type: EventSignedOut})

	remoteErr := s.signOutRemote(ctx, cur)
	if clearErr != nil {
		return errors.Join(fmt.Errorf("failed to clear stored credential: %w", clearErr), remoteErr)
	}
	if remoteErr != nil {
		logging.Warn("Session", "Remote sign-out incomplete: %v", remoteErr)
		return &oauth.RemoteSignOutError{Err: remoteErr}
	}
	return nil
}

func (s *Session) signOutRemote(ctx context.Context, cred *oauth.Credential) error {
	endpoints, err := s.flow.Endpoints(ctx)
	if err != nil {
		return err
	}

	var errs []error
	if endpoints.Revocation != "" {
		if cred.RefreshToken != "" {
			if err := s.client.Revoke(ctx, endpoints.Revocation, s.cfg.ClientID, cred.RefreshToken, "refresh_token"); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.client.Revoke(ctx, endpoints.Revocation, s.cfg.ClientID, cred.AccessToken, "access_token"); err != nil {
			errs = append(errs, err)
		}
	}
	if endpoints.EndSession != "" && cred.IDToken != "" {
		if err := s.client.EndSession(ctx, endpoints.EndSession, s.cfg.ClientID, cred.IDToken, s.cfg.PostLogoutRedirectURI); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RefreshIfNeeded refreshes the credential when it is near expiry.
func (s *Session) RefreshIfNeeded(ctx context.Context) error {
	return s.refresher.RefreshIfNeeded(ctx)
}

// ForceRefresh refreshes the credential regardless of its expiry.
func (s *Session) ForceRefresh(ctx context.Context) error {
	return s.refresher.ForceRefresh(ctx)
}

// UserInfo returns the user's claims, or nil when unavailable.
func (s *Session) UserInfo(ctx context.Context) *oauth.UserInfo {
	return s.userInfo.UserInfo(ctx)
}

// Reload re-reads the store, adopting a credential written or removed by
// another process.
func (s *Session) Reload(ctx context.Context) error {
	prev, next, err := s.holder.reload(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload stored credential: %w", err)
	}

	switch {
	case next == nil && prev != nil:
		s.userInfo.Invalidate()
		s.notifier.emit(Event{Type: EventSignedOut})
	case next != nil && (prev == nil || prev.ID != next.ID):
		s.refresher.reset()
		s.userInfo.Invalidate()
		s.notifier.emit(Event{Type: EventSignedIn, Credential: next})
	}
	return nil
}

type storeWatcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// Watch reloads the session whenever the store reports an external change,
// until ctx ends. Stores that cannot be watched return an error.
func (s *Session) Watch(ctx context.Context) error {
	w, ok := s.store.(storeWatcher)
	if !ok {
		return fmt.Errorf("token store %T does not support watching", s.store)
	}
	return w.Watch(ctx, func() {
		if err := s.Reload(ctx); err != nil {
			logging.Warn("Session", "%v", err)
		}
	})
}
