package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"signin/internal/testing/mock"
	"signin/internal/tokenstore"
	"signin/pkg/oauth"
)

type testEnv struct {
	server  *mock.OAuthServer
	clock   *mock.MockClock
	store   tokenstore.Store
	session *Session
	events  *eventRecorder
}

func newTestEnv(t *testing.T, serverCfg mock.OAuthServerConfig, mutate ...func(*Config)) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, serverCfg, tokenstore.NewMemoryStore(), mutate...)
}

func newTestEnvWithStore(t *testing.T, serverCfg mock.OAuthServerConfig, store tokenstore.Store, mutate ...func(*Config)) *testEnv {
	t.Helper()

	clock := mock.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	serverCfg.Clock = clock
	server := mock.NewOAuthServer(serverCfg)
	issuer, err := server.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	cfg := Config{
		Issuer:      issuer,
		ClientID:    server.ClientID(),
		RedirectURI: "app://callback",
	}
	for _, m := range mutate {
		m(&cfg)
	}

	session, err := NewSession(context.Background(), cfg, store, WithClock(clock))
	require.NoError(t, err)

	events := &eventRecorder{}
	session.Subscribe(events.record)

	return &testEnv{server: server, clock: clock, store: store, session: session, events: events}
}

// presenter approves the request at the mock provider.
func (e *testEnv) presenter() Presenter {
	return PresenterFunc(func(ctx context.Context, req *oauth.AuthorizationRequest) (string, error) {
		return e.server.Authorize(ctx, req.URL)
	})
}

func (e *testEnv) signIn(t *testing.T) *oauth.Credential {
	t.Helper()
	cred, err := e.session.SignIn(context.Background(), e.presenter())
	require.NoError(t, err)
	return cred
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}
