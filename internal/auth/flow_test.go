package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signin/internal/testing/mock"
	"signin/pkg/oauth"
)

func oktaFlow(clock Clock) *FlowController {
	cfg := Config{
		Issuer:      "https://example.okta.com",
		ClientID:    "abc",
		RedirectURI: "app://callback",
		Endpoints: oauth.Endpoints{
			Authorization: "https://example.okta.com/oauth2/v1/authorize",
			Token:         "https://example.okta.com/oauth2/v1/token",
		},
	}
	return NewFlowController(cfg, oauth.NewClient(), clock)
}

func TestBeginSignIn_OktaScenario(t *testing.T) {
	flow := oktaFlow(mock.NewMockClock(time.Time{}))

	req, err := flow.BeginSignIn(context.Background())
	require.NoError(t, err)
	require.NotNil(t, req.Context)

	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "example.okta.com", u.Host)
	assert.Equal(t, "/oauth2/v1/authorize", u.Path)

	q := u.Query()
	assert.Equal(t, "abc", q.Get("client_id"))
	assert.Equal(t, "app://callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, req.Context.CodeChallenge, q.Get("code_challenge"))
	assert.Equal(t, req.Context.State, q.Get("state"))
	assert.Equal(t, req.Context.Nonce, q.Get("nonce"))
	assert.Equal(t, "openid profile email offline_access", q.Get("scope"))

	assert.True(t, strings.Contains(req.URL, "client_id=abc"))
	assert.True(t, oauth.ValidVerifier(req.Context.CodeVerifier))
	assert.Equal(t, "app://callback", req.Context.RedirectURI)
}

func TestBeginSignIn_ConfigError(t *testing.T) {
	flow := NewFlowController(Config{Issuer: "https://example.okta.com", RedirectURI: "app://callback"}, oauth.NewClient(), nil)

	_, err := flow.BeginSignIn(context.Background())
	assert.ErrorIs(t, err, oauth.ErrConfig)

	var cfgErr *oauth.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "client_id", cfgErr.Field)
	assert.False(t, flow.Pending())
}

func TestBeginSignIn_PendingAttempt(t *testing.T) {
	clock := mock.NewMockClock(time.Time{})
	flow := oktaFlow(clock)

	first, err := flow.BeginSignIn(context.Background())
	require.NoError(t, err)

	_, err = flow.BeginSignIn(context.Background())
	assert.ErrorIs(t, err, oauth.ErrOperationInProgress)

	clock.Advance(DefaultPendingTTL)
	second, err := flow.BeginSignIn(context.Background())
	require.NoError(t, err, "expired attempt is discarded")
	assert.NotEqual(t, first.Context.State, second.Context.State)

	flow.CancelSignIn()
	assert.False(t, flow.Pending())
	_, err = flow.BeginSignIn(context.Background())
	assert.NoError(t, err)
}

func TestCompleteSignIn_StateMismatch(t *testing.T) {
	env := newTestEnv(t, mock.OAuthServerConfig{})
	flow := env.session.Flow()

	req, err := flow.BeginSignIn(context.Background())
	require.NoError(t, err)
	callback, err := env.server.Authorize(context.Background(), req.URL)
	require.NoError(t, err)

	forged := strings.Replace(callback, url.QueryEscape(req.Context.State), "forged-state", 1)
	cred, err := flow.CompleteSignIn(context.Background(), forged, req.Context)
	assert.ErrorIs(t, err, oauth.ErrCSRFMismatch)
	assert.Nil(t, cred)
	assert.Equal(t, 0, env.server.CodeExchanges(), "no token request on state mismatch")

	// The attempt is consumed even though it failed.
	_, err = flow.CompleteSignIn(context.Background(), callback, req.Context)
	assert.ErrorIs(t, err, oauth.ErrNoPendingSignIn)
}

func TestCompleteSignIn_MissingState(t *testing.T) {
	env := newTestEnv(t, mock.OAuthServerConfig{})
	flow := env.session.Flow()

	req, err := flow.BeginSignIn(context.Background())
	require.NoError(t, err)

	_, err = flow.CompleteSignIn(context.Background(), "app://callback?code=abc", req.Context)
	assert.ErrorIs(t, err, oauth.ErrCSRFMismatch)
}

func TestCompleteSignIn_Replay(t *testing.T) {
	env := newTestEnv(t, mock.OAuthServerConfig{})
	flow := env.session.Flow()

	req, err := flow.BeginSignIn(context.Background())
	require.NoError(t, err)
	callback, err := env.server.Authorize(context.Background(), req.URL)
	require.NoError(t, err)

	cred, err := flow.CompleteSignIn(context.Background(), callback, req.Context)
	require.NoError(t, err)
	assert.NotEmpty(t, cred.ID)
	assert.Equal(t, env.server.Issuer(), cred.Issuer)
	assert.True(t, cred.CreatedAt.Equal(env.clock.Now()))

	_, err = flow.CompleteSignIn(context.Background(), callback, req.Context)
	assert.ErrorIs(t, err, oauth.ErrNoPendingSignIn)
	assert.Equal(t, 1, env.server.CodeExchanges())
}

func TestCompleteSignIn_UnknownContext(t *testing.T) {
	env := newTestEnv(t, mock.OAuthServerConfig{})
	flow := env.session.Flow()

	_, err := flow.CompleteSignIn(context.Background(), "app://callback?code=x&state=y", nil)
	assert.ErrorIs(t, err, oauth.ErrNoPendingSignIn)

	_, err = flow.BeginSignIn(context.Background())
	require.NoError(t, err)

	other, err := oauth.NewPKCEContext("app://callback", env.clock.Now())
	require.NoError(t, err)
	_, err = flow.CompleteSignIn(context.Background(), "app://callback?code=x&state="+other.State, other)
	assert.ErrorIs(t, err, oauth.ErrNoPendingSignIn)
	assert.True(t, flow.Pending(), "a foreign context does not consume the pending attempt")
}

func TestCompleteSignIn_ExpiredAttempt(t *testing.T) {
	env := newTestEnv(t, mock.OAuthServerConfig{})
	flow := env.session.Flow()

	req, err := flow.BeginSignIn(context.Background())
	require.NoError(t, err)
	callback, err := env.server.Authorize(context.Background(), req.URL)
	require.NoError(t, err)

	env.clock.Advance(DefaultPendingTTL + time.Second)
	_, err = flow.CompleteSignIn(context.Background(), callback, req.Context)
	assert.ErrorIs(t, err, oauth.ErrNoPendingSignIn)
	assert.False(t, flow.Pending())
}

func TestCompleteSignIn_CallbackErrors(t *testing.T) {
	env := newTestEnv(t, mock.OAuthServerConfig{})
	flow := env.session.Flow()

	tests := []struct {
		name       string
		query      func(state string) string
		wantReason string
	}{
		{
			name:       "authorization denied",
			query:      func(state string) string { return "error=access_denied&error_description=User+cancelled&state=" + state },
			wantReason: "access_denied: User cancelled",
		},
		{
			name:       "no code",
			query:      func(state string) string { return "state=" + state },
			wantReason: "no authorization code in callback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := flow.BeginSignIn(context.Background())
			require.NoError(t, err)

			_, err = flow.CompleteSignIn(context.Background(), "app://callback?"+tt.query(url.QueryEscape(req.Context.State)), req.Context)
			var exErr *oauth.ExchangeFailedError
			require.ErrorAs(t, err, &exErr)
			assert.Equal(t, tt.wantReason, exErr.Reason)
			assert.False(t, flow.Pending())
		})
	}
}

func TestCompleteSignIn_TokenEndpointFailures(t *testing.T) {
	env := newTestEnv(t, mock.OAuthServerConfig{})
	flow := env.session.Flow()

	complete := func() error {
		req, err := flow.BeginSignIn(context.Background())
		require.NoError(t, err)
		callback, err := env.server.Authorize(context.Background(), req.URL)
		require.NoError(t, err)
		_, err = flow.CompleteSignIn(context.Background(), callback, req.Context)
		return err
	}

	env.server.SetErrors(mock.OAuthErrorSimulation{InvalidGrant: true})
	assert.ErrorIs(t, complete(), oauth.ErrInvalidGrant)

	env.server.SetErrors(mock.OAuthErrorSimulation{TokenStatus: http.StatusInternalServerError})
	err := complete()
	var exErr *oauth.ExchangeFailedError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "authorization_code", exErr.Grant)
	assert.NotErrorIs(t, err, oauth.ErrInvalidGrant)
}

func TestCompleteSignIn_CancelledContext(t *testing.T) {
	env := newTestEnv(t, mock.OAuthServerConfig{})
	flow := env.session.Flow()

	req, err := flow.BeginSignIn(context.Background())
	require.NoError(t, err)
	callback, err := env.server.Authorize(context.Background(), req.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = flow.CompleteSignIn(ctx, callback, req.Context)
	require.Error(t, err)
	assert.False(t, flow.Pending())
}

func TestCompleteSignIn_NonceMismatch(t *testing.T) {
	env := newTestEnv(t, mock.OAuthServerConfig{IDTokenNonce: "replayed-nonce"})
	flow := env.session.Flow()

	req, err := flow.BeginSignIn(context.Background())
	require.NoError(t, err)
	callback, err := env.server.Authorize(context.Background(), req.URL)
	require.NoError(t, err)

	_, err = flow.CompleteSignIn(context.Background(), callback, req.Context)
	var exErr *oauth.ExchangeFailedError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "id token nonce mismatch", exErr.Reason)
}

func TestCompleteSignIn_IssuerMismatch(t *testing.T) {
	env := newTestEnv(t, mock.OAuthServerConfig{IDTokenIssuer: "https://evil.example.com"})
	flow := env.session.Flow()

	req, err := flow.BeginSignIn(context.Background())
	require.NoError(t, err)
	callback, err := env.server.Authorize(context.Background(), req.URL)
	require.NoError(t, err)

	_, err = flow.CompleteSignIn(context.Background(), callback, req.Context)
	var exErr *oauth.ExchangeFailedError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "id token issuer mismatch", exErr.Reason)
	assert.False(t, flow.Pending())
}

func TestCompleteSignIn_IssuerTrailingSlash(t *testing.T) {
	env := newTestEnv(t, mock.OAuthServerConfig{}, func(c *Config) {
		c.Issuer += "/"
	})

	cred, err := env.session.SignIn(context.Background(), env.presenter())
	require.NoError(t, err)
	assert.NotEmpty(t, cred.IDToken)
}

func TestEndpoints_DiscoveryWithOverrides(t *testing.T) {
	env := newTestEnv(t, mock.OAuthServerConfig{}, func(c *Config) {
		c.Endpoints.UserInfo = "https://profile.example.com/me"
	})

	endpoints, err := env.session.Flow().Endpoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, env.server.Issuer()+"/authorize", endpoints.Authorization)
	assert.Equal(t, env.server.Issuer()+"/token", endpoints.Token)
	assert.Equal(t, env.server.Issuer()+"/revoke", endpoints.Revocation)
	assert.Equal(t, env.server.Issuer()+"/logout", endpoints.EndSession)
	assert.Equal(t, "https://profile.example.com/me", endpoints.UserInfo)
}

func TestEndpoints_RFC8414Fallback(t *testing.T) {
	env := newTestEnv(t, mock.OAuthServerConfig{DisableDiscovery: true})

	endpoints, err := env.session.Flow().Endpoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, env.server.Issuer()+"/token", endpoints.Token)
}

func TestEndpoints_ExplicitSkipsDiscovery(t *testing.T) {
	env := newTestEnv(t, mock.OAuthServerConfig{}, func(c *Config) {
		c.Endpoints.Authorization = c.Issuer + "/authorize"
		c.Endpoints.Token = c.Issuer + "/token"
	})

	_, err := env.session.Flow().Endpoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, env.server.DiscoveryRequests())
}
