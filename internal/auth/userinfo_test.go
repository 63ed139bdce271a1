package auth

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signin/internal/testing/mock"
	"signin/pkg/oauth"
)

func TestUserInfo_NotAuthenticated(t *testing.T) {
	env := newTestEnv(t, mock.OAuthServerConfig{})

	assert.Nil(t, env.session.UserInfo(context.Background()))
	assert.Equal(t, 0, env.server.UserInfoRequests())
}

func TestUserInfo_CachedPerCredential(t *testing.T) {
	env := newTestEnv(t, mock.OAuthServerConfig{})
	env.signIn(t)

	info := env.session.UserInfo(context.Background())
	require.NotNil(t, info)
	assert.Equal(t, mock.DefaultSubject, info.Subject)
	assert.Equal(t, "Test User", info.Claim("name"))

	again := env.session.UserInfo(context.Background())
	assert.Same(t, info, again)
	assert.Equal(t, 1, env.server.UserInfoRequests())

	// A refreshed credential gets its own entry.
	require.NoError(t, env.session.ForceRefresh(context.Background()))
	require.NotNil(t, env.session.UserInfo(context.Background()))
	assert.Equal(t, 2, env.server.UserInfoRequests())
}

func TestUserInfo_FailureReturnsNil(t *testing.T) {
	env := newTestEnv(t, mock.OAuthServerConfig{})
	env.signIn(t)
	env.server.SetErrors(mock.OAuthErrorSimulation{UserInfoStatus: http.StatusInternalServerError})

	assert.Nil(t, env.session.UserInfo(context.Background()))

	env.server.SetErrors(mock.OAuthErrorSimulation{})
	assert.NotNil(t, env.session.UserInfo(context.Background()), "failures are not cached")
}

func TestUserInfo_ExpiredCredential(t *testing.T) {
	env := newTestEnv(t, mock.OAuthServerConfig{})
	env.signIn(t)
	env.clock.Advance(2 * time.Hour)

	assert.Nil(t, env.session.UserInfo(context.Background()))
	assert.Equal(t, 0, env.server.UserInfoRequests())
}

func TestUserInfo_ConcurrentMissesCoalesce(t *testing.T) {
	env := newTestEnv(t, mock.OAuthServerConfig{})
	env.signIn(t)
	env.server.SetErrors(mock.OAuthErrorSimulation{UserInfoDelay: 200 * time.Millisecond})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*oauth.UserInfo, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = env.session.UserInfo(context.Background())
		}(i)
	}
	wg.Wait()

	for _, info := range results {
		require.NotNil(t, info)
		assert.Equal(t, mock.DefaultSubject, info.Subject)
	}
	assert.Equal(t, 1, env.server.UserInfoRequests())
}

func TestUserInfo_InvalidatedBySignOut(t *testing.T) {
	env := newTestEnv(t, mock.OAuthServerConfig{})
	env.signIn(t)
	require.NotNil(t, env.session.UserInfo(context.Background()))

	require.NoError(t, env.session.SignOut(context.Background()))
	assert.Nil(t, env.session.UserInfo(context.Background()))
}
