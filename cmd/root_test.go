package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signin/pkg/oauth"
)

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitCodeSuccess},
		{name: "generic", err: errors.New("boom"), want: ExitCodeError},
		{name: "config", err: &oauth.ConfigError{Field: "client_id"}, want: ExitCodeError},
		{name: "not signed in", err: errNotSignedIn, want: ExitCodeAuthRequired},
		{name: "reauth", err: fmt.Errorf("%w: invalid_grant", oauth.ErrReauthRequired), want: ExitCodeAuthRequired},
		{name: "sign-in failed", err: &SignInFailedError{Err: oauth.ErrCSRFMismatch}, want: ExitCodeAuthFailed},
		{name: "wrapped sign-in failure", err: fmt.Errorf("login: %w", &SignInFailedError{Err: oauth.ErrInvalidGrant}), want: ExitCodeAuthFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, getExitCode(tt.err))
		})
	}
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	assert.Equal(t, "signin", root.Use)
	assert.NotEmpty(t, root.Short)
	assert.NotEmpty(t, root.Long)
	assert.True(t, root.SilenceUsage)

	for _, name := range []string{"config-dir", "log-level", "timeout", "quiet"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), name)
	}

	auth, _, err := root.Find([]string{"auth"})
	require.NoError(t, err)
	var subcommands []string
	for _, c := range auth.Commands() {
		subcommands = append(subcommands, c.Name())
	}
	assert.ElementsMatch(t, []string{"login", "logout", "refresh", "status", "whoami", "userinfo"}, subcommands)
}

func TestVersion(t *testing.T) {
	original := GetVersion()
	defer SetVersion(original)
	SetVersion("1.2.3-test")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "signin version 1.2.3-test\n", out.String())

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "signin version 1.2.3-test\n", out.String())
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{-time.Second, "expired"},
		{30 * time.Second, "< 1 minute"},
		{time.Minute, "1 minute"},
		{45 * time.Minute, "45 minutes"},
		{time.Hour, "1 hour"},
		{5 * time.Hour, "5 hours"},
		{24 * time.Hour, "1 day"},
		{72 * time.Hour, "3 days"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d), tt.d.String())
	}
}

func TestFormatExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "unknown", formatExpiry(now, time.Time{}))
	assert.Equal(t, "in 30 minutes", formatExpiry(now, now.Add(30*time.Minute)))
	assert.Contains(t, formatExpiry(now, now.Add(-2*time.Hour)), "expired 2 hours ago")
}
