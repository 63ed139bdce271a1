package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"

	"signin/internal/auth"
	"signin/internal/browser"
	"signin/internal/config"
	"signin/internal/telemetry"
	"signin/internal/tokenstore"
	"signin/pkg/logging"
	"signin/pkg/oauth"
)

// errNotSignedIn is returned by commands that need an active credential.
var errNotSignedIn = errors.New("not signed in; run: signin auth login")

// SignInFailedError wraps a failed interactive sign-in.
type SignInFailedError struct {
	Err error
}

func (e *SignInFailedError) Error() string {
	return "sign-in failed: " + e.Err.Error()
}

func (e *SignInFailedError) Unwrap() error {
	return e.Err
}

// newPresenter builds the presenter used by login. Tests replace it.
var newPresenter = func(out io.Writer) auth.Presenter {
	return &browser.Presenter{Out: out}
}

// cliSession bundles a Session with the resources opened for it.
type cliSession struct {
	cfg     config.Config
	session *auth.Session

	store    tokenstore.Store
	shutdown telemetry.Shutdown
}

// openSession loads configuration and builds a Session backed by the
// configured store.
func openSession(ctx context.Context, opts *rootOptions, errOut io.Writer) (*cliSession, error) {
	cfg, err := config.LoadConfig(opts.configDir)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logging.InitForCLI(level, errOut)

	tp, shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	store, err := tokenstore.Open(cfg.Storage)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	client := oauth.NewClient(
		oauth.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		oauth.WithLogger(logging.Logger("OAuthClient")),
		oauth.WithTracerProvider(tp),
	)

	session, err := auth.NewSession(ctx, cfg.Auth(), store, auth.WithClient(client))
	if err != nil {
		_ = store.Close()
		_ = shutdown(ctx)
		return nil, err
	}

	return &cliSession{cfg: cfg, session: session, store: store, shutdown: shutdown}, nil
}

// Close releases the store and flushes pending spans.
func (s *cliSession) Close() {
	if err := s.store.Close(); err != nil {
		logging.Warn("CLI", "Failed to close credential store: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.shutdown(ctx); err != nil {
		logging.Debug("CLI", "Failed to flush traces: %v", err)
	}
}

// withTimeout applies --timeout to ctx.
func withTimeout(ctx context.Context, opts *rootOptions) (context.Context, context.CancelFunc) {
	if opts.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, opts.timeout)
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "expired"
	}
	if d < time.Minute {
		return "< 1 minute"
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	days := int(d.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

// formatExpiry describes expiresAt relative to now.
func formatExpiry(now, expiresAt time.Time) string {
	if expiresAt.IsZero() {
		return "unknown"
	}
	remaining := expiresAt.Sub(now)
	if remaining > 0 {
		return "in " + formatDuration(remaining)
	}
	return text.FgYellow.Sprintf("expired %s ago", formatDuration(-remaining))
}
