package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"signin/pkg/logging"
	"signin/pkg/oauth"
)

// Presenter shows the authorization page in the system browser and captures
// the redirect on a loopback listener. It satisfies auth.Presenter.
type Presenter struct {
	// Open launches the browser. Defaults to Open.
	Open func(url string) error

	// Out receives the authorization URL when the browser cannot be opened.
	Out io.Writer

	// Timeout bounds the wait for the callback. Defaults to DefaultCallbackTimeout.
	Timeout time.Duration
}

// Present runs a single interactive authorization round trip and returns the
// callback URL the identity provider redirected to.
func (p *Presenter) Present(ctx context.Context, req *oauth.AuthorizationRequest) (string, error) {
	if req == nil || req.Context == nil {
		return "", errors.New("authorization request is missing its PKCE context")
	}

	server, err := NewCallbackServer(req.Context.RedirectURI)
	if err != nil {
		return "", err
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultCallbackTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := server.Start(ctx); err != nil {
		return "", err
	}
	defer server.Stop()

	open := p.Open
	if open == nil {
		open = Open
	}
	if err := open(req.URL); err != nil {
		logging.Warn("BrowserPresenter", "Could not open browser: %v", err)
		if p.Out != nil {
			fmt.Fprintf(p.Out, "Open the following URL in your browser to sign in:\n\n  %s\n\n", req.URL)
		}
	}

	callback, err := server.WaitForCallback(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("timed out waiting for the browser to complete sign-in: %w", err)
		}
		return "", err
	}
	return callback, nil
}
