package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"signin/pkg/logging"
)

// DefaultCallbackTimeout bounds how long a sign-in waits for the browser to
// come back to the loopback listener.
const DefaultCallbackTimeout = 10 * time.Minute

//go:embed templates/callback_success.html
var callbackSuccessHTML string

//go:embed templates/callback_error.html
var callbackErrorHTML string

var (
	successTemplate = template.Must(template.New("success").Parse(callbackSuccessHTML))
	errorTemplate   = template.Must(template.New("error").Parse(callbackErrorHTML))
)

// CallbackServer is a short-lived loopback HTTP server that receives a single
// authorization redirect and hands the full callback URL back to the caller.
type CallbackServer struct {
	redirect *url.URL

	server   *http.Server
	listener net.Listener
	resultCh chan string
	errorCh  chan error
	once     sync.Once
	stopOnce sync.Once
}

// NewCallbackServer prepares a server for redirectURI, which must be an http
// URL on a loopback host. Port 0 picks a free port on Start.
func NewCallbackServer(redirectURI string) (*CallbackServer, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI: %w", err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("redirect URI %q cannot be served locally: scheme must be http", redirectURI)
	}
	if !isLoopback(u.Hostname()) {
		return nil, fmt.Errorf("redirect URI %q cannot be served locally: host must be a loopback address", redirectURI)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawQuery = ""
	u.Fragment = ""

	return &CallbackServer{
		redirect: u,
		resultCh: make(chan string, 1),
		errorCh:  make(chan error, 1),
	}, nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Start binds the listener and serves until a callback arrives, Stop is
// called or ctx ends. It returns the redirect URI actually being served.
func (s *CallbackServer) Start(ctx context.Context) (string, error) {
	port := s.redirect.Port()
	if port == "" {
		port = "80"
	}
	addr := net.JoinHostPort(s.redirect.Hostname(), port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}
	s.listener = listener

	if port == "0" {
		actual := listener.Addr().(*net.TCPAddr).Port
		s.redirect.Host = net.JoinHostPort(s.redirect.Hostname(), fmt.Sprint(actual))
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.redirect.Path, s.handleCallback)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case s.errorCh <- err:
			default:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	logging.Debug("CallbackServer", "Listening for authorization callback on %s", s.redirect.String())
	return s.redirect.String(), nil
}

// WaitForCallback blocks until the callback arrives and returns the full
// callback URL including its query.
func (s *CallbackServer) WaitForCallback(ctx context.Context) (string, error) {
	select {
	case result := <-s.resultCh:
		return result, nil
	case err := <-s.errorCh:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// RedirectURI returns the URI being served.
func (s *CallbackServer) RedirectURI() string {
	return s.redirect.String()
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.redirect.Path {
		http.NotFound(w, r)
		return
	}

	handled := false
	s.once.Do(func() {
		handled = true
		s.processCallback(w, r)
	})
	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

func (s *CallbackServer) processCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	query := r.URL.Query()
	var err error
	if code := query.Get("error"); code != "" {
		err = errorTemplate.Execute(w, map[string]string{
			"Error":       code,
			"Description": query.Get("error_description"),
		})
	} else {
		err = successTemplate.Execute(w, nil)
	}
	if err != nil {
		logging.Warn("CallbackServer", "Failed to render callback page: %v", err)
	}

	callback := *s.redirect
	callback.RawQuery = r.URL.RawQuery
	select {
	case s.resultCh <- callback.String():
	default:
	}

	// Give the browser time to receive the page before shutting down.
	go func() {
		time.Sleep(time.Second)
		s.Stop()
	}()
}

// Stop shuts the server down. It is safe to call more than once.
func (s *CallbackServer) Stop() {
	s.stopOnce.Do(func() {
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.server.Shutdown(ctx)
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}
