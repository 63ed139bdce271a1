package oauth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfig is matched by every *ConfigError.
	ErrConfig = errors.New("invalid oauth configuration")

	// ErrCSRFMismatch is returned when the callback state does not match the
	// state generated for the attempt.
	ErrCSRFMismatch = errors.New("state mismatch - possible CSRF attack")

	// ErrInvalidGrant is returned when the authorization server rejects the
	// authorization code (expired, already used, or verifier mismatch).
	ErrInvalidGrant = errors.New("authorization code rejected by server")

	// ErrReauthRequired is returned when the refresh token is no longer
	// usable and the user has to sign in again.
	ErrReauthRequired = errors.New("re-authentication required")

	// ErrOperationInProgress is returned when a sign-in or sign-out is
	// requested while another one is running.
	ErrOperationInProgress = errors.New("another authentication operation is in progress")

	// ErrNoPendingSignIn is returned when a callback is completed against a
	// PKCE context that was never issued or was already consumed.
	ErrNoPendingSignIn = errors.New("no pending sign-in for this callback")
)

// ConfigError reports a missing or malformed configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s is required", ErrConfig, e.Field)
	}
	return fmt.Sprintf("%s: %s %s", ErrConfig, e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrConfig) match.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// ExchangeFailedError reports a token endpoint or callback failure that is
// not an explicit code rejection. It is transient from the caller's point of
// view: a retry may succeed.
type ExchangeFailedError struct {
	// Grant is the grant type of the failed request ("authorization_code",
	// "refresh_token") or "callback" for errors returned in the redirect.
	Grant string

	// Reason is a short human-readable cause.
	Reason string

	// Err is the underlying error, if any.
	Err error
}

func (e *ExchangeFailedError) Error() string {
	var b strings.Builder
	b.WriteString("token exchange failed")
	if e.Grant != "" {
		b.WriteString(" (" + e.Grant + ")")
	}
	if e.Reason != "" {
		b.WriteString(": " + e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ExchangeFailedError) Unwrap() error {
	return e.Err
}

// RemoteSignOutError is returned by sign-out when the local credential was
// cleared but revoking it at the authorization server failed.
type RemoteSignOutError struct {
	Err error
}

func (e *RemoteSignOutError) Error() string {
	return "signed out locally; remote sign-out failed: " + e.Err.Error()
}

func (e *RemoteSignOutError) Unwrap() error {
	return e.Err
}

// IsReauthRequired reports whether err means a fresh interactive sign-in is needed.
func IsReauthRequired(err error) bool {
	return errors.Is(err, ErrReauthRequired)
}
