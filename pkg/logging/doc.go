// Package logging provides the subsystem-tagged logging facade used across
// signin, built on Go's standard slog package.
//
// # Log Levels
//   - Debug: protocol details (status codes, endpoints, never token values)
//   - Info: sign-in, refresh and sign-out outcomes
//   - Warn: best-effort operations that failed (remote sign-out, persistence)
//   - Error: failures surfaced to the user
//
// Every record carries a "subsystem" attribute. Security-relevant events
// (credential stored, cleared, refresh failed) are emitted with Audit and
// carry an "event" attribute and the "SECURITY_AUDIT:" message prefix.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Session", "Signed in to %s", issuer)
//	logging.Error("TokenStore", err, "Failed to clear credential")
//	logging.Audit("TokenStore", "credential_cleared", slog.String("backend", "file"))
//
// Libraries that accept an injected *slog.Logger get one with Logger:
//
//	client := oauth.NewClient(oauth.WithLogger(logging.Logger("OAuthClient")))
//
// Before InitForCLI is called only warnings and errors are written, to stderr.
package logging
