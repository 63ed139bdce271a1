package cmd

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"signin/internal/config"
	"signin/pkg/oauth"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates no usable credential is available.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the sign-in flow failed.
	ExitCodeAuthFailed = 3
)

// DefaultTimeout bounds non-interactive network operations.
const DefaultTimeout = 30 * time.Second

var version = "dev"

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configDir string
	logLevel  string
	timeout   time.Duration
	quiet     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in to an OpenID Connect provider from the terminal",
		Long: `signin runs the OAuth 2.0 authorization code flow with PKCE against an
OpenID Connect provider, keeps the resulting credential fresh and stores it
in the configured backend (file, keyring, sqlite, redis).

Configuration is read from ~/.config/signin/config.yaml and SIGNIN_*
environment variables.`,
		Version: version,
		// Errors are reported once by Execute.
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate(`{{printf "signin version %s\n" .Version}}`)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configDir, "config-dir", defaultConfigDir(), "Configuration directory")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	flags.DurationVar(&opts.timeout, "timeout", DefaultTimeout, "Timeout for non-interactive network operations")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress non-essential output")

	rootCmd.AddCommand(newAuthCmd(opts))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func defaultConfigDir() string {
	dir, err := config.GetDefaultConfigDir()
	if err != nil {
		return ""
	}
	return dir
}

// SetVersion sets the version reported by --version and the version command.
func SetVersion(v string) {
	version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return version
}

// Execute runs the CLI and exits with a code describing the failure class.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps errors to exit codes for scripting.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	if errors.Is(err, oauth.ErrReauthRequired) || errors.Is(err, errNotSignedIn) {
		return ExitCodeAuthRequired
	}
	var signInErr *SignInFailedError
	if errors.As(err, &signInErr) {
		return ExitCodeAuthFailed
	}
	return ExitCodeError
}
