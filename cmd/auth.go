package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"signin/pkg/oauth"
)

// printer writes progress output unless --quiet is set.
type printer struct {
	w     io.Writer
	quiet bool
}

func (p printer) Printf(format string, args ...any) {
	if !p.quiet {
		fmt.Fprintf(p.w, format, args...)
	}
}

func (p printer) Println(a ...any) {
	if !p.quiet {
		fmt.Fprintln(p.w, a...)
	}
}

// startSpinner shows progress on stderr for interactive runs. The returned
// func stops it.
func startSpinner(cmd *cobra.Command, opts *rootOptions, suffix string) func() {
	if opts.quiet {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
	s.Suffix = " " + suffix
	s.Start()
	return s.Stop
}

func newAuthCmd(opts *rootOptions) *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the signed-in credential",
		Long: `Sign in, sign out and inspect the credential held for the configured
OpenID Connect provider.

Examples:
  signin auth login                    # Sign in through the browser
  signin auth status                   # Show the stored credential
  signin auth refresh                  # Force a token refresh
  signin auth whoami                   # Show the ID token identity
  signin auth userinfo -o json         # Fetch claims from the userinfo endpoint
  signin auth logout                   # Revoke and clear the credential`,
	}

	authCmd.AddCommand(newLoginCmd(opts))
	authCmd.AddCommand(newLogoutCmd(opts))
	authCmd.AddCommand(newRefreshCmd(opts))
	authCmd.AddCommand(newStatusCmd(opts))
	authCmd.AddCommand(newWhoamiCmd(opts))
	authCmd.AddCommand(newUserInfoCmd(opts))
	return authCmd
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in through the system browser",
		Long: `Start an authorization code flow with PKCE. The authorization page opens
in the system browser and the redirect is captured on the loopback redirect
URI. If the browser cannot be opened the URL is printed instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := printer{w: cmd.OutOrStdout(), quiet: opts.quiet}

			s, err := openSession(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			if s.session.IsAuthenticated() && !force {
				out.Printf("Already signed in to %s. Use --force to sign in again.\n", s.cfg.Issuer)
				return nil
			}

			out.Println("Opening the browser to sign in...")
			cred, err := s.session.SignIn(ctx, newPresenter(cmd.ErrOrStderr()))
			if err != nil {
				if errors.Is(err, oauth.ErrConfig) || errors.Is(err, oauth.ErrOperationInProgress) {
					return err
				}
				return &SignInFailedError{Err: err}
			}

			out.Printf("%s Signed in to %s\n", text.FgGreen.Sprint("✓"), cred.Issuer)
			out.Printf("  Expires:   %s\n", formatExpiry(time.Now(), cred.ExpiresAt))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Sign in even if a valid credential exists")
	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and clear the stored credential",
		Long: `Clear the stored credential, revoke its tokens at the authorization
server and end the provider session. The local credential is always cleared,
even if the server cannot be reached.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := printer{w: cmd.OutOrStdout(), quiet: opts.quiet}

			s, err := openSession(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			if s.session.Credential() == nil {
				out.Println("Not signed in.")
				return nil
			}

			ctx, cancel := withTimeout(cmd.Context(), opts)
			defer cancel()

			err = s.session.SignOut(ctx)
			var remoteErr *oauth.RemoteSignOutError
			if errors.As(err, &remoteErr) {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", text.FgYellow.Sprint("Warning:"), remoteErr)
				out.Println("Signed out locally.")
				return nil
			}
			if err != nil {
				return err
			}
			out.Println("Signed out.")
			return nil
		},
	}
}

func newRefreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force a token refresh",
		Long: `Exchange the stored refresh token for a new credential. If the
authorization server rejects the refresh token the credential is cleared and
the command exits with code 2.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := printer{w: cmd.OutOrStdout(), quiet: opts.quiet}

			s, err := openSession(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			if s.session.Credential() == nil {
				return errNotSignedIn
			}

			ctx, cancel := withTimeout(cmd.Context(), opts)
			defer cancel()

			stop := startSpinner(cmd, opts, "Refreshing credential...")
			err = s.session.ForceRefresh(ctx)
			stop()
			if err != nil {
				return err
			}

			cred := s.session.Credential()
			out.Printf("%s Credential refreshed\n", text.FgGreen.Sprint("✓"))
			out.Printf("  Expires:   %s\n", formatExpiry(time.Now(), cred.ExpiresAt))
			return nil
		},
	}
}
