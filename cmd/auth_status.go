package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"signin/pkg/oauth"
	textutil "signin/pkg/strings"
)

// Output formats accepted by --output.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

type statusView struct {
	Authenticated   bool       `json:"authenticated" yaml:"authenticated"`
	State           string     `json:"state" yaml:"state"`
	Issuer          string     `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	Subject         string     `json:"subject,omitempty" yaml:"subject,omitempty"`
	Email           string     `json:"email,omitempty" yaml:"email,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	HasRefreshToken bool       `json:"has_refresh_token" yaml:"has_refresh_token"`
	Scopes          []string   `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	Storage         string     `json:"storage" yaml:"storage"`
}

type identityView struct {
	Subject   string    `json:"subject" yaml:"subject"`
	Name      string    `json:"name,omitempty" yaml:"name,omitempty"`
	Email     string    `json:"email,omitempty" yaml:"email,omitempty"`
	Issuer    string    `json:"issuer" yaml:"issuer"`
	Audience  []string  `json:"audience,omitempty" yaml:"audience,omitempty"`
	IssuedAt  time.Time `json:"issued_at,omitempty" yaml:"issued_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
}

func validateOutput(format string) error {
	switch format {
	case outputTable, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (use table, json or yaml)", format)
	}
}

// render writes v as JSON or YAML, or hands over to the table builder.
func render(w io.Writer, format string, v any, rows func(table.Writer)) error {
	switch format {
	case outputJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleRounded)
		rows(t)
		t.Render()
		return nil
	}
}

func keyRow(key string, value any) table.Row {
	return table.Row{text.FgHiCyan.Sprint(key), value}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored credential",
		Long: `Show whether a credential is held, when it expires and whether it can be
refreshed. No network request is made.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			view := statusView{
				Authenticated: s.session.IsAuthenticated(),
				State:         s.session.State().String(),
				Storage:       s.cfg.Storage.Backend,
			}
			cred := s.session.Credential()
			if cred != nil {
				view.Issuer = cred.Issuer
				view.HasRefreshToken = cred.RefreshToken != ""
				view.Scopes = cred.Scopes
				if !cred.ExpiresAt.IsZero() {
					expires := cred.ExpiresAt
					view.ExpiresAt = &expires
				}
			}
			if info := s.session.TokenInfo(); info != nil {
				view.Subject = info.Subject
				view.Email = info.Email
			}

			return render(cmd.OutOrStdout(), output, view, func(t table.Writer) {
				status := text.FgYellow.Sprint("Not signed in")
				switch {
				case view.Authenticated:
					status = text.FgGreen.Sprint("Authenticated")
				case cred != nil:
					status = text.FgYellow.Sprint("Expired")
				}
				t.AppendRow(keyRow("Status", status))
				t.AppendRow(keyRow("State", view.State))
				if cred != nil {
					t.AppendRow(keyRow("Issuer", view.Issuer))
					if view.Subject != "" {
						t.AppendRow(keyRow("Subject", view.Subject))
					}
					if view.Email != "" {
						t.AppendRow(keyRow("Email", view.Email))
					}
					t.AppendRow(keyRow("Expires", formatExpiry(time.Now(), cred.ExpiresAt)))
					refresh := text.FgYellow.Sprint("Not available")
					if view.HasRefreshToken {
						refresh = text.FgGreen.Sprint("Available")
					}
					t.AppendRow(keyRow("Refresh", refresh))
					t.AppendRow(keyRow("Scopes", strings.Join(view.Scopes, " ")))
				}
				t.AppendRow(keyRow("Storage", view.Storage))
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "Output format (table, json, yaml)")
	return cmd
}

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity from the ID token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			if !s.session.IsAuthenticated() {
				return errNotSignedIn
			}
			info := s.session.TokenInfo()
			if info == nil {
				return fmt.Errorf("the credential carries no ID token")
			}

			view := identityView{
				Subject:   info.Subject,
				Name:      info.Name,
				Email:     info.Email,
				Issuer:    info.Issuer,
				Audience:  info.Audience,
				IssuedAt:  info.IssuedAt,
				ExpiresAt: info.ExpiresAt,
			}
			return render(cmd.OutOrStdout(), output, view, func(t table.Writer) {
				t.AppendRow(keyRow("Subject", view.Subject))
				if view.Name != "" {
					t.AppendRow(keyRow("Name", view.Name))
				}
				if view.Email != "" {
					t.AppendRow(keyRow("Email", view.Email))
				}
				t.AppendRow(keyRow("Issuer", view.Issuer))
				t.AppendRow(keyRow("Audience", strings.Join(view.Audience, ", ")))
				t.AppendRow(keyRow("Expires", formatExpiry(time.Now(), view.ExpiresAt)))
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "Output format (table, json, yaml)")
	return cmd
}

func newUserInfoCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "userinfo",
		Short: "Fetch claims from the userinfo endpoint",
		Long: `Refresh the credential if it is close to expiry, then fetch the
signed-in user's claims from the provider's userinfo endpoint.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
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

			stop := startSpinner(cmd, opts, "Fetching user info...")
			err = s.session.RefreshIfNeeded(ctx)
			if errors.Is(err, oauth.ErrReauthRequired) && s.session.IsAuthenticated() {
				// No refresh token, but the access token has not expired yet.
				err = nil
			}
			var info *oauth.UserInfo
			if err == nil {
				info = s.session.UserInfo(ctx)
			}
			stop()
			if err != nil {
				return err
			}
			if info == nil {
				if !s.session.IsAuthenticated() {
					return errNotSignedIn
				}
				return fmt.Errorf("user info is not available from %s", s.cfg.Issuer)
			}

			claims := make(map[string]any, len(info.Claims)+1)
			for k, v := range info.Claims {
				claims[k] = v
			}
			claims["sub"] = info.Subject

			return render(cmd.OutOrStdout(), output, claims, func(t table.Writer) {
				keys := make([]string, 0, len(claims))
				for k := range claims {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				t.AppendHeader(table.Row{text.FgHiCyan.Sprint("CLAIM"), text.FgHiCyan.Sprint("VALUE")})
				for _, k := range keys {
					t.AppendRow(table.Row{k, textutil.Truncate(fmt.Sprintf("%v", claims[k]), textutil.DefaultValueMaxLen)})
				}
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "Output format (table, json, yaml)")
	return cmd
}
