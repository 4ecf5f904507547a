package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Makepad-fr/tada/internal/auth"
	"github.com/Makepad-fr/tada/internal/ui"
)

func (a *app) authCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the token used by the remote backend",
		Args:  exactArgs(0, "auth login|logout|status|whoami"),
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return UsageError.New("missing auth subcommand")
		},
	}
	cmd.AddCommand(a.loginCommand(), a.logoutCommand(), a.statusCommand(), a.whoamiCommand())
	return cmd
}

func (a *app) loginCommand() *cobra.Command {
	var expires string
	cmd := &cobra.Command{
		Use:   "login <token>",
		Short: "Save a bearer token",
		Args:  exactArgs(1, "auth login <token> [--expires RFC3339]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			var exp *time.Time
			if expires != "" {
				t, err := time.Parse(time.RFC3339, expires)
				if err != nil {
					return UsageError.New("--expires: %v", err)
				}
				exp = &t
			}
			creds := auth.New(a.cfg.DataDir)
			if err := creds.SetToken(args[0], exp); err != nil {
				return err
			}
			ui.OK("logged in")
			return a.describeToken(creds)
		},
	}
	cmd.Flags().StringVar(&expires, "expires", "", "token expiry (RFC3339); read from the token when it is a JWT")
	return cmd
}

func (a *app) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved token",
		Args:  exactArgs(0, "auth logout"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := auth.New(a.cfg.DataDir).DeleteToken(); err != nil {
				return err
			}
			ui.OK("logged out")
			return nil
		},
	}
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where the token comes from and when it expires",
		Args:  exactArgs(0, "auth status"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.describeToken(auth.New(a.cfg.DataDir))
		},
	}
}

func (a *app) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the subject of the saved token",
		Args:  exactArgs(0, "auth whoami"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ti, err := auth.New(a.cfg.DataDir).Token()
			if err != nil {
				return err
			}
			if ti == nil {
				return auth.Error.New("not logged in")
			}
			claims, err := auth.DecodeClaims(ti.Token)
			if err != nil {
				return err
			}
			sub := claims.Subject()
			if sub == "" {
				return auth.Error.New("token has no subject")
			}
			fmt.Fprintln(a.out, sub)
			return nil
		},
	}
}

func (a *app) describeToken(creds *auth.Credentials) error {
	ti, err := creds.Token()
	if err != nil {
		return err
	}
	if ti == nil {
		return auth.Error.New("not logged in")
	}
	fmt.Fprintf(a.out, "source:  %s\n", ti.Source)
	switch {
	case ti.ExpiresAt == nil:
		fmt.Fprintln(a.out, "expires: unknown")
	case ti.Expired(time.Now()):
		fmt.Fprintf(a.out, "expires: %s (expired)\n", ti.ExpiresAt.Format(time.RFC3339))
	default:
		fmt.Fprintf(a.out, "expires: %s\n", ti.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}
