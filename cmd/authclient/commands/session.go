package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/spf13/cobra"
)

func newLoginCommand(flags *globalFlags) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and persist the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("AUTHCLIENT_PASSWORD")
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				user, err := a.session.SignIn(ctx, username, password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%s)\n", user.Username, user.Role)
				fmt.Fprintf(cmd.OutOrStdout(), "landing: %s\n", authclient.LandingPage(user.Role))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (defaults to $AUTHCLIENT_PASSWORD)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newRegisterCommand(flags *globalFlags) *cobra.Command {
	input := authclient.RegisterInput{}
	var role string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account (does not sign in)",
		RunE: func(cmd *cobra.Command, args []string) error {
			input.Role = authclient.UserRole(role)
			if input.ConfirmPassword == "" {
				input.ConfirmPassword = input.Password
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				if input.Region == "" {
					input.Region = a.opts.PhoneRegion
				}
				res, err := a.session.SignUp(ctx, input)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.Message)
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&input.Username, "username", "", "username")
	f.StringVar(&input.Email, "email", "", "email")
	f.StringVar(&input.Password, "password", "", "password")
	f.StringVar(&input.ConfirmPassword, "confirm-password", "", "password confirmation (defaults to --password)")
	f.StringVar(&input.FirstName, "first-name", "", "first name")
	f.StringVar(&input.LastName, "last-name", "", "last name")
	f.StringVar(&input.PhoneNumber, "phone", "", "phone number")
	f.StringVar(&role, "role", string(authclient.RoleUser), "role (ADMIN, BROKER, USER)")
	f.StringVar(&input.CompanyName, "company", "", "company name (BROKER)")
	f.StringVar(&input.LicenseNumber, "license", "", "license number (BROKER)")
	f.StringVar(&input.Department, "department", "", "department (ADMIN)")
	f.StringVar(&input.Region, "region", "", "default phone region")
	return cmd
}

func newWhoamiCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Resolve the persisted session and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				if err := a.session.Start(ctx); err != nil {
					a.logger.Debug("session bootstrap failed", "error", err)
				}
				printState(cmd.OutOrStdout(), a.session.State())
				return nil
			})
		},
	}
}

func newLogoutCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and clear local credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				a.session.Logout(ctx)
				fmt.Fprintln(cmd.OutOrStdout(), "signed out")
				return nil
			})
		},
	}
}

func newVerifyCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Ask the server whether the stored access token is valid",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				token, err := a.store.AccessToken(ctx)
				if err != nil {
					return err
				}
				if token == "" {
					return fmt.Errorf("no stored access token, run login first")
				}

				valid, err := a.api.Verify(ctx, token)
				if err != nil {
					return err
				}

				now := time.Now()
				fmt.Fprintf(cmd.OutOrStdout(), "server valid: %t\n", valid)
				fmt.Fprintf(cmd.OutOrStdout(), "locally expired: %t\n", authclient.IsExpired(token, now))
				fmt.Fprintf(cmd.OutOrStdout(), "usable: %t\n", authclient.IsUsable(token, now, a.opts.GetExpirySkew()))
				return nil
			})
		},
	}
}
