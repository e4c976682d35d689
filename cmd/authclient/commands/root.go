package commands

import (
	"context"
	"fmt"
	"io"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the authclient command tree.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "authclient",
		Short:         "Session, route gate and notification client for the insurance portal API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flags.storage, "storage", "", "client state DSN (sqlite)")

	rootCmd.AddCommand(
		newLoginCommand(flags),
		newRegisterCommand(flags),
		newWhoamiCommand(flags),
		newLogoutCommand(flags),
		newVerifyCommand(flags),
		newRouteCommand(flags),
		newListenCommand(flags),
		newNotificationsCommand(flags),
	)

	return rootCmd
}

// withApp builds the app for one command run and closes it afterwards.
func withApp(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, flags)
	if err != nil {
		return fmt.Errorf("failed to initialize client: %w", err)
	}
	defer a.Close()

	return fn(ctx, a)
}

func printState(w io.Writer, state authclient.SessionState) {
	fmt.Fprintf(w, "status: %s\n", state.Status)
	if state.User != nil {
		fmt.Fprintf(w, "user: %s\n", print.MaybePrettyJSON(state.User))
		fmt.Fprintf(w, "landing: %s\n", authclient.LandingPage(state.User.Role))
	}
}
