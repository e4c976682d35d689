package commands

import (
	"context"
	"fmt"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/spf13/cobra"
)

func newRouteCommand(flags *globalFlags) *cobra.Command {
	var roles []string

	cmd := &cobra.Command{
		Use:   "route <path>",
		Short: "Show what the route gate decides for path with the persisted session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				if err := a.session.Start(ctx); err != nil {
					a.logger.Debug("session bootstrap failed", "error", err)
				}
				state := a.session.State()

				var decision authclient.Decision
				if len(roles) > 0 {
					required := make([]authclient.UserRole, 0, len(roles))
					for _, r := range roles {
						required = append(required, authclient.UserRole(r).Normalize())
					}
					decision = authclient.Decide(authclient.RouteRequest{Path: args[0], RequiredRoles: required}, state)
				} else {
					decision = authclient.DefaultRouteTable().Decide(args[0], state)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "session: %s\n", state.Status)
				if decision.Target != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", decision.Action, decision.Target)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), decision.Action)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&roles, "roles", nil, "required roles, overrides the route table")
	return cmd
}
