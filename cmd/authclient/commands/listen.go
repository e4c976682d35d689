package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/metrics"
	"github.com/goliatone/go-auth-client/realtime"
	"github.com/spf13/cobra"
)

func newListenCommand(flags *globalFlags) *cobra.Command {
	var topics []string
	var updates bool
	var heartbeat time.Duration
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stream realtime notifications for the signed in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withApp(cmd, flags, func(_ context.Context, a *app) error {
				if err := a.session.Start(ctx); err != nil {
					return err
				}
				state := a.session.State()
				if !state.IsAuthenticated() {
					return authclient.ErrUnauthorized
				}

				if metricsAddr != "" {
					srv := &http.Server{Addr: metricsAddr, Handler: metrics.Handler(a.registry)}
					go func() {
						if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
							a.logger.Error("metrics server failed", "error", err)
						}
					}()
					defer srv.Close()
				}

				ch := a.channel()
				out := cmd.OutOrStdout()

				done := make(chan struct{})
				var once sync.Once
				ch.On(realtime.EventNotification, func(e realtime.Event) {
					n := e.Notification
					fmt.Fprintf(out, "[%s] %s: %s\n", n.Type, n.Title, n.Message)
				})
				ch.On(realtime.EventMaxReconnectReached, func(realtime.Event) {
					once.Do(func() { close(done) })
				})
				if updates {
					ch.SubscribeToUpdates(func(e realtime.Event) {
						fmt.Fprintf(out, "update %s %s\n", e.Name, string(e.Frame.Payload))
					})
				}

				ch.Subscribe(realtime.UserTopic(state.User.ID), realtime.RoleTopic(state.Role()))
				ch.Subscribe(topics...)

				if err := ch.Connect(ctx, state.AccessToken); err != nil {
					a.logger.Warn("initial connect failed, retrying in background", "error", err)
				}
				defer ch.Disconnect()

				var tick <-chan time.Time
				if heartbeat > 0 {
					ticker := time.NewTicker(heartbeat)
					defer ticker.Stop()
					tick = ticker.C
				}

				for {
					select {
					case <-ctx.Done():
						return nil
					case <-done:
						return fmt.Errorf("realtime channel gave up after %d reconnect attempts", a.opts.MaxReconnectAttempts)
					case <-tick:
						ch.Heartbeat()
					}
				}
			})
		},
	}

	cmd.Flags().StringSliceVar(&topics, "topics", nil, "extra topics to subscribe to")
	cmd.Flags().BoolVar(&updates, "updates", false, "also print dashboard, policy, claim and user updates")
	cmd.Flags().DurationVar(&heartbeat, "heartbeat", 30*time.Second, "heartbeat interval, 0 disables")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func newNotificationsCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Inspect the stored notification history",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored notifications, most recent first",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, flags, func(ctx context.Context, a *app) error {
					history := a.channel().History()
					list, err := history.List(ctx)
					if err != nil {
						return err
					}
					for _, n := range list {
						mark := " "
						if !n.Read {
							mark = "*"
						}
						fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s [%s] %s\n", mark, n.ID, n.Timestamp.Format(time.RFC3339), n.Type, n.Title)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "read <id>",
			Short: "Mark a notification as read",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, flags, func(ctx context.Context, a *app) error {
					return a.channel().MarkAsRead(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "read-all",
			Short: "Mark every notification as read",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, flags, func(ctx context.Context, a *app) error {
					n, err := a.channel().History().MarkAllAsRead(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "marked %d notifications as read\n", n)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete the notification history",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, flags, func(ctx context.Context, a *app) error {
					return a.channel().History().Clear(ctx)
				})
			},
		},
	)

	return cmd
}
