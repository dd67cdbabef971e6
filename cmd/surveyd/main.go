package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/acme/outbound-survey/internal/api"
	"github.com/acme/outbound-survey/internal/api/handlers"
	"github.com/acme/outbound-survey/internal/app"
	"github.com/acme/outbound-survey/internal/email"
	"github.com/acme/outbound-survey/internal/scheduler"
	"github.com/acme/outbound-survey/internal/telemetry"
	apperrors "github.com/acme/outbound-survey/pkg/errors"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if apperrors.Is(err, apperrors.ErrConfiguration) {
			os.Exit(2)
		}
		os.Exit(3)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "surveyd",
		Short:         "Outbound phone survey platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config",
		envOr("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")

	root.AddCommand(
		newAPICmd(&configPath),
		newSchedulerCmd(&configPath),
		newWorkerCmd(&configPath),
	)
	return root
}

// newAPICmd serves the admin API and telephony webhooks, with the event
// publisher draining the outbox alongside.
func newAPICmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Run the HTTP API and webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(*configPath, "api", func(ctx context.Context, c *app.Container) error {
				server := api.NewServer(c, handlers.NewHandlerSet(c))

				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return c.Publisher().Run(ctx, c.Config.Scheduler.RelayInterval)
				})
				g.Go(func() error {
					return server.Start(ctx)
				})
				return g.Wait()
			})
		},
	}
}

func newSchedulerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the call scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(*configPath, "scheduler", func(ctx context.Context, c *app.Container) error {
				sched := scheduler.New(
					c.LeaderLock(),
					c.Store(),
					c.Store().CallAttempts(),
					c.Telephony(),
					c.Ingestor(),
					c.Limiter(),
					c.Config,
					c.Logger,
				)

				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return c.Publisher().Run(ctx, c.Config.Scheduler.RelayInterval)
				})
				g.Go(func() error {
					return sched.Run(ctx)
				})
				return g.Wait()
			})
		},
	}
}

func newWorkerCmd(configPath *string) *cobra.Command {
	worker := &cobra.Command{
		Use:   "worker",
		Short: "Run background workers",
	}
	worker.AddCommand(&cobra.Command{
		Use:   "email",
		Short: "Consume survey events and send follow-up emails",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(*configPath, "email-worker", func(ctx context.Context, c *app.Container) error {
				store := c.Store()
				w := email.NewWorker(
					c.BusConsumer(),
					store.Campaigns(),
					store.Templates(),
					store.Emails(),
					c.Sender(),
					c.Config.Email,
					c.Logger,
				)
				return w.Run(ctx)
			})
		},
	})
	return worker
}

// runService builds the container, installs telemetry and runs fn until a
// termination signal arrives. Context cancellation is a clean exit.
func runService(configPath, name string, fn func(context.Context, *app.Container) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	container, err := app.Build(ctx, configPath)
	if err != nil {
		return err
	}
	defer container.Close(context.Background())

	serviceName := container.Config.App.Name + "-" + name
	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, serviceName, container.Config.App.Version)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	container.Logger.Info("service starting")
	if err := fn(ctx, container); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	container.Logger.Info("service stopped")
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
