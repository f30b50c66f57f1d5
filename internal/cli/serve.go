package cli

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"jiranotifier/internal/app"
)

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var displayDriver string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the notification agent",
		Long: `Run the agent until SIGINT or SIGTERM.

The agent listens for push messages on POST /push (and on NATS when
enabled), serves the foreground WebSocket on /ws and the history API under
/api/notifications.

Example:
  jiranotifier serve --config ./jiranotifier.yaml
  jiranotifier serve --display log`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := rootOpts.appOptions(cmd)
			opts.DisplayDriver = displayDriver
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&displayDriver, "display", "", "override display.driver (dbus|telegram|log)")
	return cmd
}

func runServe(parent context.Context, opts app.Options) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(opts)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return configError(err)
		}
		return WrapExitError(ExitFailure, "init failed", err)
	}

	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return WrapExitError(ExitFailure, "start failed", err)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}
	runErr := a.Err()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), a.ShutdownTimeout())
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if runErr != nil {
		return WrapExitError(ExitFailure, "agent failed", runErr)
	}
	return nil
}
