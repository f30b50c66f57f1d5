// Package cli is the jiranotifier command line.
package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"jiranotifier/internal/app"
	"jiranotifier/internal/config"
	logx "jiranotifier/pkg/logx"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// appOptions runs with defaults only when --config was left at its default
// and the file does not exist.
func (o *RootOptions) appOptions(cmd *cobra.Command) app.Options {
	return app.Options{
		ConfigPath:         o.ConfigPath,
		AllowMissingConfig: !cmd.Flags().Changed("config"),
	}
}

// logger writes CLI diagnostics to stderr so stdout stays parseable.
func (o *RootOptions) logger(cmd *cobra.Command) logx.Logger {
	return logx.NewWriter(cmd.ErrOrStderr(), o.LogLevel)
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "jiranotifier",
		Short: "Desktop agent for issue tracker push notifications",
		Long: `jiranotifier receives issue tracker push messages, shows them as desktop
notifications, keeps a local history and keeps open tracker tabs in sync.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !logx.ValidLevel(opts.LogLevel) {
				return NewExitError(ExitUsage, fmt.Sprintf("invalid log level %q", opts.LogLevel))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", config.DefaultPath, "path to config file (yaml or json)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level for one-shot commands")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewPushCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))

	return cmd
}

func configError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return WrapExitError(ExitUsage, "config file not found", err)
	}
	return WrapExitError(ExitUsage, "invalid config", err)
}
