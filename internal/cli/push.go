package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"jiranotifier/internal/app"
)

const maxStdinPayload = 1 << 20

func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		data          string
		displayDriver string
	)

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Run one payload through the pipeline",
		Long: `Display and persist one push payload without starting the agent.

The payload comes from --data or stdin. Malformed JSON is accepted and shown
with the default title, like a real push. The display driver defaults to
log.

Example:
  jiranotifier push --data '{"title":"Assigned","issueKey":"ABC-1","baseUrl":"https://jira.example"}'
  echo '{"title":"hi"}' | jiranotifier push --display dbus`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := []byte(data)
			if !cmd.Flags().Changed("data") {
				b, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxStdinPayload))
				if err != nil {
					return WrapExitError(ExitUsage, "read stdin", err)
				}
				raw = b
			}

			opts := rootOpts.appOptions(cmd)
			opts.DisplayDriver = displayDriver
			out, err := app.PushOnce(cmd.Context(), opts, raw, rootOpts.logger(cmd))
			if err != nil {
				return configError(err)
			}

			w := cmd.OutOrStdout()
			if out.ParseErr != nil {
				fmt.Fprintf(w, "payload not parsed, defaults used: %v\n", out.ParseErr)
			}
			if out.Handle != nil {
				fmt.Fprintf(w, "displayed %q (%s)\n", out.Fields.Title, out.Handle.ID())
			}
			if out.Record.Persisted() {
				fmt.Fprintf(w, "stored as #%d\n", out.Record.ID)
			}
			if err := out.Err(); err != nil {
				return WrapExitError(ExitFailure, "push incomplete", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "payload JSON (default: read stdin)")
	cmd.Flags().StringVar(&displayDriver, "display", "", "display driver (default log)")
	return cmd
}
