package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"jiranotifier/internal/app"
	"jiranotifier/internal/notification"
)

func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored notifications, newest first",
		Long: `List every stored notification, newest first.

Example:
  jiranotifier history
  jiranotifier history --json | jq '.[0]'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.OpenStore(rootOpts.appOptions(cmd), rootOpts.logger(cmd))
			if err != nil {
				return configError(err)
			}
			defer store.Close()

			list, err := store.ListAll(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "list history", err)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			return writeHistory(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as a JSON array")
	return cmd
}

func writeHistory(w io.Writer, list []notification.Record) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "no notifications")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tISSUE\tTITLE")
	for _, r := range list {
		issue := r.IssueKey
		if issue == "" {
			issue = "-"
		}
		ts := r.Time().Local().Format("2006-01-02 15:04:05")
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.ID, ts, issue, r.Title)
	}
	return tw.Flush()
}

func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored notification",
		Long: `Delete every stored notification. Ids are not reused afterwards.

A running agent's open tabs are not told about a clear done here; use
DELETE /api/notifications on the agent for that.

Example:
  jiranotifier clear --yes`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitUsage, "refusing to clear history without --yes")
			}
			store, err := app.OpenStore(rootOpts.appOptions(cmd), rootOpts.logger(cmd))
			if err != nil {
				return configError(err)
			}
			defer store.Close()

			if err := store.Clear(cmd.Context()); err != nil {
				return WrapExitError(ExitFailure, "clear history", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
			return err
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the clear")
	return cmd
}
