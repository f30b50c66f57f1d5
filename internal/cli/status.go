package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"jiranotifier/internal/app"
	"jiranotifier/internal/server"
	"jiranotifier/pkg/systemd"
)

type statusReport struct {
	Addr     string              `json:"addr"`
	Agent    *server.Health      `json:"agent,omitempty"`
	AgentErr string              `json:"agent_error,omitempty"`
	Unit     *systemd.UnitStatus `json:"unit,omitempty"`
	UnitErr  string              `json:"unit_error,omitempty"`
}

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		unit   string
		system bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show agent health and its systemd unit",
		Long: `Query the running agent's /healthz and the state of its systemd unit.

Exits non-zero when the agent does not answer or reports unhealthy.

Example:
  jiranotifier status
  jiranotifier status --unit jiranotifier --json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := rootOpts.appOptions(cmd)
			cfg, _, err := app.LoadConfig(opts.ConfigPath, opts.AllowMissingConfig)
			if err != nil {
				return configError(err)
			}
			addr := strings.TrimSpace(cfg.Server.Addr)
			if addr == "" {
				addr = server.DefaultAddr
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			rep := statusReport{Addr: addr}
			if h, err := fetchHealth(ctx, "http://"+addr+"/healthz"); err != nil {
				rep.AgentErr = err.Error()
			} else {
				rep.Agent = &h
			}
			if st, err := systemd.QueryUnit(ctx, unit, system); err != nil {
				rep.UnitErr = err.Error()
			} else {
				rep.Unit = &st
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(rep); err != nil {
					return err
				}
			} else {
				writeStatus(cmd.OutOrStdout(), rep)
			}
			if rep.Agent == nil || !rep.Agent.OK {
				return NewExitError(ExitFailure, "agent not healthy")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&unit, "unit", systemd.DefaultUnit, "systemd unit name")
	cmd.Flags().BoolVar(&system, "system", false, "query the system manager instead of the user manager")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func fetchHealth(ctx context.Context, url string) (server.Health, error) {
	var h server.Health
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return h, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return h, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&h); err != nil {
		return h, fmt.Errorf("decode /healthz (status %d): %w", resp.StatusCode, err)
	}
	return h, nil
}

func writeStatus(w io.Writer, rep statusReport) {
	switch {
	case rep.Agent != nil:
		state := "healthy"
		if !rep.Agent.OK {
			state = "unhealthy"
		}
		fmt.Fprintf(w, "agent:  %s at %s (store %s, %d tabs)\n", state, rep.Addr, rep.Agent.Store, rep.Agent.Clients)
	default:
		fmt.Fprintf(w, "agent:  not reachable at %s (%s)\n", rep.Addr, rep.AgentErr)
	}
	switch {
	case rep.Unit != nil && rep.Unit.Found():
		fmt.Fprintf(w, "unit:   %s %s (%s)\n", rep.Unit.Name, rep.Unit.Active, rep.Unit.SubState)
	case rep.Unit != nil:
		fmt.Fprintf(w, "unit:   %s not installed\n", rep.Unit.Name)
	default:
		fmt.Fprintf(w, "unit:   unavailable (%s)\n", rep.UnitErr)
	}
}
