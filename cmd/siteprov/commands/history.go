package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/siteprov/siteprov/pkg/stores"
)

// runDetail is the JSON form of one run with its stages and events.
type runDetail struct {
	*stores.Run
	Stages []*stores.StageRecord `json:"stages"`
	Events []*stores.EventRecord `json:"events,omitempty"`
}

func newHistoryCommand() *cobra.Command {
	var (
		dbPath string
		status string
		limit  int
		events bool
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded provisioning runs",
		Long: `Show provisioning runs recorded with --history or history.path.

Without arguments the most recent runs are listed. With a run ID (or a unique
prefix of one) the run is shown with the outcome of every stage.`,
		Example: `  # List recent runs
  siteprov history --db .siteprov/history.db

  # List failed runs only
  siteprov history --status failed

  # Show one run with its event timeline
  siteprov history 3f2a --events`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if dbPath == "" {
				cfg, err := loadConfig(ctx)
				if err != nil {
					return err
				}
				dbPath = cfg.History.Path
			}
			if dbPath == "" {
				return fmt.Errorf("no history database: set history.path or pass --db")
			}

			store, err := openHistory(ctx, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				return showRun(ctx, store, args[0], events, out)
			}
			return listRuns(ctx, store, stores.RunFilter{Status: status, Limit: limit}, out)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "history database (default history.path)")
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status (succeeded, failed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	cmd.Flags().BoolVar(&events, "events", false, "include the event timeline")

	return cmd
}

func listRuns(ctx context.Context, store stores.Store, filter stores.RunFilter, out io.Writer) error {
	runs, err := store.ListRuns(ctx, filter)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(out, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tEXIT\tWORKDIR\tDIAGNOSTIC")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(r.ID), r.StartedAt.Local().Format(time.DateTime), r.Status, r.ExitCode, r.Workdir, r.Diagnostic)
	}
	return tw.Flush()
}

func showRun(ctx context.Context, store stores.Store, id string, withEvents bool, out io.Writer) error {
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	detail := runDetail{Run: run}
	if detail.Stages, err = store.ListStages(ctx, run.ID); err != nil {
		return err
	}
	if withEvents {
		if detail.Events, err = store.ListEvents(ctx, run.ID); err != nil {
			return err
		}
	}
	if jsonOutput {
		return printJSON(out, detail)
	}

	fmt.Fprintf(out, "Run:     %s\n", run.ID)
	fmt.Fprintf(out, "Status:  %s (exit %d)\n", run.Status, run.ExitCode)
	fmt.Fprintf(out, "Workdir: %s\n", run.Workdir)
	if run.Target != "" {
		fmt.Fprintf(out, "Target:  %s\n", run.Target)
	}
	if run.Host != "" {
		fmt.Fprintf(out, "Host:    %s\n", run.Host)
	}
	fmt.Fprintf(out, "Started: %s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.Diagnostic != "" {
		fmt.Fprintf(out, "Error:   %s\n", run.Diagnostic)
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSTAGE\tPOLICY\tOUTCOME\tDURATION\tMESSAGE")
	for _, s := range detail.Stages {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			s.Seq, s.Stage, s.Policy, s.Outcome, s.Duration.Round(time.Millisecond), s.Message)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if withEvents {
		fmt.Fprintln(out)
		for _, e := range detail.Events {
			fmt.Fprintf(out, "%s  %-5s  %-16s %s %s\n",
				e.Timestamp.Local().Format("15:04:05.000"), e.Level, e.Type, e.Stage, e.Message)
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
