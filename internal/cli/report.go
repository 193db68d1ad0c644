package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/churnprobe/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database string
}

// RunSummary is one run as printed by the report command.
type RunSummary struct {
	ID              string  `json:"id"`
	StartedAt       string  `json:"started_at"`
	FinishedAt      string  `json:"finished_at,omitempty"`
	Status          string  `json:"status"`
	StopReason      string  `json:"stop_reason,omitempty"`
	WorkingSet      int     `json:"working_set"`
	Published       int     `json:"published"`
	PublishFailures int     `json:"publish_failures"`
	Sweeps          int     `json:"sweeps"`
	Probes          int64   `json:"probes"`
	Churned         int     `json:"churned"`
	ChurnFraction   float64 `json:"churn_fraction"`
	MedianChurnS    int64   `json:"median_churn_s,omitempty"`
	MaxChurnS       int64   `json:"max_churn_s,omitempty"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Summarise runs recorded in the ledger",
		Long: `Summarise runs recorded in a SQLite run ledger (see "run --db").

Without a run ID every run is listed, newest first. With a run ID the run
is shown in detail, including the median and maximum churn time of the
records that churned.

Examples:
  churnprobe report --db churn.db
  churnprobe report --db churn.db 019296f6-8a3c-7d4e-9f10-2b3c4d5e6f70
  churnprobe report --db churn.db --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			return runReport(opts, runID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReport(opts *ReportOptions, runID string, cmd *cobra.Command) error {
	out := newPrinter(cmd, opts.Format, opts.Verbose)

	// Don't let store.Open create an empty ledger
	if _, err := os.Stat(opts.Database); os.IsNotExist(err) {
		return commandError(fmt.Sprintf("database not found: %s", opts.Database), nil)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return commandError("failed to open database", err)
	}
	defer st.Close()
	if v, err := st.SchemaVersion(); err == nil {
		out.debugf("ledger %s: schema version %d", opts.Database, v)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if runID == "" {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return runFailure("failed to list runs", err)
		}
		summaries := make([]RunSummary, 0, len(runs))
		for _, r := range runs {
			summaries = append(summaries, summarize(r, nil))
		}
		out.debugf("ledger %s: %d runs", opts.Database, len(summaries))
		return out.result("", map[string]any{"runs": summaries}, func(w io.Writer) error {
			return writeRunList(w, summaries)
		})
	}

	run, err := st.GetRun(ctx, runID)
	if errors.Is(err, store.ErrRunNotFound) {
		return commandError("unknown run", err)
	}
	if err != nil {
		return runFailure("failed to read run", err)
	}
	times, err := st.ChurnTimes(ctx, runID)
	if err != nil {
		return runFailure("failed to read churn events", err)
	}
	summary := summarize(run, times)
	return out.result(run.ID, summary, func(w io.Writer) error {
		return writeRunDetail(w, summary)
	})
}

// summarize converts a ledger run. times must be sorted ascending.
func summarize(r store.Run, times []int64) RunSummary {
	s := RunSummary{
		ID:              r.ID,
		StartedAt:       r.StartedAt.Format(time.RFC3339),
		Status:          r.Status,
		StopReason:      r.StopReason,
		WorkingSet:      r.WorkingSet,
		Published:       r.Published,
		PublishFailures: r.PublishFailures,
		Sweeps:          r.Sweeps,
		Probes:          r.Probes,
		Churned:         r.Churned,
	}
	if !r.FinishedAt.IsZero() {
		s.FinishedAt = r.FinishedAt.Format(time.RFC3339)
	}
	if r.WorkingSet > 0 {
		s.ChurnFraction = float64(r.Churned) / float64(r.WorkingSet)
	}
	if n := len(times); n > 0 {
		s.MedianChurnS = median(times)
		s.MaxChurnS = times[n-1]
	}
	return s
}

// median of a sorted slice; the lower middle for even lengths.
func median(sorted []int64) int64 {
	return sorted[(len(sorted)-1)/2]
}

func writeRunList(w io.Writer, runs []RunSummary) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	p := message.NewPrinter(language.English)
	for _, r := range runs {
		if _, err := p.Fprintf(w, "%s  %s  %-8s  %d/%d churned (%.1f%%)  %d sweeps\n",
			r.ID, r.StartedAt, r.Status, r.Churned, r.WorkingSet, r.ChurnFraction*100, r.Sweeps); err != nil {
			return err
		}
	}
	return nil
}

func writeRunDetail(w io.Writer, r RunSummary) error {
	p := message.NewPrinter(language.English)
	lines := []string{
		p.Sprintf("Run %s", r.ID),
		p.Sprintf("  status:         %s", r.Status),
		p.Sprintf("  started:        %s", r.StartedAt),
	}
	if r.FinishedAt != "" {
		lines = append(lines, p.Sprintf("  finished:       %s", r.FinishedAt))
	}
	lines = append(lines,
		p.Sprintf("  published:      %d (%d failed)", r.Published, r.PublishFailures),
		p.Sprintf("  working set:    %d", r.WorkingSet),
		p.Sprintf("  sweeps:         %d", r.Sweeps),
		p.Sprintf("  probes:         %d", r.Probes),
		p.Sprintf("  churned:        %d (%.1f%%)", r.Churned, r.ChurnFraction*100),
	)
	if r.StopReason != "" {
		lines = append(lines, p.Sprintf("  stop reason:    %s", r.StopReason))
	}
	if r.MaxChurnS > 0 {
		lines = append(lines,
			p.Sprintf("  median churn:   %v", time.Duration(r.MedianChurnS)*time.Second),
			p.Sprintf("  max churn:      %v", time.Duration(r.MaxChurnS)*time.Second),
		)
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
