package runner

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/churnprobe/internal/engine"
	"github.com/roach88/churnprobe/internal/publisher"
)

// Report is the final account of a run.
type Report struct {
	RunID      string
	StartedAt  time.Time
	Elapsed    time.Duration
	OutDir     string
	KeyFile    string
	Outputs    []string
	WorkingSet int
	Publish    *publisher.Stats
	Probe      *engine.Summary

	Artifacts     []string
	ArtifactError string
}

// JSON returns the report in the shape printed by --format json.
func (r Report) JSON() map[string]any {
	out := map[string]any{
		"run_id":      r.RunID,
		"started_at":  r.StartedAt.UTC().Format(time.RFC3339),
		"elapsed_s":   r.Elapsed.Seconds(),
		"out_dir":     r.OutDir,
		"working_set": r.WorkingSet,
	}
	if r.KeyFile != "" {
		out["key_file"] = r.KeyFile
	}
	if r.Publish != nil {
		out["publish"] = map[string]any{
			"requested":      r.Publish.Requested,
			"attempts":       r.Publish.Attempts,
			"published":      r.Publish.Published,
			"failed":         r.Publish.Failed,
			"avg_latency_ms": r.Publish.AvgLatency.Milliseconds(),
			"per_sec":        r.Publish.Rate(),
		}
	}
	if r.Probe != nil {
		out["probe"] = map[string]any{
			"sweeps":          r.Probe.Sweeps,
			"probes":          r.Probe.Probes,
			"churned":         r.Probe.Churned,
			"churn_fraction":  r.Probe.ChurnFraction,
			"churn_events":    r.Probe.ChurnEvents,
			"stop_reason":     string(r.Probe.StopReason),
			"elapsed_s":       r.Probe.Elapsed.Seconds(),
			"records_per_sec": r.Probe.Throughput(),
		}
	}
	if len(r.Artifacts) > 0 {
		out["artifacts"] = r.Artifacts
	}
	if r.ArtifactError != "" {
		out["artifact_error"] = r.ArtifactError
	}
	return out
}

// WriteText writes a human-readable report with grouped digits.
func (r Report) WriteText(w io.Writer) error {
	p := message.NewPrinter(language.English)
	lines := []string{
		p.Sprintf("Run %s", r.RunID),
	}
	if r.Publish != nil {
		s := r.Publish
		lines = append(lines,
			p.Sprintf("  published:      %d of %d (%d failed)", s.Published, s.Requested, s.Failed),
			p.Sprintf("  publish rate:   %.2f records/s, avg latency %v", s.Rate(), s.AvgLatency.Round(time.Millisecond)),
		)
	}
	if r.KeyFile != "" {
		lines = append(lines, p.Sprintf("  keys:           %s", r.KeyFile))
	}
	lines = append(lines, p.Sprintf("  working set:    %d", r.WorkingSet))
	if s := r.Probe; s != nil {
		lines = append(lines,
			p.Sprintf("  sweeps:         %d", s.Sweeps),
			p.Sprintf("  probes:         %d (%.2f records/s)", s.Probes, s.Throughput()),
			p.Sprintf("  churned:        %d (%.1f%%)", s.Churned, s.ChurnFraction*100),
			p.Sprintf("  stopped:        %s after %v", s.StopReason, s.Elapsed.Round(time.Second)),
			p.Sprintf("  outputs:        %s", r.OutDir),
		)
	}
	for _, a := range r.Artifacts {
		lines = append(lines, p.Sprintf("  uploaded:       %s", a))
	}
	if r.ArtifactError != "" {
		lines = append(lines, p.Sprintf("  upload failed:  %s", r.ArtifactError))
	}

	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
