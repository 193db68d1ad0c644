package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/churnprobe/internal/engine"
)

// Scenario defines one scripted churn run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Records is the working-set size.
	Records int `yaml:"records"`

	// PublishedBeforeS is how long before monitoring starts the records
	// were published.
	PublishedBeforeS int64 `yaml:"published_before_s,omitempty"`

	// StopFraction defaults to engine.DefaultStopFraction.
	StopFraction float64 `yaml:"stop_fraction,omitempty"`

	// MaxDurationS bounds monitoring; required because zero is meaningful
	// (a single sweep).
	MaxDurationS *int64 `yaml:"max_duration_s"`

	SweepPauseS   int64 `yaml:"sweep_pause_s,omitempty"`
	ProbeDelayS   int64 `yaml:"probe_delay_s,omitempty"`
	Workers       int   `yaml:"workers,omitempty"`
	TrackRecovery bool  `yaml:"track_recovery,omitempty"`

	// ShuffleSeed enables per-sweep shuffling when set.
	ShuffleSeed *uint64 `yaml:"shuffle_seed,omitempty"`

	// CancelAfterProbes cancels the run once this many probes completed.
	CancelAfterProbes int `yaml:"cancel_after_probes,omitempty"`

	// Sweeps holds one row of storing-node counts per sweep.
	Sweeps [][]int `yaml:"sweeps"`

	// Assertions validate the summary and the CSV streams.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion checks one property of a finished run.
type Assertion struct {
	// Type selects the check; see the package documentation.
	Type string `yaml:"type"`

	// Reason is the expected stop reason (stop_reason).
	Reason string `yaml:"reason,omitempty"`

	// Count is the expected counter or row count.
	Count *int `yaml:"count,omitempty"`

	// Fraction is the expected churn fraction (churn_fraction).
	Fraction *float64 `yaml:"fraction,omitempty"`

	// Record is the 1-based record index (churn_time).
	Record int `yaml:"record,omitempty"`

	// TimeS is the expected churns.csv time_s (churn_time).
	TimeS *int64 `yaml:"time_s,omitempty"`
}

// Assertion type constants.
const (
	AssertStopReason        = "stop_reason"
	AssertSweeps            = "sweeps"
	AssertChurned           = "churned"
	AssertChurnEvents       = "churn_events"
	AssertChurnFraction     = "churn_fraction"
	AssertChurnRows         = "churn_rows"
	AssertDecayRows         = "decay_rows"
	AssertStoringRows       = "storing_rows"
	AssertChurnTime         = "churn_time"
	AssertStoringDecreasing = "storing_decreasing"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Records < 0 {
		return fmt.Errorf("records must be non-negative")
	}
	if s.MaxDurationS == nil {
		return fmt.Errorf("max_duration_s is required")
	}
	if *s.MaxDurationS < 0 || s.SweepPauseS < 0 || s.ProbeDelayS < 0 || s.PublishedBeforeS < 0 {
		return fmt.Errorf("durations must be non-negative")
	}
	if s.StopFraction < 0 || s.StopFraction > 1 {
		return fmt.Errorf("stop_fraction must be in (0, 1]")
	}
	if s.Records > 0 && len(s.Sweeps) == 0 {
		return fmt.Errorf("sweeps list is required and must be non-empty")
	}
	for i, row := range s.Sweeps {
		if len(row) != s.Records {
			return fmt.Errorf("sweeps[%d]: has %d counts, want %d", i, len(row), s.Records)
		}
		for j, n := range row {
			if n < -1 {
				return fmt.Errorf("sweeps[%d][%d]: count must be >= -1", i, j)
			}
		}
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, s.Records); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion, records int) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertStopReason:
		switch engine.StopReason(a.Reason) {
		case engine.StopChurnFraction, engine.StopMaxDuration, engine.StopCancelled, engine.StopEmpty:
		default:
			return fmt.Errorf("assertions[%d]: unknown stop reason %q", index, a.Reason)
		}
	case AssertSweeps, AssertChurned, AssertChurnEvents, AssertChurnRows, AssertDecayRows, AssertStoringRows:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
	case AssertChurnFraction:
		if a.Fraction == nil {
			return fmt.Errorf("assertions[%d]: fraction is required for churn_fraction", index)
		}
	case AssertChurnTime:
		if a.Record < 1 || a.Record > records {
			return fmt.Errorf("assertions[%d]: record must be in [1, %d]", index, records)
		}
		if a.TimeS == nil {
			return fmt.Errorf("assertions[%d]: time_s is required for churn_time", index)
		}
	case AssertStoringDecreasing:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
