package harness

import (
	"encoding/csv"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/roach88/churnprobe/internal/testutil"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("Assertion failed: %s\n  Expected: %s\n  Actual: %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions runs every assertion and returns the failure
// messages in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(r *Result, a Assertion) error {
	s := r.Summary
	switch a.Type {
	case AssertStopReason:
		return expectString(a.Type, a.Reason, string(s.StopReason))
	case AssertSweeps:
		return expectInt(a.Type, *a.Count, s.Sweeps)
	case AssertChurned:
		return expectInt(a.Type, *a.Count, s.Churned)
	case AssertChurnEvents:
		return expectInt(a.Type, *a.Count, s.ChurnEvents)
	case AssertChurnFraction:
		if math.Abs(s.ChurnFraction-*a.Fraction) > 1e-9 {
			return &AssertionError{
				Type:     a.Type,
				Expected: strconv.FormatFloat(*a.Fraction, 'f', -1, 64),
				Actual:   strconv.FormatFloat(s.ChurnFraction, 'f', -1, 64),
			}
		}
		return nil
	case AssertChurnRows:
		return expectRows(a.Type, r.Churns, *a.Count)
	case AssertDecayRows:
		return expectRows(a.Type, r.NodesDecay, *a.Count)
	case AssertStoringRows:
		return expectRows(a.Type, r.NodesStoring, *a.Count)
	case AssertChurnTime:
		return assertChurnTime(r, a)
	case AssertStoringDecreasing:
		return assertStoringDecreasing(r)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func expectString(typ, want, got string) error {
	if want != got {
		return &AssertionError{Type: typ, Expected: want, Actual: got}
	}
	return nil
}

func expectInt(typ string, want, got int) error {
	if want != got {
		return &AssertionError{Type: typ, Expected: strconv.Itoa(want), Actual: strconv.Itoa(got)}
	}
	return nil
}

func expectRows(typ, stream string, want int) error {
	rows, err := dataRows(stream)
	if err != nil {
		return err
	}
	return expectInt(typ, want, len(rows))
}

// dataRows parses a CSV stream and drops its header.
func dataRows(stream string) ([][]string, error) {
	rows, err := csv.NewReader(strings.NewReader(stream)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("stream has no header")
	}
	return rows[1:], nil
}

func assertChurnTime(r *Result, a Assertion) error {
	rows, err := dataRows(r.Churns)
	if err != nil {
		return err
	}
	key := testutil.SequentialKey(a.Record).String()
	want := strconv.FormatInt(*a.TimeS, 10)
	var found []string
	for _, row := range rows {
		if row[0] == key {
			found = append(found, row[1])
		}
	}
	switch {
	case len(found) == 0:
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("record %d time_s %s", a.Record, want), Actual: "no row"}
	case len(found) > 1:
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("one row for record %d", a.Record), Actual: fmt.Sprintf("%d rows", len(found))}
	case found[0] != want:
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("record %d time_s %s", a.Record, want), Actual: found[0]}
	}
	return nil
}

func assertStoringDecreasing(r *Result) error {
	rows, err := dataRows(r.NodesStoring)
	if err != nil {
		return err
	}
	prev := math.MaxInt
	for i, row := range rows {
		n, err := strconv.Atoi(row[0])
		if err != nil {
			return fmt.Errorf("nodes_storing row %d: %w", i+1, err)
		}
		if n >= prev {
			return &AssertionError{
				Type:     AssertStoringDecreasing,
				Expected: fmt.Sprintf("row %d below %d", i+1, prev),
				Actual:   strconv.Itoa(n),
			}
		}
		prev = n
	}
	return nil
}
