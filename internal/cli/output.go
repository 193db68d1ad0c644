package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Process exit codes. A cancelled run still exits with ExitSuccess because
// its partial CSVs are complete.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // run aborted, output I/O, failing scenarios
	ExitCommandError = 2 // bad flags or config, missing key file or ledger, unreachable backend
)

// ExitError is a command failure carrying the exit code main uses.
type ExitError struct {
	Code  int
	Msg   string
	Cause error
}

func (e *ExitError) Error() string {
	if e.Cause == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Cause.Error()
}

func (e *ExitError) Unwrap() error { return e.Cause }

// commandError reports a problem with the invocation itself. cause may be
// nil.
func commandError(msg string, cause error) error {
	return &ExitError{Code: ExitCommandError, Msg: msg, Cause: cause}
}

// runFailure reports a failure after the command started doing work.
func runFailure(msg string, cause error) error {
	return &ExitError{Code: ExitFailure, Msg: msg, Cause: cause}
}

// ExitCode maps err to a process exit code: nil is ExitSuccess and errors
// without an ExitError in their chain are ExitFailure.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}

// Envelope wraps every --format json result.
type Envelope struct {
	Status string         `json:"status"` // "ok" or "error"
	RunID  string         `json:"run_id,omitempty"`
	Data   any            `json:"data,omitempty"`
	Error  *EnvelopeError `json:"error,omitempty"`
}

// EnvelopeError describes why a JSON result has status "error".
type EnvelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// printer renders command results on stdout, as text or as an Envelope,
// and verbose diagnostics on stderr so they never interleave with JSON.
type printer struct {
	json    bool
	out     io.Writer
	diag    io.Writer
	verbose bool
}

func newPrinter(cmd *cobra.Command, format string, verbose bool) *printer {
	return &printer{
		json:    format == "json",
		out:     cmd.OutOrStdout(),
		diag:    cmd.ErrOrStderr(),
		verbose: verbose,
	}
}

// result prints data. In text mode it hands stdout to text.
func (p *printer) result(runID string, data any, text func(io.Writer) error) error {
	if !p.json {
		return text(p.out)
	}
	return p.encode(Envelope{Status: "ok", RunID: runID, Data: data})
}

// failed prints an error envelope in JSON mode that still carries data,
// for commands whose failure has a report (failing scenarios). Text mode
// prints nothing; the caller renders its own report.
func (p *printer) failed(code, msg string, data any) error {
	if !p.json {
		return nil
	}
	return p.encode(Envelope{
		Status: "error",
		Data:   data,
		Error:  &EnvelopeError{Code: code, Message: msg},
	})
}

func (p *printer) encode(env Envelope) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return runFailure("write output", err)
	}
	return nil
}

// debugf writes a diagnostic line when --verbose is set.
func (p *printer) debugf(format string, args ...any) {
	if p.verbose {
		fmt.Fprintf(p.diag, format+"\n", args...)
	}
}
