package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPrinter(format string, verbose bool) (*printer, *bytes.Buffer, *bytes.Buffer) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return newPrinter(cmd, format, verbose), stdout, stderr
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain error", errors.New("boom"), ExitFailure},
		{"command error", commandError("invalid configuration", nil), ExitCommandError},
		{"run failure", runFailure("run failed", io.ErrUnexpectedEOF), ExitFailure},
		{"wrapped", fmt.Errorf("outer: %w", commandError("unknown run", nil)), ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestExitError_Message(t *testing.T) {
	assert.EqualError(t, commandError("unknown run", nil), "unknown run")

	err := runFailure("run failed", io.ErrUnexpectedEOF)
	assert.EqualError(t, err, "run failed: unexpected EOF")
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestPrinter_ResultJSON(t *testing.T) {
	p, stdout, _ := testPrinter("json", false)

	err := p.result("0192-run", map[string]int{"churned": 42}, func(io.Writer) error {
		t.Fatal("text renderer called in json mode")
		return nil
	})
	require.NoError(t, err)

	var env struct {
		Status string         `json:"status"`
		RunID  string         `json:"run_id"`
		Data   map[string]int `json:"data"`
		Error  *EnvelopeError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &env))
	assert.Equal(t, "ok", env.Status)
	assert.Equal(t, "0192-run", env.RunID)
	assert.Equal(t, 42, env.Data["churned"])
	assert.Nil(t, env.Error)
}

func TestPrinter_ResultJSONOmitsEmptyRunID(t *testing.T) {
	p, stdout, _ := testPrinter("json", false)
	require.NoError(t, p.result("", []string{}, nil))
	assert.NotContains(t, stdout.String(), "run_id")
}

func TestPrinter_ResultText(t *testing.T) {
	p, stdout, _ := testPrinter("text", false)

	err := p.result("0192-run", 42, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, "churned: 42")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "churned: 42\n", stdout.String())
}

func TestPrinter_Failed(t *testing.T) {
	p, stdout, _ := testPrinter("json", false)
	require.NoError(t, p.failed("E_TEST_FAILED", "1 scenario(s) failed", TestResult{Failed: 1, Total: 1}))

	var env struct {
		Status string         `json:"status"`
		Data   TestResult     `json:"data"`
		Error  *EnvelopeError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &env))
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, 1, env.Data.Failed)
	require.NotNil(t, env.Error)
	assert.Equal(t, "E_TEST_FAILED", env.Error.Code)

	text, textOut, _ := testPrinter("text", false)
	require.NoError(t, text.failed("E_TEST_FAILED", "1 scenario(s) failed", nil))
	assert.Empty(t, textOut.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrShortWrite }

func TestPrinter_WriteFailure(t *testing.T) {
	p := &printer{json: true, out: failingWriter{}}
	err := p.result("", "x", nil)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, ExitCode(err))
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

func TestPrinter_Debugf(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		want    string
	}{
		{"verbose", true, "config: run.yaml\n"},
		{"quiet", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, stdout, stderr := testPrinter("json", tt.verbose)
			p.debugf("config: %s", "run.yaml")
			assert.Equal(t, tt.want, stderr.String())
			assert.Empty(t, stdout.String(), "diagnostics never reach stdout")
		})
	}
}
