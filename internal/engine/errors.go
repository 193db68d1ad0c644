package engine

import (
	"errors"
	"fmt"
)

// Output streams written by the engine through its Recorder.
const (
	StreamChurns       = "churns"
	StreamNodesDecay   = "nodes_decay"
	StreamNodesStoring = "nodes_storing"
	StreamFlush        = "flush"
)

// SinkError reports a failed write to one of the output streams. It is the
// only error class that stops a run early.
type SinkError struct {
	Stream string
	Err    error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Stream, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// IsSinkError returns true if err is or wraps a *SinkError.
func IsSinkError(err error) bool {
	var se *SinkError
	return errors.As(err, &se)
}

func sinkErr(stream string, err error) error {
	if err == nil {
		return nil
	}
	return &SinkError{Stream: stream, Err: err}
}
