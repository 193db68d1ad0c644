package recorder

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/roach88/churnprobe/internal/record"
)

type stream struct {
	name string
	w    *csv.Writer
}

func newStream(name string, w io.Writer, header []string) (*stream, error) {
	s := &stream{name: name, w: csv.NewWriter(w)}
	if err := s.write(header); err != nil {
		return nil, err
	}
	return s, nil
}

// write appends one row and flushes it.
func (s *stream) write(row []string) error {
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	return nil
}

// CSV writes the three streams as CSV.
type CSV struct {
	churns  *stream
	decay   *stream
	storing *stream

	files []*os.File
	paths []string
}

// NewCSV writes headers to the three writers and returns a recorder over
// them. The caller owns the writers.
func NewCSV(churns, decay, storing io.Writer) (*CSV, error) {
	c := &CSV{}
	var err error
	if c.churns, err = newStream(ChurnsFile, churns, ChurnsHeader); err != nil {
		return nil, err
	}
	if c.decay, err = newStream(NodesDecayFile, decay, NodesDecayHeader); err != nil {
		return nil, err
	}
	if c.storing, err = newStream(NodesStoringFile, storing, NodesStoringHeader); err != nil {
		return nil, err
	}
	return c, nil
}

// Create creates (or truncates) the three files in dir, creating dir if
// needed.
func Create(dir string) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	names := []string{ChurnsFile, NodesDecayFile, NodesStoringFile}
	files := make([]*os.File, 0, len(names))
	paths := make([]string, 0, len(names))
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	for _, name := range names {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
		files = append(files, f)
		paths = append(paths, path)
	}

	c, err := NewCSV(files[0], files[1], files[2])
	if err != nil {
		closeAll()
		return nil, err
	}
	c.files = files
	c.paths = paths
	return c, nil
}

// Paths returns the files created by Create.
func (c *CSV) Paths() []string {
	return append([]string(nil), c.paths...)
}

// NodeCount appends a nodes_decay row.
func (c *CSV) NodeCount(elapsed time.Duration, key record.PublicKey, count int) error {
	return c.decay.write([]string{
		strconv.FormatInt(Seconds(elapsed), 10),
		key.String(),
		strconv.Itoa(count),
	})
}

// Churn appends a churns row.
func (c *CSV) Churn(key record.PublicKey, delay time.Duration) error {
	return c.churns.write([]string{
		key.String(),
		strconv.FormatInt(Seconds(delay), 10),
	})
}

// GlobalCount appends a nodes_storing row.
func (c *CSV) GlobalCount(count int, elapsed time.Duration) error {
	return c.storing.write([]string{
		strconv.Itoa(count),
		strconv.FormatInt(Seconds(elapsed), 10),
	})
}

// Flush syncs the underlying files to stable storage. Rows are already
// flushed to the OS on write.
func (c *CSV) Flush() error {
	var errs []error
	for _, f := range c.files {
		if err := f.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", filepath.Base(f.Name()), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes files opened by Create.
func (c *CSV) Close() error {
	var errs []error
	for _, f := range c.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.files = nil
	return errors.Join(errs...)
}
