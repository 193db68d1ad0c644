package record

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"
)

// KeyFileError reports a malformed entry in a key file.
type KeyFileError struct {
	Path string
	Line int
	Err  error
}

func (e *KeyFileError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *KeyFileError) Unwrap() error {
	return e.Err
}

// SaveKeyFile writes one hex-encoded secret per line. The file is created
// with owner-only permissions and truncated if it exists.
func SaveKeyFile(path string, keys []Keypair) error {
	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(hex.EncodeToString(k.Secret()))
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("save key file: %w", err)
	}
	return nil
}

// LoadKeyFile reads secrets written by SaveKeyFile. Blank lines are
// skipped; any other malformed line aborts with a *KeyFileError.
//
// The file's modification time is returned as well: when resuming from a
// key file it is the best available estimate of when the records were
// published.
func LoadKeyFile(path string) ([]Keypair, time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load key file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load key file: %w", err)
	}

	var keys []Keypair
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		secret, err := hex.DecodeString(text)
		if err != nil {
			return nil, time.Time{}, &KeyFileError{Path: path, Line: line, Err: err}
		}
		kp, err := NewKeypair(secret)
		if err != nil {
			return nil, time.Time{}, &KeyFileError{Path: path, Line: line, Err: err}
		}
		keys = append(keys, kp)
	}
	if err := scanner.Err(); err != nil {
		return nil, time.Time{}, fmt.Errorf("load key file: %w", err)
	}
	return keys, info.ModTime(), nil
}

// PublicKeys returns the public key of every pair, in order.
func PublicKeys(keys []Keypair) []PublicKey {
	out := make([]PublicKey, len(keys))
	for i, k := range keys {
		out[i] = k.PublicKey()
	}
	return out
}
