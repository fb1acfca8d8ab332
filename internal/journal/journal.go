// Package journal appends every dispatched event to hourly rotated,
// zstd-compressed JSON-lines files.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/cory-johannsen/dragonbot/internal/clock"
	"github.com/cory-johannsen/dragonbot/internal/event"
)

// Entry is one journal line.
type Entry struct {
	Seq  uint64         `json:"seq"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
	At   time.Time      `json:"at"`
}

// Writer appends entries to events-YYYY-MM-DD-HH.jsonl.zst under dir. It is safe
// for concurrent use.
type Writer struct {
	dir   string
	clock clock.Clock

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
	written uint64
}

// NewWriter creates a Writer. Files are created lazily on the first write.
//
// Precondition: dir must be non-empty; clk must be non-nil.
func NewWriter(dir string, clk clock.Clock) *Writer {
	return &Writer{dir: dir, clock: clk}
}

// Write appends e, rotating to a new file when the hour changes.
func (w *Writer) Write(e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding journal entry %d: %w", e.Seq, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	hour := w.clock.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.written++
	return w.w.Flush()
}

// Middleware adapts the writer to the dispatcher. Write failures are returned
// to the dispatcher, which logs them without affecting the handler.
func (w *Writer) Middleware() event.Middleware {
	return func(_ context.Context, ev event.Event) error {
		return w.Write(Entry{Seq: ev.Seq, Name: ev.Name, Args: ev.Args, At: ev.At})
	}
}

// Written reports how many entries have been appended.
func (w *Writer) Written() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close flushes and closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// PathForHour returns the file used for hour, formatted as 2006-01-02-15.
func (w *Writer) PathForHour(hour string) string {
	return filepath.Join(w.dir, fmt.Sprintf("events-%s.jsonl.zst", hour))
}

func (w *Writer) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating journal dir: %w", err)
	}
	f, err := os.OpenFile(w.PathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening journal file: %w", err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *Writer) closeLocked() error {
	var errs []error
	if w.w != nil {
		errs = append(errs, w.w.Flush())
	}
	if w.enc != nil {
		errs = append(errs, w.enc.Close())
		w.enc = nil
	}
	if w.f != nil {
		errs = append(errs, w.f.Close())
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return errors.Join(errs...)
}

// ReadFile decodes every entry of a journal file. Files written by separate
// writer sessions are concatenated zstd frames and are read in order.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()

	var out []Entry
	jd := json.NewDecoder(dec)
	for {
		var e Entry
		if err := jd.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("decoding %s: %w", path, err)
		}
		out = append(out, e)
	}
}
