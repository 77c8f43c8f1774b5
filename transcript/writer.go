package transcript

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pithecene-io/chatlink/types"
)

// Writer appends records to a transcript. Safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	seq    int64
	now    func() time.Time
}

// NewWriter writes frames to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, now: time.Now}
}

// Open appends to the transcript file at path, creating it and its
// directory if needed.
func Open(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("transcript: create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("transcript: open %s: %w", path, err)
	}
	w := NewWriter(f)
	w.closer = f
	return w, nil
}

// Record appends one envelope pushed on subscriptionID.
func (w *Writer) Record(subscriptionID, operation string, env *types.Envelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	rec := &Record{
		Version:        types.TranscriptVersion,
		Seq:            w.seq,
		Ts:             w.now().UTC().Format(time.RFC3339Nano),
		SubscriptionID: subscriptionID,
		Operation:      operation,
	}
	if env != nil {
		rec.Envelope = *env
	}

	frame, err := EncodeFrame(rec)
	if err != nil {
		w.seq--
		return err
	}
	if _, err := w.w.Write(frame); err != nil {
		w.seq--
		return fmt.Errorf("transcript: write: %w", err)
	}
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Close closes the underlying file when the writer was opened with Open.
func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}
