package transcript

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pithecene-io/chatlink/types"
)

func envelope(text string) *types.Envelope {
	return &types.Envelope{
		Data: json.RawMessage(`{"messageAdded":{"id":"1","text":"` + text + `"}}`),
	}
}

func fixedWriter(buf *bytes.Buffer) *Writer {
	w := NewWriter(buf)
	w.now = func() time.Time { return time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC) }
	return w
}

func TestWriter_Roundtrip(t *testing.T) {
	var buf bytes.Buffer
	w := fixedWriter(&buf)

	if err := w.Record("sub-1", "MessageAdded", envelope("hi")); err != nil {
		t.Fatalf("record: %v", err)
	}
	errEnv := &types.Envelope{Errors: []types.GraphQLError{{Message: "boom", Path: []any{"messageAdded"}}}}
	if err := w.Record("sub-1", "MessageAdded", errEnv); err != nil {
		t.Fatalf("record: %v", err)
	}

	recs, err := ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}

	want := Record{
		Version:        types.TranscriptVersion,
		Seq:            1,
		Ts:             "2026-02-07T12:00:00Z",
		SubscriptionID: "sub-1",
		Operation:      "MessageAdded",
		Envelope:       *envelope("hi"),
	}
	if diff := cmp.Diff(want, recs[0]); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	if recs[1].Seq != 2 || recs[1].Envelope.Errors[0].Message != "boom" {
		t.Errorf("second record = %+v", recs[1])
	}
	if w.Count() != 2 {
		t.Errorf("Count = %d, want 2", w.Count())
	}
}

func TestReader_EmptyIsEOF(t *testing.T) {
	if _, err := NewReader(bytes.NewReader(nil)).Next(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestReader_Truncated(t *testing.T) {
	var buf bytes.Buffer
	w := fixedWriter(&buf)
	if err := w.Record("s", "", envelope("a")); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := w.Record("s", "", envelope("b")); err != nil {
		t.Fatalf("record: %v", err)
	}
	data := buf.Bytes()[:buf.Len()-3]

	recs, err := ReadAll(bytes.NewReader(data))
	if !IsPartial(err) {
		t.Fatalf("expected partial frame error, got %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("records before error = %d, want 1", len(recs))
	}
}

func TestReader_PartialPrefix(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte{0, 0})).Next()
	if !IsPartial(err) {
		t.Errorf("expected partial frame error, got %v", err)
	}
}

func TestReader_TooLarge(t *testing.T) {
	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], MaxPayloadSize+1)

	_, err := NewReader(bytes.NewReader(prefix[:])).Next()
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Kind != FrameErrorTooLarge {
		t.Errorf("expected too-large frame error, got %v", err)
	}
}

func TestReader_DecodeError(t *testing.T) {
	payload := []byte{0xc1}
	frame := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[LengthPrefixSize:], payload)

	_, err := NewReader(bytes.NewReader(frame)).Next()
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Kind != FrameErrorDecode {
		t.Errorf("expected decode frame error, got %v", err)
	}
}

func TestOpen_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "chat.transcript")

	for _, text := range []string{"first", "second"} {
		w, err := Open(path)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if err := w.Record("s", "", envelope(text)); err != nil {
			t.Fatalf("record: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	recs, err := ReadAll(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("records = %d, want 2", len(recs))
	}
}

func TestWriter_ConcurrentRecordsAreWhole(t *testing.T) {
	var buf bytes.Buffer
	w := fixedWriter(&buf)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Record("s", "", envelope("x"))
		}()
	}
	wg.Wait()

	recs, err := ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(recs) != 20 {
		t.Fatalf("records = %d, want 20", len(recs))
	}
	for i, rec := range recs {
		if rec.Seq != int64(i+1) {
			t.Errorf("record %d seq = %d", i, rec.Seq)
		}
	}
}
