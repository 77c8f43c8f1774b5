// Package transcript records pushed envelopes as length-prefixed msgpack
// frames and reads them back.
//
// Each frame is a 4-byte big-endian payload length followed by one
// msgpack-encoded Record. A transcript is append-only; a truncated final
// frame is reported as a partial FrameError so readers can tell a crash
// from a clean end.
package transcript

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/chatlink/types"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (4 MiB), including length prefix.
	MaxFrameSize = 4 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size.
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// Record is one recorded push.
type Record struct {
	Version        string         `msgpack:"version"`
	Seq            int64          `msgpack:"seq"`
	Ts             string         `msgpack:"ts"` // RFC 3339
	SubscriptionID string         `msgpack:"subscription_id"`
	Operation      string         `msgpack:"operation,omitempty"`
	Envelope       types.Envelope `msgpack:"envelope"`
}

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error.
	FrameErrorDecode
)

// FrameError is a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transcript: %s: %v", e.Msg, e.Err)
	}
	return "transcript: " + e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsPartial returns true if err is a truncated-frame error.
func IsPartial(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe) && fe.Kind == FrameErrorPartial
}

// EncodeFrame marshals rec and prefixes it with its length.
func EncodeFrame(rec *Record) ([]byte, error) {
	payload, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("transcript: encode record: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf, nil
}

// Reader decodes records from a transcript stream.
type Reader struct {
	r io.Reader
}

// NewReader creates a transcript reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next record.
//
// Errors:
//   - io.EOF: the transcript ended cleanly
//   - *FrameError with Kind=FrameErrorPartial: truncated frame
//   - *FrameError with Kind=FrameErrorTooLarge: corrupt length prefix
//   - *FrameError with Kind=FrameErrorDecode: undecodable payload
func (d *Reader) Next() (*Record, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.r, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read length prefix", Err: err}
	}

	size := binary.BigEndian.Uint32(lengthBuf[:])
	if size > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", size, MaxPayloadSize),
		}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read payload", Err: err}
	}

	var rec Record
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode record", Err: err}
	}
	return &rec, nil
}

// ReadAll reads every record until EOF. Records read before an error are
// returned along with it.
func ReadAll(r io.Reader) ([]Record, error) {
	d := NewReader(r)
	var out []Record
	for {
		rec, err := d.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, *rec)
	}
}
