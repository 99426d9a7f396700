package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const PREFIX = "---CMDCACHE-ENTRY---\n"

const entryVersion = 1

// ErrMalformedEntry is returned when stored bytes are not a complete entry
var ErrMalformedEntry = errors.New("malformed cache entry")

// Entry is a captured command result
type Entry struct {
	Stdout     []byte
	Stderr     []byte
	ExitCode   int
	CapturedAt time.Time
}

// Age returns how long ago the entry was captured, relative to now
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CapturedAt)
}

// Serialize encodes the entry into its on-disk representation.
// Timestamps keep nanosecond precision.
func Serialize(e *Entry) []byte {
	buf := make([]byte, 0, len(PREFIX)+1+3*binary.MaxVarintLen64+len(e.Stdout)+len(e.Stderr)+binary.MaxVarintLen64)
	buf = append(buf, PREFIX...)
	buf = append(buf, entryVersion)
	buf = binary.AppendVarint(buf, int64(e.ExitCode))
	buf = binary.AppendVarint(buf, e.CapturedAt.UnixNano())
	buf = binary.AppendUvarint(buf, uint64(len(e.Stdout)))
	buf = append(buf, e.Stdout...)
	buf = binary.AppendUvarint(buf, uint64(len(e.Stderr)))
	buf = append(buf, e.Stderr...)
	return buf
}

// Deserialize decodes bytes produced by Serialize
func Deserialize(b []byte) (*Entry, error) {
	if !bytes.HasPrefix(b, []byte(PREFIX)) {
		return nil, fmt.Errorf("%w: invalid prefix", ErrMalformedEntry)
	}
	r := entryReader{buf: b[len(PREFIX):]}

	version := r.readByte()
	if r.err == nil && version != entryVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedEntry, version)
	}

	exitCode := r.readVarint()
	capturedAt := r.readVarint()
	stdout := r.readBytes()
	stderr := r.readBytes()

	if r.err != nil {
		return nil, r.err
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedEntry, len(r.buf))
	}

	return &Entry{
		Stdout:     stdout,
		Stderr:     stderr,
		ExitCode:   int(exitCode),
		CapturedAt: time.Unix(0, capturedAt),
	}, nil
}

// entryReader consumes fields in order and remembers the first error
type entryReader struct {
	buf []byte
	err error
}

func (r *entryReader) fail(field string) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: truncated %s", ErrMalformedEntry, field)
	}
}

func (r *entryReader) readByte() byte {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 1 {
		r.fail("version")
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *entryReader) readVarint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf)
	if n <= 0 {
		r.fail("integer")
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *entryReader) readBytes() []byte {
	if r.err != nil {
		return nil
	}
	size, n := binary.Uvarint(r.buf)
	if n <= 0 || size > uint64(len(r.buf)-n) {
		r.fail("stream")
		return nil
	}
	r.buf = r.buf[n:]
	out := make([]byte, size)
	copy(out, r.buf[:size])
	r.buf = r.buf[size:]
	return out
}
