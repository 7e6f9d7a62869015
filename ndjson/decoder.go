// Package ndjson reassembles newline-delimited JSON records from a byte
// stream delivered in arbitrary chunks.
//
// A record ends at '\n'. Bytes after the last newline stay buffered until more
// data arrives, so records may span reads and a read may carry many records.
// UTF-8 never encodes '\n' inside a multi-byte sequence, which means splitting
// on the raw byte keeps partial characters in the buffer with the rest of
// their record.
package ndjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"pkt.systems/pslog"
)

const (
	// DefaultMaxRecordBytes bounds the size of a single buffered record.
	DefaultMaxRecordBytes = 4 << 20
	defaultReadSize       = 32 << 10
)

// ErrRecordTooLarge indicates a record grew past the configured limit.
var ErrRecordTooLarge = errors.New("ndjson record exceeds size limit")

// DecodeError reports a record that is not valid JSON. It is fatal for the
// decode operation.
type DecodeError struct {
	Record int
	line   []byte
	err    error
}

func (e *DecodeError) Error() string {
	if e == nil || e.err == nil {
		return "ndjson decode error"
	}
	return fmt.Sprintf("ndjson record %d: %v", e.Record, e.err)
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Line returns a copy of the offending record.
func (e *DecodeError) Line() []byte {
	if e == nil {
		return nil
	}
	return append([]byte(nil), e.line...)
}

var errInvalidJSON = errors.New("invalid JSON")

// Option configures a Decoder.
type Option func(*options)

type options struct {
	maxRecord     int
	flushTrailing bool
	readSize      int
	log           pslog.Logger
}

// WithMaxRecordBytes caps the bytes buffered for one record. Zero or a
// negative value disables the limit.
func WithMaxRecordBytes(n int) Option {
	return func(o *options) {
		o.maxRecord = n
	}
}

// WithFlushTrailing controls the fate of bytes left after the last newline
// when the stream ends. By default they are dropped; when enabled they are
// decoded as a final record.
func WithFlushTrailing(enabled bool) Option {
	return func(o *options) {
		o.flushTrailing = enabled
	}
}

// WithReadSize sets the size of each read from the underlying reader.
func WithReadSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readSize = n
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger pslog.Logger) Option {
	return func(o *options) {
		o.log = logger
	}
}

// Decoder pulls records from a reader one at a time. A Decoder is owned by a
// single goroutine.
type Decoder struct {
	r       io.Reader
	opts    options
	chunk   []byte
	buf     []byte
	pending [][]byte
	records int
	eof     bool
	limit   error
	err     error
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	o := options{
		maxRecord: DefaultMaxRecordBytes,
		readSize:  defaultReadSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &Decoder{
		r:     r,
		opts:  o,
		chunk: make([]byte, o.readSize),
	}
}

// Records returns the number of records delivered so far.
func (d *Decoder) Records() int {
	return d.records
}

// Next returns the next complete record. It returns io.EOF once the reader is
// exhausted and every complete record has been delivered.
func (d *Decoder) Next(ctx context.Context) (json.RawMessage, error) {
	if d.err != nil {
		return nil, d.err
	}
	for {
		if len(d.pending) > 0 {
			line := d.pending[0]
			d.pending[0] = nil
			d.pending = d.pending[1:]
			record, ok, err := d.record(line)
			if err != nil {
				d.err = err
				return nil, err
			}
			if !ok {
				continue
			}
			return record, nil
		}
		if d.limit != nil {
			d.err = d.limit
			return nil, d.err
		}
		if d.eof {
			return d.finish()
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.feed(d.chunk[:n])
			if d.limit != nil {
				continue
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.eof = true
				continue
			}
			d.err = err
			return nil, err
		}
	}
}

// feed splits p into complete lines. A line over the size limit, complete or
// still buffered, sets d.limit; lines before it stay pending so the outcome
// does not depend on how the stream was chunked.
func (d *Decoder) feed(p []byte) {
	d.buf = append(d.buf, p...)
	consumed := 0
	for {
		idx := bytes.IndexByte(d.buf[consumed:], '\n')
		if idx < 0 {
			break
		}
		end := consumed + idx
		if d.tooLarge(end - consumed) {
			d.buf = nil
			return
		}
		d.pending = append(d.pending, append([]byte(nil), d.buf[consumed:end]...))
		consumed = end + 1
	}
	if consumed > 0 {
		d.buf = append(d.buf[:0], d.buf[consumed:]...)
	}
	if d.tooLarge(len(d.buf)) {
		d.buf = nil
	}
}

func (d *Decoder) tooLarge(n int) bool {
	if d.opts.maxRecord <= 0 || n <= d.opts.maxRecord {
		return false
	}
	d.limit = fmt.Errorf("%w: record of at least %d bytes", ErrRecordTooLarge, n)
	return true
}

func (d *Decoder) record(line []byte) (json.RawMessage, bool, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false, nil
	}
	d.records++
	if !json.Valid(line) {
		return nil, false, &DecodeError{Record: d.records, line: line, err: errInvalidJSON}
	}
	return json.RawMessage(line), true, nil
}

func (d *Decoder) finish() (json.RawMessage, error) {
	trailing := bytes.TrimSpace(d.buf)
	d.buf = nil
	if len(trailing) == 0 {
		d.err = io.EOF
		return nil, io.EOF
	}
	if !d.opts.flushTrailing {
		if d.opts.log != nil {
			d.opts.log.Debug("ndjson dropped unterminated record", "bytes", len(trailing), "records", d.records)
		}
		d.err = io.EOF
		return nil, io.EOF
	}
	record, _, err := d.record(trailing)
	if err != nil {
		d.err = err
		return nil, err
	}
	return record, nil
}

// Decode reads r until it is exhausted and calls fn for every complete record,
// in stream order. A malformed record or a handler error stops decoding and is
// returned. Cancellation is honored between reads; cancelling the source (for
// example the request context of an HTTP body) unblocks a pending read.
func Decode(ctx context.Context, r io.Reader, fn func(json.RawMessage) error, opts ...Option) error {
	if fn == nil {
		return errors.New("ndjson: nil record handler")
	}
	dec := NewDecoder(r, opts...)
	for {
		record, err := dec.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(record); err != nil {
			return err
		}
	}
}
