// Package sse reads and writes the text/event-stream wire format.
package sse

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// MaxLineSize bounds a single SSE line.
const MaxLineSize = 1 << 20

// DefaultEventName is used when a block carries no event field.
const DefaultEventName = "message"

// Event is one dispatched server-sent event.
type Event struct {
	Name  string
	Data  string
	ID    string
	Retry time.Duration
}

// Reader parses events from a stream. The last seen id persists across
// events as the stream format requires.
type Reader struct {
	scanner *bufio.Scanner
	lastID  string
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &Reader{scanner: scanner}
}

// LastID returns the most recent event id seen on the stream.
func (r *Reader) LastID() string {
	return r.lastID
}

// Next blocks until a complete event is available. It returns io.EOF when
// the stream ends; a partially received event is discarded.
func (r *Reader) Next() (Event, error) {
	var (
		name    string
		data    strings.Builder
		hasData bool
		retry   time.Duration
	)
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if !hasData {
				name = ""
				retry = 0
				continue
			}
			if name == "" {
				name = DefaultEventName
			}
			return Event{Name: name, Data: data.String(), ID: r.lastID, Retry: retry}, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}
		switch field {
		case "event":
			name = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				r.lastID = value
			}
		case "retry":
			if ms, err := strconv.ParseUint(value, 10, 32); err == nil {
				retry = time.Duration(ms) * time.Millisecond
			}
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// Write encodes the event in wire format. Multi-line data is split across
// data fields.
func Write(w io.Writer, event Event) error {
	if strings.ContainsAny(event.Name, "\r\n") || strings.ContainsAny(event.ID, "\r\n") {
		return errors.New("sse: event name and id must be single-line")
	}
	var b strings.Builder
	if event.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", event.ID)
	}
	if event.Name != "" {
		fmt.Fprintf(&b, "event: %s\n", event.Name)
	}
	if event.Retry > 0 {
		fmt.Fprintf(&b, "retry: %d\n", event.Retry.Milliseconds())
	}
	for _, line := range strings.Split(event.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteComment writes a comment line, used as a keepalive.
func WriteComment(w io.Writer, text string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", strings.ReplaceAll(text, "\n", " "))
	return err
}
