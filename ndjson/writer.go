package ndjson

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
)

// Writer encodes one JSON record per line and flushes after each record when
// the destination supports it.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// Write encodes value followed by a newline.
func (w *Writer) Write(value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	data = append(data, '\n')
	if _, err := w.w.Write(data); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
