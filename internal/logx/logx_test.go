package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/wapikit/wapikit-sub000/schema"
	"pkt.systems/pslog"
)

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

func TestWithStreamAddsFields(t *testing.T) {
	capture := &logCapture{}
	log := WithStream(newCaptureLogger(capture), "chat", "chat-1")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["stream"] != "chat" {
		t.Fatalf("expected stream field, got %+v", entry)
	}
	if entry["stream_id"] != "chat-1" {
		t.Fatalf("expected stream_id field, got %+v", entry)
	}
}

func TestWithStreamSkipsEmptyID(t *testing.T) {
	capture := &logCapture{}
	log := WithStream(newCaptureLogger(capture), "import", "")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["stream_id"]; ok {
		t.Fatalf("did not expect stream_id for empty id")
	}
}

func TestWithEventAddsFields(t *testing.T) {
	capture := &logCapture{}
	WithEvent(newCaptureLogger(capture), schema.EventMessageRead, "m-1").Info("hello")

	entry := capture.firstEntry(t)
	if entry["event"] != string(schema.EventMessageRead) || entry["message_id"] != "m-1" {
		t.Fatalf("expected event fields, got %+v", entry)
	}
}

func TestWithUserAddsMissingField(t *testing.T) {
	capture := &logCapture{}
	ctx := pslog.ContextWithLogger(context.Background(), newCaptureLogger(capture))
	WithUser(ctx, "alice").Info("hello")

	if entry := capture.firstEntry(t); entry["user"] != "alice" {
		t.Fatalf("expected user field, got %+v", entry)
	}
}

func TestWithUserSkipsDuplicateMarker(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture).With("user", "alice")
	ctx := ContextWithUserLogger(context.Background(), logger, "alice")
	WithUser(ctx, "alice").Info("hello")

	line := bytes.TrimSpace(capture.buf.Bytes())
	if got := bytes.Count(line, []byte(`"user"`)); got != 1 {
		t.Fatalf("expected one user field, got %d in %s", got, line)
	}
}

func TestWithUserAddsFieldForDifferentUser(t *testing.T) {
	capture := &logCapture{}
	ctx := ContextWithUserLogger(context.Background(), newCaptureLogger(capture), "alice")
	WithUser(ctx, "bob").Info("hello")

	if entry := capture.firstEntry(t); entry["user"] != "bob" {
		t.Fatalf("expected bob, got %+v", entry)
	}
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
