package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/wapikit/wapikit-sub000/internal/sse"
	"github.com/wapikit/wapikit-sub000/schema"
	"pkt.systems/pslog"
)

// DefaultEventsPath is the push endpoint served by the backend.
const DefaultEventsPath = "/api/events"

// StatusError reports a handshake rejected by the server.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("realtime handshake failed: %s", http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("realtime handshake failed: %s: %s", http.StatusText(e.StatusCode), e.Body)
}

// SSEDialer opens server-sent event streams. The id of the last received
// event is sent as Last-Event-ID on the next dial so the server can replay
// what was missed.
type SSEDialer struct {
	BaseURL    string
	Path       string
	HTTPClient *http.Client
	Logger     pslog.Logger

	mu     sync.Mutex
	lastID string
}

// LastEventID returns the id of the most recent event received.
func (d *SSEDialer) LastEventID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastID
}

func (d *SSEDialer) setLastID(id string) {
	if id == "" {
		return
	}
	d.mu.Lock()
	d.lastID = id
	d.mu.Unlock()
}

// Dial implements Dialer.
func (d *SSEDialer) Dial(ctx context.Context, creds Credentials) (Stream, error) {
	target, err := endpointURL(d.BaseURL, d.Path, DefaultEventsPath, creds.Token)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if id := d.LastEventID(); id != "" {
		req.Header.Set("Last-Event-ID", id)
	}
	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, previewLimit))
		_ = resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err != nil || mediaType != "text/event-stream" {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("realtime: unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	logger := d.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	return &sseStream{body: resp.Body, reader: sse.NewReader(resp.Body), dialer: d, log: logger}, nil
}

type sseStream struct {
	body   io.ReadCloser
	reader *sse.Reader
	dialer *SSEDialer
	log    pslog.Logger
}

func (s *sseStream) Next(ctx context.Context) (Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		event, err := s.reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Message{}, io.ErrUnexpectedEOF
			}
			return Message{}, err
		}
		s.dialer.setLastID(event.ID)
		if event.Retry > 0 {
			s.log.Debug("realtime server retry hint", "retry", event.Retry.String())
		}
		if event.Name == sse.DefaultEventName {
			s.log.Trace("realtime unnamed event ignored", "id", event.ID)
			continue
		}
		return Message{Name: schema.EventName(event.Name), Data: []byte(event.Data), ID: event.ID}, nil
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

func endpointURL(base, path, fallback, token string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", errors.New("realtime: base url is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("realtime: parse base url: %w", err)
	}
	if path == "" {
		path = fallback
	}
	u = u.JoinPath(path)
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
