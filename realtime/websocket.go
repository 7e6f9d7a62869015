package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/wapikit/wapikit-sub000/schema"
	"pkt.systems/pslog"
)

const (
	// DefaultWSPath is the WebSocket endpoint served by the backend.
	DefaultWSPath = "/api/ws"
	// DefaultAckTimeout bounds how long Await waits for an acknowledgement.
	DefaultAckTimeout = 10 * time.Second

	wsReadLimit = 1 << 20
)

// ErrAckTimeout indicates no acknowledgement arrived in time.
var ErrAckTimeout = errors.New("acknowledgement timed out")

// WSDialer opens WebSocket transports carrying schema.Envelope frames.
type WSDialer struct {
	BaseURL    string
	Path       string
	HTTPClient *http.Client
	Logger     pslog.Logger
}

// Dial implements Dialer.
func (d *WSDialer) Dial(ctx context.Context, creds Credentials) (Stream, error) {
	target, err := endpointURL(d.BaseURL, d.Path, DefaultWSPath, creds.Token)
	if err != nil {
		return nil, err
	}
	target, err = websocketScheme(target)
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			return nil, &StatusError{StatusCode: resp.StatusCode}
		}
		return nil, err
	}
	conn.SetReadLimit(wsReadLimit)
	logger := d.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	return &wsStream{conn: conn, log: logger}, nil
}

func websocketScheme(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("realtime: unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

type wsStream struct {
	conn *websocket.Conn
	log  pslog.Logger
}

func (s *wsStream) Next(ctx context.Context) (Message, error) {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return Message{}, err
		}
		if typ != websocket.MessageText {
			s.log.Trace("realtime binary frame ignored", "bytes", len(data))
			continue
		}
		var env schema.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Warn("realtime frame dropped", "preview", previewText(string(data), previewLimit), "err", err)
			continue
		}
		return Message{Name: env.Event, Data: env.Data, ID: env.MessageID}, nil
	}
}

func (s *wsStream) send(ctx context.Context, env schema.Envelope) error {
	return wsjson.Write(ctx, s.conn, env)
}

func (s *wsStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

// WSConfig configures a WSClient.
type WSConfig struct {
	BaseURL       string
	Path          string
	HTTPClient    *http.Client
	RetryInterval time.Duration
	MaxRetries    int
	AckTimeout    time.Duration
	Logger        pslog.Logger
}

// WSClient is a Client over WebSocket that can also send events and track
// their acknowledgements.
type WSClient struct {
	*Client
	ackTimeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingAck
}

type pendingAck struct {
	ch    chan schema.MessageAcknowledgementEvent
	acked bool
}

// NewWSClient constructs a WebSocket client.
func NewWSClient(cfg WSConfig) (*WSClient, error) {
	dialer := &WSDialer{BaseURL: cfg.BaseURL, Path: cfg.Path, HTTPClient: cfg.HTTPClient, Logger: cfg.Logger}
	client, err := New(Config{
		Dialer:        dialer,
		RetryInterval: cfg.RetryInterval,
		MaxRetries:    cfg.MaxRetries,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	ackTimeout := cfg.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	ws := &WSClient{
		Client:     client,
		ackTimeout: ackTimeout,
		pending:    make(map[string]*pendingAck),
	}
	client.setTap(ws.observe)
	return ws, nil
}

// Send writes an event and registers it for acknowledgement tracking. It
// returns the generated message id.
func (w *WSClient) Send(ctx context.Context, name schema.EventName, data any) (string, error) {
	stream, ok := w.currentStream().(*wsStream)
	if !ok || stream == nil {
		return "", schema.ErrNotConnected
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", name, err)
	}
	id := uuid.NewString()
	w.mu.Lock()
	w.pending[id] = &pendingAck{ch: make(chan schema.MessageAcknowledgementEvent, 1)}
	w.mu.Unlock()
	if err := stream.send(ctx, schema.Envelope{Event: name, Data: raw, MessageID: id}); err != nil {
		w.forget(id)
		return "", err
	}
	w.log.Debug("realtime event sent", "event", name, "message_id", id)
	return id, nil
}

// Await blocks until the acknowledgement for id arrives. An acknowledgement
// received before Await is called is returned immediately.
func (w *WSClient) Await(ctx context.Context, id string) (schema.MessageAcknowledgementEvent, error) {
	w.mu.Lock()
	entry, ok := w.pending[id]
	w.mu.Unlock()
	if !ok {
		return schema.MessageAcknowledgementEvent{}, fmt.Errorf("no pending message %q", id)
	}
	timer := time.NewTimer(w.ackTimeout)
	defer timer.Stop()
	select {
	case ack, ok := <-entry.ch:
		w.forget(id)
		if !ok {
			return schema.MessageAcknowledgementEvent{}, schema.ErrClosed
		}
		return ack, nil
	case <-timer.C:
		w.forget(id)
		return schema.MessageAcknowledgementEvent{}, fmt.Errorf("%w: %s", ErrAckTimeout, id)
	case <-ctx.Done():
		w.forget(id)
		return schema.MessageAcknowledgementEvent{}, ctx.Err()
	}
}

// SendAndWait sends an event and waits for its acknowledgement.
func (w *WSClient) SendAndWait(ctx context.Context, name schema.EventName, data any) (schema.MessageAcknowledgementEvent, error) {
	id, err := w.Send(ctx, name, data)
	if err != nil {
		return schema.MessageAcknowledgementEvent{}, err
	}
	return w.Await(ctx, id)
}

// Pending lists message ids still waiting for acknowledgement.
func (w *WSClient) Pending() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.pending))
	for id, entry := range w.pending {
		if !entry.acked {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Disconnect tears down the connection and fails every unacknowledged send
// with schema.ErrClosed.
func (w *WSClient) Disconnect() {
	w.Client.Disconnect()
	w.mu.Lock()
	for id, entry := range w.pending {
		if !entry.acked {
			close(entry.ch)
			delete(w.pending, id)
		}
	}
	w.mu.Unlock()
}

func (w *WSClient) observe(event schema.Event) {
	ack, ok := event.(schema.MessageAcknowledgementEvent)
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	entry, ok := w.pending[ack.MessageID]
	if !ok || entry.acked {
		w.log.Debug("realtime acknowledgement without pending message", "message_id", ack.MessageID)
		return
	}
	entry.acked = true
	entry.ch <- ack
}

func (w *WSClient) forget(id string) {
	w.mu.Lock()
	delete(w.pending, id)
	w.mu.Unlock()
}
