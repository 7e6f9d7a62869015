package realtime

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/wapikit/wapikit-sub000/internal/sse"
	"github.com/wapikit/wapikit-sub000/schema"
)

func TestSSEDialerResumesWithLastEventID(t *testing.T) {
	var (
		mu       sync.Mutex
		requests int
		resumeID string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/events" || r.URL.Query().Get("token") != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		mu.Lock()
		requests++
		n := requests
		if n == 2 {
			resumeID = r.Header.Get("Last-Event-ID")
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		if n == 1 {
			_ = sse.WriteComment(w, "keepalive")
			_ = sse.Write(w, sse.Event{ID: "1", Name: string(schema.EventConversationClosed), Data: `{"conversationId":"C1"}`})
			flusher.Flush()
			return
		}
		_ = sse.Write(w, sse.Event{ID: "2", Name: string(schema.EventConversationClosed), Data: `{"conversationId":"C2"}`})
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	dialer := &SSEDialer{BaseURL: server.URL, HTTPClient: server.Client(), Logger: testLogger(io.Discard)}
	client, err := New(Config{Dialer: dialer, RetryInterval: time.Millisecond, Logger: testLogger(io.Discard)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Disconnect()

	got := make(chan schema.ConversationID, 4)
	Handle(client, func(e schema.ConversationClosedEvent) { got <- e.ConversationID })
	if err := client.Connect(Credentials{Token: "secret"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	for _, want := range []schema.ConversationID{"C1", "C2"} {
		select {
		case id := <-got:
			if id != want {
				t.Fatalf("expected %s, got %s", want, id)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if resumeID != "1" {
		t.Fatalf("expected Last-Event-ID 1 on reconnect, got %q", resumeID)
	}
	if dialer.LastEventID() != "2" {
		t.Fatalf("expected last id 2, got %q", dialer.LastEventID())
	}
}

func TestSSEDialerRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer server.Close()

	dialer := &SSEDialer{BaseURL: server.URL, HTTPClient: server.Client()}
	_, err := dialer.Dial(context.Background(), Credentials{Token: "nope"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusUnauthorized || statusErr.Body != "bad token" {
		t.Fatalf("unexpected status error: %+v", statusErr)
	}
}

func TestSSEDialerRequiresEventStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, "{}")
	}))
	defer server.Close()

	dialer := &SSEDialer{BaseURL: server.URL, HTTPClient: server.Client()}
	if _, err := dialer.Dial(context.Background(), Credentials{Token: "t"}); err == nil {
		t.Fatalf("expected content type error")
	}
}

func TestEndpointURL(t *testing.T) {
	got, err := endpointURL("http://localhost:8080/base", "", DefaultEventsPath, "a b")
	if err != nil {
		t.Fatalf("endpointURL: %v", err)
	}
	if got != "http://localhost:8080/base/api/events?token=a+b" {
		t.Fatalf("unexpected url: %s", got)
	}
	if _, err := endpointURL("", "", DefaultEventsPath, "t"); err == nil {
		t.Fatalf("expected error for empty base url")
	}
	ws, err := websocketScheme("https://example.com/api/ws")
	if err != nil || ws != "wss://example.com/api/ws" {
		t.Fatalf("unexpected websocket url %q (%v)", ws, err)
	}
}

// ackServer echoes an acknowledgement for every frame carrying a message id
// unless silent is set.
func ackServer(t *testing.T, silent bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		hello := schema.Envelope{Event: schema.EventNewConversation, Data: []byte(`{"conversation":{"id":"C9","contactId":"ct9"}}`)}
		if err := wsjson.Write(ctx, conn, hello); err != nil {
			return
		}
		for {
			var env schema.Envelope
			if err := wsjson.Read(ctx, conn, &env); err != nil {
				return
			}
			if silent || env.MessageID == "" {
				continue
			}
			ack := schema.Envelope{
				Event: schema.EventMessageAcknowledgement,
				Data:  []byte(`{"messageId":"` + env.MessageID + `","status":"delivered"}`),
			}
			if err := wsjson.Write(ctx, conn, ack); err != nil {
				return
			}
		}
	}))
}

func newTestWSClient(t *testing.T, server *httptest.Server, ackTimeout time.Duration) *WSClient {
	t.Helper()
	client, err := NewWSClient(WSConfig{
		BaseURL:       server.URL,
		HTTPClient:    server.Client(),
		RetryInterval: time.Millisecond,
		MaxRetries:    1,
		AckTimeout:    ackTimeout,
		Logger:        testLogger(io.Discard),
	})
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	return client
}

func TestWSClientSendAndAcknowledge(t *testing.T) {
	server := ackServer(t, false)
	defer server.Close()
	client := newTestWSClient(t, server, time.Second)
	defer client.Disconnect()

	conversations := make(chan schema.ConversationID, 1)
	Handle(client.Client, func(e schema.NewConversationEvent) { conversations <- e.Conversation.ID })
	if _, err := client.Send(context.Background(), schema.EventPing, schema.PingEvent{}); !errors.Is(err, schema.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before connect, got %v", err)
	}
	if err := client.Connect(Credentials{Token: "secret"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case id := <-conversations:
		if id != "C9" {
			t.Fatalf("unexpected conversation %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event over websocket")
	}
	ack, err := client.SendAndWait(context.Background(), schema.EventMessageRead, schema.MessageReadEvent{ConversationID: "C9", MessageID: "m1"})
	if err != nil {
		t.Fatalf("SendAndWait: %v", err)
	}
	if ack.Status != "delivered" || ack.MessageID == "" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if pending := client.Pending(); len(pending) != 0 {
		t.Fatalf("expected no pending sends, got %v", pending)
	}
}

func TestWSClientDisconnectFailsPending(t *testing.T) {
	server := ackServer(t, true)
	defer server.Close()
	client := newTestWSClient(t, server, 5*time.Second)
	defer client.Disconnect()

	if err := client.Connect(Credentials{Token: "secret"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, "connected", func() bool { return client.State() == schema.StateConnected })
	id, err := client.Send(context.Background(), schema.EventPing, schema.PingEvent{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if pending := client.Pending(); len(pending) != 1 || pending[0] != id {
		t.Fatalf("expected %s pending, got %v", id, pending)
	}
	result := make(chan error, 1)
	go func() {
		_, err := client.Await(context.Background(), id)
		result <- err
	}()
	time.Sleep(10 * time.Millisecond)
	client.Disconnect()
	select {
	case err := <-result:
		if !errors.Is(err, schema.ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Await did not return after disconnect")
	}
}

func TestWSClientAckTimeout(t *testing.T) {
	server := ackServer(t, true)
	defer server.Close()
	client := newTestWSClient(t, server, 20*time.Millisecond)
	defer client.Disconnect()

	if err := client.Connect(Credentials{Token: "secret"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, "connected", func() bool { return client.State() == schema.StateConnected })
	_, err := client.SendAndWait(context.Background(), schema.EventPing, schema.PingEvent{})
	if !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("expected ErrAckTimeout, got %v", err)
	}
	if pending := client.Pending(); len(pending) != 0 {
		t.Fatalf("expected timed out send to be forgotten, got %v", pending)
	}
}
