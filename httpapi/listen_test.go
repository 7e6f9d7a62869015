package httpapi

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"pkt.systems/pslog"
)

func TestServeStopsOnContextCancel(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(pslog.ContextWithLogger(context.Background(), quietLogger()))
	srv := NewServer(Config{}, staticAuth{"alice-token": "alice"}, nil)
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, listener, srv.Handler()) }()

	url := "http://" + listener.Addr().String() + "/api/events/publish"
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(2 * shutdownTimeout):
		t.Fatalf("Serve did not return after cancel")
	}
}

func TestListenAndServeReportsBindError(t *testing.T) {
	if err := ListenAndServe(context.Background(), "256.0.0.1:http", http.NotFoundHandler()); err == nil {
		t.Fatalf("expected bind error")
	}
}
