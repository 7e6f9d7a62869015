package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/wapikit/wapikit-sub000/internal/logx"
	"github.com/wapikit/wapikit-sub000/internal/sse"
	"github.com/wapikit/wapikit-sub000/schema"
)

const (
	ackDelivered = "delivered"
	ackRejected  = "rejected"
)

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := logx.WithUser(r.Context(), userID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	lastID := parseUint(r.Header.Get("Last-Event-ID"))

	// Subscribe before replaying so nothing published in between is lost.
	ch, unsubscribe, subscribedAt := s.hub.Subscribe(userID)
	defer unsubscribe()

	_ = sse.WriteComment(w, "connected")
	replayCount := 0
	if lastID > 0 {
		for _, event := range s.hub.Replay(userID, lastID) {
			if event.Seq > subscribedAt {
				break
			}
			if err := writeStreamEvent(w, event); err != nil {
				return
			}
			replayCount++
		}
	}
	flusher.Flush()

	ping, stopPing := s.pingTicker()
	defer stopPing()

	notify := r.Context().Done()
	log.Info("http stream opened", "last_id", lastID, "replay", replayCount)
	for {
		select {
		case <-notify:
			log.Info("http stream closed")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := writeStreamEvent(w, event); err != nil {
				log.Debug("http stream write failed", "err", err)
				return
			}
			flusher.Flush()
		case now := <-ping:
			data, _ := json.Marshal(schema.PingEvent{Timestamp: now.UTC()})
			if err := sse.Write(w, sse.Event{Name: string(schema.EventPing), Data: string(data)}); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logx.Ctx(r.Context()).Warn("http websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	log := logx.WithStream(logx.WithUser(r.Context(), userID), "websocket", r.RemoteAddr)

	ch, unsubscribe, _ := s.hub.Subscribe(userID)
	defer unsubscribe()

	group, ctx := errgroup.WithContext(r.Context())
	group.Go(func() error {
		for {
			var env schema.Envelope
			if err := wsjson.Read(ctx, conn, &env); err != nil {
				return err
			}
			if err := s.handleClientFrame(ctx, conn, userID, env); err != nil {
				return err
			}
		}
	})
	group.Go(func() error {
		ping, stopPing := s.pingTicker()
		defer stopPing()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case event, ok := <-ch:
				if !ok {
					return nil
				}
				if err := wsjson.Write(ctx, conn, schema.Envelope{Event: event.Name, Data: event.Data}); err != nil {
					return err
				}
			case now := <-ping:
				data, _ := json.Marshal(schema.PingEvent{Timestamp: now.UTC()})
				if err := wsjson.Write(ctx, conn, schema.Envelope{Event: schema.EventPing, Data: data}); err != nil {
					return err
				}
			}
		}
	})
	log.Info("http websocket opened")
	err = group.Wait()
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
		log.Info("http websocket closed", "status", status)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	log.Warn("http websocket failed", "err", err)
}

// handleClientFrame publishes valid client events to the user's hub and
// acknowledges every frame that carries a message id.
func (s *Server) handleClientFrame(ctx context.Context, conn *websocket.Conn, userID schema.UserID, env schema.Envelope) error {
	log := logx.WithEvent(logx.Ctx(ctx), env.Event, env.MessageID)
	ack := schema.MessageAcknowledgementEvent{MessageID: env.MessageID, Status: ackDelivered}
	event, err := schema.DecodeEvent(env.Event, env.Data)
	switch {
	case err != nil:
		ack.Status = ackRejected
		ack.Error = err.Error()
		log.Warn("http websocket frame rejected", "err", err)
	case event.EventName() == schema.EventPing:
	default:
		if _, err := s.hub.Publish(userID, event); err != nil {
			ack.Status = ackRejected
			ack.Error = err.Error()
		}
	}
	if env.MessageID == "" {
		return nil
	}
	data, err := json.Marshal(ack)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, conn, schema.Envelope{Event: schema.EventMessageAcknowledgement, Data: data})
}

// pingTicker returns a channel of keepalive ticks, nil when pings are off.
func (s *Server) pingTicker() (<-chan time.Time, func()) {
	if s.cfg.PingInterval <= 0 {
		return nil, func() {}
	}
	ticker := time.NewTicker(s.cfg.PingInterval)
	return ticker.C, ticker.Stop
}

func writeStreamEvent(w http.ResponseWriter, event StreamEvent) error {
	return sse.Write(w, sse.Event{
		ID:   event.ID(),
		Name: string(event.Name),
		Data: string(event.Data),
	})
}
