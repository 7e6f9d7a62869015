package httpapi

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/wapikit/wapikit-sub000/internal/logx"
	"github.com/wapikit/wapikit-sub000/schema"
)

// StreamEvent is one named push event with its per-user sequence id.
type StreamEvent struct {
	Seq       uint64           `json:"seq"`
	Name      schema.EventName `json:"event"`
	Data      json.RawMessage  `json:"data"`
	Timestamp time.Time        `json:"timestamp"`
}

// ID renders the sequence as an SSE event id.
func (e StreamEvent) ID() string {
	return strconv.FormatUint(e.Seq, 10)
}

// Hub broadcasts events per user and keeps a bounded history for replay.
type Hub struct {
	mu          sync.Mutex
	users       map[schema.UserID]*userHub
	historySize int
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int) *Hub {
	if historySize <= 0 {
		historySize = 256
	}
	return &Hub{
		users:       make(map[schema.UserID]*userHub),
		historySize: historySize,
	}
}

// Publish validates the event and broadcasts it to every subscriber of userID.
func (h *Hub) Publish(userID schema.UserID, event schema.Event) (StreamEvent, error) {
	if err := schema.ValidateEvent(event); err != nil {
		return StreamEvent{}, err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return StreamEvent{}, err
	}
	log := logx.WithUser(context.Background(), userID)
	log.Trace("hub publish", "event", event.EventName(), "bytes", len(data))
	return h.publish(userID, StreamEvent{
		Name:      event.EventName(),
		Data:      data,
		Timestamp: time.Now(),
	}), nil
}

// Subscribe registers a subscriber for a user.
func (h *Hub) Subscribe(userID schema.UserID) (<-chan StreamEvent, func(), uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	uh := h.getOrCreateUserHubLocked(userID)
	ch := make(chan StreamEvent, 256)
	uh.subs[ch] = struct{}{}
	seq := uh.seq
	log := logx.WithUser(context.Background(), userID)
	log.Info("hub subscribe", "subs", len(uh.subs), "history", len(uh.history))
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(uh.subs, ch)
			close(ch)
			remaining := len(uh.subs)
			h.mu.Unlock()
			log.Info("hub unsubscribe", "subs", remaining)
		})
	}
	return ch, unsub, seq
}

// Subscribers reports the live subscriber count for a user.
func (h *Hub) Subscribers(userID schema.UserID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if uh := h.users[userID]; uh != nil {
		return len(uh.subs)
	}
	return 0
}

// Replay returns events after the provided seq.
func (h *Hub) Replay(userID schema.UserID, after uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	uh := h.users[userID]
	if uh == nil {
		return nil
	}
	events := make([]StreamEvent, 0, len(uh.history))
	for _, event := range uh.history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	logx.WithUser(context.Background(), userID).Debug("hub replay", "after", after, "count", len(events))
	return events
}

func (h *Hub) publish(userID schema.UserID, event StreamEvent) StreamEvent {
	h.mu.Lock()
	uh := h.getOrCreateUserHubLocked(userID)
	uh.seq++
	event.Seq = uh.seq
	uh.history = append(uh.history, event)
	if len(uh.history) > h.historySize {
		uh.history = uh.history[len(uh.history)-h.historySize:]
	}
	dropped := 0
	for sub := range uh.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	h.mu.Unlock()

	if dropped > 0 {
		log := logx.WithEvent(logx.WithUser(context.Background(), userID), event.Name, "")
		log.Warn("hub event dropped", "seq", event.Seq, "dropped", dropped)
	}
	return event
}

func (h *Hub) getOrCreateUserHubLocked(userID schema.UserID) *userHub {
	uh := h.users[userID]
	if uh == nil {
		uh = &userHub{
			subs: make(map[chan StreamEvent]struct{}),
		}
		h.users[userID] = uh
	}
	return uh
}

type userHub struct {
	seq     uint64
	history []StreamEvent
	subs    map[chan StreamEvent]struct{}
}
