package eventbus

import (
	"context"
	"sync"

	"github.com/wapikit/wapikit-sub000/schema"
	"pkt.systems/pslog"
)

// EventType identifies what changed.
type EventType string

const (
	// EventConnection carries connection state updates.
	EventConnection EventType = "connection"
	// EventConversation carries conversation list updates.
	EventConversation EventType = "conversation"
	// EventMessage carries a message appended or updated in a conversation.
	EventMessage EventType = "message"
	// EventNotification carries notification updates.
	EventNotification EventType = "notification"
	// EventChat carries streamed AI chat updates.
	EventChat EventType = "chat"
	// EventReload signals that cached state was cleared.
	EventReload EventType = "reload"
)

// Event describes a state change published by a store.
type Event struct {
	Type           EventType
	State          schema.ConnectionState
	ConversationID schema.ConversationID
	MessageID      schema.MessageID
	NotificationID string
	ChatID         string
	Text           string
}

// Bus fanouts store changes to subscribers.
type Bus struct {
	mu    sync.Mutex
	subs  map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber and returns a channel + cancel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()
	b.log.Debug("eventbus subscribe", "subs", count)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
			b.log.Debug("eventbus unsubscribe")
		})
	}
}

// Publish delivers the event to every subscriber without blocking. Events
// for subscribers whose buffer is full are dropped.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) == 0 {
		return
	}
	dropped := 0
	for sub := range b.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		b.log.Trace("eventbus dropped", "type", event.Type, "count", dropped)
	}
}
