package store

import (
	"context"

	"github.com/wapikit/wapikit-sub000/internal/eventbus"
	"github.com/wapikit/wapikit-sub000/realtime"
	"github.com/wapikit/wapikit-sub000/schema"
	"pkt.systems/pslog"
)

// Stores groups the containers for one session.
type Stores struct {
	Bus           *eventbus.Bus
	Connection    *ConnectionStore
	Conversations *ConversationStore
	Notifications *NotificationStore
	Chat          *ChatStore
}

// New constructs every store on a shared bus.
func New(bus *eventbus.Bus) *Stores {
	if bus == nil {
		bus = eventbus.New(nil)
	}
	return &Stores{
		Bus:           bus,
		Connection:    NewConnectionStore(bus),
		Conversations: NewConversationStore(bus),
		Notifications: NewNotificationStore(bus),
		Chat:          NewChatStore(bus),
	}
}

// Bind routes every push event and state change from the client into the
// stores. The returned function removes the event handlers and the state
// observer.
func Bind(client *realtime.Client, stores *Stores, logger pslog.Logger) func() {
	handle := NewRouter(stores, logger)
	removeObserver := client.OnStateChange(stores.Connection.Apply)
	for _, name := range schema.EventNames() {
		client.OnEvent(name, handle)
	}
	return func() {
		removeObserver()
		for _, name := range schema.EventNames() {
			client.OnEvent(name, nil)
		}
	}
}

// NewRouter returns a handler applying any event to the matching store, for
// callers that compose their own per-event handlers.
func NewRouter(stores *Stores, logger pslog.Logger) realtime.Handler {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	r := &router{stores: stores, log: logger}
	return r.handle
}

// router applies each event variant to its store.
type router struct {
	stores *Stores
	log    pslog.Logger
}

var _ schema.Visitor = (*router)(nil)

func (r *router) handle(event schema.Event) {
	if err := schema.Visit(event, r); err != nil {
		r.log.Warn("store event ignored", "event", event.EventName(), "err", err)
	}
}

func (r *router) NewMessage(e schema.NewMessageEvent) {
	if !r.stores.Conversations.ApplyNewMessage(e) {
		r.log.Debug("store duplicate message ignored", "conversation", e.Conversation.ID, "message", e.Message.ID)
	}
}

func (r *router) NotificationRead(e schema.NotificationReadEvent) {
	r.stores.Notifications.ApplyRead(e)
}

func (r *router) MessageRead(e schema.MessageReadEvent) {
	r.stores.Conversations.ApplyMessageRead(e)
}

func (r *router) NewNotification(e schema.NewNotificationEvent) {
	r.stores.Notifications.ApplyNew(e)
}

func (r *router) SystemReload(e schema.SystemReloadEvent) {
	r.log.Info("store reload requested", "reason", e.Reason)
	r.stores.Conversations.Reset()
	r.stores.Notifications.Reset()
}

func (r *router) ConversationAssignment(e schema.ConversationAssignmentEvent) {
	if !r.stores.Conversations.ApplyAssignment(e) {
		r.log.Debug("store assignment for unknown conversation", "conversation", e.ConversationID)
	}
}

func (r *router) ConversationClosed(e schema.ConversationClosedEvent) {
	r.stores.Conversations.ApplyClosed(e)
}

func (r *router) NewConversation(e schema.NewConversationEvent) {
	r.stores.Conversations.ApplyNewConversation(e)
}

func (r *router) MessageAcknowledgement(e schema.MessageAcknowledgementEvent) {
	r.stores.Conversations.ApplyAcknowledgement(e)
}

func (r *router) Ping(e schema.PingEvent) {
	r.stores.Connection.ApplyPing(e)
}
