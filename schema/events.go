package schema

import (
	"encoding/json"
	"time"
)

// EventName identifies a server push event.
type EventName string

const (
	// EventNewMessage carries a new conversation message.
	EventNewMessage EventName = "NewMessage"
	// EventNotificationRead marks a notification as read.
	EventNotificationRead EventName = "NotificationReadEvent"
	// EventMessageRead marks a message as read by the contact.
	EventMessageRead EventName = "MessageReadEvent"
	// EventNewNotification carries a new dashboard notification.
	EventNewNotification EventName = "NewNotificationEvent"
	// EventSystemReload asks the dashboard to reload its data.
	EventSystemReload EventName = "SystemReloadEvent"
	// EventConversationAssignment carries a conversation (re)assignment.
	EventConversationAssignment EventName = "ConversationAssignmentEvent"
	// EventConversationClosed marks a conversation closed.
	EventConversationClosed EventName = "ConversationClosedEvent"
	// EventNewConversation carries a newly opened conversation.
	EventNewConversation EventName = "NewConversationEvent"
	// EventMessageAcknowledgement acknowledges a client message by id.
	EventMessageAcknowledgement EventName = "MessageAcknowledgementEvent"
	// EventPing is a server keepalive.
	EventPing EventName = "PingEvent"
)

// EventNames lists every known event name.
func EventNames() []EventName {
	return []EventName{
		EventNewMessage,
		EventNotificationRead,
		EventMessageRead,
		EventNewNotification,
		EventSystemReload,
		EventConversationAssignment,
		EventConversationClosed,
		EventNewConversation,
		EventMessageAcknowledgement,
		EventPing,
	}
}

// Known reports whether the name belongs to the known event set.
func (n EventName) Known() bool {
	for _, name := range EventNames() {
		if name == n {
			return true
		}
	}
	return false
}

// Event is a validated push event. The set of implementations is closed.
type Event interface {
	EventName() EventName
	isEvent()
}

// NewMessageEvent carries a message appended to a conversation.
type NewMessageEvent struct {
	Conversation Conversation `json:"conversation"`
	Message      Message      `json:"message"`
}

// NotificationReadEvent marks a notification read.
type NotificationReadEvent struct {
	NotificationID string `json:"notificationId" validate:"required"`
}

// MessageReadEvent marks a message read by the contact.
type MessageReadEvent struct {
	ConversationID ConversationID `json:"conversationId" validate:"required"`
	MessageID      MessageID      `json:"messageId" validate:"required"`
}

// NewNotificationEvent carries a dashboard notification.
type NewNotificationEvent struct {
	Notification Notification `json:"notification"`
}

// SystemReloadEvent asks clients to refresh cached state.
type SystemReloadEvent struct {
	Reason string `json:"reason,omitempty"`
}

// ConversationAssignmentEvent carries a conversation assignment.
type ConversationAssignmentEvent struct {
	ConversationID ConversationID `json:"conversationId" validate:"required"`
	AssignedToID   string         `json:"assignedToId" validate:"required"`
}

// ConversationClosedEvent marks a conversation closed.
type ConversationClosedEvent struct {
	ConversationID ConversationID `json:"conversationId" validate:"required"`
}

// NewConversationEvent carries a newly opened conversation.
type NewConversationEvent struct {
	Conversation Conversation `json:"conversation"`
}

// MessageAcknowledgementEvent acknowledges a client message.
type MessageAcknowledgementEvent struct {
	MessageID string `json:"messageId" validate:"required"`
	Status    string `json:"status" validate:"required"`
	Error     string `json:"error,omitempty"`
}

// PingEvent is a keepalive.
type PingEvent struct {
	Timestamp time.Time `json:"timestamp,omitempty"`
}

func (NewMessageEvent) EventName() EventName             { return EventNewMessage }
func (NotificationReadEvent) EventName() EventName       { return EventNotificationRead }
func (MessageReadEvent) EventName() EventName            { return EventMessageRead }
func (NewNotificationEvent) EventName() EventName        { return EventNewNotification }
func (SystemReloadEvent) EventName() EventName           { return EventSystemReload }
func (ConversationAssignmentEvent) EventName() EventName { return EventConversationAssignment }
func (ConversationClosedEvent) EventName() EventName     { return EventConversationClosed }
func (NewConversationEvent) EventName() EventName        { return EventNewConversation }
func (MessageAcknowledgementEvent) EventName() EventName { return EventMessageAcknowledgement }
func (PingEvent) EventName() EventName                   { return EventPing }

func (NewMessageEvent) isEvent()             {}
func (NotificationReadEvent) isEvent()       {}
func (MessageReadEvent) isEvent()            {}
func (NewNotificationEvent) isEvent()        {}
func (SystemReloadEvent) isEvent()           {}
func (ConversationAssignmentEvent) isEvent() {}
func (ConversationClosedEvent) isEvent()     {}
func (NewConversationEvent) isEvent()        {}
func (MessageAcknowledgementEvent) isEvent() {}
func (PingEvent) isEvent()                   {}

// Visitor has one method per event variant. Adding a variant breaks every
// implementation until it handles the new case.
type Visitor interface {
	NewMessage(NewMessageEvent)
	NotificationRead(NotificationReadEvent)
	MessageRead(MessageReadEvent)
	NewNotification(NewNotificationEvent)
	SystemReload(SystemReloadEvent)
	ConversationAssignment(ConversationAssignmentEvent)
	ConversationClosed(ConversationClosedEvent)
	NewConversation(NewConversationEvent)
	MessageAcknowledgement(MessageAcknowledgementEvent)
	Ping(PingEvent)
}

// Visit routes the event to the matching visitor method.
func Visit(event Event, v Visitor) error {
	switch e := event.(type) {
	case NewMessageEvent:
		v.NewMessage(e)
	case NotificationReadEvent:
		v.NotificationRead(e)
	case MessageReadEvent:
		v.MessageRead(e)
	case NewNotificationEvent:
		v.NewNotification(e)
	case SystemReloadEvent:
		v.SystemReload(e)
	case ConversationAssignmentEvent:
		v.ConversationAssignment(e)
	case ConversationClosedEvent:
		v.ConversationClosed(e)
	case NewConversationEvent:
		v.NewConversation(e)
	case MessageAcknowledgementEvent:
		v.MessageAcknowledgement(e)
	case PingEvent:
		v.Ping(e)
	default:
		return ErrUnknownEvent
	}
	return nil
}

// Envelope is the WebSocket frame shape for both directions.
type Envelope struct {
	Event     EventName       `json:"event"`
	Data      json.RawMessage `json:"data"`
	MessageID string          `json:"messageId,omitempty"`
}
