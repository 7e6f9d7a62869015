package schema

import (
	"encoding/json"
	"time"
)

// UserID identifies an authenticated dashboard user.
type UserID string

// ConversationID identifies a live chat conversation.
type ConversationID string

// MessageID identifies a message within a conversation.
type MessageID string

// MessageDirection tells whether a message was received or sent by the business.
type MessageDirection string

const (
	// DirectionInbound is a message sent by the contact.
	DirectionInbound MessageDirection = "InBound"
	// DirectionOutbound is a message sent by the business.
	DirectionOutbound MessageDirection = "OutBound"
)

// Conversation is the conversation summary carried by push events. ContactID
// is only required when the conversation is announced by NewConversationEvent.
type Conversation struct {
	ID           ConversationID `json:"id" validate:"required"`
	ContactID    string         `json:"contactId,omitempty"`
	Status       string         `json:"status,omitempty"`
	AssignedToID string         `json:"assignedToId,omitempty"`
	CreatedAt    time.Time      `json:"createdAt,omitempty"`
}

// Message is a single conversation message.
type Message struct {
	ID             MessageID        `json:"id" validate:"required"`
	ConversationID ConversationID   `json:"conversationId" validate:"required"`
	Direction      MessageDirection `json:"direction" validate:"required,oneof=InBound OutBound"`
	MessageType    string           `json:"messageType" validate:"required"`
	Status         string           `json:"status,omitempty"`
	Content        string           `json:"content,omitempty"`
	MessageData    json.RawMessage  `json:"messageData,omitempty"`
	CreatedAt      time.Time        `json:"createdAt" validate:"required"`
}

// Notification is a dashboard notification.
type Notification struct {
	ID          string    `json:"id" validate:"required"`
	Title       string    `json:"title" validate:"required"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"type,omitempty"`
	CTAURL      string    `json:"ctaUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}
