package store

import (
	"sync"

	"github.com/wapikit/wapikit-sub000/internal/eventbus"
	"github.com/wapikit/wapikit-sub000/schema"
)

const (
	statusClosed = "Closed"
	statusRead   = "Read"
)

// ConversationView is one conversation and its messages in arrival order.
type ConversationView struct {
	Conversation schema.Conversation
	Messages     []schema.Message
}

type conversationEntry struct {
	conversation schema.Conversation
	messages     []schema.Message
	index        map[schema.MessageID]int
}

// ConversationStore keeps the conversation list in arrival order. Each
// message id appears at most once.
type ConversationStore struct {
	mu      sync.Mutex
	order   []schema.ConversationID
	entries map[schema.ConversationID]*conversationEntry
	bus     *eventbus.Bus
}

// NewConversationStore constructs a ConversationStore.
func NewConversationStore(bus *eventbus.Bus) *ConversationStore {
	return &ConversationStore{
		entries: make(map[schema.ConversationID]*conversationEntry),
		bus:     bus,
	}
}

// ApplyNewMessage appends the message to its conversation, creating the
// conversation on first sight. It reports false for a duplicate message.
func (s *ConversationStore) ApplyNewMessage(event schema.NewMessageEvent) bool {
	s.mu.Lock()
	entry := s.upsertLocked(event.Conversation)
	if _, seen := entry.index[event.Message.ID]; seen {
		s.mu.Unlock()
		return false
	}
	entry.index[event.Message.ID] = len(entry.messages)
	entry.messages = append(entry.messages, event.Message)
	s.mu.Unlock()
	s.bus.Publish(eventbus.Event{Type: eventbus.EventMessage, ConversationID: event.Conversation.ID, MessageID: event.Message.ID})
	return true
}

// ApplyNewConversation adds a conversation or refreshes a known one.
func (s *ConversationStore) ApplyNewConversation(event schema.NewConversationEvent) {
	s.mu.Lock()
	s.upsertLocked(event.Conversation)
	s.mu.Unlock()
	s.publishConversation(event.Conversation.ID)
}

// ApplyAssignment records a new assignee. Unknown conversations are ignored.
func (s *ConversationStore) ApplyAssignment(event schema.ConversationAssignmentEvent) bool {
	return s.updateConversation(event.ConversationID, func(c *schema.Conversation) {
		c.AssignedToID = event.AssignedToID
	})
}

// ApplyClosed marks a conversation closed. Unknown conversations are ignored.
func (s *ConversationStore) ApplyClosed(event schema.ConversationClosedEvent) bool {
	return s.updateConversation(event.ConversationID, func(c *schema.Conversation) {
		c.Status = statusClosed
	})
}

// ApplyMessageRead marks a message read.
func (s *ConversationStore) ApplyMessageRead(event schema.MessageReadEvent) bool {
	return s.updateMessage(event.ConversationID, event.MessageID, statusRead)
}

// ApplyAcknowledgement records the delivery status reported for a message.
func (s *ConversationStore) ApplyAcknowledgement(event schema.MessageAcknowledgementEvent) bool {
	s.mu.Lock()
	var owner schema.ConversationID
	for _, id := range s.order {
		if _, ok := s.entries[id].index[schema.MessageID(event.MessageID)]; ok {
			owner = id
			break
		}
	}
	s.mu.Unlock()
	if owner == "" {
		return false
	}
	return s.updateMessage(owner, schema.MessageID(event.MessageID), event.Status)
}

// Reset drops every conversation.
func (s *ConversationStore) Reset() {
	s.mu.Lock()
	s.order = nil
	s.entries = make(map[schema.ConversationID]*conversationEntry)
	s.mu.Unlock()
	s.bus.Publish(eventbus.Event{Type: eventbus.EventReload})
}

// Snapshot returns copies of every conversation in arrival order.
func (s *ConversationStore) Snapshot() []ConversationView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConversationView, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id].view())
	}
	return out
}

// Conversation returns a copy of one conversation.
func (s *ConversationStore) Conversation(id schema.ConversationID) (ConversationView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return ConversationView{}, false
	}
	return entry.view(), true
}

func (s *ConversationStore) upsertLocked(conversation schema.Conversation) *conversationEntry {
	entry, ok := s.entries[conversation.ID]
	if !ok {
		entry = &conversationEntry{conversation: conversation, index: make(map[schema.MessageID]int)}
		s.entries[conversation.ID] = entry
		s.order = append(s.order, conversation.ID)
		return entry
	}
	mergeConversation(&entry.conversation, conversation)
	return entry
}

func (s *ConversationStore) updateConversation(id schema.ConversationID, fn func(*schema.Conversation)) bool {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if ok {
		fn(&entry.conversation)
	}
	s.mu.Unlock()
	if ok {
		s.publishConversation(id)
	}
	return ok
}

func (s *ConversationStore) updateMessage(conversationID schema.ConversationID, messageID schema.MessageID, status string) bool {
	s.mu.Lock()
	entry, ok := s.entries[conversationID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	idx, ok := entry.index[messageID]
	if ok {
		entry.messages[idx].Status = status
	}
	s.mu.Unlock()
	if ok {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventMessage, ConversationID: conversationID, MessageID: messageID})
	}
	return ok
}

func (s *ConversationStore) publishConversation(id schema.ConversationID) {
	s.bus.Publish(eventbus.Event{Type: eventbus.EventConversation, ConversationID: id})
}

func (e *conversationEntry) view() ConversationView {
	return ConversationView{
		Conversation: e.conversation,
		Messages:     append([]schema.Message(nil), e.messages...),
	}
}

func mergeConversation(dst *schema.Conversation, src schema.Conversation) {
	if src.ContactID != "" {
		dst.ContactID = src.ContactID
	}
	if src.Status != "" {
		dst.Status = src.Status
	}
	if src.AssignedToID != "" {
		dst.AssignedToID = src.AssignedToID
	}
	if !src.CreatedAt.IsZero() {
		dst.CreatedAt = src.CreatedAt
	}
}
