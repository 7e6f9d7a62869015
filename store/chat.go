package store

import (
	"context"
	"sync"

	"github.com/wapikit/wapikit-sub000/apiclient"
	"github.com/wapikit/wapikit-sub000/internal/eventbus"
)

// ChatRole identifies the author of a chat message.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatMessage is one turn of an AI chat.
type ChatMessage struct {
	ID   string
	Role ChatRole
	Text string
	Done bool
	Err  error
}

// ChatStore accumulates AI chat turns per chat id.
type ChatStore struct {
	mu    sync.Mutex
	chats map[string][]ChatMessage
	bus   *eventbus.Bus
}

// NewChatStore constructs a ChatStore.
func NewChatStore(bus *eventbus.Bus) *ChatStore {
	return &ChatStore{chats: make(map[string][]ChatMessage), bus: bus}
}

// AppendUser records a user turn and opens an empty assistant turn.
func (s *ChatStore) AppendUser(chatID, text string) {
	s.mu.Lock()
	s.chats[chatID] = append(s.chats[chatID],
		ChatMessage{Role: ChatRoleUser, Text: text, Done: true},
		ChatMessage{Role: ChatRoleAssistant},
	)
	s.mu.Unlock()
	s.bus.Publish(eventbus.Event{Type: eventbus.EventChat, ChatID: chatID})
}

// AppendDelta extends the open assistant turn.
func (s *ChatStore) AppendDelta(chatID, delta string) {
	s.mu.Lock()
	msg := s.openLocked(chatID)
	msg.Text += delta
	s.mu.Unlock()
	s.bus.Publish(eventbus.Event{Type: eventbus.EventChat, ChatID: chatID, Text: delta})
}

// Finish closes the open assistant turn with the stream result.
func (s *ChatStore) Finish(chatID string, result apiclient.ChatResult, err error) {
	s.mu.Lock()
	msg := s.openLocked(chatID)
	msg.ID = result.AssistantMessageID
	msg.Text = result.Text
	msg.Done = true
	msg.Err = err
	msgs := s.chats[chatID]
	if n := len(msgs); n >= 2 && msgs[n-2].Role == ChatRoleUser && msgs[n-2].ID == "" {
		msgs[n-2].ID = result.UserMessageID
	}
	s.mu.Unlock()
	s.bus.Publish(eventbus.Event{Type: eventbus.EventChat, ChatID: chatID})
}

// Stream sends a user turn through the API and records the reply as it
// streams in.
func (s *ChatStore) Stream(ctx context.Context, client *apiclient.Client, req apiclient.ChatRequest) (apiclient.ChatResult, error) {
	s.AppendUser(req.ChatID, req.Message)
	result, err := client.StreamChat(ctx, req, func(delta string) {
		s.AppendDelta(req.ChatID, delta)
	})
	s.Finish(req.ChatID, result, err)
	return result, err
}

// Messages returns a copy of the chat history.
func (s *ChatStore) Messages(chatID string) []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatMessage(nil), s.chats[chatID]...)
}

// openLocked returns the trailing assistant turn, opening one if needed.
func (s *ChatStore) openLocked(chatID string) *ChatMessage {
	msgs := s.chats[chatID]
	if n := len(msgs); n > 0 && msgs[n-1].Role == ChatRoleAssistant && !msgs[n-1].Done {
		return &msgs[n-1]
	}
	s.chats[chatID] = append(msgs, ChatMessage{Role: ChatRoleAssistant})
	msgs = s.chats[chatID]
	return &msgs[len(msgs)-1]
}
