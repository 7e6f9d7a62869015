package schema

import (
	"errors"
	"strings"
	"testing"
)

const validNewMessage = `{
	"conversation": {"id": "C1", "contactId": "ct1", "status": "Active"},
	"message": {
		"id": "m1",
		"conversationId": "C1",
		"direction": "InBound",
		"messageType": "Text",
		"content": "hello",
		"createdAt": "2025-01-02T03:04:05Z"
	}
}`

func TestDecodeEventNewMessage(t *testing.T) {
	event, err := DecodeEvent(EventNewMessage, []byte(validNewMessage))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	msg, ok := event.(NewMessageEvent)
	if !ok {
		t.Fatalf("unexpected event type %T", event)
	}
	if msg.Conversation.ID != "C1" || msg.Message.ID != "m1" {
		t.Fatalf("unexpected payload: %+v", msg)
	}
	if msg.Message.Direction != DirectionInbound {
		t.Fatalf("unexpected direction: %q", msg.Message.Direction)
	}
	if event.EventName() != EventNewMessage {
		t.Fatalf("unexpected name: %s", event.EventName())
	}
}

func TestDecodeEventRejectsMissingField(t *testing.T) {
	raw := strings.Replace(validNewMessage, `"id": "m1",`, "", 1)
	_, err := DecodeEvent(EventNewMessage, []byte(raw))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verr.Event != EventNewMessage {
		t.Fatalf("unexpected event in error: %s", verr.Event)
	}
	found := false
	for _, field := range verr.Fields {
		if field == "message.id" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected message.id in fields, got %v", verr.Fields)
	}
}

func TestDecodeEventNewMessageWithoutContactID(t *testing.T) {
	raw := strings.Replace(validNewMessage, `, "contactId": "ct1"`, "", 1)
	event, err := DecodeEvent(EventNewMessage, []byte(raw))
	if err != nil {
		t.Fatalf("expected NewMessage without contactId to decode, got %v", err)
	}
	if msg := event.(NewMessageEvent); msg.Conversation.ID != "C1" || msg.Conversation.ContactID != "" {
		t.Fatalf("unexpected conversation: %+v", msg.Conversation)
	}
}

func TestDecodeEventNewConversationRequiresContactID(t *testing.T) {
	_, err := DecodeEvent(EventNewConversation, []byte(`{"conversation":{"id":"C2"}}`))
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) != 1 || verr.Fields[0] != "conversation.contactId" {
		t.Fatalf("expected conversation.contactId failure, got %v", err)
	}
	if err := ValidateEvent(NewConversationEvent{Conversation: Conversation{ID: "C2", ContactID: " "}}); err == nil {
		t.Fatalf("expected blank contactId to fail ValidateEvent")
	}
}

func TestDecodeEventRejectsBadDirection(t *testing.T) {
	raw := strings.Replace(validNewMessage, `"InBound"`, `"Sideways"`, 1)
	if _, err := DecodeEvent(EventNewMessage, []byte(raw)); err == nil {
		t.Fatalf("expected direction validation failure")
	}
}

func TestDecodeEventRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeEvent(EventMessageRead, []byte(`{"conversationId":`))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	_, err = DecodeEvent(EventPing, nil)
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for empty payload, got %v", err)
	}
}

func TestDecodeEventUnknownName(t *testing.T) {
	_, err := DecodeEvent("TypingEvent", []byte(`{}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestDecodeEventOptionalPayloads(t *testing.T) {
	cases := map[EventName]string{
		EventSystemReload:           `{}`,
		EventPing:                   `{"timestamp":"2025-01-02T03:04:05Z"}`,
		EventNotificationRead:       `{"notificationId":"n1"}`,
		EventMessageRead:            `{"conversationId":"C1","messageId":"m1"}`,
		EventNewNotification:        `{"notification":{"id":"n1","title":"Campaign finished"}}`,
		EventConversationAssignment: `{"conversationId":"C1","assignedToId":"u2"}`,
		EventConversationClosed:     `{"conversationId":"C1"}`,
		EventNewConversation:        `{"conversation":{"id":"C2","contactId":"ct2"}}`,
		EventMessageAcknowledgement: `{"messageId":"abc","status":"delivered"}`,
	}
	for name, raw := range cases {
		event, err := DecodeEvent(name, []byte(raw))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if event.EventName() != name {
			t.Fatalf("%s: decoded as %s", name, event.EventName())
		}
	}
}

func TestEventNamesAreKnown(t *testing.T) {
	names := EventNames()
	if len(names) != 10 {
		t.Fatalf("expected 10 event names, got %d", len(names))
	}
	for _, name := range names {
		if !name.Known() {
			t.Fatalf("%s should be known", name)
		}
	}
	if EventName("Nope").Known() {
		t.Fatalf("unexpected known name")
	}
}

type countingVisitor struct {
	calls map[EventName]int
}

func (v *countingVisitor) hit(name EventName) {
	if v.calls == nil {
		v.calls = make(map[EventName]int)
	}
	v.calls[name]++
}

func (v *countingVisitor) NewMessage(NewMessageEvent) {
	v.hit(EventNewMessage)
}

func (v *countingVisitor) NotificationRead(NotificationReadEvent) {
	v.hit(EventNotificationRead)
}

func (v *countingVisitor) MessageRead(MessageReadEvent) {
	v.hit(EventMessageRead)
}

func (v *countingVisitor) NewNotification(NewNotificationEvent) {
	v.hit(EventNewNotification)
}

func (v *countingVisitor) SystemReload(SystemReloadEvent) {
	v.hit(EventSystemReload)
}

func (v *countingVisitor) ConversationAssignment(ConversationAssignmentEvent) {
	v.hit(EventConversationAssignment)
}

func (v *countingVisitor) ConversationClosed(ConversationClosedEvent) {
	v.hit(EventConversationClosed)
}

func (v *countingVisitor) NewConversation(NewConversationEvent) {
	v.hit(EventNewConversation)
}

func (v *countingVisitor) MessageAcknowledgement(MessageAcknowledgementEvent) {
	v.hit(EventMessageAcknowledgement)
}

func (v *countingVisitor) Ping(PingEvent) {
	v.hit(EventPing)
}

func TestVisitRoutesEveryVariant(t *testing.T) {
	events := []Event{
		NewMessageEvent{},
		NotificationReadEvent{},
		MessageReadEvent{},
		NewNotificationEvent{},
		SystemReloadEvent{},
		ConversationAssignmentEvent{},
		ConversationClosedEvent{},
		NewConversationEvent{},
		MessageAcknowledgementEvent{},
		PingEvent{},
	}
	v := &countingVisitor{}
	for _, event := range events {
		if err := Visit(event, v); err != nil {
			t.Fatalf("Visit(%T): %v", event, err)
		}
	}
	for _, name := range EventNames() {
		if v.calls[name] != 1 {
			t.Fatalf("expected one call for %s, got %d", name, v.calls[name])
		}
	}
	if err := Visit(nil, v); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent for nil, got %v", err)
	}
}

func TestValidateEvent(t *testing.T) {
	if err := ValidateEvent(ConversationClosedEvent{ConversationID: "C1"}); err != nil {
		t.Fatalf("ValidateEvent: %v", err)
	}
	if err := ValidateEvent(ConversationClosedEvent{}); err == nil {
		t.Fatalf("expected validation error")
	}
}
