package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func payloadValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return field.Name
			}
			return name
		})
		validate.RegisterStructValidation(validateNewConversation, NewConversationEvent{})
	})
	return validate
}

func validateNewConversation(sl validator.StructLevel) {
	event, ok := sl.Current().Interface().(NewConversationEvent)
	if ok && strings.TrimSpace(event.Conversation.ContactID) == "" {
		sl.ReportError(event.Conversation.ContactID, "conversation.contactId", "ContactID", "required", "")
	}
}

// ValidationError reports payload fields that failed their schema.
type ValidationError struct {
	Event  EventName
	Fields []string
	err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "validation error"
	}
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: invalid payload", e.Event)
	}
	return fmt.Sprintf("%s: invalid fields %s", e.Event, strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// DecodeEvent parses and validates a raw payload for the named event.
// It is the only way to obtain an Event from untrusted input.
func DecodeEvent(name EventName, raw []byte) (Event, error) {
	switch name {
	case EventNewMessage:
		return decodeAs[NewMessageEvent](name, raw)
	case EventNotificationRead:
		return decodeAs[NotificationReadEvent](name, raw)
	case EventMessageRead:
		return decodeAs[MessageReadEvent](name, raw)
	case EventNewNotification:
		return decodeAs[NewNotificationEvent](name, raw)
	case EventSystemReload:
		return decodeAs[SystemReloadEvent](name, raw)
	case EventConversationAssignment:
		return decodeAs[ConversationAssignmentEvent](name, raw)
	case EventConversationClosed:
		return decodeAs[ConversationClosedEvent](name, raw)
	case EventNewConversation:
		return decodeAs[NewConversationEvent](name, raw)
	case EventMessageAcknowledgement:
		return decodeAs[MessageAcknowledgementEvent](name, raw)
	case EventPing:
		return decodeAs[PingEvent](name, raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

// ValidateEvent checks an event built in process, e.g. before publishing it.
func ValidateEvent(event Event) error {
	if event == nil {
		return ErrUnknownEvent
	}
	return checkPayload(event.EventName(), event)
}

func decodeAs[T Event](name EventName, raw []byte) (Event, error) {
	var payload T
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: %s: empty payload", ErrInvalidPayload, name)
	}
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, name, err)
	}
	if err := checkPayload(name, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func checkPayload(name EventName, payload any) error {
	err := payloadValidator().Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Event: name, err: err}
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		ns := fe.Namespace()
		if _, rest, ok := strings.Cut(ns, "."); ok {
			ns = rest
		}
		fields = append(fields, ns)
	}
	return &ValidationError{Event: name, Fields: fields, err: err}
}
