package store

import (
	"sync"

	"github.com/wapikit/wapikit-sub000/internal/eventbus"
	"github.com/wapikit/wapikit-sub000/schema"
)

// NotificationView is a notification with its read flag.
type NotificationView struct {
	schema.Notification
	Read bool
}

// NotificationStore keeps dashboard notifications, newest last.
type NotificationStore struct {
	mu    sync.Mutex
	items []NotificationView
	index map[string]int
	bus   *eventbus.Bus
}

// NewNotificationStore constructs a NotificationStore.
func NewNotificationStore(bus *eventbus.Bus) *NotificationStore {
	return &NotificationStore{index: make(map[string]int), bus: bus}
}

// ApplyNew adds a notification unless its id is already known.
func (s *NotificationStore) ApplyNew(event schema.NewNotificationEvent) bool {
	s.mu.Lock()
	if _, ok := s.index[event.Notification.ID]; ok {
		s.mu.Unlock()
		return false
	}
	s.index[event.Notification.ID] = len(s.items)
	s.items = append(s.items, NotificationView{Notification: event.Notification})
	s.mu.Unlock()
	s.bus.Publish(eventbus.Event{Type: eventbus.EventNotification, NotificationID: event.Notification.ID})
	return true
}

// ApplyRead marks a notification read.
func (s *NotificationStore) ApplyRead(event schema.NotificationReadEvent) bool {
	s.mu.Lock()
	idx, ok := s.index[event.NotificationID]
	if ok {
		s.items[idx].Read = true
	}
	s.mu.Unlock()
	if ok {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventNotification, NotificationID: event.NotificationID})
	}
	return ok
}

// Unread counts notifications not yet read.
func (s *NotificationStore) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, item := range s.items {
		if !item.Read {
			count++
		}
	}
	return count
}

// Snapshot returns copies of every notification.
func (s *NotificationStore) Snapshot() []NotificationView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]NotificationView(nil), s.items...)
}

// Reset drops every notification.
func (s *NotificationStore) Reset() {
	s.mu.Lock()
	s.items = nil
	s.index = make(map[string]int)
	s.mu.Unlock()
}
