// Package store holds the authoritative client-side state for one dashboard
// session. Each container is mutated only through its named operations and
// announces changes on an eventbus.
package store

import (
	"sync"
	"time"

	"github.com/wapikit/wapikit-sub000/internal/eventbus"
	"github.com/wapikit/wapikit-sub000/realtime"
	"github.com/wapikit/wapikit-sub000/schema"
)

// ConnectionSnapshot is a copy of the connection state.
type ConnectionSnapshot struct {
	State     schema.ConnectionState
	Retries   int
	Err       error
	Exhausted bool
	Since     time.Time
	LastPing  time.Time
}

// Degraded reports whether the UI should show the connection as lost. Retries
// in progress stay invisible until they are exhausted.
func (s ConnectionSnapshot) Degraded() bool {
	return s.Exhausted
}

// ConnectionStore tracks the push connection state.
type ConnectionStore struct {
	mu   sync.Mutex
	snap ConnectionSnapshot
	bus  *eventbus.Bus
	now  func() time.Time
}

// NewConnectionStore constructs a ConnectionStore.
func NewConnectionStore(bus *eventbus.Bus) *ConnectionStore {
	return &ConnectionStore{
		snap: ConnectionSnapshot{State: schema.StateDisconnected},
		bus:  bus,
		now:  time.Now,
	}
}

// Apply records a state transition reported by the realtime client.
func (s *ConnectionStore) Apply(change realtime.StateChange) {
	s.mu.Lock()
	s.snap.State = change.To
	s.snap.Retries = change.Retries
	s.snap.Err = change.Err
	s.snap.Since = s.now()
	switch {
	case change.Exhausted:
		s.snap.Exhausted = true
	case change.To == schema.StateConnecting && change.Retries == 0:
		s.snap.Exhausted = false
	case change.To == schema.StateConnected:
		s.snap.Exhausted = false
		s.snap.Retries = 0
		s.snap.Err = nil
	}
	s.mu.Unlock()
	s.bus.Publish(eventbus.Event{Type: eventbus.EventConnection, State: change.To})
}

// ApplyPing records a server keepalive.
func (s *ConnectionStore) ApplyPing(event schema.PingEvent) {
	at := event.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	s.mu.Lock()
	s.snap.LastPing = at
	s.mu.Unlock()
}

// Snapshot returns the current connection state.
func (s *ConnectionStore) Snapshot() ConnectionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}
