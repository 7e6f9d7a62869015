// Package realtime keeps a single live push connection to the backend,
// rebuilds it after transport failures, and dispatches validated events to
// registered handlers in arrival order.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/looplab/fsm"

	"github.com/wapikit/wapikit-sub000/schema"
	"pkt.systems/pslog"
)

const (
	// DefaultRetryInterval is the fixed delay between a failure and the next attempt.
	DefaultRetryInterval = 5 * time.Second
	// DefaultMaxRetries is the number of reconnect attempts after consecutive failures.
	DefaultMaxRetries = 5

	previewLimit = 200
)

const (
	eventDial  = "dial"
	eventOpen  = "open"
	eventFail  = "fail"
	eventClose = "close"
)

// Credentials authenticate a push connection.
type Credentials struct {
	Token string
}

// Message is a raw named event read from a transport, before validation.
type Message struct {
	Name schema.EventName
	Data []byte
	ID   string
}

// Stream is an open transport. Next blocks until a message arrives, the
// transport fails, or ctx is done.
type Stream interface {
	Next(ctx context.Context) (Message, error)
	Close() error
}

// Dialer opens a transport. Dial returns once the transport is open.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Stream, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, creds Credentials) (Stream, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, creds Credentials) (Stream, error) {
	return f(ctx, creds)
}

// Handler receives a validated event.
type Handler func(schema.Event)

// StateChange describes a connection state transition.
type StateChange struct {
	From      schema.ConnectionState
	To        schema.ConnectionState
	Retries   int
	Err       error
	Exhausted bool
}

// Config configures a Client.
type Config struct {
	Dialer        Dialer
	RetryInterval time.Duration
	// MaxRetries bounds reconnect attempts. Zero selects DefaultMaxRetries and
	// a negative value disables reconnects.
	MaxRetries int
	// Backoff overrides the fixed RetryInterval policy.
	Backoff backoff.BackOff
	Logger  pslog.Logger
}

// Client owns one logical push connection.
type Client struct {
	dialer     Dialer
	backoff    backoff.BackOff
	maxRetries int
	log        pslog.Logger

	mu        sync.Mutex
	machine   *fsm.FSM
	creds     Credentials
	gen       uint64
	retries   int
	stream    Stream
	cancel    context.CancelFunc
	timer     *time.Timer
	lastErr   error
	exhausted chan struct{}
	changes   []StateChange

	handlersMu sync.RWMutex
	handlers   map[schema.EventName]Handler
	tap        func(schema.Event)

	notifyMu sync.Mutex

	observersMu  sync.Mutex
	observers    []observer
	nextObserver uint64
}

type observer struct {
	id uint64
	fn func(StateChange)
}

// New constructs a Client in the Disconnected state.
func New(cfg Config) (*Client, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("realtime: dialer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	policy := cfg.Backoff
	if policy == nil {
		policy = backoff.NewConstantBackOff(interval)
	}
	maxRetries := cfg.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = DefaultMaxRetries
	case maxRetries < 0:
		maxRetries = 0
	}
	return &Client{
		dialer:     cfg.Dialer,
		backoff:    policy,
		maxRetries: maxRetries,
		log:        logger,
		machine:    newMachine(),
		exhausted:  make(chan struct{}),
		handlers:   make(map[schema.EventName]Handler),
	}, nil
}

func newMachine() *fsm.FSM {
	disconnected := string(schema.StateDisconnected)
	connecting := string(schema.StateConnecting)
	connected := string(schema.StateConnected)
	return fsm.NewFSM(
		disconnected,
		fsm.Events{
			{Name: eventDial, Src: []string{disconnected}, Dst: connecting},
			{Name: eventOpen, Src: []string{connecting}, Dst: connected},
			{Name: eventFail, Src: []string{connecting, connected}, Dst: disconnected},
			{Name: eventClose, Src: []string{connecting, connected}, Dst: disconnected},
		},
		fsm.Callbacks{},
	)
}

// OnEvent registers the handler for an event name, replacing any earlier
// handler for that name. A nil handler removes the registration.
func (c *Client) OnEvent(name schema.EventName, handler Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	if handler == nil {
		delete(c.handlers, name)
		return
	}
	c.handlers[name] = handler
}

// Handle registers a typed handler for the event variant T.
func Handle[T schema.Event](c *Client, fn func(T)) {
	var zero T
	if fn == nil {
		c.OnEvent(zero.EventName(), nil)
		return
	}
	c.OnEvent(zero.EventName(), func(event schema.Event) {
		if typed, ok := event.(T); ok {
			fn(typed)
		}
	})
}

// OnStateChange registers an observer for state transitions and returns a
// function that removes it. Observers run one at a time in transition order
// and may call back into the client, including to register or remove
// observers; such changes apply from the next transition.
func (c *Client) OnStateChange(fn func(StateChange)) func() {
	if fn == nil {
		return func() {}
	}
	c.observersMu.Lock()
	c.nextObserver++
	id := c.nextObserver
	c.observers = append(c.observers, observer{id: id, fn: fn})
	c.observersMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() { c.removeObserver(id) })
	}
}

func (c *Client) removeObserver(id uint64) {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()
	for i, obs := range c.observers {
		if obs.id == id {
			c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
			return
		}
	}
}

func (c *Client) observerSnapshot() []observer {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()
	return append([]observer(nil), c.observers...)
}

// State returns the current connection state.
func (c *Client) State() schema.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Retries returns the count of consecutive failed attempts.
func (c *Client) Retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

// Err returns the last transport error, or an error wrapping
// schema.ErrRetriesExhausted once retries are spent.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Exhausted returns a channel closed when the current lifecycle runs out of
// reconnect attempts.
func (c *Client) Exhausted() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

// Connect starts the connection lifecycle. It is a no-op while an attempt is
// open, in flight, or scheduled. Connecting after retry exhaustion starts a
// fresh lifecycle with the retry counter at zero.
func (c *Client) Connect(creds Credentials) error {
	if strings.TrimSpace(creds.Token) == "" {
		c.log.Debug("realtime connect skipped", "reason", "missing token")
		return schema.ErrMissingToken
	}
	c.mu.Lock()
	if c.stateLocked() != schema.StateDisconnected || c.timer != nil {
		c.mu.Unlock()
		c.log.Trace("realtime connect ignored", "state", c.State())
		return nil
	}
	c.creds = creds
	c.retries = 0
	c.lastErr = nil
	c.backoff.Reset()
	select {
	case <-c.exhausted:
		c.exhausted = make(chan struct{})
	default:
	}
	c.beginDialLocked()
	c.mu.Unlock()
	c.flush()
	return nil
}

// Disconnect tears the connection down: it cancels a scheduled reconnect,
// closes the transport, resets the retry counter, and leaves the client
// Disconnected. It is safe to call repeatedly, from any state, and from
// inside handlers and observers. Disconnect does not wait for the reader: when
// called from another goroutine, a handler call already under way, or one for
// an event that passed the connection check just before, may still complete.
// No later event from the closed connection is dispatched.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	stream := c.stream
	c.stream = nil
	cancel := c.cancel
	c.cancel = nil
	c.retries = 0
	if from := c.stateLocked(); c.machine.Can(eventClose) {
		c.transitionLocked(eventClose)
		c.changes = append(c.changes, StateChange{From: from, To: c.stateLocked()})
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			c.log.Debug("realtime transport close failed", "err", err)
		}
	}
	c.log.Debug("realtime disconnected")
	c.flush()
}

func (c *Client) stateLocked() schema.ConnectionState {
	return schema.ConnectionState(c.machine.Current())
}

func (c *Client) transitionLocked(event string) {
	if err := c.machine.Event(context.Background(), event); err != nil {
		c.log.Debug("realtime transition rejected", "event", event, "state", c.machine.Current(), "err", err)
	}
}

func (c *Client) beginDialLocked() {
	from := c.stateLocked()
	c.transitionLocked(eventDial)
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.changes = append(c.changes, StateChange{From: from, To: c.stateLocked(), Retries: c.retries})
	creds := c.creds
	c.log.Debug("realtime connecting", "attempt", c.retries+1)
	go c.run(ctx, gen, creds)
}

func (c *Client) run(ctx context.Context, gen uint64, creds Credentials) {
	stream, err := c.dialer.Dial(ctx, creds)
	if err != nil {
		c.fail(gen, err)
		return
	}
	if !c.opened(gen, stream) {
		_ = stream.Close()
		return
	}
	for {
		msg, err := stream.Next(ctx)
		if err != nil {
			c.fail(gen, err)
			return
		}
		c.dispatch(gen, msg)
	}
}

func (c *Client) opened(gen uint64, stream Stream) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	from := c.stateLocked()
	c.stream = stream
	c.retries = 0
	c.lastErr = nil
	c.backoff.Reset()
	c.transitionLocked(eventOpen)
	c.changes = append(c.changes, StateChange{From: from, To: c.stateLocked()})
	c.mu.Unlock()
	c.log.Info("realtime connected")
	c.flush()
	return true
}

func (c *Client) fail(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	from := c.stateLocked()
	stream := c.stream
	c.stream = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.transitionLocked(eventFail)
	c.retries++
	retries := c.retries
	c.lastErr = cause
	change := StateChange{From: from, To: c.stateLocked(), Retries: retries, Err: cause}
	delay := backoff.Stop
	if retries <= c.maxRetries {
		delay = c.backoff.NextBackOff()
	}
	if delay == backoff.Stop {
		c.lastErr = fmt.Errorf("%w after %d attempts: %v", schema.ErrRetriesExhausted, retries, cause)
		change.Err = c.lastErr
		change.Exhausted = true
		close(c.exhausted)
	} else {
		c.timer = time.AfterFunc(delay, func() { c.reconnect(gen) })
	}
	c.changes = append(c.changes, change)
	c.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	if change.Exhausted {
		c.log.Error("realtime reconnect attempts exhausted", "retries", retries, "err", cause)
	} else {
		c.log.Warn("realtime transport failed", "retries", retries, "retry_in", delay.String(), "err", cause)
	}
	c.flush()
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.timer == nil {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	if c.stateLocked() != schema.StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.beginDialLocked()
	c.mu.Unlock()
	c.flush()
}

func (c *Client) dispatch(gen uint64, msg Message) {
	event, err := schema.DecodeEvent(msg.Name, msg.Data)
	if err != nil {
		preview := previewText(string(msg.Data), previewLimit)
		c.log.Warn("realtime event dropped", "event", msg.Name, "preview", preview, "truncated", len(preview) < len(msg.Data), "err", err)
		return
	}
	c.handlersMu.RLock()
	handler := c.handlers[msg.Name]
	tap := c.tap
	c.handlersMu.RUnlock()
	if !c.current(gen) {
		return
	}
	if tap != nil {
		tap(event)
	}
	if handler == nil {
		c.log.Trace("realtime event unhandled", "event", msg.Name)
		return
	}
	handler(event)
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *Client) currentStream() Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

func (c *Client) setTap(fn func(schema.Event)) {
	c.handlersMu.Lock()
	c.tap = fn
	c.handlersMu.Unlock()
}

// flush delivers queued state changes. Only one goroutine delivers at a time;
// a goroutine that cannot take the lock leaves its changes to the holder.
func (c *Client) flush() {
	for {
		if !c.notifyMu.TryLock() {
			return
		}
		for {
			change, ok := c.popChange()
			if !ok {
				break
			}
			for _, obs := range c.observerSnapshot() {
				obs.fn(change)
			}
		}
		c.notifyMu.Unlock()
		if !c.hasChanges() {
			return
		}
	}
}

func (c *Client) popChange() (StateChange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.changes) == 0 {
		return StateChange{}, false
	}
	change := c.changes[0]
	c.changes = c.changes[1:]
	return change, true
}

func (c *Client) hasChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changes) > 0
}

func previewText(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	return value[:max]
}
