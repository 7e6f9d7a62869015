package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/wapikit/wapikit-sub000/internal/appconfig"
	"github.com/wapikit/wapikit-sub000/realtime"
	"github.com/wapikit/wapikit-sub000/schema"
	"github.com/wapikit/wapikit-sub000/store"
	"pkt.systems/pslog"
)

// eventLine is one event printed by the events command.
type eventLine struct {
	Event schema.EventName `json:"event"`
	Data  schema.Event     `json:"data"`
}

// connection is the lifecycle surface shared by the SSE and WebSocket clients.
type connection interface {
	Connect(realtime.Credentials) error
	Disconnect()
	Exhausted() <-chan struct{}
	Err() error
}

func newEventsCmd(opts *rootOptions) *cobra.Command {
	var transport string
	var count int
	var only []string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream push events as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if transport != "" {
				cfg.Realtime.Transport = transport
			}
			names, err := eventFilter(only)
			if err != nil {
				return err
			}
			logger := pslog.Ctx(cmd.Context())
			client, conn, err := newEventClient(cfg, logger)
			if err != nil {
				return err
			}

			stores := store.New(nil)
			router := store.NewRouter(stores, logger)
			printer := newEventPrinter(cmd.OutOrStdout(), count)
			for _, name := range schema.EventNames() {
				handler := router
				if names[name] {
					handler = chainHandlers(router, printer.print)
				}
				client.OnEvent(name, handler)
			}
			client.OnStateChange(stores.Connection.Apply)
			client.OnStateChange(func(change realtime.StateChange) {
				logger.Info("realtime state", "from", change.From, "to", change.To, "retries", change.Retries, "err", change.Err)
			})

			if err := conn.Connect(realtime.Credentials{Token: cfg.API.Token}); err != nil {
				return err
			}
			defer conn.Disconnect()
			defer func() {
				snap := stores.Connection.Snapshot()
				logger.Info("events summary",
					"printed", printer.printed(),
					"conversations", len(stores.Conversations.Snapshot()),
					"unread_notifications", stores.Notifications.Unread(),
					"state", snap.State,
				)
			}()

			select {
			case <-cmd.Context().Done():
				return nil
			case <-printer.done:
				return nil
			case <-conn.Exhausted():
				return conn.Err()
			}
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "", "transport to use: sse or websocket (default from config)")
	cmd.Flags().IntVar(&count, "count", 0, "exit after printing this many events (0 streams forever)")
	cmd.Flags().StringSliceVar(&only, "event", nil, "only print these event names (repeatable)")
	return cmd
}

func newEventClient(cfg appconfig.Config, logger pslog.Logger) (*realtime.Client, connection, error) {
	switch cfg.Realtime.Transport {
	case appconfig.TransportWebSocket:
		ws, err := newWSClient(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return ws.Client, ws, nil
	case appconfig.TransportSSE:
		client, err := newSSEClient(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	default:
		return nil, nil, fmt.Errorf("unsupported transport %q", cfg.Realtime.Transport)
	}
}

func eventFilter(values []string) (map[schema.EventName]bool, error) {
	names := make(map[schema.EventName]bool)
	if len(values) == 0 {
		for _, name := range schema.EventNames() {
			names[name] = true
		}
		return names, nil
	}
	for _, value := range values {
		name, err := schema.NormalizeEventName(value)
		if err != nil {
			return nil, fmt.Errorf("--event %q: %w", value, err)
		}
		names[name] = true
	}
	return names, nil
}

type eventPrinter struct {
	mu    sync.Mutex
	enc   *json.Encoder
	limit int
	count int
	done  chan struct{}
}

func newEventPrinter(w io.Writer, limit int) *eventPrinter {
	return &eventPrinter{enc: json.NewEncoder(w), limit: limit, done: make(chan struct{})}
}

func (p *eventPrinter) print(event schema.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.limit > 0 && p.count >= p.limit {
		return
	}
	if err := p.enc.Encode(eventLine{Event: event.EventName(), Data: event}); err != nil {
		return
	}
	p.count++
	if p.limit > 0 && p.count == p.limit {
		close(p.done)
	}
}

func (p *eventPrinter) printed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func chainHandlers(handlers ...realtime.Handler) realtime.Handler {
	return func(event schema.Event) {
		for _, handler := range handlers {
			handler(event)
		}
	}
}
