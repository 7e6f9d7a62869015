package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wapikit/wapikit-sub000/httpapi"
	"github.com/wapikit/wapikit-sub000/internal/appconfig"
	"github.com/wapikit/wapikit-sub000/internal/auth"
	"github.com/wapikit/wapikit-sub000/schema"
	"pkt.systems/pslog"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	var demoInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger := pslog.Ctx(cmd.Context())
			tokens, err := auth.NewTokenStore(cfg.Server.Tokens, logger)
			if err != nil {
				return err
			}
			if tokens.Len() == 0 {
				return errors.New("server.tokens is empty; add an entry with a hash from `wapikit-rt token hash`")
			}
			server := httpapi.NewServer(toHTTPConfig(cfg.Server), tokens, nil)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			group, ctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				logger.Info("dev backend starting", "base_path", cfg.Server.BasePath, "tokens", tokens.Len())
				return httpapi.ListenAndServe(ctx, cfg.Server.Addr, server.Handler())
			})
			if demoInterval > 0 {
				users := tokenUsers(cfg.Server.Tokens)
				group.Go(func() error {
					return publishDemoTraffic(ctx, server.Hub(), users, demoInterval, logger)
				})
			}
			return group.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().DurationVar(&demoInterval, "demo-interval", 0, "publish a demo NewMessage to every user at this interval (0 disables)")
	return cmd
}

func toHTTPConfig(cfg appconfig.ServerConfig) httpapi.Config {
	return httpapi.Config{
		Addr:             cfg.Addr,
		BasePath:         cfg.BasePath,
		HubHistory:       cfg.HubHistory,
		PingInterval:     cfg.PingInterval(),
		RecordsPerSecond: cfg.RecordsPerSecond,
	}
}

func tokenUsers(entries []appconfig.TokenEntry) []schema.UserID {
	users := make([]schema.UserID, 0, len(entries))
	for _, entry := range entries {
		users = append(users, schema.UserID(entry.Name))
	}
	return users
}

// publishDemoTraffic pushes one synthetic inbound message per user per tick
// until ctx ends.
func publishDemoTraffic(ctx context.Context, hub *httpapi.Hub, users []schema.UserID, interval time.Duration, logger pslog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	sent := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("demo traffic stopped", "sent", sent)
			return nil
		case now := <-ticker.C:
			sent++
			for _, user := range users {
				conversation := schema.ConversationID(fmt.Sprintf("demo-%s", user))
				event := schema.NewMessageEvent{
					Conversation: schema.Conversation{ID: conversation, ContactID: "demo-contact", Status: "Active"},
					Message: schema.Message{
						ID:             schema.MessageID(uuid.NewString()),
						ConversationID: conversation,
						Direction:      schema.DirectionInbound,
						MessageType:    "Text",
						Content:        fmt.Sprintf("demo message %d", sent),
						CreatedAt:      now.UTC(),
					},
				}
				if _, err := hub.Publish(user, event); err != nil {
					return fmt.Errorf("demo publish: %w", err)
				}
			}
		}
	}
}
