package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wapikit/wapikit-sub000/apiclient"
	"github.com/wapikit/wapikit-sub000/store"
	"pkt.systems/pslog"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	var chatID string
	cmd := &cobra.Command{
		Use:   "chat MESSAGE...",
		Short: "Send a message to an AI chat and stream the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := pslog.Ctx(cmd.Context())
			client, err := newAPIClient(cfg, logger)
			if err != nil {
				return err
			}
			stores := store.New(nil)
			updates, cancel := stores.Bus.Subscribe()
			defer cancel()

			out := cmd.OutOrStdout()
			done := make(chan struct{})
			go func() {
				defer close(done)
				for update := range updates {
					if update.ChatID == chatID && update.Text != "" {
						_, _ = fmt.Fprint(out, update.Text)
					}
				}
			}()
			_, streamErr := stores.Chat.Stream(cmd.Context(), client, apiclient.ChatRequest{
				ChatID:  chatID,
				Message: strings.Join(args, " "),
			})
			cancel()
			<-done
			_, _ = fmt.Fprintln(out)
			msgs := stores.Chat.Messages(chatID)
			if n := len(msgs); n > 0 {
				logger.Debug("chat reply stored", "chat", chatID, "message", msgs[n-1].ID, "turns", n)
			}
			return streamErr
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "chat id")
	_ = cmd.MarkFlagRequired("chat")
	return cmd
}
