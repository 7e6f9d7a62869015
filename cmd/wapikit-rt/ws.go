package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wapikit/wapikit-sub000/realtime"
	"github.com/wapikit/wapikit-sub000/schema"
	"pkt.systems/pslog"
)

func newWSCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ws",
		Short: "WebSocket transport utilities",
	}
	cmd.AddCommand(newWSSendCmd(opts))
	return cmd
}

func newWSSendCmd(opts *rootOptions) *cobra.Command {
	var eventName string
	var data string
	var connectTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one event over WebSocket and wait for its acknowledgement",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			name, err := schema.NormalizeEventName(eventName)
			if err != nil {
				return fmt.Errorf("--event: %w", err)
			}
			if !json.Valid([]byte(data)) {
				return errors.New("--data must be valid JSON")
			}
			logger := pslog.Ctx(cmd.Context())
			client, err := newWSClient(cfg, logger)
			if err != nil {
				return err
			}
			defer client.Disconnect()

			connected := make(chan struct{})
			client.OnStateChange(func(change realtime.StateChange) {
				if change.To == schema.StateConnected {
					select {
					case <-connected:
					default:
						close(connected)
					}
				}
			})
			if err := client.Connect(realtime.Credentials{Token: cfg.API.Token}); err != nil {
				return err
			}
			timer := time.NewTimer(connectTimeout)
			defer timer.Stop()
			select {
			case <-connected:
			case <-client.Exhausted():
				return client.Err()
			case <-timer.C:
				return fmt.Errorf("websocket not connected after %s", connectTimeout)
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}

			ack, err := client.SendAndWait(cmd.Context(), name, json.RawMessage(data))
			if err != nil {
				return err
			}
			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(ack); err != nil {
				return err
			}
			if ack.Error != "" {
				return fmt.Errorf("server rejected %s: %s", name, ack.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&eventName, "event", "", "event name, e.g. MessageReadEvent")
	cmd.Flags().StringVar(&data, "data", "{}", "JSON payload")
	cmd.Flags().DurationVar(&connectTimeout, "connect-timeout", 30*time.Second, "how long to wait for the connection")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}
