package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/wapikit/wapikit-sub000/schema"
)

// ChatRequest is one user turn sent to an AI chat.
type ChatRequest struct {
	ChatID  string
	Message string
}

// ChatResult is the assembled assistant reply.
type ChatResult struct {
	Text               string
	UserMessageID      string
	AssistantMessageID string
	FinishReason       string
	Deltas             int
}

// StreamChat posts a message to an AI chat and forwards each text delta to fn
// as it arrives. It returns once the finish record is received.
func (c *Client) StreamChat(ctx context.Context, in ChatRequest, fn func(delta string)) (ChatResult, error) {
	if strings.TrimSpace(in.ChatID) == "" {
		return ChatResult{}, errors.New("apiclient: chat id is required")
	}
	body, err := json.Marshal(map[string]string{"message": in.Message})
	if err != nil {
		return ChatResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("api", "ai-chat", in.ChatID, "messages"), bytes.NewReader(body))
	if err != nil {
		return ChatResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var (
		result   ChatResult
		text     strings.Builder
		finished bool
	)
	err = c.stream(req, "chat", in.ChatID, func(recordType schema.RecordType, raw json.RawMessage) error {
		switch recordType {
		case schema.RecordTextDelta:
			delta := gjson.GetBytes(raw, "textDelta").String()
			text.WriteString(delta)
			result.Deltas++
			if fn != nil {
				fn(delta)
			}
		case schema.RecordMessageDetails:
			var record schema.ChatRecord
			if err := json.Unmarshal(raw, &record); err != nil {
				return fmt.Errorf("decode message details: %w", err)
			}
			result.UserMessageID = record.UserMessageID
			result.AssistantMessageID = record.AssistantMessageID
		case schema.RecordFinish:
			result.FinishReason = gjson.GetBytes(raw, "finishReason").String()
			finished = true
			return errStreamDone
		default:
			c.log.Debug("chat record ignored", "type", recordType)
		}
		return nil
	})
	result.Text = text.String()
	if err != nil {
		return result, err
	}
	if !finished {
		return result, ErrIncompleteStream
	}
	return result, nil
}
