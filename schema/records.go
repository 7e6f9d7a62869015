package schema

// RecordType is the discriminator carried by every NDJSON stream record.
type RecordType string

const (
	// RecordImporting announces that a bulk import started.
	RecordImporting RecordType = "importing"
	// RecordProgress reports bulk import progress.
	RecordProgress RecordType = "progress"
	// RecordError reports a stream-level failure.
	RecordError RecordType = "error"
	// RecordComplete terminates a successful bulk import.
	RecordComplete RecordType = "complete"
	// RecordTextDelta carries an incremental chat token.
	RecordTextDelta RecordType = "text-delta"
	// RecordFinish terminates a chat stream.
	RecordFinish RecordType = "finish"
	// RecordMessageDetails carries the ids of the persisted chat messages.
	RecordMessageDetails RecordType = "messageDetails"
)

// ImportRecord is one line of a bulk import progress stream.
type ImportRecord struct {
	Type     RecordType `json:"type"`
	Message  string     `json:"message,omitempty"`
	Current  int        `json:"current,omitempty"`
	Total    int        `json:"total,omitempty"`
	Imported int        `json:"imported,omitempty"`
	Skipped  int        `json:"skipped,omitempty"`
}

// ChatRecord is one line of an AI chat stream.
type ChatRecord struct {
	Type               RecordType `json:"type"`
	TextDelta          string     `json:"textDelta,omitempty"`
	FinishReason       string     `json:"finishReason,omitempty"`
	UserMessageID      string     `json:"userMessageId,omitempty"`
	AssistantMessageID string     `json:"aiMessageId,omitempty"`
	Message            string     `json:"message,omitempty"`
}
