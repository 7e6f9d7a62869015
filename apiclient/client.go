// Package apiclient calls the backend endpoints that answer with chunked
// newline-delimited JSON: bulk contact import and AI chat streaming.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wapikit/wapikit-sub000/internal/logx"
	"github.com/wapikit/wapikit-sub000/ndjson"
	"github.com/wapikit/wapikit-sub000/schema"
	"pkt.systems/pslog"
)

const bodyPreviewLimit = 512

// ErrIncompleteStream indicates a stream ended before its terminal record.
var ErrIncompleteStream = errors.New("stream ended before terminal record")

// errStreamDone stops decoding once a terminal record arrives.
var errStreamDone = errors.New("stream done")

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api error %d", e.StatusCode)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Body)
}

// StreamError carries an error record sent by the server mid-stream.
type StreamError struct {
	Message string
	Record  json.RawMessage
}

func (e *StreamError) Error() string {
	if e.Message == "" {
		return "stream reported an error"
	}
	return "stream reported an error: " + e.Message
}

// Config configures a Client.
type Config struct {
	BaseURL       string
	Token         string
	HTTPClient    *http.Client
	Timeout       time.Duration
	Logger        pslog.Logger
	DecodeOptions []ndjson.Option
}

// Client issues streaming API requests.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	log        pslog.Logger
	decodeOpts []ndjson.Option
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("apiclient: base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("apiclient: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("apiclient: unsupported scheme %q", base.Scheme)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	opts := append([]ndjson.Option{ndjson.WithLogger(logger)}, cfg.DecodeOptions...)
	return &Client{
		baseURL:    base,
		token:      cfg.Token,
		httpClient: httpClient,
		log:        logger,
		decodeOpts: opts,
	}, nil
}

func (c *Client) endpoint(parts ...string) string {
	return c.baseURL.JoinPath(parts...).String()
}

// stream sends req and routes each decoded record by its type field. The
// handler returns errStreamDone to finish early.
func (c *Client) stream(req *http.Request, kind string, id string, fn func(schema.RecordType, json.RawMessage) error) error {
	log := logx.WithStream(c.log, kind, id)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/x-ndjson")
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", kind, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, bodyPreviewLimit))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	log.Debug("stream opened", "status", resp.StatusCode)
	records := 0
	err = ndjson.Decode(req.Context(), resp.Body, func(record json.RawMessage) error {
		records++
		recordType := schema.RecordType(gjson.GetBytes(record, "type").String())
		if recordType == schema.RecordError {
			return &StreamError{Message: gjson.GetBytes(record, "message").String(), Record: record}
		}
		return fn(recordType, record)
	}, c.decodeOpts...)
	if errors.Is(err, errStreamDone) {
		err = nil
	}
	log.Debug("stream closed", "records", records, "duration_ms", time.Since(start).Milliseconds(), "err", err)
	return err
}
