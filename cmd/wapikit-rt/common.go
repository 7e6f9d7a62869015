package main

import (
	"net/http"
	"strings"

	"github.com/wapikit/wapikit-sub000/apiclient"
	"github.com/wapikit/wapikit-sub000/internal/appconfig"
	"github.com/wapikit/wapikit-sub000/internal/version"
	"github.com/wapikit/wapikit-sub000/ndjson"
	"github.com/wapikit/wapikit-sub000/realtime"
	"pkt.systems/pslog"
)

func (o *rootOptions) load() (appconfig.Config, error) {
	cfg, err := appconfig.Load(o.cfgPath)
	if err != nil {
		return appconfig.Config{}, err
	}
	if token := strings.TrimSpace(o.token); token != "" {
		cfg.API.Token = token
	}
	return cfg, nil
}

// userAgentTransport stamps every outgoing request with the client version.
type userAgentTransport struct {
	base http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", version.UserAgent())
	return t.base.RoundTrip(req)
}

// streamingHTTPClient bounds the wait for response headers only. Push and
// NDJSON bodies stay open for as long as the server keeps writing.
func streamingHTTPClient(cfg appconfig.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.API.Timeout()
	return &http.Client{Transport: userAgentTransport{base: transport}}
}

func newAPIClient(cfg appconfig.Config, logger pslog.Logger) (*apiclient.Client, error) {
	return apiclient.New(apiclient.Config{
		BaseURL:    cfg.API.BaseURL,
		Token:      cfg.API.Token,
		HTTPClient: streamingHTTPClient(cfg),
		Logger:     logger,
		DecodeOptions: []ndjson.Option{
			ndjson.WithMaxRecordBytes(cfg.Stream.MaxRecordBytes),
			ndjson.WithFlushTrailing(cfg.Stream.FlushTrailing),
		},
	})
}

func newSSEClient(cfg appconfig.Config, logger pslog.Logger) (*realtime.Client, error) {
	return realtime.New(realtime.Config{
		Dialer: &realtime.SSEDialer{
			BaseURL:    cfg.API.BaseURL,
			Path:       cfg.Realtime.EventsPath,
			HTTPClient: streamingHTTPClient(cfg),
			Logger:     logger,
		},
		RetryInterval: cfg.Realtime.RetryInterval(),
		MaxRetries:    cfg.Realtime.MaxRetries,
		Logger:        logger,
	})
}

func newWSClient(cfg appconfig.Config, logger pslog.Logger) (*realtime.WSClient, error) {
	return realtime.NewWSClient(realtime.WSConfig{
		BaseURL:       cfg.API.BaseURL,
		Path:          cfg.Realtime.WSPath,
		HTTPClient:    streamingHTTPClient(cfg),
		RetryInterval: cfg.Realtime.RetryInterval(),
		MaxRetries:    cfg.Realtime.MaxRetries,
		AckTimeout:    cfg.Realtime.AckTimeout(),
		Logger:        logger,
	})
}
