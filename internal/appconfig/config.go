package appconfig

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int            `mapstructure:"config_version" yaml:"config_version"`
	API           APIConfig      `mapstructure:"api" yaml:"api"`
	Realtime      RealtimeConfig `mapstructure:"realtime" yaml:"realtime"`
	Stream        StreamConfig   `mapstructure:"stream" yaml:"stream"`
	Server        ServerConfig   `mapstructure:"server" yaml:"server"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// Supported realtime transports.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// APIConfig points the client at a dashboard backend.
type APIConfig struct {
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	Token          string `mapstructure:"token" yaml:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// RealtimeConfig controls the push connection.
type RealtimeConfig struct {
	Transport       string `mapstructure:"transport" yaml:"transport"`
	EventsPath      string `mapstructure:"events_path" yaml:"events_path"`
	WSPath          string `mapstructure:"ws_path" yaml:"ws_path"`
	RetryIntervalMS int    `mapstructure:"retry_interval_ms" yaml:"retry_interval_ms"`
	MaxRetries      int    `mapstructure:"max_retries" yaml:"max_retries"`
	AckTimeoutMS    int    `mapstructure:"ack_timeout_ms" yaml:"ack_timeout_ms"`
}

// StreamConfig controls NDJSON response decoding.
type StreamConfig struct {
	MaxRecordBytes int  `mapstructure:"max_record_bytes" yaml:"max_record_bytes"`
	FlushTrailing  bool `mapstructure:"flush_trailing" yaml:"flush_trailing"`
}

// ServerConfig configures the development backend.
type ServerConfig struct {
	Addr                string       `mapstructure:"addr" yaml:"addr"`
	BasePath            string       `mapstructure:"base_path" yaml:"base_path"`
	HubHistory          int          `mapstructure:"hub_history" yaml:"hub_history"`
	PingIntervalSeconds int          `mapstructure:"ping_interval_seconds" yaml:"ping_interval_seconds"`
	RecordsPerSecond    float64      `mapstructure:"records_per_second" yaml:"records_per_second"`
	Tokens              []TokenEntry `mapstructure:"tokens" yaml:"tokens"`
}

// TokenEntry maps a bcrypt token hash to the user it authenticates.
type TokenEntry struct {
	Name string `mapstructure:"name" yaml:"name"`
	Hash string `mapstructure:"hash" yaml:"hash"`
}

// RetryInterval returns the reconnect interval as a duration.
func (c RealtimeConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMS) * time.Millisecond
}

// AckTimeout returns the WebSocket acknowledgement timeout.
func (c RealtimeConfig) AckTimeout() time.Duration {
	return time.Duration(c.AckTimeoutMS) * time.Millisecond
}

// Timeout returns the request timeout for non-streaming calls, zero when unset.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PingInterval returns the keepalive interval of the SSE endpoint.
func (c ServerConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	return Config{
		ConfigVersion: CurrentConfigVersion,
		API: APIConfig{
			BaseURL:        "http://127.0.0.1:27490",
			Token:          "",
			TimeoutSeconds: 30,
		},
		Realtime: RealtimeConfig{
			Transport:       TransportSSE,
			EventsPath:      "/api/events",
			WSPath:          "/api/ws",
			RetryIntervalMS: 5000,
			MaxRetries:      5,
			AckTimeoutMS:    10000,
		},
		Stream: StreamConfig{
			MaxRecordBytes: 4 << 20,
			FlushTrailing:  false,
		},
		Server: ServerConfig{
			Addr:                ":27490",
			BasePath:            "",
			HubHistory:          256,
			PingIntervalSeconds: 15,
			RecordsPerSecond:    20,
			Tokens:              []TokenEntry{},
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".wapikit", "config.yaml"), nil
}
