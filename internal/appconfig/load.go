package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. WAPIKIT_API_TOKEN.
const EnvPrefix = "WAPIKIT"

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.token", cfg.API.Token)
	v.SetDefault("api.timeout_seconds", cfg.API.TimeoutSeconds)
	v.SetDefault("realtime.transport", cfg.Realtime.Transport)
	v.SetDefault("realtime.events_path", cfg.Realtime.EventsPath)
	v.SetDefault("realtime.ws_path", cfg.Realtime.WSPath)
	v.SetDefault("realtime.retry_interval_ms", cfg.Realtime.RetryIntervalMS)
	v.SetDefault("realtime.max_retries", cfg.Realtime.MaxRetries)
	v.SetDefault("realtime.ack_timeout_ms", cfg.Realtime.AckTimeoutMS)
	v.SetDefault("stream.max_record_bytes", cfg.Stream.MaxRecordBytes)
	v.SetDefault("stream.flush_trailing", cfg.Stream.FlushTrailing)
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.base_path", cfg.Server.BasePath)
	v.SetDefault("server.hub_history", cfg.Server.HubHistory)
	v.SetDefault("server.ping_interval_seconds", cfg.Server.PingIntervalSeconds)
	v.SetDefault("server.records_per_second", cfg.Server.RecordsPerSecond)
	v.SetDefault("server.tokens", cfg.Server.Tokens)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that defaults cannot guarantee.
func Validate(cfg Config) error {
	if err := validateAPIConfig(cfg.API); err != nil {
		return err
	}
	if err := validateRealtimeConfig(cfg.Realtime); err != nil {
		return err
	}
	if cfg.Stream.MaxRecordBytes <= 0 {
		return fmt.Errorf("stream.max_record_bytes must be positive")
	}
	return validateServerConfig(cfg.Server)
}

func validateAPIConfig(cfg APIConfig) error {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("api.base_url must include scheme and host (e.g. https://example.com)")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("api.base_url scheme must be http or https, got %q", parsed.Scheme)
	}
	if cfg.TimeoutSeconds < 0 {
		return fmt.Errorf("api.timeout_seconds must not be negative")
	}
	return nil
}

func validateRealtimeConfig(cfg RealtimeConfig) error {
	switch cfg.Transport {
	case TransportSSE, TransportWebSocket:
	default:
		return fmt.Errorf("unsupported realtime.transport %q", cfg.Transport)
	}
	if cfg.RetryIntervalMS <= 0 {
		return fmt.Errorf("realtime.retry_interval_ms must be positive")
	}
	if cfg.AckTimeoutMS <= 0 {
		return fmt.Errorf("realtime.ack_timeout_ms must be positive")
	}
	for key, value := range map[string]string{"realtime.events_path": cfg.EventsPath, "realtime.ws_path": cfg.WSPath} {
		if !strings.HasPrefix(value, "/") {
			return fmt.Errorf("%s must start with /", key)
		}
	}
	return nil
}

func validateServerConfig(cfg ServerConfig) error {
	basePath := strings.TrimSpace(cfg.BasePath)
	if basePath != "" {
		if strings.Contains(basePath, "://") {
			return fmt.Errorf("server.base_path must be a path prefix, not a URL")
		}
		if strings.ContainsAny(basePath, "?#") {
			return fmt.Errorf("server.base_path must not include query or fragment")
		}
	}
	if cfg.HubHistory < 0 {
		return fmt.Errorf("server.hub_history must not be negative")
	}
	if cfg.RecordsPerSecond < 0 {
		return fmt.Errorf("server.records_per_second must not be negative")
	}
	seen := make(map[string]struct{}, len(cfg.Tokens))
	for i, entry := range cfg.Tokens {
		if strings.TrimSpace(entry.Name) == "" {
			return fmt.Errorf("server.tokens[%d].name is required", i)
		}
		if !strings.HasPrefix(entry.Hash, "$2") {
			return fmt.Errorf("server.tokens[%d].hash must be a bcrypt hash", i)
		}
		if _, dup := seen[entry.Name]; dup {
			return fmt.Errorf("server.tokens[%d].name %q is duplicated", i, entry.Name)
		}
		seen[entry.Name] = struct{}{}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.API.BaseURL = expandEnv(cfg.API.BaseURL)
	cfg.API.Token = expandEnv(cfg.API.Token)
	cfg.Server.Addr = expandEnv(cfg.Server.Addr)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
