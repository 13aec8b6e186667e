package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ClientConfig: настройки клиента чата.
type ClientConfig struct {
	ServerURL string `yaml:"server_url" env:"CHAT_SERVER_URL"`
	Token     string `yaml:"token" env:"CHAT_TOKEN"`
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`

	ReconnectInitialDelay time.Duration `yaml:"reconnect_initial_delay" env:"CHAT_RECONNECT_INITIAL_DELAY"`
	ReconnectMaxDelay     time.Duration `yaml:"reconnect_max_delay" env:"CHAT_RECONNECT_MAX_DELAY"`
	ReconnectMaxAttempts  int           `yaml:"reconnect_max_attempts" env:"CHAT_RECONNECT_MAX_ATTEMPTS"`

	TypingIdle         time.Duration `yaml:"typing_idle" env:"CHAT_TYPING_IDLE"`
	UnreadPollInterval time.Duration `yaml:"unread_poll_interval" env:"CHAT_UNREAD_POLL_INTERVAL"`
	UnreadBadgeCap     int           `yaml:"unread_badge_cap" env:"CHAT_UNREAD_BADGE_CAP"`
	HistoryLimit       int           `yaml:"history_limit" env:"CHAT_HISTORY_LIMIT"`
	RequestTimeout     time.Duration `yaml:"request_timeout" env:"CHAT_REQUEST_TIMEOUT"`
}

func ClientDefaults() ClientConfig {
	return ClientConfig{
		ServerURL:             "http://localhost:8080",
		LogLevel:              "info",
		ReconnectInitialDelay: time.Second,
		ReconnectMaxDelay:     5 * time.Second,
		ReconnectMaxAttempts:  5,
		TypingIdle:            3 * time.Second,
		UnreadPollInterval:    30 * time.Second,
		UnreadBadgeCap:        9,
		HistoryLimit:          200,
		RequestTimeout:        10 * time.Second,
	}
}

// LoadClient: значения по умолчанию, затем YAML (path, CONFIG_PATH или config/client.yaml), затем env.
func LoadClient(path string) (*ClientConfig, error) {
	loadEnv()
	cfg := ClientDefaults()
	if err := loadYAML(&cfg, path, "config/client.yaml"); err != nil {
		return nil, err
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if cfg.ReconnectMaxAttempts <= 0 {
		return nil, fmt.Errorf("config: reconnect_max_attempts must be positive")
	}
	if cfg.ReconnectInitialDelay <= 0 || cfg.ReconnectMaxDelay < cfg.ReconnectInitialDelay {
		return nil, fmt.Errorf("config: reconnect delays must satisfy 0 < initial <= max")
	}
	return &cfg, nil
}
