package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DefaultHistoryPageSize = 50
	DefaultReconnectDelay  = 5 * time.Second
)

// ServerConfig holds the endpoints and credential for one chat server.
type ServerConfig struct {
	// BaseURL is the REST API root, e.g. "http://localhost:8080/api".
	BaseURL string `json:"base_url" env:"CHATTY_SERVER_URL"`
	// WSURL is the websocket endpoint carrying the STOMP session.
	WSURL string `json:"ws_url" env:"CHATTY_WS_URL"`
	// Token is the bearer credential; refresh is the caller's concern.
	Token string `json:"token" env:"CHATTY_TOKEN"`
}

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level" env:"CHATTY_LOG_LEVEL"`
	LogToFile bool   `json:"log_to_file"`
}

// ChatConfig tunes session behavior.
type ChatConfig struct {
	HistoryPageSize   int  `json:"history_page_size"`
	ReconnectDelaySec int  `json:"reconnect_delay_sec"`
	Notifications     bool `json:"notifications"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`
	Chat    ChatConfig    `json:"chat"`
}

func Default() AppConfig {
	return AppConfig{
		Logging: LoggingConfig{Level: "info"},
		Chat: ChatConfig{
			HistoryPageSize:   DefaultHistoryPageSize,
			ReconnectDelaySec: int(DefaultReconnectDelay / time.Second),
			Notifications:     true,
		},
	}
}

// Load reads the config file, falling back to defaults when it does not
// exist, then applies CHATTY_* environment overrides on top.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return AppConfig{}, fmt.Errorf("read config: %w", err)
		}
	} else if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("apply env overrides: %w", err)
	}
	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Chat.HistoryPageSize <= 0 {
		c.Chat.HistoryPageSize = DefaultHistoryPageSize
	}
	if c.Chat.ReconnectDelaySec <= 0 {
		c.Chat.ReconnectDelaySec = int(DefaultReconnectDelay / time.Second)
	}
}

func (c AppConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.Chat.ReconnectDelaySec) * time.Second
}

func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.Server.BaseURL) == "" {
		return errors.New("server base url is required")
	}
	if _, err := url.Parse(c.Server.BaseURL); err != nil {
		return fmt.Errorf("invalid server base url: %w", err)
	}
	ws := strings.TrimSpace(c.Server.WSURL)
	if ws == "" {
		return errors.New("websocket url is required")
	}
	if !strings.HasPrefix(ws, "ws://") && !strings.HasPrefix(ws, "wss://") {
		return fmt.Errorf("websocket url must use ws or wss scheme: %s", ws)
	}
	if strings.TrimSpace(c.Server.Token) == "" {
		return errors.New("bearer token is required")
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
