package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("unexpected default level: %q", cfg.Logging.Level)
	}
	if cfg.Chat.HistoryPageSize != DefaultHistoryPageSize {
		t.Fatalf("unexpected default page size: %d", cfg.Chat.HistoryPageSize)
	}
	if cfg.ReconnectDelay() != DefaultReconnectDelay {
		t.Fatalf("unexpected default reconnect delay: %v", cfg.ReconnectDelay())
	}
	if !cfg.Chat.Notifications {
		t.Fatalf("notifications should default to enabled")
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := []byte(`{
		"server": {"base_url": "http://file-host/api", "ws_url": "ws://file-host/ws", "token": "file-token"},
		"logging": {"level": "debug"},
		"chat": {"history_page_size": 10, "reconnect_delay_sec": 2}
	}`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CHATTY_SERVER_URL", "http://env-host/api")
	t.Setenv("CHATTY_TOKEN", "env-token")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.BaseURL != "http://env-host/api" {
		t.Fatalf("env override lost: %q", cfg.Server.BaseURL)
	}
	if cfg.Server.Token != "env-token" {
		t.Fatalf("env token override lost: %q", cfg.Server.Token)
	}
	if cfg.Server.WSURL != "ws://file-host/ws" {
		t.Fatalf("file value lost: %q", cfg.Server.WSURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("file level lost: %q", cfg.Logging.Level)
	}
	if cfg.ReconnectDelay() != 2*time.Second {
		t.Fatalf("unexpected reconnect delay: %v", cfg.ReconnectDelay())
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Server = ServerConfig{
		BaseURL: "http://localhost:8080/api",
		WSURL:   "ws://localhost:8080/ws",
		Token:   "token",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{name: "missing base url", mutate: func(c *AppConfig) { c.Server.BaseURL = "" }},
		{name: "missing ws url", mutate: func(c *AppConfig) { c.Server.WSURL = "" }},
		{name: "http ws url", mutate: func(c *AppConfig) { c.Server.WSURL = "http://localhost/ws" }},
		{name: "missing token", mutate: func(c *AppConfig) { c.Server.Token = "" }},
	}
	for _, tc := range tests {
		cfg := valid
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Server.BaseURL = "http://localhost:8080/api"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load saved config: %v", err)
	}
	if loaded.Server.BaseURL != cfg.Server.BaseURL {
		t.Fatalf("round trip lost base url: %q", loaded.Server.BaseURL)
	}
}
