package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
venue:
  url: wss://ws.example.com/websockets/v3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Venue.Currency != "USD" {
		t.Errorf("currency = %s, want USD", cfg.Venue.Currency)
	}
	if cfg.Venue.RequestTimeout != 20*time.Second {
		t.Errorf("request timeout = %v, want 20s", cfg.Venue.RequestTimeout)
	}
	if cfg.Copier.MinStake != 0.35 {
		t.Errorf("min stake = %v, want 0.35", cfg.Copier.MinStake)
	}
	if cfg.Server.Listen != ":8080" {
		t.Errorf("listen = %s, want :8080", cfg.Server.Listen)
	}
	if cfg.Store.DBPath != "data/copybot.db" {
		t.Errorf("db path = %s", cfg.Store.DBPath)
	}
}

func TestLoadYAMLValues(t *testing.T) {
	path := writeConfig(t, `
venue:
  url: wss://ws.example.com/websockets/v3
  currency: EUR
  request_timeout: 7s
copier:
  min_stake: 0.5
server:
  listen: ":9090"
notify:
  webhook_url: https://hooks.example.com/copybot
log:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Venue.Currency != "EUR" || cfg.Venue.RequestTimeout != 7*time.Second {
		t.Errorf("venue: %+v", cfg.Venue)
	}
	if cfg.Copier.MinStake != 0.5 {
		t.Errorf("min stake = %v", cfg.Copier.MinStake)
	}
	if cfg.Server.Listen != ":9090" || cfg.Log.Level != "debug" {
		t.Errorf("server %s log %s", cfg.Server.Listen, cfg.Log.Level)
	}
	if cfg.Notify.WebhookURL != "https://hooks.example.com/copybot" {
		t.Errorf("webhook = %s", cfg.Notify.WebhookURL)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
venue:
  url: wss://file.example.com/websockets/v3
copier:
  min_stake: 0.5
`)
	t.Setenv("COPYBOT_VENUE_URL", "wss://env.example.com/websockets/v3")
	t.Setenv("COPYBOT_MIN_STAKE", "1.25")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Venue.URL != "wss://env.example.com/websockets/v3" {
		t.Errorf("url = %s, env should win", cfg.Venue.URL)
	}
	if cfg.Copier.MinStake != 1.25 {
		t.Errorf("min stake = %v, env should win", cfg.Copier.MinStake)
	}
}

func TestValidate(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Error("missing venue url accepted")
	}

	t.Setenv("COPYBOT_VENUE_URL", "https://not-a-websocket.example.com")
	if _, err := Load(""); err == nil {
		t.Error("non-websocket venue url accepted")
	}

	t.Setenv("COPYBOT_VENUE_URL", "wss://ws.example.com/websockets/v3")
	t.Setenv("COPYBOT_SECRETS_KEY", "abcd")
	if _, err := Load(""); err == nil {
		t.Error("short secrets key accepted")
	}
}
