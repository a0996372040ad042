package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
mode: testnet
symbols: [xbtusd]
exchange:
  api_key: key
  api_secret: secret
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Symbols[0] != "XBTUSD" {
		t.Fatalf("symbol = %q, want XBTUSD", cfg.Symbols[0])
	}
	if cfg.Candles.Timeframe != "5m" {
		t.Fatalf("timeframe = %q, want 5m", cfg.Candles.Timeframe)
	}
	if cfg.BucketLength() != 5*time.Minute {
		t.Fatalf("BucketLength() = %v, want 5m", cfg.BucketLength())
	}
	if cfg.Candles.Window != 110 {
		t.Fatalf("window = %d, want 110", cfg.Candles.Window)
	}
	if cfg.Orders.PollIntervalSec != 2 {
		t.Fatalf("poll interval = %d, want 2", cfg.Orders.PollIntervalSec)
	}
	if cfg.Exchange.RestBaseURL != "https://testnet.bitmex.com" {
		t.Fatalf("rest base url = %q", cfg.Exchange.RestBaseURL)
	}
	if cfg.Exchange.WSBaseURL != "wss://ws.testnet.bitmex.com/realtime" {
		t.Fatalf("ws base url = %q", cfg.Exchange.WSBaseURL)
	}
}

func TestLoadRejectsUnknownTimeframe(t *testing.T) {
	content := minimalConfig + `
candles:
  timeframe: 7m
`
	if _, err := Load(writeConfig(t, content)); err == nil || !strings.Contains(err.Error(), "unknown timeframe") {
		t.Fatalf("Load() error = %v, want unknown timeframe", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	content := minimalConfig + `
surprise: true
`
	if _, err := Load(writeConfig(t, content)); err == nil {
		t.Fatalf("Load() should reject unknown fields")
	}
}

func TestLoadRejectsKafkaWithoutTopic(t *testing.T) {
	content := minimalConfig + `
feed:
  kafka_brokers: ["localhost:9092"]
`
	if _, err := Load(writeConfig(t, content)); err == nil || !strings.Contains(err.Error(), "kafka_topic") {
		t.Fatalf("Load() error = %v, want kafka_topic error", err)
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("ENGINE_API_KEY", "env-key")
	t.Setenv("ENGINE_API_SECRET", "env-secret")
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Exchange.APIKey != "env-key" || cfg.Exchange.APISecret != "env-secret" {
		t.Fatalf("env override not applied: %q/%q", cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	}
}

func TestLoadRejectsBadSymbol(t *testing.T) {
	content := `
mode: testnet
symbols: ["xb"]
`
	if _, err := Load(writeConfig(t, content)); err == nil {
		t.Fatalf("Load() should reject short symbol")
	}
}
