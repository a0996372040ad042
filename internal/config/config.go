package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeTestnet Mode = "testnet"
	ModeLive    Mode = "live"
)

var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
}

type Config struct {
	Mode       Mode           `yaml:"mode"`
	Symbols    []string       `yaml:"symbols"`
	InstanceID string         `yaml:"instance_id"`
	Candles    CandleConfig   `yaml:"candles"`
	Exchange   ExchangeConfig `yaml:"exchange"`
	Orders     OrderConfig    `yaml:"orders"`
	Feed       FeedConfig     `yaml:"feed"`
	API        APIConfig      `yaml:"api"`
	State      StateConfig    `yaml:"state"`
	Breaker    BreakerConfig  `yaml:"circuit_breaker"`
	Telegram   TelegramConfig `yaml:"telegram"`
}

type CandleConfig struct {
	Timeframe string `yaml:"timeframe"`
	Window    int    `yaml:"window"`
}

type ExchangeConfig struct {
	APIKey           string `yaml:"api_key" env:"ENGINE_API_KEY"`
	APISecret        string `yaml:"api_secret" env:"ENGINE_API_SECRET"`
	RestBaseURL      string `yaml:"rest_base_url"`
	WSBaseURL        string `yaml:"ws_base_url"`
	HTTPTimeoutSec   int64  `yaml:"http_timeout_sec"`
	ExpiresWindowSec int64  `yaml:"expires_window_sec"`
	ContractTTLSec   int64  `yaml:"contract_cache_ttl_sec"`
}

type OrderConfig struct {
	PollIntervalSec int64   `yaml:"poll_interval_sec"`
	MaxPolls        int     `yaml:"max_polls"`
	MaxBackoffSec   int64   `yaml:"max_backoff_sec"`
	MaxOrderQty     Decimal `yaml:"max_order_qty"`
}

type FeedConfig struct {
	Capacity     int      `yaml:"capacity"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

type APIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type StateConfig struct {
	Dir string `yaml:"dir"`
}

type BreakerConfig struct {
	Enabled              bool `yaml:"enabled"`
	MaxPlaceFailures     int  `yaml:"max_place_failures"`
	MaxReconnectFailures int  `yaml:"max_reconnect_failures"`
}

type TelegramConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BotToken   string `yaml:"bot_token" env:"ENGINE_TELEGRAM_TOKEN"`
	ChatID     string `yaml:"chat_id" env:"ENGINE_TELEGRAM_CHAT_ID"`
	APIBaseURL string `yaml:"api_base_url"`
	TimeoutSec int64  `yaml:"timeout_sec"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("config must contain a single YAML document")
		}
		return Config{}, err
	}
	// Secrets may live in the environment instead of the file.
	if err := env.Parse(&cfg.Exchange); err != nil {
		return Config{}, err
	}
	if err := env.Parse(&cfg.Telegram); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Mode = Mode(strings.ToLower(strings.TrimSpace(string(c.Mode))))
	c.InstanceID = strings.ToLower(strings.TrimSpace(c.InstanceID))
	for i := range c.Symbols {
		c.Symbols[i] = strings.ToUpper(strings.TrimSpace(c.Symbols[i]))
	}
	c.Candles.Timeframe = strings.ToLower(strings.TrimSpace(c.Candles.Timeframe))
	c.Exchange.APIKey = strings.TrimSpace(c.Exchange.APIKey)
	c.Exchange.APISecret = strings.TrimSpace(c.Exchange.APISecret)
	c.Exchange.RestBaseURL = strings.TrimSpace(c.Exchange.RestBaseURL)
	c.Exchange.WSBaseURL = strings.TrimSpace(c.Exchange.WSBaseURL)
	c.Feed.KafkaTopic = strings.TrimSpace(c.Feed.KafkaTopic)
	c.State.Dir = strings.TrimSpace(c.State.Dir)
	c.Telegram.BotToken = strings.TrimSpace(c.Telegram.BotToken)
	c.Telegram.ChatID = strings.TrimSpace(c.Telegram.ChatID)
	c.Telegram.APIBaseURL = strings.TrimSpace(c.Telegram.APIBaseURL)
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeTestnet
	}
	if c.InstanceID == "" {
		c.InstanceID = "default"
	}
	if c.Candles.Timeframe == "" {
		c.Candles.Timeframe = "5m"
	}
	if c.Candles.Window == 0 {
		c.Candles.Window = 110
	}
	if c.Exchange.HTTPTimeoutSec == 0 {
		c.Exchange.HTTPTimeoutSec = 15
	}
	if c.Exchange.ExpiresWindowSec == 0 {
		c.Exchange.ExpiresWindowSec = 5
	}
	if c.Exchange.ContractTTLSec == 0 {
		c.Exchange.ContractTTLSec = 600
	}
	if c.Orders.PollIntervalSec == 0 {
		c.Orders.PollIntervalSec = 2
	}
	if c.Orders.MaxPolls == 0 {
		c.Orders.MaxPolls = 150
	}
	if c.Orders.MaxBackoffSec == 0 {
		c.Orders.MaxBackoffSec = 30
	}
	if c.Feed.Capacity == 0 {
		c.Feed.Capacity = 500
	}
	if c.API.Port == 0 {
		c.API.Port = 8085
	}
	if c.State.Dir == "" {
		c.State.Dir = "state"
	}
	if c.Breaker.MaxPlaceFailures == 0 {
		c.Breaker.MaxPlaceFailures = 5
	}
	if c.Breaker.MaxReconnectFailures == 0 {
		c.Breaker.MaxReconnectFailures = 10
	}
	if c.Telegram.APIBaseURL == "" {
		c.Telegram.APIBaseURL = "https://api.telegram.org"
	}
	if c.Telegram.TimeoutSec == 0 {
		c.Telegram.TimeoutSec = 10
	}
	if c.Exchange.RestBaseURL == "" {
		switch c.Mode {
		case ModeTestnet:
			c.Exchange.RestBaseURL = "https://testnet.bitmex.com"
		case ModeLive:
			c.Exchange.RestBaseURL = "https://www.bitmex.com"
		}
	}
	if c.Exchange.WSBaseURL == "" {
		switch c.Mode {
		case ModeTestnet:
			c.Exchange.WSBaseURL = "wss://ws.testnet.bitmex.com/realtime"
		case ModeLive:
			c.Exchange.WSBaseURL = "wss://ws.bitmex.com/realtime"
		}
	}
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeTestnet, ModeLive:
	default:
		return fmt.Errorf("mode must be testnet or live")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	for _, s := range c.Symbols {
		if !isValidSymbol(s) {
			return fmt.Errorf("symbol %q must match [A-Z0-9], length 3..20", s)
		}
	}
	if !isValidInstanceID(c.InstanceID) {
		return fmt.Errorf("instance_id must match [a-z0-9_-], length 1..24")
	}
	if _, ok := timeframes[c.Candles.Timeframe]; !ok {
		return fmt.Errorf("unknown timeframe %q", c.Candles.Timeframe)
	}
	if c.Candles.Window < 2 {
		return fmt.Errorf("candle window must be >= 2")
	}
	if c.Orders.MaxPolls < 1 {
		return fmt.Errorf("orders max_polls must be >= 1")
	}
	if c.Feed.Capacity < 1 {
		return fmt.Errorf("feed capacity must be >= 1")
	}
	if len(c.Feed.KafkaBrokers) > 0 && c.Feed.KafkaTopic == "" {
		return fmt.Errorf("feed kafka_topic required when kafka_brokers set")
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		return fmt.Errorf("api port must be 1..65535")
	}
	if err := validateURL(c.Exchange.RestBaseURL, "https"); err != nil {
		return fmt.Errorf("rest_base_url: %w", err)
	}
	if err := validateURL(c.Exchange.WSBaseURL, "wss"); err != nil {
		return fmt.Errorf("ws_base_url: %w", err)
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram bot_token and chat_id required when enabled")
	}
	return nil
}

// BucketLength resolves the configured timeframe key. Validate guarantees the
// key exists; an unknown key here is a programming error and panics.
func (c Config) BucketLength() time.Duration {
	d, ok := timeframes[c.Candles.Timeframe]
	if !ok {
		panic(fmt.Sprintf("unknown timeframe %q", c.Candles.Timeframe))
	}
	return d
}

func isValidSymbol(s string) bool {
	if len(s) < 3 || len(s) > 20 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func isValidInstanceID(s string) bool {
	if len(s) < 1 || len(s) > 24 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return false
		}
	}
	return true
}

func validateURL(raw, wantScheme string) error {
	if raw == "" {
		return fmt.Errorf("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != wantScheme {
		return fmt.Errorf("scheme must be %s", wantScheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host required")
	}
	return nil
}
