package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"futures-engine/internal/alert"
	"futures-engine/internal/api"
	"futures-engine/internal/candle"
	"futures-engine/internal/config"
	"futures-engine/internal/engine"
	"futures-engine/internal/exchange/bitmex"
	"futures-engine/internal/feed"
	"futures-engine/internal/pnl"
	"futures-engine/internal/position"
	"futures-engine/internal/quote"
	"futures-engine/internal/safety"
	"futures-engine/internal/store"
	"futures-engine/internal/stream"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}

	alerts := buildAlertManager(cfg)
	if alerts != nil {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := alerts.Close(closeCtx); err != nil {
				fmt.Fprintf(os.Stderr, "close alert manager failed: %v\n", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	archive, err := store.NewArchive(filepath.Join(cfg.State.Dir, string(cfg.Mode), cfg.InstanceID))
	if err != nil {
		fatal(err.Error())
	}

	events := feed.New(cfg.Feed.Capacity)
	if len(cfg.Feed.KafkaBrokers) > 0 {
		publisher := feed.NewKafkaPublisher(cfg.Feed.KafkaBrokers, cfg.Feed.KafkaTopic)
		defer func() {
			if err := publisher.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "close kafka publisher failed: %v\n", err)
			}
		}()
		events.SetPublisher(publisher)
	}

	client, err := bitmex.NewClient(cfg.Exchange)
	if err != nil {
		fatal(err.Error())
	}
	defer client.Close()

	breaker := safety.NewBreaker(cfg.Breaker.Enabled, cfg.Breaker.MaxPlaceFailures, cfg.Breaker.MaxReconnectFailures)
	breaker.SetAlerter(alerts)
	trading := safety.NewGuardedTrading(client, breaker)

	book := position.NewBook()
	tracker := position.NewTracker(trading, client, book, events, alerts, archive, position.Config{
		PollInterval: time.Duration(cfg.Orders.PollIntervalSec) * time.Second,
		MaxPolls:     cfg.Orders.MaxPolls,
		MaxBackoff:   time.Duration(cfg.Orders.MaxBackoffSec) * time.Second,
		MaxOrderQty:  cfg.Orders.MaxOrderQty.Decimal,
		ClientPrefix: cfg.InstanceID,
	})

	aggregator := candle.NewAggregator(cfg.BucketLength(), cfg.Candles.Window)
	quotes := quote.NewCache()

	eng := engine.New(engine.Deps{
		Symbols:    cfg.Symbols,
		Streams:    stream.NewManager(stream.Config{URL: cfg.Exchange.WSBaseURL}),
		Aggregator: aggregator,
		Quotes:     quotes,
		Valuer:     pnl.NewEngine(book),
		Tracker:    tracker,
		Meta:       client,
		Feed:       events,
		Breaker:    breaker,
	})

	if cfg.API.Enabled {
		server := api.NewServer(aggregator, book, events, quotes)
		httpSrv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.API.Port),
			Handler: server.Router(),
		}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "api server failed: %v\n", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err.Error())
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func buildAlertManager(cfg config.Config) *alert.Manager {
	if !cfg.Telegram.Enabled {
		return nil
	}
	notifier := alert.NewTelegramNotifier(
		cfg.Telegram.Enabled,
		cfg.Telegram.BotToken,
		cfg.Telegram.ChatID,
		cfg.Telegram.APIBaseURL,
		time.Duration(cfg.Telegram.TimeoutSec)*time.Second,
	)
	return alert.NewManager(string(cfg.Mode), cfg.InstanceID, notifier)
}
