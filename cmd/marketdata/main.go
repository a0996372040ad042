// Command marketdata streams public trades, appends every tick to a JSONL
// file and prints candle activity. It is the connectivity smoke test: no
// keys, no orders, just the websocket and the aggregator.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"futures-engine/internal/candle"
	"futures-engine/internal/config"
	"futures-engine/internal/stream"
)

type tradeRow struct {
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Size      decimal.Decimal `json:"size"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.State.Dir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	ticks, err := os.OpenFile(filepath.Join(cfg.State.Dir, "trades.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	defer ticks.Close()
	tickWriter := json.NewEncoder(ticks)

	aggregator := candle.NewAggregator(cfg.BucketLength(), cfg.Candles.Window)
	streams := stream.NewManager(stream.Config{URL: cfg.Exchange.WSBaseURL})
	for _, symbol := range cfg.Symbols {
		streams.Subscribe("trade:" + symbol)
	}
	streams.Handle("trade", func(action string, data json.RawMessage) {
		if action != "insert" && action != "partial" {
			return
		}
		var rows []tradeRow
		if err := json.Unmarshal(data, &rows); err != nil {
			log.Printf("level=WARN event=trade_frame_malformed err=%q", err.Error())
			return
		}
		for _, row := range rows {
			if row.Price.Cmp(decimal.Zero) <= 0 || row.Size.Cmp(decimal.Zero) <= 0 {
				continue
			}
			if err := tickWriter.Encode(row); err != nil {
				log.Printf("level=WARN event=tick_write_failed err=%q", err.Error())
			}
			result := aggregator.OnTrade(row.Symbol, row.Price, row.Size, row.Timestamp)
			if result.Kind == candle.SameCandle {
				continue
			}
			if last, ok := aggregator.Last(row.Symbol); ok {
				log.Printf(
					"level=INFO event=candle_opened symbol=%s kind=%s start=%s open=%s synthesized=%d",
					row.Symbol,
					result.Kind,
					last.Start.Format(time.RFC3339),
					last.Open,
					result.Synthesized,
				)
			}
		}
	})

	if err := streams.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
