// Command fetch_history downloads historical candles for the configured pair
// and writes them to a CSV file for offline analysis.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"quantbot/config"
	"quantbot/internal/adapters/binanceclient"
	"quantbot/internal/adapters/logger"
	"quantbot/internal/utils"
)

func main() {
	var (
		output   = flag.String("output", "history.csv", "output CSV file")
		duration = flag.Duration("duration", time.Minute, "candle duration (1m, 5m, 1h, ...)")
		lookback = flag.Duration("lookback", 7*24*time.Hour, "how far back to fetch")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	client, err := binanceclient.New(binanceclient.Config{
		APIKey:            cfg.APIKey,
		SecretKey:         cfg.SecretKey,
		UseTestnet:        cfg.IsTestnet,
		Logger:            appLogger,
		RequestsPerSecond: cfg.RequestsPerSecond,
		RequestBurst:      cfg.RequestBurst,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	ctx := context.Background()
	now := time.Now()
	tickers, err := client.HistoryTickers(ctx, cfg.Pair, *duration, now.Add(-*lookback), now)
	if err != nil {
		log.Fatalf("FATAL: Failed to fetch history: %v", err)
	}
	if err := utils.WriteTickersToCSV(tickers, *output); err != nil {
		log.Fatalf("FATAL: Failed to write CSV: %v", err)
	}
	appLogger.Info(ctx, "History written", map[string]interface{}{
		"pair": cfg.Pair.String(), "candles": len(tickers), "file": *output,
	})
}
