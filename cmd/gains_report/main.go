// Command gains_report summarizes realized gains from the position database,
// pooled per strategy and settlement currency, with an optional CSV export of
// the underlying positions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"

	"quantbot/config"
	"quantbot/internal/adapters/logger"
	"quantbot/internal/adapters/sqlite"
	"quantbot/internal/app"
	"quantbot/internal/domain"
	"quantbot/internal/utils"
)

func main() {
	var (
		strategyID = flag.String("strategy", "", "restrict the report to one strategy ID")
		csvOut     = flag.String("csv", "", "also export the positions to this CSV file")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to open database: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	var positions []*domain.Position
	if *strategyID == "" {
		positions, err = repo.FindAll(ctx)
	} else {
		positions, err = repo.FindByStrategy(ctx, *strategyID)
	}
	if err != nil {
		log.Fatalf("FATAL: Failed to load positions: %v", err)
	}

	byStrategy := make(map[string][]*domain.Position)
	for _, pos := range positions {
		byStrategy[pos.StrategyID] = append(byStrategy[pos.StrategyID], pos)
	}
	strategies := make([]string, 0, len(byStrategy))
	for id := range byStrategy {
		strategies = append(strategies, id)
	}
	sort.Strings(strategies)

	for _, id := range strategies {
		strategyPositions := byStrategy[id]
		closed := 0
		for _, pos := range strategyPositions {
			if pos.Status() == domain.StatusClosed {
				closed++
			}
		}
		fmt.Printf("Strategy %s (%d positions, %d closed)\n", id, len(strategyPositions), closed)

		gains := app.PoolGains(strategyPositions)
		currencies := make([]string, 0, len(gains))
		for currency := range gains {
			currencies = append(currencies, currency)
		}
		sort.Strings(currencies)
		if len(currencies) == 0 {
			fmt.Println("  no realized gains yet")
			continue
		}
		for _, currency := range currencies {
			gain := gains[currency]
			fmt.Printf("  %s: %s (%s%%)", currency, gain.Amount.Value.String(), gain.Percentage.String())
			for _, fee := range gain.Fees {
				fmt.Printf("  fees %s %s", fee.Value.String(), fee.Currency)
			}
			fmt.Println()
		}
	}

	if *csvOut != "" {
		if err := utils.WritePositionsToCSV(positions, *csvOut); err != nil {
			log.Fatalf("FATAL: Failed to write CSV: %v", err)
		}
		fmt.Printf("Positions exported to %s\n", *csvOut)
	}
}
