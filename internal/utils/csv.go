package utils

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"quantbot/internal/domain"
)

// WriteTickersToCSV exports historical tickers, one row per candle.
func WriteTickersToCSV(tickers []*domain.Ticker, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write([]string{"timestamp", "pair", "open", "high", "low", "last", "volume"})
	for _, t := range tickers {
		writer.Write([]string{
			t.Timestamp.Format(time.RFC3339),
			t.Pair.String(),
			t.Open.String(),
			t.High.String(),
			t.Low.String(),
			t.Last.String(),
			t.Volume.String(),
		})
	}
	return writer.Error()
}

// WritePositionsToCSV exports positions with their realized gains. Positions
// that are not yet closed get empty gain columns.
func WritePositionsToCSV(positions []*domain.Position, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write([]string{"uid", "strategy_id", "position_id", "pair", "type", "domain",
		"status", "amount", "exit_reason", "gain_amount", "gain_currency", "gain_percentage"})
	for _, p := range positions {
		row := []string{
			p.UID,
			p.StrategyID,
			strconv.FormatInt(p.PositionID, 10),
			p.Pair.String(),
			string(p.Type),
			string(p.Domain),
			string(p.Status()),
			p.Amount.Value.String(),
			p.ExitReason,
			"", "", "",
		}
		if gain, ok := p.Gain(); ok {
			row[9] = gain.Amount.Value.String()
			row[10] = gain.Amount.Currency
			row[11] = gain.Percentage.String()
		}
		writer.Write(row)
	}
	return writer.Error()
}
