package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"quantlab/internal/domain"
)

var tradeHeader = []string{
	"symbol", "side", "shares", "entry_time", "exit_time", "entry_price",
	"exit_price", "pnl", "pnl_percentage", "stop_loss", "take_profit", "exit_reason",
}

// WriteTradesCSV writes trades as CSV with a header row.
func WriteTradesCSV(w io.Writer, trades []domain.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		err := cw.Write([]string{
			t.Symbol, t.Side.String(), formatF(t.Shares),
			t.EntryTime.Format(time.RFC3339), t.ExitTime.Format(time.RFC3339),
			formatF(t.EntryPrice), formatF(t.ExitPrice), formatF(t.PnL),
			formatF(t.PnLPercentage), formatF(t.StopLoss), formatF(t.TakeProfit),
			t.ExitReason,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEquityCSV writes an equity curve as timestamp,value rows.
func WriteEquityCSV(w io.Writer, curve []domain.EquityPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "value"}); err != nil {
		return err
	}
	for _, p := range curve {
		if err := cw.Write([]string{p.Timestamp.Format(time.RFC3339), formatF(p.Value)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadBarsCSV parses OHLCV rows with a header naming at least timestamp (or
// date), open, high, low, close and volume. Column order is free and extra
// columns are ignored. Timestamps may be RFC 3339 or YYYY-MM-DD.
func ReadBarsCSV(r io.Reader, symbol string) ([]domain.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idx["timestamp"]; !ok {
		if i, ok := idx["date"]; ok {
			idx["timestamp"] = i
		}
	}
	for _, col := range []string{"timestamp", domain.ColOpen, domain.ColHigh, domain.ColLow, domain.ColClose, domain.ColVolume} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("csv header missing %q column", col)
		}
	}

	var bars []domain.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ts, err := parseTime(rec[idx["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var vals [4]float64
		for i, col := range []string{domain.ColOpen, domain.ColHigh, domain.ColLow, domain.ColClose} {
			if vals[i], err = strconv.ParseFloat(rec[idx[col]], 64); err != nil {
				return nil, fmt.Errorf("line %d %s: %w", line, col, err)
			}
		}
		vol, err := strconv.ParseFloat(rec[idx[domain.ColVolume]], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d volume: %w", line, err)
		}
		bars = append(bars, domain.Bar{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    int64(vol),
		})
	}
	return bars, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}

func formatF(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
