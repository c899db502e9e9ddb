package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"quantlab/internal/backtest"
	"quantlab/internal/domain"
	"quantlab/internal/gather"
	"quantlab/internal/store"
)

func (a *app) runCmd() *cobra.Command {
	var (
		strat, symbol, start, end string
		csvPath                   string
		asJSON, save              bool
		tradesOut, equityOut      string
		fast, slow                int
		allowShort                bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Backtest one strategy on one symbol",
		Example: `  quantlab run --strategy sma-cross --symbol AAPL --start 2020-01-01
  quantlab run --strategy rsi-reversion --csv data/msft.csv --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			bt, closeStores, err := a.newBacktester(save)
			if err != nil {
				return err
			}
			defer closeStores()

			req := backtest.Request{Strategy: strat, Symbol: symbol}
			if cmd.Flags().Changed("fast") || cmd.Flags().Changed("slow") || cmd.Flags().Changed("allow-short") {
				p := a.cfg.StrategyParams(strat)
				if cmd.Flags().Changed("fast") {
					p.FastPeriod = fast
				}
				if cmd.Flags().Changed("slow") {
					p.SlowPeriod = slow
				}
				if cmd.Flags().Changed("allow-short") {
					p.AllowShort = allowShort
				}
				req.Params = &p
			}

			var res *backtest.Result
			if csvPath != "" {
				frame, err := readFrame(csvPath, symbol)
				if err != nil {
					return err
				}
				res, err = bt.RunFrame(ctx, req, frame)
				if err != nil {
					return err
				}
			} else {
				if symbol == "" {
					return fmt.Errorf("--symbol is required without --csv")
				}
				r, err := gather.ParseDateRange(start, end)
				if err != nil {
					return err
				}
				req.Start, req.End = r.Start, r.End
				if res, err = bt.Run(ctx, req); err != nil {
					return err
				}
			}

			if err := exportCSV(tradesOut, func(w io.Writer) error { return store.WriteTradesCSV(w, res.Trades) }); err != nil {
				return err
			}
			if err := exportCSV(equityOut, func(w io.Writer) error { return store.WriteEquityCSV(w, res.EquityCurve) }); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printReport(out, res, save)
			if res.Failed() {
				return res.Err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&strat, "strategy", "s", "sma-cross", "strategy name")
	f.StringVar(&symbol, "symbol", "", "ticker symbol (defaults to the CSV file name with --csv)")
	f.StringVar(&start, "start", "2020-01-01", "first day, YYYY-MM-DD")
	f.StringVar(&end, "end", "", "last day, YYYY-MM-DD (default today)")
	f.StringVar(&csvPath, "csv", "", "read bars from a CSV file instead of the bar store")
	f.BoolVar(&asJSON, "json", false, "print the full result as JSON")
	f.BoolVar(&save, "save", false, "record the run in the result store")
	f.StringVar(&tradesOut, "trades-csv", "", "write closed trades to this CSV file")
	f.StringVar(&equityOut, "equity-csv", "", "write the equity curve to this CSV file")
	f.IntVar(&fast, "fast", 0, "override fast_period")
	f.IntVar(&slow, "slow", 0, "override slow_period")
	f.BoolVar(&allowShort, "allow-short", false, "override allow_short")
	return cmd
}

func readFrame(path, symbol string) (*domain.Frame, error) {
	if symbol == "" {
		symbol = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	symbol = strings.ToUpper(symbol)
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	bars, err := store.ReadBarsCSV(fh, symbol)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return domain.NewFrame(symbol, bars), nil
}

func exportCSV(path string, write func(io.Writer) error) error {
	if path == "" {
		return nil
	}
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(fh); err != nil {
		fh.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return fh.Close()
}

func printReport(w io.Writer, res *backtest.Result, saved bool) {
	report := res.Report()
	if res.Failed() {
		fmt.Fprint(w, lossStyle.Render(report))
		return
	}
	title, body, _ := strings.Cut(report, "\n")
	fmt.Fprintln(w, headStyle.Render(title))
	fmt.Fprint(w, body)
	fmt.Fprintf(w, "\n%s %s\n", headStyle.Render("Net result:"),
		signed(res.TotalReturn, fmtMoney(res.FinalCapital-res.InitialCapital)+" ("+fmtPct(res.TotalReturn)+")"))
	if saved {
		fmt.Fprintln(w, dimStyle.Render("run id "+res.ID))
	}
}
