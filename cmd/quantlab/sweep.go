package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"quantlab/internal/backtest"
	"quantlab/internal/gather"
	"quantlab/internal/store"
	"quantlab/internal/strategy/builtins"
)

func (a *app) sweepCmd() *cobra.Command {
	var (
		strategies, symbols []string
		all                 bool
		start, end          string
		parallelism         int
		asJSON, save        bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Backtest every strategy on every symbol in parallel",
		Example: `  quantlab sweep --symbols AAPL,MSFT,SPY
  quantlab sweep --all --strategies macd,bollinger --parallelism 8 --save`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			r, err := gather.ParseDateRange(start, end)
			if err != nil {
				return err
			}
			if all {
				pstore := store.NewParquetStore(a.cfg.Storage.DataDir)
				if symbols, err = pstore.ListSymbols(ctx, a.cfg.Backtest.Market); err != nil {
					return err
				}
			}
			if len(symbols) == 0 {
				return fmt.Errorf("no symbols: pass --symbols or --all")
			}
			if !cmd.Flags().Changed("parallelism") {
				parallelism = a.cfg.Backtest.Parallelism
			}

			bt, closeStores, err := a.newBacktester(save)
			if err != nil {
				return err
			}
			defer closeStores()

			results := bt.RunBatch(ctx, backtest.Sweep(strategies, symbols, r.Start, r.End), parallelism)
			if err := ctx.Err(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			printSweep(out, results)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&strategies, "strategies", builtins.Names, "strategies to run")
	f.StringSliceVar(&symbols, "symbols", nil, "symbols to run")
	f.BoolVar(&all, "all", false, "run every symbol in the bar store")
	f.StringVar(&start, "start", "2020-01-01", "first day, YYYY-MM-DD")
	f.StringVar(&end, "end", "", "last day, YYYY-MM-DD (default today)")
	f.IntVarP(&parallelism, "parallelism", "p", 0, "concurrent runs (default backtest.parallelism)")
	f.BoolVar(&asJSON, "json", false, "print results as JSON")
	f.BoolVar(&save, "save", false, "record every run in the result store")
	return cmd
}

// printSweep prints successful runs best Sharpe first, then failures.
func printSweep(w io.Writer, results []*backtest.Result) {
	sorted := make([]*backtest.Result, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		fi, fj := sorted[i].Failed(), sorted[j].Failed()
		if fi != fj {
			return !fi
		}
		return sorted[i].Performance.SharpeRatio > sorted[j].Performance.SharpeRatio
	})

	fmt.Fprintln(w, headStyle.Render(fmt.Sprintf("%-14s %-8s %10s %8s %9s %7s %16s",
		"STRATEGY", "SYMBOL", "RETURN", "SHARPE", "MAX DD", "TRADES", "FINAL")))
	for _, r := range sorted {
		if r.Failed() {
			fmt.Fprintf(w, "%-14s %-8s %s\n", r.Strategy, r.Symbol, lossStyle.Render(r.Error))
			continue
		}
		m := r.Performance
		fmt.Fprintf(w, "%-14s %-8s %s %8.2f %9s %7d %16s\n",
			r.Strategy, r.Symbol,
			signed(r.TotalReturn, fmt.Sprintf("%10s", fmtPct(r.TotalReturn))),
			m.SharpeRatio,
			fmtPct(m.MaxDrawdown),
			r.TradeCount,
			fmtMoney(r.FinalCapital),
		)
	}
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("%d runs, %d failed", len(results), countFailed(results))))
}

func countFailed(results []*backtest.Result) int {
	n := 0
	for _, r := range results {
		if r.Failed() {
			n++
		}
	}
	return n
}
