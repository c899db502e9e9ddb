package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"quantlab/internal/backtest"
	"quantlab/internal/store"
)

func (a *app) runsCmd() *cobra.Command {
	var filter store.RunFilter
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List saved runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sq, err := store.NewSQLiteStore(a.cfg.Storage.SQLitePath)
			if err != nil {
				return err
			}
			defer sq.Close()

			runs, err := sq.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headStyle.Render(fmt.Sprintf("%-36s %-15s %-14s %-8s %10s %8s %7s",
				"ID", "CREATED", "STRATEGY", "SYMBOL", "RETURN", "SHARPE", "TRADES")))
			for _, r := range runs {
				if r.Error != "" {
					fmt.Fprintf(out, "%-36s %-15s %-14s %-8s %s\n", r.ID, humanize.Time(r.CreatedAt), r.Strategy, r.Symbol, lossStyle.Render(r.Error))
					continue
				}
				fmt.Fprintf(out, "%-36s %-15s %-14s %-8s %s %8.2f %7d\n",
					r.ID, humanize.Time(r.CreatedAt), r.Strategy, r.Symbol,
					signed(r.TotalReturn, fmt.Sprintf("%10s", fmtPct(r.TotalReturn))),
					r.SharpeRatio, r.TradeCount)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Strategy, "strategy", "", "only this strategy")
	cmd.Flags().StringVar(&filter.Symbol, "symbol", "", "only this symbol")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 20, "maximum rows (0 for all)")

	cmd.AddCommand(a.runsShowCmd())
	return cmd
}

func (a *app) runsShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Print the report of a saved run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sq, err := store.NewSQLiteStore(a.cfg.Storage.SQLitePath)
			if err != nil {
				return err
			}
			defer sq.Close()

			rec, err := sq.GetRun(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no run with id %s", args[0])
			}
			if err != nil {
				return err
			}
			if len(rec.Payload) == 0 {
				return fmt.Errorf("run %s has no stored result", rec.ID)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				_, err := out.Write(append(rec.Payload, '\n'))
				return err
			}
			var res backtest.Result
			if err := json.Unmarshal(rec.Payload, &res); err != nil {
				return fmt.Errorf("decoding run %s: %w", rec.ID, err)
			}
			printReport(out, &res, true)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the stored result as JSON")
	return cmd
}
