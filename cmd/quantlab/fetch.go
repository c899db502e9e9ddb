package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"quantlab/internal/gather"
	"quantlab/internal/gather/us"
	"quantlab/internal/store"
)

func (a *app) fetchCmd() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "fetch SYMBOL...",
		Short: "Download daily bars from Alpaca into the bar store",
		Long: `fetch downloads daily OHLCV bars for the given US symbols and merges
them into the Parquet bar store. Symbols already stored through the end date
are skipped. Credentials come from APCA_API_KEY_ID and APCA_API_SECRET_KEY
(or the alpaca section of the config).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ac := a.cfg.Alpaca
			if ac.APIKey == "" || ac.APISecret == "" {
				return errors.New("alpaca credentials not set")
			}
			if start == "" {
				start = a.cfg.Gather.StartDate
			}
			r, err := gather.ParseDateRange(start, end)
			if err != nil {
				return err
			}

			g := a.cfg.Gather
			fetcher := us.NewDailyBarFetcher(ac.APIKey, ac.APISecret, ac.DataURL,
				store.NewParquetStore(a.cfg.Storage.DataDir),
				us.Options{
					Symbols:         args,
					Range:           r,
					Feed:            ac.Feed,
					BatchSize:       g.BatchSize,
					Workers:         g.Workers,
					RateLimitPerMin: g.RateLimitPerMin,
					MaxRetries:      g.MaxRetries,
					RetryDelay:      time.Second,
				},
				us.NewCalendarResolver(ac.APIKey, ac.APISecret, ac.TradingURL),
				a.log,
			)
			sum, err := fetcher.Fetch(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s bars through %s: %d fetched, %d up to date, %d empty, %d failed\n",
				humanize.Comma(int64(sum.Bars)), sum.End.Format(time.DateOnly),
				len(sum.Fetched), len(sum.Skipped), len(sum.Empty), len(sum.Failed))
			if len(sum.Empty) > 0 {
				fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("no data: %v", sum.Empty)))
			}
			if len(sum.Failed) > 0 {
				return fmt.Errorf("%d symbols failed: %v", len(sum.Failed), sum.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first day, YYYY-MM-DD (default gather.start_date)")
	cmd.Flags().StringVar(&end, "end", "", "last day, YYYY-MM-DD (default latest finished session)")
	return cmd
}
