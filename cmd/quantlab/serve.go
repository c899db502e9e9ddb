package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"quantlab/internal/backtest"
	"quantlab/internal/httpapi"
	"quantlab/internal/store"
	"quantlab/internal/strategy/builtins"
)

func (a *app) serveCmd() *cobra.Command {
	var (
		addr     string
		readOnly bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve saved runs over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sq, err := store.NewSQLiteStore(a.cfg.Storage.SQLitePath)
			if err != nil {
				return err
			}
			defer sq.Close()
			pstore := store.NewParquetStore(a.cfg.Storage.DataDir)

			var runner httpapi.Runner
			if !readOnly {
				bt, err := backtest.New(a.cfg, pstore, builtins.New, a.log,
					backtest.WithResultStore(sq), backtest.WithArtifactStore(pstore))
				if err != nil {
					return err
				}
				runner = bt
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           httpapi.NewServer(sq, pstore, runner, builtins.Names, a.log).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			a.log.Info("http api listening", "addr", addr, "read_only", readOnly)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "disable POST /api/backtests")
	return cmd
}
