// quantlab backtests trading strategies against historical daily bars.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"quantlab/internal/backtest"
	"quantlab/internal/config"
	"quantlab/internal/store"
	"quantlab/internal/strategy/builtins"
	"quantlab/internal/util"
)

var version = "0.1.0"

// app carries state shared by every subcommand once the root pre-run has
// loaded configuration.
type app struct {
	cfgPath   string
	envFile   string
	logLevel  string
	logFormat string

	cfg *config.Config
	log *slog.Logger
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:   "quantlab",
		Short: "Backtest trading strategies on daily bars",
		Long: `quantlab replays a trading strategy bar by bar over historical daily
data, applies position sizing and stop rules, and reports risk and return
statistics.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgPath, "config", "c", os.Getenv("QUANTLAB_CONFIG"), "YAML config file (built-in defaults when empty)")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file with credentials")
	pf.StringVar(&a.logLevel, "log-level", "", "override logging.level")
	pf.StringVar(&a.logFormat, "log-format", "", "override logging.format (json or text)")

	root.AddCommand(a.runCmd())
	root.AddCommand(a.sweepCmd())
	root.AddCommand(a.fetchCmd())
	root.AddCommand(a.runsCmd())
	root.AddCommand(a.serveCmd())
	root.AddCommand(versionCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(a.envFile); err != nil {
		if cmd.Flags().Changed("env-file") || !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", a.envFile, err)
		}
	}

	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	a.cfg = cfg
	a.log = util.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(a.log)
	return nil
}

// newBacktester wires the bar store and, when save is set, the SQLite result
// store and Parquet artifact store. The returned func releases them.
func (a *app) newBacktester(save bool) (*backtest.Backtester, func(), error) {
	pstore := store.NewParquetStore(a.cfg.Storage.DataDir)
	var opts []backtest.Option
	closer := func() {}
	if save {
		sq, err := store.NewSQLiteStore(a.cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening result store: %w", err)
		}
		opts = append(opts, backtest.WithResultStore(sq), backtest.WithArtifactStore(pstore))
		closer = func() { sq.Close() }
	}
	bt, err := backtest.New(a.cfg, pstore, builtins.New, a.log, opts...)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return bt, closer, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "quantlab version %s\n", version)
		},
	}
}
