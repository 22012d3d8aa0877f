package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/finanzas-abiertas/tibc-etl/internal/app/etl"
	"github.com/finanzas-abiertas/tibc-etl/internal/config"
	"github.com/finanzas-abiertas/tibc-etl/internal/pkg/store"
)

// Exit codes, one per run-aborting error class, so the scheduler can alert
// on the cause without parsing logs.
const (
	exitOK       = 0
	exitOther    = 1
	exitContract = 2
	exitSource   = 3
	exitLoad     = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		sinceFlag   string
		dbFlag      string
		sourceFlag  string
		verboseFlag bool
	)

	cmd := &cobra.Command{
		Use:           "tibc-etl",
		Short:         "Load current bank interest rate (TIBC) records from datos.gov.co into SQLite",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(verboseFlag)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // stderr sync failure is not actionable

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if dbFlag != "" {
				cfg.DBPath = dbFlag
			}
			if sourceFlag != "" {
				cfg.SourceURL = sourceFlag
			}

			var since *civil.Date
			if sinceFlag != "" {
				d, err := civil.ParseDate(sinceFlag)
				if err != nil {
					return fmt.Errorf("invalid --since date %q (want YYYY-MM-DD): %w", sinceFlag, err)
				}
				since = &d
			}

			client := etl.NewClient(
				cfg.SourceURL,
				cfg.RequestTimeout,
				cfg.PageSize,
				etl.RetryPolicy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.RetryBaseDelay},
				cfg.RequestsPerSecond,
				logger.Named("client"),
			)

			sqliteStore, err := store.NewSqlite(cfg.DBPath, logger.Named("store"))
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer sqliteStore.Close() //nolint:errcheck // read-only close after commit/rollback

			svc := etl.NewService(client, sqliteStore, logger.Named("etl"))

			stats, err := svc.Run(cmd.Context(), since)
			if err != nil {
				return err
			}
			logger.Info("run succeeded", zap.Object("stats", stats))
			return nil
		},
	}
	cmd.Flags().StringVar(&sinceFlag, "since", "", "only load records reported on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&dbFlag, "db", "", "path to the SQLite database file (default from TIBC_DB_PATH)")
	cmd.Flags().StringVar(&sourceFlag, "source-url", "", "source API endpoint (default from TIBC_SOURCE_URL)")
	cmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "tibc-etl:", err)
		return exitCode(err)
	}
	return exitOK
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func exitCode(err error) int {
	var (
		contractErr  *etl.SourceContractError
		transientErr *etl.TransientSourceError
		loadErr      *etl.LoadFailure
	)
	switch {
	case errors.As(err, &contractErr):
		return exitContract
	case errors.As(err, &transientErr):
		return exitSource
	case errors.As(err, &loadErr):
		return exitLoad
	default:
		return exitOther
	}
}
