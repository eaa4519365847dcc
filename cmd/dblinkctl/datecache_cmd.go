package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/ddbj/dblink/internal/config"
	"github.com/ddbj/dblink/internal/datecache"
	"github.com/ddbj/dblink/internal/runlog"
)

// buildBPBSDateCacheCmd runs the one-shot bulk projection of accession
// dates out of Postgres into the columnar date cache (spec.md §4.5). Named
// after its original bioproject/biosample scope, the cache also carries
// the sra family's dates.
var buildBPBSDateCacheCmd = &cobra.Command{
	Use:   "build-bp-bs-date-cache",
	Short: "Bulk-project accession dates from Postgres into the date cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("build-bp-bs-date-cache", func(cfg *config.Config, log *runlog.Coordinator) error {
			if cfg.PostgresURL == "" {
				return fmt.Errorf("postgres_url is not configured")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			pool, err := pgxpool.New(ctx, cfg.PostgresURL)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}
			defer pool.Close()

			store, err := datecache.Open(cfg.Layout.DateCachePath())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := datecache.Build(ctx, pool, store); err != nil {
				return err
			}
			log.Info("rebuilt bp/bs/sra date cache from postgres")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(buildBPBSDateCacheCmd)
}
