package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/ddbj/dblink/internal/config"
	"github.com/ddbj/dblink/internal/runlog"
)

// checkExternalResourcesCmd is the pipeline's preflight step: it confirms
// the external dependencies later steps assume (Postgres, the sink's HTTP
// endpoint, the cached SRA/DRA tars) are actually reachable, so a missing
// resource surfaces here instead of mid-run in some later step.
var checkExternalResourcesCmd = &cobra.Command{
	Use:   "check-external-resources",
	Short: "Verify Postgres, the sink endpoint, and cached tars are reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("check-external-resources", func(cfg *config.Config, log *runlog.Coordinator) error {
			var failures int

			if cfg.PostgresURL != "" {
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				pool, err := pgxpool.New(ctx, cfg.PostgresURL)
				if err == nil {
					err = pool.Ping(ctx)
					pool.Close()
				}
				cancel()
				if err != nil {
					failures++
					log.Error("postgres unreachable", err)
				} else {
					log.Info("postgres reachable")
				}
			}

			if cfg.ESURL != "" {
				client := &http.Client{Timeout: 10 * time.Second}
				resp, err := client.Get(cfg.ESURL)
				if err != nil {
					failures++
					log.Error("sink endpoint unreachable", err)
				} else {
					resp.Body.Close()
					log.Info(fmt.Sprintf("sink endpoint reachable, status %d", resp.StatusCode))
				}
			}

			for _, path := range []string{cfg.Layout.NCBITarPath(), cfg.Layout.DRATarPath()} {
				if _, err := os.Stat(path); err != nil {
					failures++
					log.Error("required tar missing", err, runlog.WithFile(path))
				} else {
					log.Info("found cached tar", runlog.WithFile(path))
				}
			}

			if failures > 0 {
				return fmt.Errorf("%d external resource check(s) failed", failures)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(checkExternalResourcesCmd)
}
