package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ddbj/dblink/internal/config"
	"github.com/ddbj/dblink/internal/emit"
	"github.com/ddbj/dblink/internal/runlog"
)

// downloadToFile streams url into path via a .tmp-then-rename swap,
// grounded on the teacher's SRADownloader.downloadWithHTTP.
func downloadToFile(client *http.Client, url, path string) error {
	tmpPath := path + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	defer out.Close()

	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// newSyncTarCmd builds sync-ncbi-tar/sync-dra-tar: each refreshes the
// cached submission-set tar (downloading it when a source URL is given)
// and rebuilds the per-tar offset index the SRA/DRA JSONL emitter seeks
// into for submission titles (spec.md §4.7 "index cached per tar").
func newSyncTarCmd(use, description string, tarPath func(cfg *config.Config) string) *cobra.Command {
	var sourceURL string
	cmd := &cobra.Command{
		Use:   use,
		Short: description,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStep(use, func(cfg *config.Config, log *runlog.Coordinator) error {
				path := tarPath(cfg)

				if sourceURL != "" {
					client := &http.Client{Timeout: 30 * time.Minute}
					if err := downloadToFile(client, sourceURL, path); err != nil {
						return fmt.Errorf("download %s: %w", sourceURL, err)
					}
					log.Info(fmt.Sprintf("downloaded %s to %s", sourceURL, path))
				}

				idx, err := emit.BuildTarIndex(path)
				if err != nil {
					return err
				}
				if err := idx.Save(cfg.Layout.TarIndexPath(path)); err != nil {
					return err
				}
				log.Info(fmt.Sprintf("rebuilt tar index for %s (%d members)", path, len(idx.Entries)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sourceURL, "source-url", "", "Remote URL to download before reindexing (omit to just reindex the cached tar)")
	return cmd
}

var syncNCBITarCmd = newSyncTarCmd("sync-ncbi-tar", "Refresh the cached NCBI SRA submission tar and its offset index",
	func(cfg *config.Config) string { return cfg.Layout.NCBITarPath() })

var syncDRATarCmd = newSyncTarCmd("sync-dra-tar", "Refresh the cached DRA submission tar and its offset index",
	func(cfg *config.Config) string { return cfg.Layout.DRATarPath() })

func init() {
	rootCmd.AddCommand(syncNCBITarCmd)
	rootCmd.AddCommand(syncDRATarCmd)
}
