package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ddbj/dblink/internal/accstore"
	"github.com/ddbj/dblink/internal/config"
	"github.com/ddbj/dblink/internal/errs"
	"github.com/ddbj/dblink/internal/runlog"
)

var (
	sraAccessionsFile string
	draAccessionsFile string
)

// buildAccessionsDBCmd bulk-loads the daily NCBI SRA_Accessions.tab and
// DDBJ DRA_Accessions.tab into the accessions store the dblink sra_internal
// extractor and the sra/dra JSONL emitters both read (spec.md §4.3).
var buildAccessionsDBCmd = &cobra.Command{
	Use:   "build-sra-and-dra-accessions-db",
	Short: "Load SRA_Accessions.tab and DRA_Accessions.tab into the accessions store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("build-sra-and-dra-accessions-db", func(cfg *config.Config, log *runlog.Coordinator) error {
			store, err := accstore.Open(cfg.Layout.AccessionsStorePath("sra"))
			if err != nil {
				return err
			}
			defer store.Close()

			onCollision := func(typ, acc string) {
				log.DebugSkip("accession row collision, last writer wins", errs.CategoryMergeCollision, runlog.WithAccession(acc))
			}

			total := 0
			for _, path := range []string{sraAccessionsFile, draAccessionsFile} {
				if path == "" {
					continue
				}
				n, err := store.Load(path, onCollision)
				if err != nil {
					return err
				}
				total += n
				log.Info(fmt.Sprintf("loaded %d rows from %s", n, path))
			}
			if total == 0 {
				return fmt.Errorf("no accessions file supplied (--sra-file / --dra-file)")
			}
			return nil
		})
	},
}

func init() {
	buildAccessionsDBCmd.Flags().StringVar(&sraAccessionsFile, "sra-file", "", "Path to NCBI's SRA_Accessions.tab")
	buildAccessionsDBCmd.Flags().StringVar(&draAccessionsFile, "dra-file", "", "Path to DDBJ's DRA_Accessions.tab")
	rootCmd.AddCommand(buildAccessionsDBCmd)
}
