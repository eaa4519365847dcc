package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ddbj/dblink/internal/config"
	"github.com/ddbj/dblink/internal/runlog"
	"github.com/ddbj/dblink/internal/shard"
)

// newPrepareXMLCmd builds one of prepare-bioproject-xml/prepare-biosample-xml:
// both split a single large wrapper-element XML dump into fixed-size,
// wrapper-preserving shards under tmp_xml/{family} (spec.md §4.2).
func newPrepareXMLCmd(use, family, description, rootTag, openTag, closeTag string) *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   use,
		Short: description,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStep(use, func(cfg *config.Config, log *runlog.Coordinator) error {
				result, err := shard.Split(shard.Config{
					InputPath:       input,
					RootTag:         rootTag,
					RecordOpenTag:   openTag,
					RecordCloseTag:  closeTag,
					RecordsPerShard: cfg.Shard.RecordsPerShard,
					OutDir:          cfg.Layout.TmpXMLDir(family),
					NamePrefix:      "split",
				})
				if err != nil {
					return err
				}
				log.Info(fmt.Sprintf("split %s into %d shards, %d records", input, len(result.ShardPaths), result.TotalRecords))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "Path to the source XML dump (.xml or .xml.gz)")
	cmd.MarkFlagRequired("input")
	return cmd
}

var prepareBioProjectXMLCmd = newPrepareXMLCmd(
	"prepare-bioproject-xml", "bp", "Split the BioProject XML dump into shards",
	"PackageSet", "<Package", "</Package>")

var prepareBioSampleXMLCmd = newPrepareXMLCmd(
	"prepare-biosample-xml", "bs", "Split the BioSample XML dump into shards",
	"BioSampleSet", "<BioSample", "</BioSample>")

func init() {
	rootCmd.AddCommand(prepareBioProjectXMLCmd)
	rootCmd.AddCommand(prepareBioSampleXMLCmd)
}
