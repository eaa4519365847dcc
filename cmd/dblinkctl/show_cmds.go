package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/ddbj/dblink/internal/config"
	"github.com/ddbj/dblink/internal/dblink"
	"github.com/ddbj/dblink/internal/logstore"
	"github.com/ddbj/dblink/internal/runlog"
)

var (
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Align(lipgloss.Center)
	tableBorderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func newTable() *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(tableBorderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

var showLogRunID string

// showLogCmd dumps one run's raw record stream from the log-store
// mirror: the run named by --run, or the most recently started run when
// --run is omitted (spec.md §6 "Run log").
var showLogCmd = &cobra.Command{
	Use:   "show-log",
	Short: "Print one run's raw log records",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath())
		if err != nil {
			return err
		}
		store, err := logstore.Open(cfg.Layout.LogStorePath())
		if err != nil {
			return err
		}
		defer store.Close()

		runID := showLogRunID
		if runID == "" {
			runs, err := store.ListRuns(1)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				return fmt.Errorf("no runs recorded")
			}
			runID = runs[0].RunID
		}

		records, err := store.Records(runID)
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(records))
		for _, r := range records {
			rows = append(rows, []string{
				r.TS.Format("15:04:05.000"),
				string(r.Level),
				r.Msg,
				r.Accession,
				r.DebugCategory,
				r.Error,
			})
		}
		fmt.Println(newTable().
			Headers("TIME", "LEVEL", "MSG", "ACCESSION", "CATEGORY", "ERROR").
			Rows(rows...).
			String())
		return nil
	},
}

var showLogSummaryRunID string

// showLogSummaryCmd renders one run's status, per-level and
// per-debug-category counts, and duration (spec.md §7).
var showLogSummaryCmd = &cobra.Command{
	Use:   "show-log-summary",
	Short: "Summarize one run's outcome and record counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath())
		if err != nil {
			return err
		}
		store, err := logstore.Open(cfg.Layout.LogStorePath())
		if err != nil {
			return err
		}
		defer store.Close()

		sum, err := store.Summarize(showLogSummaryRunID)
		if err != nil {
			return err
		}

		outcome := sum.Outcome
		if outcome == "" {
			outcome = "IN PROGRESS"
		}
		header := newTable().
			Headers("RUN", "NAME", "STARTED", "DURATION", "OUTCOME").
			Rows([]string{sum.RunID, sum.RunName, sum.StartedAt.Format("2006-01-02 15:04:05"), sum.Duration().String(), outcome})
		fmt.Println(header.String())

		levelRows := make([][]string, 0, len(sum.LevelCounts))
		for _, level := range []runlog.Level{runlog.Critical, runlog.ErrorL, runlog.Warning, runlog.Info, runlog.Debug} {
			if n, ok := sum.LevelCounts[string(level)]; ok {
				levelRows = append(levelRows, []string{string(level), fmt.Sprintf("%d", n)})
			}
		}
		fmt.Println(newTable().Headers("LEVEL", "COUNT").Rows(levelRows...).String())

		if len(sum.CategoryCounts) > 0 {
			catRows := make([][]string, 0, len(sum.CategoryCounts))
			for category, n := range sum.CategoryCounts {
				catRows = append(catRows, []string{category, fmt.Sprintf("%d", n)})
			}
			fmt.Println(newTable().Headers("CATEGORY", "COUNT").Rows(catRows...).String())
		}
		return nil
	},
}

// showDBLinkCountsCmd renders the finalized DBLink store's edge count per
// canonicalized type pair, a quick sanity check after finalize-dblink-db.
var showDBLinkCountsCmd = &cobra.Command{
	Use:   "show-dblink-counts",
	Short: "Show the finalized DBLink store's edge counts per type pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath())
		if err != nil {
			return err
		}
		store, err := dblink.Open(cfg.Layout.DBLinkStorePath())
		if err != nil {
			return err
		}
		defer store.Close()

		counts, err := store.PairCounts()
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(counts))
		total := 0
		for _, c := range counts {
			rows = append(rows, []string{c.SrcType.String(), c.DstType.String(), fmt.Sprintf("%d", c.Count)})
			total += c.Count
		}
		rows = append(rows, []string{"TOTAL", "", fmt.Sprintf("%d", total)})

		fmt.Println(newTable().Headers("SRC TYPE", "DST TYPE", "COUNT").Rows(rows...).String())
		return nil
	},
}

func init() {
	showLogCmd.Flags().StringVar(&showLogRunID, "run", "", "Run ID to show (default: the most recent run)")
	rootCmd.AddCommand(showLogCmd)

	showLogSummaryCmd.Flags().StringVar(&showLogSummaryRunID, "run", "", "Run ID to summarize (default: the most recent run)")
	rootCmd.AddCommand(showLogSummaryCmd)

	rootCmd.AddCommand(showDBLinkCountsCmd)
}
