package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/buscanime/buscanime/internal/batch"
)

func newHistoryCmd() *cobra.Command {
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "history FILE.parquet",
		Short: "Show the results of a previous batch run",
		Example: `  buscanime history results/2026-01-02_15-04-05.parquet
  buscanime history results/2026-01-02_15-04-05.parquet --failed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := batch.LoadParquet(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), historyTable(records, failedOnly))
			printSummary(cmd, batch.Summarize(records))
			return nil
		},
	}

	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only list images whose search failed")

	return cmd
}

func historyTable(records []batch.Record, failedOnly bool) string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		if failedOnly && rec.Matched() {
			continue
		}
		detail := rec.Title
		if !rec.Matched() {
			detail = rec.Error
		}
		similarity := ""
		if rec.Matched() {
			similarity = fmt.Sprintf("%.2f%%", rec.Similarity*100)
		}
		rows = append(rows, []string{
			filepath.Base(rec.Path),
			rec.Phase,
			detail,
			rec.Episode,
			similarity,
			fmt.Sprintf("%d", rec.Attempts),
		})
	}

	return renderTable(
		[]string{"Image", "Phase", "Title / error", "Episode", "Similarity", "Attempts"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	)
}
