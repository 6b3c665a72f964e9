package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/buscanime/buscanime/internal/batch"
)

func newBatchCmd(opts *globalOptions) *cobra.Command {
	var workers int
	var outputDir string
	var resolver string
	var model string

	cmd := &cobra.Command{
		Use:   "batch DIR",
		Short: "Search every image under a directory",
		Long: `Walks DIR for images and searches each one in its own session, a few at a
time. Results are written to OUTPUT-DIR as a YAML report and a Parquet file
that "buscanime history" can read back.

Identical frames are answered from an in-memory cache instead of being
submitted twice.`,
		Example: `  # Search all frames with the default 4 workers
  buscanime batch ./frames

  # Stay under a 2-concurrent-search quota
  buscanime batch ./frames --workers 2 --output-dir ./results`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, true)
			if err != nil {
				return err
			}
			titles, err := newResolver(resolver, model)
			if err != nil {
				return err
			}

			paths, err := batch.Discover(args[0])
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no images found under %s", args[0])
			}

			runner := &batch.Runner{
				Fetcher:    a.fetcher,
				NewSession: a.newSession,
				Titles:     titles,
				Workers:    workers,
			}
			records, runErr := runner.Run(cmd.Context(), paths)

			summary := batch.Summarize(records)
			timestamp := time.Now().Format("2006-01-02_15-04-05")
			report := &batch.Report{
				Directory: args[0],
				Endpoint:  a.client.Endpoint(),
				Workers:   workers,
				Timestamp: timestamp,
				Summary:   summary,
				Records:   records,
			}

			yamlPath := filepath.Join(outputDir, timestamp+".yaml")
			if err := batch.SaveYAML(yamlPath, report); err != nil {
				return err
			}
			parquetPath := filepath.Join(outputDir, timestamp+".parquet")
			if err := batch.SaveParquet(parquetPath, records); err != nil {
				return err
			}
			slog.Info("Results saved", "yaml", yamlPath, "parquet", parquetPath)

			printSummary(cmd, summary)
			fmt.Fprintf(cmd.OutOrStdout(), "\nInspect results with:\n  buscanime history %s\n", parquetPath)

			return runErr
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", batch.DefaultWorkers, "Number of images searched concurrently")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "results", "Directory for the YAML and Parquet results")
	cmd.Flags().StringVar(&resolver, "resolver", "", "LLM used when the title cannot be read from the filename (gemini, ollama, openai)")
	cmd.Flags().StringVar(&model, "model", "", "Model for the title resolver (defaults per provider)")

	return cmd
}

func printSummary(cmd *cobra.Command, summary batch.Summary) {
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Images", "Matched", "Failed", "Retried", "Avg similarity", "Median", "Avg time"},
		[][]string{{
			fmt.Sprintf("%d", summary.Total),
			fmt.Sprintf("%d", summary.Matched),
			fmt.Sprintf("%d", summary.Failed),
			fmt.Sprintf("%d", summary.Retried),
			fmt.Sprintf("%.2f%%", summary.AverageSimilarity*100),
			fmt.Sprintf("%.2f%%", summary.MedianSimilarity*100),
			summary.AverageDuration.Round(time.Millisecond).String(),
		}},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
}
