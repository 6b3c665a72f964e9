package cmd

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	configPath string
	verbose    bool
}

func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "buscanime",
		Short: "Find the anime, episode and timestamp a screenshot comes from",
		Long: `Buscanime normalizes a screenshot so it fits the trace.moe upload limit,
submits it to the trace.moe search API and reports the best matching
series, episode and scene.

It can run one-off searches, batch a directory of frames, or serve a small
web interface for interactive use.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			logLevel := slog.LevelInfo
			if opts.verbose {
				logLevel = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
			slog.SetDefault(logger)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML file overriding the normalization and search policy")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	// Add subcommands
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newNormalizeCmd(opts))
	cmd.AddCommand(newBatchCmd(opts))
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newQuotaCmd(opts))
	cmd.AddCommand(newServeCmd(opts))

	return cmd
}
