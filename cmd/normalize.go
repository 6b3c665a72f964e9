package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newNormalizeCmd(opts *globalOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "normalize FILE",
		Short: "Write the upload payload for an image without searching",
		Long: `Runs only the normalization step: the image is downscaled by the area
heuristic and re-encoded as JPEG so it fits the upload budget. Useful to
preview exactly what a search would send.`,
		Example: `  buscanime normalize frame.png -o frame-upload.jpg`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, false)
			if err != nil {
				return err
			}

			raw, err := a.fetcher.ReadFile(args[0])
			if err != nil {
				return err
			}

			img, err := a.normalizer.Normalize(cmd.Context(), *raw, a.policy.MaxBytes)
			if err != nil {
				return err
			}

			if output == "" {
				output = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + "-normalized.jpg"
			}
			if err := os.WriteFile(output, img.Data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %dx%d %s -> %dx%d %s (quality %.0f%%)\n",
				output,
				raw.Width, raw.Height, formatBytes(raw.Size),
				img.Width, img.Height, formatBytes(img.Size),
				img.Quality*100)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (defaults to FILE-normalized.jpg)")

	return cmd
}
