package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/buscanime/buscanime/internal/models"
	"github.com/buscanime/buscanime/internal/search"
	"github.com/buscanime/buscanime/internal/title"
)

func newSearchCmd(opts *globalOptions) *cobra.Command {
	var resolver string
	var model string
	var limit int

	cmd := &cobra.Command{
		Use:   "search FILE|URL",
		Short: "Identify the scene a screenshot comes from",
		Long: `Normalizes the image, submits it to trace.moe and prints the best match.

The series title is read from the matched release filename. When that fails,
--resolver asks an LLM (gemini, ollama or openai) to read the filename instead.`,
		Example: `  # Search a local screenshot
  buscanime search frame.png

  # Search an image by URL and show the top 5 candidates
  buscanime search https://example.com/frame.jpg --limit 5

  # Fall back to Gemini for titles the filename heuristic misses
  buscanime search frame.png --resolver gemini`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, false)
			if err != nil {
				return err
			}
			titles, err := newResolver(resolver, model)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var raw *models.RawImage
			if strings.HasPrefix(args[0], "http://") || strings.HasPrefix(args[0], "https://") {
				raw, err = a.fetcher.FetchURL(ctx, args[0])
			} else {
				raw, err = a.fetcher.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			o := a.newSession()
			if _, err := o.SelectImage(ctx, raw); err != nil {
				return err
			}
			session, err := o.Execute(ctx)
			if err != nil {
				return err
			}

			printMatches(ctx, cmd.OutOrStdout(), session, titles, limit)
			return nil
		},
	}

	cmd.Flags().StringVar(&resolver, "resolver", "", "LLM used when the title cannot be read from the filename (gemini, ollama, openai)")
	cmd.Flags().StringVar(&model, "model", "", "Model for the title resolver (defaults per provider)")
	cmd.Flags().IntVar(&limit, "limit", 1, "Number of candidates to list")

	return cmd
}

func printMatches(ctx context.Context, w io.Writer, session search.Session, titles *title.Resolver, limit int) {
	best, ok := session.Best()
	if !ok {
		fmt.Fprintln(w, "No match found")
		return
	}

	fmt.Fprintf(w, "Title:      %s\n", titles.Resolve(ctx, best.Filename))
	fmt.Fprintf(w, "Episode:    %s\n", best.Episode)
	fmt.Fprintf(w, "Similarity: %s\n", best.SimilarityPercent())
	fmt.Fprintf(w, "Scene:      %s - %s\n", formatOffset(best.From), formatOffset(best.To))
	fmt.Fprintf(w, "Video:      %s\n", best.Video)

	if limit <= 1 || len(session.Results) < 2 {
		return
	}
	if limit > len(session.Results) {
		limit = len(session.Results)
	}

	rows := make([][]string, 0, limit)
	for i, r := range session.Results[:limit] {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			title.Extract(r.Filename),
			r.Episode.String(),
			formatOffset(r.From),
			r.SimilarityPercent(),
		})
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, renderTable(
		[]string{"#", "Title", "Episode", "At", "Similarity"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight},
	))
}
