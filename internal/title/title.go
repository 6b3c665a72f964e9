package title

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/buscanime/buscanime/internal/providers"
)

// NotFound is returned when the filename carries no recognizable title
const NotFound = "Title not found"

var (
	bracketPattern = regexp.MustCompile(`\[(.*?)\]`)
	hyphenPattern  = regexp.MustCompile(`\] ([^-]+) -`)
)

// Extract guesses the series title from a release filename such as
// "[Group] Title - 03 [1080p].mkv" or "[Group][Title][03].mp4".
// It is a string heuristic, not a metadata parse.
func Extract(filename string) string {
	if matches := bracketPattern.FindAllStringSubmatch(filename, -1); len(matches) >= 2 {
		return strings.TrimSpace(matches[1][1])
	}
	if m := hyphenPattern.FindStringSubmatch(filename); m != nil {
		return strings.TrimSpace(m[1])
	}
	return NotFound
}

// Resolver falls back to an LLM when the filename heuristic finds nothing
type Resolver struct {
	Provider    providers.Provider
	Model       string
	Temperature float64
}

// Resolve returns Extract's answer, or asks the provider when that is NotFound
func (r *Resolver) Resolve(ctx context.Context, filename string) string {
	guess := Extract(filename)
	if guess != NotFound || r == nil || r.Provider == nil {
		return guess
	}

	answer, err := r.Provider.ExtractText(ctx, providers.Config{
		Model:       r.Model,
		Temperature: r.Temperature,
		Prompt:      buildPrompt(filename),
	})
	if err != nil {
		slog.Warn("Title resolver failed", "filename", filename, "err", err)
		return NotFound
	}

	answer = strings.Trim(strings.TrimSpace(answer), `"'`)
	if answer == "" || strings.EqualFold(answer, "unknown") || strings.Contains(answer, "\n") {
		return NotFound
	}
	return answer
}

func buildPrompt(filename string) string {
	return fmt.Sprintf(`The following is the filename of an anime episode release:

%s

Reply with the series title only, exactly as it appears in the filename, without
release group, episode number, resolution or file extension. If no title can be
identified reply with the single word "unknown".`, filename)
}
