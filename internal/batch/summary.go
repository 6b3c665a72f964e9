package batch

import (
	"sort"
	"time"
)

// Summary aggregates a batch run
type Summary struct {
	Total             int           `yaml:"total"`
	Matched           int           `yaml:"matched"`
	Failed            int           `yaml:"failed"`
	AverageSimilarity float64       `yaml:"averagesimilarity"`
	MedianSimilarity  float64       `yaml:"mediansimilarity"`
	MinSimilarity     float64       `yaml:"minsimilarity"`
	MaxSimilarity     float64       `yaml:"maxsimilarity"`
	Retried           int           `yaml:"retried"`
	AverageDuration   time.Duration `yaml:"averageduration"`
}

// Summarize computes similarity statistics over the matched records
func Summarize(records []Record) Summary {
	summary := Summary{Total: len(records)}

	var scores []float64
	var totalDuration time.Duration
	for _, rec := range records {
		totalDuration += time.Duration(rec.DurationMS) * time.Millisecond
		if rec.Attempts > 1 {
			summary.Retried++
		}
		if !rec.Matched() {
			summary.Failed++
			continue
		}
		summary.Matched++
		scores = append(scores, rec.Similarity)
	}

	if len(records) > 0 {
		summary.AverageDuration = totalDuration / time.Duration(len(records))
	}

	if len(scores) > 0 {
		var total float64
		for _, score := range scores {
			total += score
		}
		summary.AverageSimilarity = total / float64(len(scores))

		sort.Float64s(scores)
		mid := len(scores) / 2
		if len(scores)%2 == 0 {
			summary.MedianSimilarity = (scores[mid-1] + scores[mid]) / 2
		} else {
			summary.MedianSimilarity = scores[mid]
		}

		summary.MinSimilarity = scores[0]
		summary.MaxSimilarity = scores[len(scores)-1]
	}

	return summary
}
