package detect

import (
	"runtime"
	"strings"
	"sync"
)

// Sample pairs a fragment with its ground-truth label. An empty, "Unknown" or
// "none" expectation means no license is present.
type Sample struct {
	Fragment        Fragment
	ExpectedLicense string
}

// Metrics aggregates confusion counts over one labeled sample run. It is
// recomputed from scratch on every evaluation; there is no incremental state.
type Metrics struct {
	TotalSamples   int     `json:"total_samples"`
	Correct        int     `json:"correct"`
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	Accuracy       float64 `json:"accuracy"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1Score        float64 `json:"f1_score"`
}

// ClassifyAll fans one Classify call per fragment across a bounded worker
// pool and returns results in input order. Classification is pure, so no
// synchronization beyond the pool itself is needed.
func (c *Classifier) ClassifyAll(fragments []Fragment) []Result {
	results := make([]Result, len(fragments))
	if len(fragments) == 0 {
		return results
	}

	workers := workerCount(len(fragments))
	indexCh := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexCh {
				results[i] = c.Classify(fragments[i])
			}
		}()
	}
	for i := range fragments {
		indexCh <- i
	}
	close(indexCh)
	wg.Wait()
	return results
}

// Evaluate classifies every sample and derives accuracy, precision, recall
// and F1. Comparison against the expected label is case-insensitive and
// ignores the ambiguity flag: a correct-but-flagged detection still counts.
// A "positive" is the system asserting a specific (non-Unknown) license, so a
// wrong specific claim on a labeled sample counts as both a false positive
// and a false negative. Stateless and rerun-identical.
func (c *Classifier) Evaluate(samples []Sample) Metrics {
	metrics := Metrics{TotalSamples: len(samples)}
	if len(samples) == 0 {
		return metrics
	}

	fragments := make([]Fragment, len(samples))
	for i, sample := range samples {
		fragments[i] = sample.Fragment
	}
	results := c.ClassifyAll(fragments)

	for i, sample := range samples {
		expected := strings.TrimSpace(sample.ExpectedLicense)
		detected := results[i].DetectedLicense

		expectedKnown := !isNoLicense(expected)
		detectedKnown := detected != UnknownLicense

		if strings.EqualFold(expected, detected) || (!expectedKnown && !detectedKnown) {
			metrics.Correct++
		}

		switch {
		case detectedKnown && expectedKnown && strings.EqualFold(expected, detected):
			metrics.TruePositives++
		case detectedKnown:
			// Wrong specific claim, or a license asserted where none was expected.
			metrics.FalsePositives++
			if expectedKnown {
				metrics.FalseNegatives++
			}
		case expectedKnown:
			// Known license missed entirely.
			metrics.FalseNegatives++
		}
	}

	metrics.Accuracy = safeRatio(float64(metrics.Correct), float64(metrics.TotalSamples))
	metrics.Precision = safeRatio(float64(metrics.TruePositives), float64(metrics.TruePositives+metrics.FalsePositives))
	metrics.Recall = safeRatio(float64(metrics.TruePositives), float64(metrics.TruePositives+metrics.FalseNegatives))
	if sum := metrics.Precision + metrics.Recall; sum > 0 {
		metrics.F1Score = 2 * metrics.Precision * metrics.Recall / sum
	}
	return metrics
}

func isNoLicense(expected string) bool {
	if expected == "" {
		return true
	}
	return strings.EqualFold(expected, UnknownLicense) || strings.EqualFold(expected, "none")
}

func safeRatio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func workerCount(tasks int) int {
	workers := runtime.NumCPU()
	if workers > tasks {
		workers = tasks
	}
	if workers < 1 {
		workers = 1
	}
	if workers > 12 {
		workers = 12
	}
	return workers
}
