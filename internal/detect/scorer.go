package detect

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"license-triage/backend/internal/templates"
)

// Score weights are a fixed policy, not a per-call knob. Similarity carries
// most of the signal; keyword coverage nudges near-misses.
const (
	SimilarityWeight = 0.7
	KeywordWeight    = 0.3
)

// Similarity returns a character-level sequence similarity ratio in [0,1]
// between two normalized strings. The ratio is derived from the Levenshtein
// distance of their diff: 1.0 for identical inputs, 0.0 when either side is
// empty or nothing aligns.
func Similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	dmp := diffmatchpatch.New()
	// No diff deadline: a timed-out diff would make scores nondeterministic.
	dmp.DiffTimeout = 0
	diffs := dmp.DiffMain(a, b, false)
	distance := dmp.DiffLevenshtein(diffs)

	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	score := 1 - float64(distance)/float64(longest)
	if score < 0 {
		return 0
	}
	return score
}

// KeywordCoverage returns the fraction of keywords found as case-insensitive
// substrings of the normalized fragment. Keywords are normalized the same way
// as fragment text so catalog punctuation cannot cause misses. An empty
// keyword list scores 0.0 so it never inflates confidence.
func KeywordCoverage(fragmentNorm string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	hits := 0
	for _, keyword := range keywords {
		normalized := Normalize(keyword)
		if normalized == "" {
			continue
		}
		if strings.Contains(fragmentNorm, normalized) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

// Score computes the template-similarity and keyword-coverage scores for an
// already-normalized fragment against one template. Pure; the template is
// never mutated.
func Score(fragmentNorm string, tpl templates.Template) (similarity, keyword float64) {
	similarity = Similarity(fragmentNorm, Normalize(tpl.Text))
	keyword = KeywordCoverage(fragmentNorm, tpl.Keywords)
	return similarity, keyword
}

// Combined blends the two scores with the fixed policy weights.
func Combined(similarity, keyword float64) float64 {
	return SimilarityWeight*similarity + KeywordWeight*keyword
}
