package detect

import (
	"sort"
	"strings"

	"license-triage/backend/internal/templates"
)

// Sentinel values for fragments no template explains.
const (
	UnknownLicense = "Unknown"
	NoSPDXID       = "N/A"
)

// Default policy knobs; callers may override per run but never per fragment.
const (
	DefaultThreshold       = 0.8
	DefaultAmbiguityMargin = 0.15
)

// Options carries the classification policy knobs.
type Options struct {
	Threshold       float64
	AmbiguityMargin float64
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.AmbiguityMargin <= 0 {
		o.AmbiguityMargin = DefaultAmbiguityMargin
	}
	return o
}

// Fragment is one unit of text submitted for classification.
type Fragment struct {
	ID      string
	RawText string
}

// Match scores one template against a fragment.
type Match struct {
	LicenseName   string  `json:"license_name"`
	SPDXID        string  `json:"spdx_id"`
	Similarity    float64 `json:"similarity_score"`
	KeywordScore  float64 `json:"keyword_score"`
	CombinedScore float64 `json:"combined_score"`
}

// Result is the classification outcome for a single fragment. Matches holds
// every template ranked descending by combined score; presentation layers may
// truncate, the classifier never does.
type Result struct {
	FragmentID      string  `json:"fragment_id"`
	DetectedLicense string  `json:"detected_license"`
	SPDXID          string  `json:"spdx_id"`
	Confidence      float64 `json:"confidence"`
	IsAmbiguous     bool    `json:"is_ambiguous"`
	Matches         []Match `json:"matches"`
	OriginalText    string  `json:"original_text"`
}

// preparedTemplate caches the normalized forms so batch runs do not redo the
// normalization work per fragment.
type preparedTemplate struct {
	name     string
	spdxID   string
	normText string
	keywords []string
}

// Classifier scores fragments against a fixed template catalog. The catalog
// is prepared once at construction and read-only afterwards, so a single
// Classifier is safe for concurrent use across goroutines.
type Classifier struct {
	templates []preparedTemplate
	threshold float64
	margin    float64
}

// NewClassifier prepares the catalog for scoring.
func NewClassifier(catalog []templates.Template, opts Options) *Classifier {
	opts = opts.withDefaults()
	prepared := make([]preparedTemplate, 0, len(catalog))
	for _, tpl := range catalog {
		keywords := make([]string, 0, len(tpl.Keywords))
		for _, keyword := range tpl.Keywords {
			keywords = append(keywords, Normalize(keyword))
		}
		prepared = append(prepared, preparedTemplate{
			name:     tpl.Name,
			spdxID:   tpl.SPDXID,
			normText: Normalize(tpl.Text),
			keywords: keywords,
		})
	}
	return &Classifier{
		templates: prepared,
		threshold: opts.Threshold,
		margin:    opts.AmbiguityMargin,
	}
}

// WithOptions returns a classifier sharing this catalog under different
// policy knobs.
func (c *Classifier) WithOptions(opts Options) *Classifier {
	opts = opts.withDefaults()
	clone := *c
	clone.threshold = opts.Threshold
	clone.margin = opts.AmbiguityMargin
	return &clone
}

// Options reports the effective policy knobs.
func (c *Classifier) Options() Options {
	return Options{Threshold: c.threshold, AmbiguityMargin: c.margin}
}

// TemplateCount reports the catalog size.
func (c *Classifier) TemplateCount() int {
	if c == nil {
		return 0
	}
	return len(c.templates)
}

// Classify scores the fragment against every template and derives the best
// detection. It never fails: empty text and an empty catalog both yield a
// zero-confidence Unknown result rather than an error.
func (c *Classifier) Classify(fragment Fragment) Result {
	normalized := Normalize(fragment.RawText)

	matches := make([]Match, 0, len(c.templates))
	for _, tpl := range c.templates {
		similarity := Similarity(normalized, tpl.normText)
		keyword := coverage(normalized, tpl.keywords)
		matches = append(matches, Match{
			LicenseName:   tpl.name,
			SPDXID:        tpl.spdxID,
			Similarity:    similarity,
			KeywordScore:  keyword,
			CombinedScore: Combined(similarity, keyword),
		})
	}
	// Stable sort keeps catalog declaration order on ties, so results are
	// deterministic across runs.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CombinedScore > matches[j].CombinedScore
	})

	result := Result{
		FragmentID:      fragment.ID,
		DetectedLicense: UnknownLicense,
		SPDXID:          NoSPDXID,
		IsAmbiguous:     true,
		Matches:         matches,
		OriginalText:    fragment.RawText,
	}
	if len(matches) == 0 || matches[0].CombinedScore == 0 {
		return result
	}

	best := matches[0]
	result.DetectedLicense = best.LicenseName
	result.SPDXID = best.SPDXID
	result.Confidence = best.CombinedScore
	result.IsAmbiguous = best.CombinedScore < c.threshold ||
		(len(matches) > 1 && best.CombinedScore-matches[1].CombinedScore < c.margin)
	return result
}

// coverage is KeywordCoverage over keywords normalized at construction time.
func coverage(fragmentNorm string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	hits := 0
	for _, keyword := range keywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(fragmentNorm, keyword) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}
