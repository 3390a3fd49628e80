// Package errorstore is the Error Pattern Store (spec §4.C): a persistent
// bag of prose defects used as negative prompting across sessions and
// projects, grounded on the teacher's pkg/session storage backends
// (JSONL-per-bucket file layout, Redis distributed layout) generalized from
// chat-session persistence to fingerprinted defect records.
package errorstore

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/genesis-engine/ipgre/internal/review"
)

// Pattern is one persisted Error pattern (spec §3).
type Pattern struct {
	ID              string
	Category        string
	Text            string
	Problem         string
	Severity        review.Severity
	EstimatedImpact float64
	Frequency       int
	FirstSeenAt     time.Time
	LastSeenAt      time.Time
	Dismissed       bool
	Projects        map[string]struct{}
	SessionsSeen    map[string]struct{}
}

// Context carries the caller-supplied provenance for a Record call.
type Context struct {
	ProjectID    string
	ChapterID    string
	ChapterTitle string
	Genre        string
	SessionKey   string
}

// Store is the persistence interface the Micro-Fix Loop and Chunk Controller
// depend on. FileStore and RedisStore both implement it.
type Store interface {
	Record(review review.ScoreReview, ctx Context) error
	BuildNegativePrompt(maxPatterns, minFrequency int) (string, error)
	Dismiss(id string) error
	Restore(id string) error
	ClearAll() error
	Stats() (Stats, error)
	Dedupe() error
}

// Stats is the summary returned by Store.Stats.
type Stats struct {
	TotalPatterns    int
	TotalOccurrences int
	CategoryCounts   map[string]int
	ProjectCount     int
	DismissedCount   int
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalize lowercases and collapses whitespace so near-identical issue text
// fingerprints to the same pattern.
func normalize(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(strings.ToLower(s), " "))
}

// problemPrefix takes the leading clause of a problem description, used as
// a fingerprint component when no offending text excerpt is available.
func problemPrefix(problem string) string {
	p := normalize(problem)
	if idx := strings.IndexAny(p, ".;"); idx > 0 && idx < 60 {
		return p[:idx]
	}
	if len(p) > 60 {
		return p[:60]
	}
	return p
}

// Fingerprint computes the dedupe key for an issue or AI pattern: a
// normalized (category, text|problem-prefix) pair (spec §4.C / §3).
func Fingerprint(category, text, problem string) string {
	key := normalize(text)
	if key == "" {
		key = problemPrefix(problem)
	}
	return normalize(category) + "|" + key
}

var severityWeight = map[review.Severity]float64{
	review.SeverityHigh:   3,
	review.SeverityMedium: 2,
	review.SeverityLow:    1,
}

// buildNegativePromptText renders the directive string from a set of
// candidate patterns already filtered and ranked by the caller — shared by
// FileStore and RedisStore so the rendering format never drifts between
// backends.
func buildNegativePromptText(patterns []*Pattern, maxPatterns int) string {
	if len(patterns) == 0 {
		return ""
	}
	sort.SliceStable(patterns, func(i, j int) bool {
		return rank(patterns[i]) > rank(patterns[j])
	})
	if maxPatterns > 0 && len(patterns) > maxPatterns {
		patterns = patterns[:maxPatterns]
	}

	var b strings.Builder
	b.WriteString("Do not reproduce these patterns:\n")
	for _, p := range patterns {
		example := p.Text
		if example == "" {
			example = p.Problem
		}
		fmt.Fprintf(&b, "- [%s] %s (e.g. %q)\n", p.Category, p.Problem, example)
	}
	return b.String()
}

func rank(p *Pattern) float64 {
	return float64(p.Frequency) * severityWeight[p.Severity]
}
