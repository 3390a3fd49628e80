package errorstore

import (
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/genesis-engine/ipgre/internal/review"
)

// ErrInvalidID mirrors the teacher's path-traversal guard in
// pkg/session/file_backend.go — pattern IDs derive from hashes here, not
// user input, but the check stays cheap insurance against a future caller
// passing one straight from an HTTP path parameter.
var ErrInvalidID = errors.New("invalid pattern id")

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return ErrInvalidID
	}
	return nil
}

// FileStore persists patterns as a single JSON index under baseDir, the
// flat-bag layout the spec calls for (§9: "the Error Store ... is a flat
// bag keyed by fingerprint"), written atomically via a temp-file rename —
// the same os.WriteFile-then-rename-free style the teacher uses, minus the
// per-agent subdirectory nesting it has no analogue for here.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore opens (or creates) a FileStore rooted at baseDir/patterns.json.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".ipgre", "errorstore")
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create errorstore directory: %w", err)
	}
	return &FileStore{path: filepath.Join(baseDir, "patterns.json")}, nil
}

type fileRecord struct {
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
	Projects        []string
	SessionsSeen    []string
}

func toRecord(p *Pattern) fileRecord {
	r := fileRecord{
		ID: p.ID, Category: p.Category, Text: p.Text, Problem: p.Problem,
		Severity: p.Severity, EstimatedImpact: p.EstimatedImpact, Frequency: p.Frequency,
		FirstSeenAt: p.FirstSeenAt, LastSeenAt: p.LastSeenAt, Dismissed: p.Dismissed,
	}
	for k := range p.Projects {
		r.Projects = append(r.Projects, k)
	}
	for k := range p.SessionsSeen {
		r.SessionsSeen = append(r.SessionsSeen, k)
	}
	return r
}

func fromRecord(r fileRecord) *Pattern {
	p := &Pattern{
		ID: r.ID, Category: r.Category, Text: r.Text, Problem: r.Problem,
		Severity: r.Severity, EstimatedImpact: r.EstimatedImpact, Frequency: r.Frequency,
		FirstSeenAt: r.FirstSeenAt, LastSeenAt: r.LastSeenAt, Dismissed: r.Dismissed,
		Projects: map[string]struct{}{}, SessionsSeen: map[string]struct{}{},
	}
	for _, v := range r.Projects {
		p.Projects[v] = struct{}{}
	}
	for _, v := range r.SessionsSeen {
		p.SessionsSeen[v] = struct{}{}
	}
	return p
}

func (f *FileStore) load() (map[string]*Pattern, error) {
	data, err := os.ReadFile(f.path) // #nosec G304 - path is derived from a constructor-fixed baseDir, not request input
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Pattern{}, nil
		}
		return nil, fmt.Errorf("read errorstore index: %w", err)
	}
	var records map[string]fileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse errorstore index: %w", err)
	}
	out := make(map[string]*Pattern, len(records))
	for fp, r := range records {
		out[fp] = fromRecord(r)
	}
	return out, nil
}

func (f *FileStore) save(patterns map[string]*Pattern) error {
	records := make(map[string]fileRecord, len(patterns))
	for fp, p := range patterns {
		records[fp] = toRecord(p)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal errorstore index: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write errorstore index: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func fingerprintID(fp string) string {
	h := sha1.Sum([]byte(fp))
	return fmt.Sprintf("%x", h)[:16]
}

func (f *FileStore) Record(rev review.ScoreReview, ctx Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	patterns, err := f.load()
	if err != nil {
		return err
	}

	type candidate struct {
		category, text, problem string
		severity                review.Severity
		impact                  float64
	}
	var candidates []candidate
	for _, issue := range rev.Issues {
		candidates = append(candidates, candidate{issue.Category, issue.Text, issue.Problem, issue.Severity, issue.EstimatedImpact})
	}
	for _, ap := range rev.AIPatterns {
		example := ""
		if len(ap.Examples) > 0 {
			example = ap.Examples[0]
		}
		candidates = append(candidates, candidate{"ai-pattern", example, ap.Pattern, review.SeverityMedium, ap.EstimatedImpact})
	}

	now := time.Now()
	for _, c := range candidates {
		fp := Fingerprint(c.category, c.text, c.problem)
		p, exists := patterns[fp]
		if exists {
			if _, already := p.SessionsSeen[ctx.SessionKey]; already {
				continue // one frequency increment per (sessionKey, fingerprint) — spec invariant 4
			}
			p.Frequency++
			p.LastSeenAt = now
			p.SessionsSeen[ctx.SessionKey] = struct{}{}
			if ctx.ProjectID != "" {
				p.Projects[ctx.ProjectID] = struct{}{}
			}
			continue
		}
		patterns[fp] = &Pattern{
			ID: fingerprintID(fp), Category: c.category, Text: c.text, Problem: c.problem,
			Severity: c.severity, EstimatedImpact: c.impact, Frequency: 1,
			FirstSeenAt: now, LastSeenAt: now,
			Projects:     map[string]struct{}{ctx.ProjectID: {}},
			SessionsSeen: map[string]struct{}{ctx.SessionKey: {}},
		}
	}

	return f.save(patterns)
}

func (f *FileStore) BuildNegativePrompt(maxPatterns, minFrequency int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	patterns, err := f.load()
	if err != nil {
		return "", err
	}

	var eligible []*Pattern
	for _, p := range patterns {
		if p.Dismissed || p.Frequency < minFrequency {
			continue
		}
		eligible = append(eligible, p)
	}
	return buildNegativePromptText(eligible, maxPatterns), nil
}

func (f *FileStore) Dismiss(id string) error { return f.setDismissed(id, true) }
func (f *FileStore) Restore(id string) error { return f.setDismissed(id, false) }

func (f *FileStore) setDismissed(id string, dismissed bool) error {
	if err := validateID(id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	patterns, err := f.load()
	if err != nil {
		return err
	}
	found := false
	for _, p := range patterns {
		if p.ID == id {
			p.Dismissed = dismissed
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("pattern %s not found", id)
	}
	return f.save(patterns)
}

func (f *FileStore) ClearAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.save(map[string]*Pattern{})
}

func (f *FileStore) Stats() (Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	patterns, err := f.load()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{CategoryCounts: map[string]int{}}
	projects := map[string]struct{}{}
	for _, p := range patterns {
		stats.TotalPatterns++
		stats.TotalOccurrences += p.Frequency
		stats.CategoryCounts[p.Category]++
		if p.Dismissed {
			stats.DismissedCount++
		}
		for proj := range p.Projects {
			projects[proj] = struct{}{}
		}
	}
	stats.ProjectCount = len(projects)
	return stats, nil
}

// Dedupe merges legacy entries whose fingerprint was computed from Problem
// instead of Text (spec §4.C) — it recomputes every pattern's fingerprint
// under the current rule and merges collisions, summing frequency and
// unioning the project/session sets.
func (f *FileStore) Dedupe() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	patterns, err := f.load()
	if err != nil {
		return err
	}

	merged := make(map[string]*Pattern)
	for _, p := range patterns {
		fp := Fingerprint(p.Category, p.Text, p.Problem)
		if existing, ok := merged[fp]; ok {
			existing.Frequency += p.Frequency
			if p.LastSeenAt.After(existing.LastSeenAt) {
				existing.LastSeenAt = p.LastSeenAt
			}
			if p.FirstSeenAt.Before(existing.FirstSeenAt) {
				existing.FirstSeenAt = p.FirstSeenAt
			}
			for k := range p.Projects {
				existing.Projects[k] = struct{}{}
			}
			for k := range p.SessionsSeen {
				existing.SessionsSeen[k] = struct{}{}
			}
			continue
		}
		merged[fp] = p
	}
	return f.save(merged)
}
