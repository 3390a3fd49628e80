package errorstore

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/genesis-engine/ipgre/internal/review"
)

// RedisStore persists patterns in a single Redis hash keyed by fingerprint,
// grounded on the teacher's pkg/session/redis_backend.go (key prefixing,
// pool configuration, ping-on-construct) but without the per-session TTL
// the teacher's chat sessions used — error patterns are meant to accumulate
// indefinitely across projects.
type RedisStore struct {
	client  *redis.Client
	hashKey string
}

// RedisConfig mirrors the teacher's RedisConfig shape, narrowed to what the
// flat pattern hash needs.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	PoolSize int
}

// NewRedisStore dials Redis and verifies connectivity before returning.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ipgre:errorstore"
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{client: client, hashKey: prefix + ":patterns"}, nil
}

// NewRedisStoreFromClient wraps an existing client, the same seam the
// teacher exposes for miniredis-backed tests.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ipgre:errorstore"
	}
	return &RedisStore{client: client, hashKey: prefix + ":patterns"}
}

func (r *RedisStore) loadAll(ctx context.Context) (map[string]*Pattern, error) {
	raw, err := r.client.HGetAll(ctx, r.hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	out := make(map[string]*Pattern, len(raw))
	for fp, v := range raw {
		var rec fileRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			continue
		}
		out[fp] = fromRecord(rec)
	}
	return out, nil
}

func (r *RedisStore) storeOne(ctx context.Context, fp string, p *Pattern) error {
	data, err := json.Marshal(toRecord(p))
	if err != nil {
		return fmt.Errorf("marshal pattern: %w", err)
	}
	return r.client.HSet(ctx, r.hashKey, fp, data).Err()
}

func fingerprintIDRedis(fp string) string {
	h := sha1.Sum([]byte(fp))
	return fmt.Sprintf("%x", h)[:16]
}

func (r *RedisStore) Record(rev review.ScoreReview, recCtx Context) error {
	ctx := context.Background()
	patterns, err := r.loadAll(ctx)
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
			if _, already := p.SessionsSeen[recCtx.SessionKey]; already {
				continue
			}
			p.Frequency++
			p.LastSeenAt = now
			p.SessionsSeen[recCtx.SessionKey] = struct{}{}
			if recCtx.ProjectID != "" {
				p.Projects[recCtx.ProjectID] = struct{}{}
			}
		} else {
			p = &Pattern{
				ID: fingerprintIDRedis(fp), Category: c.category, Text: c.text, Problem: c.problem,
				Severity: c.severity, EstimatedImpact: c.impact, Frequency: 1,
				FirstSeenAt: now, LastSeenAt: now,
				Projects:     map[string]struct{}{recCtx.ProjectID: {}},
				SessionsSeen: map[string]struct{}{recCtx.SessionKey: {}},
			}
		}
		if err := r.storeOne(ctx, fp, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisStore) BuildNegativePrompt(maxPatterns, minFrequency int) (string, error) {
	ctx := context.Background()
	patterns, err := r.loadAll(ctx)
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

func (r *RedisStore) Dismiss(id string) error { return r.setDismissed(id, true) }
func (r *RedisStore) Restore(id string) error { return r.setDismissed(id, false) }

func (r *RedisStore) setDismissed(id string, dismissed bool) error {
	if err := validateID(id); err != nil {
		return err
	}
	ctx := context.Background()
	patterns, err := r.loadAll(ctx)
	if err != nil {
		return err
	}
	for fp, p := range patterns {
		if p.ID == id {
			p.Dismissed = dismissed
			return r.storeOne(ctx, fp, p)
		}
	}
	return fmt.Errorf("pattern %s not found", id)
}

func (r *RedisStore) ClearAll() error {
	return r.client.Del(context.Background(), r.hashKey).Err()
}

func (r *RedisStore) Stats() (Stats, error) {
	ctx := context.Background()
	patterns, err := r.loadAll(ctx)
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

func (r *RedisStore) Dedupe() error {
	ctx := context.Background()
	patterns, err := r.loadAll(ctx)
	if err != nil {
		return err
	}
	merged := make(map[string]*Pattern)
	for _, p := range patterns {
		fp := Fingerprint(p.Category, p.Text, p.Problem)
		if existing, ok := merged[fp]; ok {
			existing.Frequency += p.Frequency
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
	if err := r.ClearAll(); err != nil {
		return err
	}
	for fp, p := range merged {
		if err := r.storeOne(ctx, fp, p); err != nil {
			return err
		}
	}
	return nil
}
