package errorstore

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/genesis-engine/ipgre/internal/review"
)

func newFileStoreT(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func newRedisStoreT(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStoreFromClient(client, "test")
}

func sampleReview() review.ScoreReview {
	return review.ScoreReview{
		Issues: []review.Issue{
			{Severity: review.SeverityHigh, Category: "weak-words", Text: "began to smile", Problem: "filtered emotional reaction"},
		},
		AIPatterns: []review.AIPattern{
			{Pattern: "voice-was cliche", Examples: []string{"her voice was steel"}, EstimatedImpact: 2},
		},
	}
}

func testRecordDedupesWithinSession(t *testing.T, store Store) {
	rev := sampleReview()
	require.NoError(t, store.Record(rev, Context{ProjectID: "p1", SessionKey: "s1"}))
	require.NoError(t, store.Record(rev, Context{ProjectID: "p1", SessionKey: "s1"}))

	stats, err := store.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalPatterns) // one issue + one ai-pattern
	require.Equal(t, 2, stats.TotalOccurrences, "duplicate Record in the same session must not add frequency")
	for _, count := range stats.CategoryCounts {
		require.Equal(t, 1, count)
	}
}

func testRecordIncrementsAcrossSessions(t *testing.T, store Store) {
	rev := sampleReview()
	require.NoError(t, store.Record(rev, Context{ProjectID: "p1", SessionKey: "s1"}))
	require.NoError(t, store.Record(rev, Context{ProjectID: "p1", SessionKey: "s2"}))

	stats, err := store.Stats()
	require.NoError(t, err)
	require.Equal(t, 4, stats.TotalOccurrences) // 2 patterns x frequency 2
}

func testBuildNegativePromptFiltersByFrequency(t *testing.T, store Store) {
	rev := sampleReview()
	require.NoError(t, store.Record(rev, Context{ProjectID: "p1", SessionKey: "s1"}))

	prompt, err := store.BuildNegativePrompt(10, 2)
	require.NoError(t, err)
	require.Empty(t, prompt, "frequency 1 patterns should not clear a minFrequency of 2")

	prompt, err = store.BuildNegativePrompt(10, 1)
	require.NoError(t, err)
	require.Contains(t, prompt, "Do not reproduce these patterns")
}

func testDismissExcludesFromPrompt(t *testing.T, store Store) {
	rev := sampleReview()
	require.NoError(t, store.Record(rev, Context{ProjectID: "p1", SessionKey: "s1"}))

	stats, err := store.Stats()
	require.NoError(t, err)
	require.Greater(t, stats.TotalPatterns, 0)

	// Dismiss the weak-words issue by its fingerprint-derived ID; only the
	// ai-pattern entry is left for the negative prompt.
	require.NoError(t, store.Dismiss(fingerprintID(Fingerprint("weak-words", "began to smile", "filtered emotional reaction"))))

	prompt, err := store.BuildNegativePrompt(10, 1)
	require.NoError(t, err)
	require.NotEmpty(t, prompt)
	require.NotContains(t, prompt, "began to smile")
}

func TestFileStore(t *testing.T) {
	t.Run("dedupes within session", func(t *testing.T) { testRecordDedupesWithinSession(t, newFileStoreT(t)) })
	t.Run("increments across sessions", func(t *testing.T) { testRecordIncrementsAcrossSessions(t, newFileStoreT(t)) })
	t.Run("negative prompt frequency filter", func(t *testing.T) { testBuildNegativePromptFiltersByFrequency(t, newFileStoreT(t)) })
	t.Run("dismiss", func(t *testing.T) { testDismissExcludesFromPrompt(t, newFileStoreT(t)) })
}

func TestRedisStore(t *testing.T) {
	t.Run("dedupes within session", func(t *testing.T) { testRecordDedupesWithinSession(t, newRedisStoreT(t)) })
	t.Run("increments across sessions", func(t *testing.T) { testRecordIncrementsAcrossSessions(t, newRedisStoreT(t)) })
	t.Run("negative prompt frequency filter", func(t *testing.T) { testBuildNegativePromptFiltersByFrequency(t, newRedisStoreT(t)) })
}

func TestFingerprintFallsBackToProblemPrefix(t *testing.T) {
	fp1 := Fingerprint("cliche", "", "Overused romantic trope about fate")
	fp2 := Fingerprint("cliche", "", "Overused romantic trope about fate, repeated")
	require.NotEqual(t, fp1, fp2)

	fp3 := Fingerprint("cliche", "the stars aligned", "anything")
	fp4 := Fingerprint("cliche", "The Stars Aligned", "anything else")
	require.Equal(t, fp3, fp4, "fingerprint should normalize case/whitespace")
}

func TestDedupeMergesLegacyEntries(t *testing.T) {
	store := newFileStoreT(t)
	rev := sampleReview()
	require.NoError(t, store.Record(rev, Context{ProjectID: "p1", SessionKey: "s1"}))
	require.NoError(t, store.Dedupe())

	stats, err := store.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalPatterns)
}
