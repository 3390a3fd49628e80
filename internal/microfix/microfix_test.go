package microfix

import (
	"context"
	"testing"

	"github.com/genesis-engine/ipgre/internal/errorstore"
	"github.com/genesis-engine/ipgre/internal/review"
)

// scriptedScorer returns one review per call, in order, then repeats its
// last entry if the loop runs longer than scripted (it shouldn't, in these
// tests, since every case converges or bails before running out).
type scriptedScorer struct {
	reviews []review.ScoreReview
	calls   int
}

func (s *scriptedScorer) ScoreAndMicroFix(ctx context.Context, text string, fc FixContext) (review.ScoreReview, error) {
	i := s.calls
	if i >= len(s.reviews) {
		i = len(s.reviews) - 1
	}
	s.calls++
	return s.reviews[i], nil
}

type noopRecorder struct{}

func (noopRecorder) Record(rev review.ScoreReview, fixCtx errorstore.Context) error { return nil }
func (noopRecorder) BuildNegativePrompt(maxPatterns, minFrequency int) (string, error) {
	return "", nil
}

type fakeCanceller struct{ cancelled bool }

func (f *fakeCanceller) Cancelled() bool { return f.cancelled }

func init() {
	// keep the tests fast; the 500ms inter-iteration sleep is a real-world
	// rate-limit courtesy, not something worth paying for in unit tests.
	interIterationDelay = 0
}

func TestThresholdMetImmediatelyStopsOnFirstPass(t *testing.T) {
	scorer := &scriptedScorer{reviews: []review.ScoreReview{
		{BeforeScore: 95, AfterScore: 0, HasFix: false},
	}}
	result, err := Run(context.Background(), scorer, noopRecorder{}, nil, "already great prose", FixContext{Threshold: 90}, BulkMaxIterations, errorstore.Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BestScore != 95 {
		t.Fatalf("expected best score 95, got %d", result.BestScore)
	}
	if len(result.Iterations) != 1 {
		t.Fatalf("expected exactly one iteration, got %d", len(result.Iterations))
	}
}

func TestSingleAcceptedFixUpdatesBestText(t *testing.T) {
	scorer := &scriptedScorer{reviews: []review.ScoreReview{
		{BeforeScore: 70, AfterScore: 78, HasFix: true, MicroFixedProse: "she smiled then, visibly relieved", FixApplied: "replaced filtered verb", FixCategory: "weak-words", FixTarget: "began to smile"},
		{BeforeScore: 78, AfterScore: 0, HasFix: false},
	}}
	result, err := Run(context.Background(), scorer, noopRecorder{}, nil, "she began to smile, relieved", FixContext{Threshold: 90}, BulkMaxIterations, errorstore.Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BestText != "she smiled then, visibly relieved" {
		t.Fatalf("expected accepted fix to replace best text, got %q", result.BestText)
	}
	if result.BestScore != 78 {
		t.Fatalf("expected best score 78, got %d", result.BestScore)
	}
	if len(result.PreviousFixes) != 1 {
		t.Fatalf("expected one recorded fix, got %v", result.PreviousFixes)
	}
}

func TestFixRejectedOnWordDrift(t *testing.T) {
	original := "one two three four five six seven eight nine ten"
	tooShort := "one two"
	scorer := &scriptedScorer{reviews: []review.ScoreReview{
		{BeforeScore: 70, AfterScore: 90, HasFix: true, MicroFixedProse: tooShort},
		{BeforeScore: 70, AfterScore: 0, HasFix: false},
	}}
	result, err := Run(context.Background(), scorer, noopRecorder{}, nil, original, FixContext{Threshold: 95}, BulkMaxIterations, errorstore.Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BestText != original {
		t.Fatalf("expected word-drift fix to be rejected, best text should remain original, got %q", result.BestText)
	}
}

func TestFixRejectedOnNewNonDashHardDefect(t *testing.T) {
	original := "a quiet room, nothing more"
	withDefect := "a quiet room, something more"
	scorer := &scriptedScorer{reviews: []review.ScoreReview{
		{BeforeScore: 70, AfterScore: 85, HasFix: true, MicroFixedProse: withDefect},
		{BeforeScore: 70, AfterScore: 0, HasFix: false},
	}}
	result, err := Run(context.Background(), scorer, noopRecorder{}, nil, original, FixContext{Threshold: 95}, BulkMaxIterations, errorstore.Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BestText != original {
		t.Fatalf("expected fix introducing a new hard defect to be rejected, got %q", result.BestText)
	}
}

func TestFixWithFewEmDashesAutoNormalized(t *testing.T) {
	original := "she walked in and sat down"
	withDashes := "she walked in—quiet, tired—and sat down"
	scorer := &scriptedScorer{reviews: []review.ScoreReview{
		{BeforeScore: 70, AfterScore: 85, HasFix: true, MicroFixedProse: withDashes, FixApplied: "added pause beats"},
		{BeforeScore: 85, AfterScore: 0, HasFix: false},
	}}
	result, err := Run(context.Background(), scorer, noopRecorder{}, nil, original, FixContext{Threshold: 95}, BulkMaxIterations, errorstore.Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BestScore != 85 {
		t.Fatalf("expected the dash-normalized fix to be accepted with score 85, got %d", result.BestScore)
	}
	for _, r := range []rune(result.BestText) {
		if r == '—' || r == '–' {
			t.Fatalf("expected dashes to be normalized out of accepted text, got %q", result.BestText)
		}
	}
}

func TestVarianceGuardBailsOutOnDriftedRescore(t *testing.T) {
	scorer := &scriptedScorer{reviews: []review.ScoreReview{
		{BeforeScore: 80, AfterScore: 0, HasFix: false},
		{BeforeScore: 70, AfterScore: 0, HasFix: false}, // more than 3 below best of 80
	}}
	result, err := Run(context.Background(), scorer, noopRecorder{}, nil, "text", FixContext{Threshold: 95}, BulkMaxIterations, errorstore.Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BestScore != 80 {
		t.Fatalf("expected bailout to preserve best score of 80, got %d", result.BestScore)
	}
	if len(result.Iterations) != 2 {
		t.Fatalf("expected loop to stop after the variance guard trips on iteration 2, got %d iterations", len(result.Iterations))
	}
}

func TestCancellationMidLoopReturnsCurrentBest(t *testing.T) {
	canceller := &fakeCanceller{}
	scorer := &scriptedScorer{reviews: []review.ScoreReview{
		{BeforeScore: 70, AfterScore: 0, HasFix: false},
	}}
	// simulate cancellation arriving after the first pass by flipping the
	// flag from inside a scorer that runs once then reports cancelled.
	wrapped := &cancelAfterFirstCall{inner: scorer, canceller: canceller}
	result, err := Run(context.Background(), wrapped, noopRecorder{}, canceller, "text", FixContext{Threshold: 95}, BulkMaxIterations, errorstore.Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BestScore != 70 {
		t.Fatalf("expected cancellation to preserve best-so-far score of 70, got %d", result.BestScore)
	}
}

type cancelAfterFirstCall struct {
	inner     *scriptedScorer
	canceller *fakeCanceller
}

func (c *cancelAfterFirstCall) ScoreAndMicroFix(ctx context.Context, text string, fc FixContext) (review.ScoreReview, error) {
	rev, err := c.inner.ScoreAndMicroFix(ctx, text, fc)
	c.canceller.cancelled = true
	return rev, err
}
