package rewrite

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/genesis-engine/ipgre/internal/llmclient"
	"github.com/genesis-engine/ipgre/internal/review"
	"github.com/genesis-engine/ipgre/internal/scorer"
	"github.com/genesis-engine/ipgre/internal/session"
)

func sampleReview() review.ScoreReview {
	return review.ScoreReview{
		Score: 70,
		Issues: []review.Issue{
			{Severity: review.SeverityHigh, Text: "he said loudly", Problem: "adverb crutch", EstimatedImpact: 5},
			{Severity: review.SeverityMedium, Text: "the room was dark", Problem: "flat description", EstimatedImpact: 3},
			{Severity: review.SeverityLow, Text: "a comma splice", Problem: "minor mechanics", EstimatedImpact: 1},
		},
		AIPatterns: []review.AIPattern{
			{Pattern: "it wasn't just X, it was Y", Examples: []string{"it wasn't just cold, it was glacial"}, EstimatedImpact: 4},
		},
		Subscores: review.Subscores{SentenceVariety: 8},
	}
}

func TestSelectProblemsAllSkipsLowSeverity(t *testing.T) {
	problems := SelectProblems(sampleReview(), ModeAll, "")
	for _, p := range problems {
		if p.Severity == review.SeverityLow {
			t.Fatalf("expected low-severity issues to be skipped in mode all, got %+v", p)
		}
	}
	if len(problems) != 3 { // 1 high + 1 medium + 1 AI pattern
		t.Fatalf("expected 3 problems, got %d", len(problems))
	}
}

func TestSelectProblemsCriticalKeepsOnlyHighAndAIPatterns(t *testing.T) {
	problems := SelectProblems(sampleReview(), ModeCritical, "")
	if len(problems) != 2 { // 1 high issue + 1 AI pattern
		t.Fatalf("expected 2 problems, got %d", len(problems))
	}
	for _, p := range problems {
		if p.Severity == review.SeverityMedium && !strings.HasPrefix(p.Description, "AI-pattern: ") {
			t.Fatalf("expected medium severity issues excluded from critical mode, got %+v", p)
		}
	}
}

func TestSelectProblemsSortedByImpactDescending(t *testing.T) {
	problems := SelectProblems(sampleReview(), ModeAll, "")
	for i := 1; i < len(problems); i++ {
		if problems[i].EstimatedImpact > problems[i-1].EstimatedImpact {
			t.Fatalf("expected problems sorted by descending impact, got %v", problems)
		}
	}
}

func TestSelectProblemsCapsAtTen(t *testing.T) {
	rev := review.ScoreReview{}
	for i := 0; i < 15; i++ {
		rev.Issues = append(rev.Issues, review.Issue{Severity: review.SeverityHigh, Text: "x", Problem: "y", EstimatedImpact: float64(i)})
	}
	problems := SelectProblems(rev, ModeAll, "")
	if len(problems) != maxProblemsPerPass {
		t.Fatalf("expected cap of %d, got %d", maxProblemsPerPass, len(problems))
	}
}

func TestSelectProblemsUserNotesIsFreeform(t *testing.T) {
	problems := SelectProblems(sampleReview(), ModeUserNotes, "make the ending less sentimental")
	if len(problems) != 1 {
		t.Fatalf("expected a single free-form problem, got %d", len(problems))
	}
	if problems[0].Description != "make the ending less sentimental" {
		t.Fatalf("unexpected description: %q", problems[0].Description)
	}
}

func TestSelectProblemsUserNotesEmptyYieldsNothing(t *testing.T) {
	if problems := SelectProblems(sampleReview(), ModeUserNotes, "   "); problems != nil {
		t.Fatalf("expected nil for blank user notes, got %v", problems)
	}
}

func TestProblemFormatMatchesSpecString(t *testing.T) {
	p := Problem{Text: "he said loudly", Description: "adverb crutch", Severity: review.SeverityHigh, EstimatedImpact: 5}
	got := p.Format()
	if !strings.HasPrefix(got, `FIND: "he said loudly" → PROBLEM: adverb crutch [high, ~5.0pts]`) {
		t.Fatalf("unexpected format: %q", got)
	}
}

// rewriteProvider is a fake llmclient.Provider for the Rewrite Action: Call
// returns queued responses (score JSON), Stream always returns a fixed
// rewritten draft immediately.
type rewriteProvider struct {
	scoreResponses []string
	callIdx        int
	draft          string
}

func (p *rewriteProvider) Name() string { return "rewrite-fake" }

func (p *rewriteProvider) Call(ctx context.Context, systemPrompt, userPrompt string, opts llmclient.CallOptions) (string, error) {
	i := p.callIdx
	if i >= len(p.scoreResponses) {
		i = len(p.scoreResponses) - 1
	}
	p.callIdx++
	return p.scoreResponses[i], nil
}

func (p *rewriteProvider) Stream(ctx context.Context, systemPrompt, userPrompt string, opts llmclient.CallOptions, cb llmclient.StreamCallbacks) *llmclient.StreamHandle {
	streamCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-time.After(time.Millisecond):
		case <-streamCtx.Done():
			return
		}
		cb.OnChunk(p.draft)
		cb.OnDone(p.draft, "stop")
	}()
	return llmclient.NewStreamHandle(cancel, done)
}

func newTestSession(t *testing.T, text string) (*session.Session, string) {
	t.Helper()
	sess := session.New()
	sess.Init()
	sess.SetCurrentText(text)
	sess.SetBest(text, 70, review.ScoreReview{Score: 70})
	return sess, sess.Checkpoint()
}

func TestRunAppliesRewriteAndRescores(t *testing.T) {
	provider := &rewriteProvider{
		scoreResponses: []string{`{"score": 85, "subscores": {}}`},
		draft:          "A tightened paragraph with the adverb crutch removed.",
	}
	sess, checkpointID := newTestSession(t, "he said loudly across the dark room")
	deps := Deps{Provider: provider, Scorer: scorer.New(provider, "test-model")}

	state := &State{}
	result, err := Run(context.Background(), deps, sess, checkpointID, sampleReview(), 90, ModeAll, "", state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Text != provider.draft {
		t.Fatalf("expected rewritten text to surface, got %q", result.Text)
	}
	if result.Review.Score != 85 {
		t.Fatalf("expected rescored value 85, got %d", result.Review.Score)
	}
	if result.Reverted {
		t.Fatal("did not expect a revert on the first rewrite")
	}
	if result.ScoreDelta != 15 {
		t.Fatalf("expected delta of 15 against the baseline review score, got %d", result.ScoreDelta)
	}
}

func TestRunAutoRevertsOnRegression(t *testing.T) {
	provider := &rewriteProvider{
		scoreResponses: []string{`{"score": 60, "subscores": {}}`},
		draft:          "A worse rewrite.",
	}
	sess, checkpointID := newTestSession(t, "original text")
	deps := Deps{Provider: provider, Scorer: scorer.New(provider, "test-model")}

	state := &State{PreviousRewriteText: "the prior accepted rewrite", PreviousScore: 80}
	result, err := Run(context.Background(), deps, sess, checkpointID, sampleReview(), 90, ModeAll, "", state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Reverted {
		t.Fatal("expected auto-revert when the new score regresses below the previous rewrite's score")
	}
	if result.Text != "the prior accepted rewrite" {
		t.Fatalf("expected reverted text to be the previous rewrite, got %q", result.Text)
	}
	if state.PreviousRewriteText != "the prior accepted rewrite" {
		t.Fatal("expected state to retain the prior accepted rewrite text after a revert")
	}
}

func TestRunFlagsConvergenceAfterTwoSmallDeltas(t *testing.T) {
	provider := &rewriteProvider{
		scoreResponses: []string{`{"score": 81, "subscores": {}}`},
		draft:          "A marginally different rewrite.",
	}
	sess, checkpointID := newTestSession(t, "original text")
	deps := Deps{Provider: provider, Scorer: scorer.New(provider, "test-model")}

	state := &State{PreviousRewriteText: "prior rewrite", PreviousScore: 80, ConsecutiveSmallDelta: 1}
	result, err := Run(context.Background(), deps, sess, checkpointID, sampleReview(), 90, ModeAll, "", state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Converged {
		t.Fatal("expected convergence to be flagged after a second consecutive small delta")
	}
	if !state.Converged {
		t.Fatal("expected state.Converged to be sticky")
	}
}

func TestRunResetsConsecutiveDeltaOnLargeSwing(t *testing.T) {
	provider := &rewriteProvider{
		scoreResponses: []string{`{"score": 95, "subscores": {}}`},
		draft:          "A much-improved rewrite.",
	}
	sess, checkpointID := newTestSession(t, "original text")
	deps := Deps{Provider: provider, Scorer: scorer.New(provider, "test-model")}

	state := &State{PreviousRewriteText: "prior rewrite", PreviousScore: 80, ConsecutiveSmallDelta: 1}
	result, err := Run(context.Background(), deps, sess, checkpointID, sampleReview(), 90, ModeAll, "", state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Converged {
		t.Fatal("did not expect convergence when the latest delta is large")
	}
	if state.ConsecutiveSmallDelta != 0 {
		t.Fatalf("expected the small-delta streak to reset, got %d", state.ConsecutiveSmallDelta)
	}
}

func TestRunRejectsUnknownCheckpoint(t *testing.T) {
	sess := session.New()
	deps := Deps{Provider: &rewriteProvider{}, Scorer: scorer.New(&rewriteProvider{}, "test-model")}
	_, err := Run(context.Background(), deps, sess, "does-not-exist", sampleReview(), 90, ModeAll, "", &State{})
	if err == nil {
		t.Fatal("expected an error for an unknown checkpoint id")
	}
}
