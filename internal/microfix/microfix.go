// Package microfix implements the Micro-Fix Loop (spec §4.F) — described in
// the spec itself as "the heart" of the engine: repeated score-and-fix
// passes over one chunk's draft, guarded against regression, word drift,
// and newly introduced hard defects, converging on the best text seen.
//
// Grounded on the teacher's internal/orchestration retry-with-backoff loop
// shape (bounded iteration count, typed break conditions, no silent
// infinite retry) generalized from "retry the same call" to "retry with a
// different, externally-validated candidate each time".
package microfix

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/genesis-engine/ipgre/internal/errorstore"
	"github.com/genesis-engine/ipgre/internal/linter"
	"github.com/genesis-engine/ipgre/internal/review"
)

// MicroFixer is the subset of *scorer.Scorer this package depends on,
// narrowed to an interface so tests can supply a scripted sequence of
// reviews without a real provider.
type MicroFixer interface {
	ScoreAndMicroFix(ctx context.Context, text string, fc FixContext) (review.ScoreReview, error)
}

// FixContext mirrors scorer.FixContext's shape so callers don't need to
// import internal/scorer just to drive the loop; Run converts it verbatim.
type FixContext struct {
	Threshold      int
	IterationNum   int
	MaxIterations  int
	PreviousFixes  []string
	AttemptedFixes []string
	LintDefects    []linter.Defect
	IntentLedger   *review.IntentLedger
	Genre          string
	Voice          string
	AIInstructions string
	NegativePrompt string
}

// BulkMaxIterations and IterativeMaxIterations are the two MAX values named
// in spec §4.F ("5..8 (8 for bulk generate, 5 for iterative write)").
const (
	BulkMaxIterations      = 8
	IterativeMaxIterations = 5
)

// varianceGuardSlack is how far the current-text rescore may fall below
// bestScore on a later pass before the loop bails (spec §4.F).
const varianceGuardSlack = 3

// wordDriftLimit rejects a fix whose word count moved by more than this
// fraction relative to the pre-fix text (spec §4.F).
const wordDriftLimit = 0.15

// maxAutoNormalizableDashes is the cap on new dash-only hard defects that
// get silently normalized rather than rejecting the fix outright.
const maxAutoNormalizableDashes = 3

// interIterationDelay mirrors the spec's sleep(500ms) between accepted
// fixes, giving rate limits room to recover between calls.
var interIterationDelay = 500 * time.Millisecond

// IterationOutcome is one pass of the loop, returned for callers (the
// Chunk Controller, tests) that want to observe why the loop stopped.
type IterationOutcome struct {
	Iteration   int
	BeforeScore int
	AfterScore  int
	FixAccepted bool
	Reason      string
}

// Result is the loop's final state — the fields spec §4.F names as its
// return value, `(bestChunkText, bestChunkScore, bestReview)`.
type Result struct {
	BestText       string
	BestScore      int
	BestReview     review.ScoreReview
	PreviousFixes  []string
	AttemptedFixes []string
	Iterations     []IterationOutcome
}

// ErrorRecorder is the subset of errorstore.Store the loop writes to.
type ErrorRecorder interface {
	Record(rev review.ScoreReview, fixCtx errorstore.Context) error
	BuildNegativePrompt(maxPatterns, minFrequency int) (string, error)
}

// Canceller reports cooperative cancellation (spec §5: observe at every
// suspension point, unwind to current-best, never throw).
type Canceller interface {
	Cancelled() bool
}

// Run drives the Micro-Fix Loop over chunkDraft until it converges,
// exhausts maxIterations, or is cancelled (spec §4.F pseudocode, followed
// almost line for line).
func Run(ctx context.Context, scorer MicroFixer, store ErrorRecorder, canceller Canceller, chunkDraft string, fc FixContext, maxIterations int, storeCtx errorstore.Context) (Result, error) {
	workingText := chunkDraft
	bestScore := 0
	bestText := workingText
	var bestReview review.ScoreReview

	previousFixes := append([]string(nil), fc.PreviousFixes...)
	attemptedFixes := append([]string(nil), fc.AttemptedFixes...)
	consecutiveNoFix := 0

	var outcomes []IterationOutcome

iterations:
	for iter := 1; iter <= maxIterations; iter++ {
		if canceller != nil && canceller.Cancelled() {
			break
		}

		lint := linter.Lint(workingText)
		hardDefects := lint.HardDefects()
		isFinalPass := iter == maxIterations

		negPrompt := fc.NegativePrompt
		if store != nil {
			if np, err := store.BuildNegativePrompt(10, 2); err == nil {
				negPrompt = np
			}
		}

		passCtx := FixContext{
			Threshold:      fc.Threshold,
			IterationNum:   iter,
			MaxIterations:  maxIterations,
			PreviousFixes:  previousFixes,
			AttemptedFixes: attemptedFixes,
			LintDefects:    hardDefects,
			IntentLedger:   fc.IntentLedger,
			Genre:          fc.Genre,
			Voice:          fc.Voice,
			AIInstructions: fc.AIInstructions,
			NegativePrompt: negPrompt,
		}

		rev, err := scorer.ScoreAndMicroFix(ctx, workingText, passCtx)
		if err != nil {
			// Scorer network errors abort the loop with the current best (spec §4.F Failure semantics).
			outcomes = append(outcomes, IterationOutcome{Iteration: iter, Reason: fmt.Sprintf("scorer error: %v", err)})
			break
		}

		if rev.BeforeScore == 0 {
			outcomes = append(outcomes, IterationOutcome{Iteration: iter, Reason: "scorer returned zero score"})
			break
		}

		if iter == 1 {
			bestScore = rev.BeforeScore
			bestReview = rev
		}

		if iter > 1 && rev.BeforeScore < bestScore-varianceGuardSlack {
			outcomes = append(outcomes, IterationOutcome{Iteration: iter, BeforeScore: rev.BeforeScore, Reason: "variance guard: current text rescored below best-3"})
			break
		}

		if store != nil {
			_ = store.Record(rev, storeCtx)
		}
		if rev.FixTarget != "" {
			attemptedFixes = append(attemptedFixes, fmt.Sprintf("[%s] %s → %s", rev.FixCategory, rev.FixTarget, rev.FixApplied))
		}

		if !rev.HasFix {
			consecutiveNoFix++
			if rev.BeforeScore > bestScore {
				bestScore = rev.BeforeScore
				bestReview = rev
			}
			outcome := IterationOutcome{Iteration: iter, BeforeScore: rev.BeforeScore, Reason: "no fix proposed"}
			outcomes = append(outcomes, outcome)

			if rev.BeforeScore >= fc.Threshold {
				break // passed
			}
			if isFinalPass {
				break
			}
			if consecutiveNoFix >= 2 {
				break // early exit
			}
			continue
		}

		// A fix was produced — validate externally before trusting it.
		fixedProse := rev.MicroFixedProse
		preWords := wordCount(workingText)
		postWords := wordCount(fixedProse)
		wordDrift := math.Abs(float64(postWords-preWords)) / float64(maxInt(preWords, 1))
		if wordDrift > wordDriftLimit {
			outcomes = append(outcomes, IterationOutcome{Iteration: iter, BeforeScore: rev.BeforeScore, AfterScore: rev.AfterScore, Reason: "rejected: word drift exceeds 15%"})
			continue
		}

		fixedLint := linter.Lint(fixedProse)
		newHards := linter.NewHardDefects(lint, fixedLint)
		if len(newHards) > 0 {
			if allEmDashOnly(newHards) && len(newHards) <= maxAutoNormalizableDashes {
				fixedProse = linter.NormalizeDashes(fixedProse)
				if len(linter.Lint(fixedProse).HardDefects()) > len(hardDefects) {
					outcomes = append(outcomes, IterationOutcome{Iteration: iter, BeforeScore: rev.BeforeScore, AfterScore: rev.AfterScore, Reason: "rejected: new hard defects survive dash normalization"})
					continue
				}
			} else {
				outcomes = append(outcomes, IterationOutcome{Iteration: iter, BeforeScore: rev.BeforeScore, AfterScore: rev.AfterScore, Reason: "rejected: new non-dash hard defects"})
				continue
			}
		}

		if rev.AfterScore < rev.BeforeScore {
			outcomes = append(outcomes, IterationOutcome{Iteration: iter, BeforeScore: rev.BeforeScore, AfterScore: rev.AfterScore, Reason: "rejected: afterScore regressed"})
			continue
		}

		// Passed all checks. Still only adopt if it beats the global best.
		consecutiveNoFix = 0
		accepted := rev.AfterScore >= bestScore
		if accepted {
			workingText = fixedProse
			bestText = fixedProse
			bestScore = rev.AfterScore
			bestReview = rev
			previousFixes = append(previousFixes, rev.FixApplied)
		}
		outcomes = append(outcomes, IterationOutcome{Iteration: iter, BeforeScore: rev.BeforeScore, AfterScore: rev.AfterScore, FixAccepted: accepted, Reason: fixOutcomeReason(accepted)})

		if accepted && rev.AfterScore >= fc.Threshold {
			break
		}

		select {
		case <-ctx.Done():
			break iterations
		case <-time.After(interIterationDelay):
		}
	}

	return Result{
		BestText:       bestText,
		BestScore:      bestScore,
		BestReview:     bestReview,
		PreviousFixes:  previousFixes,
		AttemptedFixes: attemptedFixes,
		Iterations:     outcomes,
	}, nil
}

func fixOutcomeReason(accepted bool) string {
	if accepted {
		return "fix accepted"
	}
	return "fix valid but not globally improving; best text unchanged"
}

func allEmDashOnly(defects []linter.Defect) bool {
	for _, d := range defects {
		if d.Type != "dash" {
			return false
		}
	}
	return true
}

func wordCount(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		isSpace := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if isSpace {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
