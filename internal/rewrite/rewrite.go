// Package rewrite is the Rewrite Action (spec §4.H): user-triggered
// targeted rewrites over a problem list, scored against a rewrite context
// so the model can't inflate the score just because a rewrite happened, with
// an auto-revert safeguard and a convergence flag.
//
// Grounded on the teacher's internal/llm prompt-building idiom (plain
// string-builder prompts, no template engine) and internal/session's
// checkpoint/restore, reused here for the "roll back to the pre-generation
// snapshot" step.
package rewrite

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/genesis-engine/ipgre/internal/errs"
	"github.com/genesis-engine/ipgre/internal/llmclient"
	"github.com/genesis-engine/ipgre/internal/review"
	"github.com/genesis-engine/ipgre/internal/scorer"
	"github.com/genesis-engine/ipgre/internal/session"
)

// Mode selects which problems feed a rewrite pass (spec §4.H).
type Mode string

const (
	ModeAll       Mode = "all"
	ModeCritical  Mode = "critical"
	ModeUserNotes Mode = "user-notes"
)

// maxProblemsPerPass caps the problem list handed to a single rewrite call.
const maxProblemsPerPass = 10

// convergenceDeltaThreshold and convergenceStreak implement "flag
// convergence when Δscore ≤ 1 for two rewrites" (spec §4.H).
const convergenceDeltaThreshold = 1
const convergenceStreak = 2

// Problem is one item from the Score review selected for a rewrite pass.
type Problem struct {
	Text            string
	Description     string
	Severity        review.Severity
	EstimatedImpact float64
}

// SelectProblems builds the problem list for one rewrite pass (spec §4.H):
// *all* includes every medium/high issue plus all AI patterns (low-severity
// is always skipped); *critical* is high severity plus AI patterns only;
// *user-notes* is a single free-form entry. Sorted by estimatedImpact
// descending and capped at maxProblemsPerPass.
func SelectProblems(rev review.ScoreReview, mode Mode, userNotes string) []Problem {
	if mode == ModeUserNotes {
		if strings.TrimSpace(userNotes) == "" {
			return nil
		}
		return []Problem{{Description: userNotes, EstimatedImpact: math.MaxFloat64}}
	}

	var problems []Problem
	for _, iss := range rev.Issues {
		switch mode {
		case ModeAll:
			if iss.Severity == review.SeverityLow {
				continue
			}
		case ModeCritical:
			if iss.Severity != review.SeverityHigh {
				continue
			}
		}
		problems = append(problems, Problem{
			Text:            iss.Text,
			Description:     iss.Problem,
			Severity:        iss.Severity,
			EstimatedImpact: iss.EstimatedImpact,
		})
	}
	for _, ap := range rev.AIPatterns {
		desc := ap.Pattern
		var example string
		if len(ap.Examples) > 0 {
			example = ap.Examples[0]
		}
		problems = append(problems, Problem{
			Text:            example,
			Description:     "AI-pattern: " + desc,
			Severity:        review.SeverityMedium,
			EstimatedImpact: ap.EstimatedImpact,
		})
	}

	sort.SliceStable(problems, func(i, j int) bool {
		return problems[i].EstimatedImpact > problems[j].EstimatedImpact
	})
	if len(problems) > maxProblemsPerPass {
		problems = problems[:maxProblemsPerPass]
	}
	return problems
}

// Format renders one problem in the spec's prompt format:
// `FIND: "{text}" → PROBLEM: {description} [sev, ~pts]`.
func (p Problem) Format() string {
	if p.Severity == "" {
		return fmt.Sprintf("NOTE: %s", p.Description)
	}
	return fmt.Sprintf("FIND: %q → PROBLEM: %s [%s, ~%.1fpts]", p.Text, p.Description, p.Severity, p.EstimatedImpact)
}

// State tracks the rewrite-iteration safeguards across successive calls to
// Run for the same editing session (spec §4.H: "track consecutive rewrite
// iterations").
type State struct {
	PreviousRewriteText   string
	PreviousScore         int
	ConsecutiveSmallDelta int
	Converged             bool
}

// Deps bundles the Rewrite Action's collaborators.
type Deps struct {
	Provider llmclient.Provider
	Scorer   *scorer.Scorer
}

// Result is one rewrite pass's outcome.
type Result struct {
	Text       string
	Review     review.ScoreReview
	Reverted   bool
	Converged  bool
	ScoreDelta int
}

// cancelPollInterval mirrors internal/chunker's polling cadence for a
// streamed rewrite.
var cancelPollInterval = 200 * time.Millisecond

// Run performs one targeted rewrite pass (spec §4.H): select problems,
// restore the pre-generation snapshot, stream the rewrite, rescore with
// rewrite context, then apply the auto-revert and convergence safeguards.
func Run(ctx context.Context, deps Deps, sess *session.Session, checkpointID string, currentReview review.ScoreReview, threshold int, mode Mode, userNotes string, state *State) (Result, error) {
	snap, ok := sess.Restore(checkpointID)
	if !ok {
		return Result{}, errs.PersistenceError(nil, "rewrite checkpoint %q not found", checkpointID)
	}
	baseText := snap.BestText

	problems := SelectProblems(currentReview, mode, userNotes)
	prompt := buildRewritePrompt(baseText, problems)

	rewritten, err := streamRewrite(ctx, deps.Provider, sess, prompt)
	if err != nil {
		return Result{}, err
	}

	subscores := currentReview.Subscores
	newReview, err := deps.Scorer.Score(ctx, rewritten, scorer.FixContext{
		Threshold:          threshold,
		PreviousScore:      currentReview.Score,
		PreviousIssueCount: len(currentReview.Issues) + len(currentReview.AIPatterns),
		PreviousSubscores:  &subscores,
	})
	if err != nil {
		return Result{}, err
	}

	baselineScore := currentReview.Score
	if state.PreviousRewriteText != "" {
		baselineScore = state.PreviousScore
	}
	delta := newReview.Score - baselineScore

	reverted := false
	finalText := rewritten
	finalReview := newReview
	if state.PreviousRewriteText != "" && newReview.Score < state.PreviousScore {
		reverted = true
		finalText = state.PreviousRewriteText
	}

	if !reverted {
		state.PreviousRewriteText = finalText
		state.PreviousScore = newReview.Score
	}

	if absInt(delta) <= convergenceDeltaThreshold {
		state.ConsecutiveSmallDelta++
	} else {
		state.ConsecutiveSmallDelta = 0
	}
	state.Converged = state.ConsecutiveSmallDelta >= convergenceStreak

	return Result{
		Text:       finalText,
		Review:     finalReview,
		Reverted:   reverted,
		Converged:  state.Converged,
		ScoreDelta: delta,
	}, nil
}

func buildRewritePrompt(baseText string, problems []Problem) string {
	var b strings.Builder
	b.WriteString("Rewrite the passage below, addressing every listed problem and nothing else. Preserve voice, POV, and tense.\n\n")
	if len(problems) > 0 {
		b.WriteString("Problems to address:\n")
		for _, p := range problems {
			b.WriteString(p.Format())
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Passage:\n")
	b.WriteString(baseText)
	return b.String()
}

func streamRewrite(ctx context.Context, provider llmclient.Provider, sess *session.Session, prompt string) (string, error) {
	type streamResult struct {
		full string
		err  error
	}
	done := make(chan streamResult, 1)
	var buf strings.Builder

	handle := provider.Stream(ctx, "You are a meticulous fiction editor performing a targeted rewrite.", prompt, llmclient.CallOptions{Temperature: 0.5}, llmclient.StreamCallbacks{
		OnChunk: func(text string) { buf.WriteString(text) },
		OnDone:  func(full, reason string) { done <- streamResult{full: full} },
		OnError: func(err error) { done <- streamResult{err: err} },
	})

	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case res := <-done:
			if res.err != nil {
				return "", res.err
			}
			if res.full != "" {
				return res.full, nil
			}
			return buf.String(), nil
		case <-ticker.C:
			if sess.Cancelled() {
				handle.Cancel()
				return buf.String(), errs.Cancelled(nil, "rewrite cancelled")
			}
		}
	}
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
