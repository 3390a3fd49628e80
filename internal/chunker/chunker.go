// Package chunker is the Chunk Controller (spec §4.E): the top-level state
// machine that drives one generation session from Init through repeated
// GenerateChunk/MicroFixLoop/Commit/Decide cycles to Finalize, including the
// write-to-goal cascade. Grounded on the teacher's internal/orchestration
// session-driving loop (phased execution with explicit state transitions,
// not a generic FSM library) adapted from multi-agent task phases to the
// generate-score-fix-commit cycle.
package chunker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/genesis-engine/ipgre/internal/errorstore"
	"github.com/genesis-engine/ipgre/internal/errs"
	"github.com/genesis-engine/ipgre/internal/llmclient"
	"github.com/genesis-engine/ipgre/internal/microfix"
	"github.com/genesis-engine/ipgre/internal/ports"
	"github.com/genesis-engine/ipgre/internal/review"
	"github.com/genesis-engine/ipgre/internal/scorer"
	"github.com/genesis-engine/ipgre/internal/session"
)

// Chunk sizes named in spec §4.E.
const (
	NormalChunkWords    = 1000
	IterativeChunkWords = 100
)

// goalOvershoot is the default tolerance write-to-goal mode allows before
// scheduling another session (spec §4.E).
const goalOvershoot = 0.03

// maxTokensPerWord approximates the token budget for a requested word count.
const maxTokensPerWord = 4

// cancelPollInterval is how often GenerateChunk checks for cancellation
// while a stream is in flight.
var cancelPollInterval = 200 * time.Millisecond

// Mode selects the chunk size and Micro-Fix Loop iteration cap.
type Mode int

const (
	ModeBulk Mode = iota
	ModeIterative
)

func (m Mode) chunkSize() int {
	if m == ModeIterative {
		return IterativeChunkWords
	}
	return NormalChunkWords
}

func (m Mode) maxIterations() int {
	if m == ModeIterative {
		return microfix.IterativeMaxIterations
	}
	return microfix.BulkMaxIterations
}

// Deps bundles the Chunk Controller's collaborators.
type Deps struct {
	Provider   llmclient.Provider
	Scorer     *scorer.Scorer
	ErrorStore errorstore.Store
	Editor     ports.Editor
	Settings   ports.Store
	Session    *session.Session
}

// scorerAdapter satisfies microfix.MicroFixer by converting between
// microfix's mirrored FixContext and the real scorer.FixContext.
type scorerAdapter struct {
	s *scorer.Scorer
}

func (a scorerAdapter) ScoreAndMicroFix(ctx context.Context, text string, fc microfix.FixContext) (review.ScoreReview, error) {
	return a.s.ScoreAndMicroFix(ctx, text, scorer.FixContext{
		Threshold:      fc.Threshold,
		IterationNum:   fc.IterationNum,
		MaxIterations:  fc.MaxIterations,
		PreviousFixes:  fc.PreviousFixes,
		AttemptedFixes: fc.AttemptedFixes,
		LintDefects:    fc.LintDefects,
		IntentLedger:   fc.IntentLedger,
		Genre:          fc.Genre,
		Voice:          fc.Voice,
		AIInstructions: fc.AIInstructions,
		NegativePrompt: fc.NegativePrompt,
	})
}

// FinalizeResult is the Finalize state's output (spec §4.E).
type FinalizeResult struct {
	FullText        string
	WeightedAvgScore int
	FinalScore       int
	DisplayedScore   int
	RescoreSkipped   bool
	FinalReview      review.ScoreReview
}

// WriteToGoalDecision is the write-to-goal cascade's output.
type WriteToGoalDecision struct {
	ScheduleNext  bool
	NextWordTarget int
	ConcludeStory bool
}

// SessionResult bundles everything a caller needs after RunSession returns.
type SessionResult struct {
	Finalize FinalizeResult
	Cascade  WriteToGoalDecision
}

// RunSession drives one full generation session: Init, then repeated
// GenerateChunk/MicroFixLoop/Commit/Decide cycles, then Finalize and the
// write-to-goal cascade (spec §4.E).
func RunSession(ctx context.Context, deps Deps, req review.Request, mode Mode) (SessionResult, error) {
	deps.Session.Init()

	// prefix starts from the request's ExistingContent (spec §3) and is
	// reconciled against the live editor: an editor that already holds text
	// wins (a resumed or cascaded session), otherwise the editor is seeded
	// from ExistingContent so invariant 5 (editor.content == existingContent
	// + bestText) holds from the very first chunk.
	prefix := req.ExistingContent
	if deps.Editor != nil {
		existing, err := deps.Editor.GetContent(ctx)
		if err != nil {
			return SessionResult{}, errs.APIError("", err, "reading existing editor content: %v", err)
		}
		if existing != "" {
			prefix = existing
		} else if prefix != "" {
			if err := deps.Editor.SetContent(ctx, prefix); err != nil {
				return SessionResult{}, errs.PersistenceError(err, "seeding editor with existing content: %v", err)
			}
		}
	}

	storeCtx := errorstore.Context{
		ProjectID:    req.ChapterTitle,
		ChapterID:    req.ChapterTitle,
		ChapterTitle: req.ChapterTitle,
		Genre:        req.Genre,
		SessionKey:   deps.Session.SessionKey(),
	}

	var ledger *review.IntentLedger
	if deps.Scorer != nil {
		l, err := deps.Scorer.GenerateIntentLedger(ctx, scorer.IntentLedgerParams{
			Plot:           req.Plot,
			ChapterOutline: req.ChapterOutline,
			Characters:     req.Characters,
			ExistingProse:  prefix,
			ChapterTitle:   req.ChapterTitle,
		})
		if err == nil {
			ledger = &l
		}
	}

	wordsGenerated := 0
	chunkSize := mode.chunkSize()

	for {
		if deps.Session.Cancelled() {
			break
		}

		remaining := req.WordTarget - wordsGenerated
		if remaining <= 0 {
			break
		}
		requestWords := remaining
		if requestWords > chunkSize {
			requestWords = chunkSize
		}

		draft, genErr := generateChunk(ctx, deps, req, prefix, requestWords)
		if genErr != nil {
			if errs.Is(genErr, errs.KindCancelled) {
				// The partial draft already streamed into the editor never
				// passed the Micro-Fix Loop, so it doesn't count as
				// committed; roll the editor back to the last commit before
				// falling through to Finalize (spec §4.E: on cancel the
				// GenerateChunk state transitions straight to Finalize).
				if deps.Editor != nil {
					_ = deps.Editor.SetContent(ctx, prefix)
				}
				break
			}
			return SessionResult{}, genErr
		}

		fc := microfix.FixContext{
			Threshold:      req.QualityThreshold,
			IntentLedger:   ledger,
			Genre:          req.Genre,
			Voice:          req.Voice,
			AIInstructions: req.AIInstructions,
		}

		loopResult, err := microfix.Run(ctx, scorerAdapter{deps.Scorer}, deps.ErrorStore, deps.Session, draft, fc, mode.maxIterations(), storeCtx)
		if err != nil {
			return SessionResult{}, err
		}

		// Commit: replace the streamed draft with the loop's best text.
		chunkWords := wordCount(loopResult.BestText)
		if deps.Editor != nil {
			full := prefix + loopResult.BestText
			if err := deps.Editor.SetContent(ctx, full); err != nil {
				return SessionResult{}, errs.PersistenceError(err, "writing committed chunk: %v", err)
			}
			prefix = full
		} else {
			prefix += loopResult.BestText
		}
		wordsGenerated += chunkWords

		deps.Session.AppendChunkScore(session.ChunkScoreEntry{
			Score:  loopResult.BestScore,
			Words:  chunkWords,
			Review: loopResult.BestReview,
		})

		// Decide
		if wordsGenerated >= int(0.9*float64(req.WordTarget)) || chunkWords < 10 {
			break
		}
	}

	finalize := finalizeSession(ctx, deps, req, prefix, storeCtx)
	// Write-to-goal compares against the chapter's running total (spec
	// §4.E), not just what this session generated — prefix already holds
	// ExistingContent plus every chunk committed so far, this or prior
	// sessions.
	cascade := decideWriteToGoal(req, wordCount(prefix))

	return SessionResult{Finalize: finalize, Cascade: cascade}, nil
}

func generateChunk(ctx context.Context, deps Deps, req review.Request, existingPrefix string, words int) (string, error) {
	systemPrompt := buildGenerationSystemPrompt(req)
	userPrompt := buildGenerationUserPrompt(req, existingPrefix, words)

	maxTokens := words * maxTokensPerWord
	opts := llmclient.CallOptions{MaxTokens: maxTokens, Temperature: 0.85}

	type streamResult struct {
		full string
		err  error
	}
	done := make(chan streamResult, 1)
	var buf strings.Builder

	handle := deps.Provider.Stream(ctx, systemPrompt, userPrompt, opts, llmclient.StreamCallbacks{
		OnChunk: func(text string) {
			buf.WriteString(text)
			if deps.Editor != nil {
				_ = deps.Editor.AppendContent(ctx, text)
			}
		},
		OnDone: func(full, reason string) {
			done <- streamResult{full: full}
		},
		OnError: func(err error) {
			done <- streamResult{err: err}
		},
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
			if deps.Session.Cancelled() {
				handle.Cancel()
				return buf.String(), errs.Cancelled(nil, "generation cancelled mid-chunk")
			}
		}
	}
}

func buildGenerationSystemPrompt(req review.Request) string {
	var b strings.Builder
	b.WriteString("You are a skilled fiction writer continuing a manuscript in progress.\n")
	if req.Genre != "" {
		fmt.Fprintf(&b, "Genre: %s. %s\n", req.Genre, req.GenreRules)
	}
	if req.Voice != "" {
		fmt.Fprintf(&b, "Voice: %s\n", req.Voice)
	}
	if req.AIInstructions != "" {
		fmt.Fprintf(&b, "Additional instructions: %s\n", req.AIInstructions)
	}
	return b.String()
}

func buildGenerationUserPrompt(req review.Request, existingPrefix string, words int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write approximately %d words continuing this chapter.\n", words)
	if req.ChapterTitle != "" {
		fmt.Fprintf(&b, "Chapter: %s\n", req.ChapterTitle)
	}
	if req.Plot != "" {
		fmt.Fprintf(&b, "Plot: %s\n", req.Plot)
	}
	if req.ChapterOutline != "" {
		fmt.Fprintf(&b, "Outline: %s\n", req.ChapterOutline)
	}
	for _, c := range req.Characters {
		fmt.Fprintf(&b, "Character %s (%s): %s\n", c.Name, c.Role, c.Description)
	}
	if req.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", req.Notes)
	}
	if existingPrefix != "" {
		b.WriteString("Existing prose so far:\n")
		b.WriteString(existingPrefix)
		b.WriteString("\n")
	}
	return b.String()
}

func finalizeSession(ctx context.Context, deps Deps, req review.Request, fullText string, storeCtx errorstore.Context) FinalizeResult {
	entries := deps.Session.ChunkScores()

	totalScoreWords := 0
	totalWords := 0
	for _, e := range entries {
		totalScoreWords += e.Score * e.Words
		totalWords += e.Words
	}
	weightedAvg := 0
	if totalWords > 0 {
		weightedAvg = totalScoreWords / totalWords
	}

	if weightedAvg >= req.QualityThreshold {
		return FinalizeResult{
			FullText:         fullText,
			WeightedAvgScore: weightedAvg,
			FinalScore:       weightedAvg,
			DisplayedScore:   weightedAvg,
			RescoreSkipped:   true,
		}
	}

	finalReview, err := deps.Scorer.Score(ctx, fullText, scorer.FixContext{Threshold: req.QualityThreshold})
	if err != nil {
		// Scorer failure at Finalize: fall back to the weighted average; the
		// Chunk Controller owns error surfacing upstream, this just avoids a
		// crash on a best-effort final read.
		return FinalizeResult{
			FullText:         fullText,
			WeightedAvgScore: weightedAvg,
			FinalScore:       weightedAvg,
			DisplayedScore:   weightedAvg,
			RescoreSkipped:   true,
		}
	}

	finalScore := finalReview.Score
	reported := finalScore
	if finalScore <= weightedAvg-5 {
		reported = weightedAvg - 3
	}
	displayed := reported
	if weightedAvg > displayed {
		displayed = weightedAvg
	}

	if deps.ErrorStore != nil {
		_ = deps.ErrorStore.Record(finalReview, storeCtx)
	}

	return FinalizeResult{
		FullText:         fullText,
		WeightedAvgScore: weightedAvg,
		FinalScore:       reported,
		DisplayedScore:   displayed,
		FinalReview:      finalReview,
	}
}

// decideWriteToGoal compares the chapter's cumulative word count — existing
// content plus everything committed across every session so far, not just
// this one — against req.ProjectGoal (spec §4.E).
func decideWriteToGoal(req review.Request, cumulativeWords int) WriteToGoalDecision {
	if req.ProjectGoal <= 0 {
		return WriteToGoalDecision{}
	}
	threshold := float64(req.ProjectGoal) * (1 - goalOvershoot)
	if float64(cumulativeWords) >= threshold {
		return WriteToGoalDecision{}
	}
	remaining := req.ProjectGoal - cumulativeWords
	nextTarget := remaining
	if nextTarget > 2000 {
		nextTarget = 2000
	}
	return WriteToGoalDecision{
		ScheduleNext:   true,
		NextWordTarget: nextTarget,
		ConcludeStory:  remaining <= 2000,
	}
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
