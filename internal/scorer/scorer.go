// Package scorer is the Scorer / Micro-Fixer (spec §4.D): a single LLM call
// that both scores a passage and, unless scoring-only, proposes one
// surgical fix. It parses a strict JSON contract out of the model's raw
// text, grounded on the critique-plus-improved-artifact pattern in
// 71ebcb9f_rcliao-briefly's narrative package (structured prompt, JSON
// parse with required-field validation) adapted to score-plus-single-fix.
package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/genesis-engine/ipgre/internal/errs"
	"github.com/genesis-engine/ipgre/internal/linter"
	"github.com/genesis-engine/ipgre/internal/llmclient"
	"github.com/genesis-engine/ipgre/internal/observability"
	"github.com/genesis-engine/ipgre/internal/review"
)

// Scorer drives the Scorer/Micro-Fixer model call.
type Scorer struct {
	provider llmclient.Provider
	model    string
}

// New builds a Scorer against the given provider. model may be empty to use
// the provider's own default.
func New(provider llmclient.Provider, model string) *Scorer {
	return &Scorer{provider: provider, model: model}
}

// FixContext is the context besides the passage itself (spec §4.D).
type FixContext struct {
	Threshold       int
	IterationNum    int
	MaxIterations   int
	PreviousFixes   []string
	AttemptedFixes  []string
	LintDefects     []linter.Defect
	IntentLedger    *review.IntentLedger
	Genre           string
	Voice           string
	AIInstructions  string
	NegativePrompt  string

	// Rewrite context (spec §4.H): set only when scoring the output of a
	// targeted Rewrite Action, so the model can judge improvement against
	// what came before rather than scoring the passage in isolation.
	PreviousScore      int
	PreviousIssueCount int
	PreviousSubscores  *review.Subscores
}

// isFinalPass reports whether this call should score only, never fix.
func (fc FixContext) isFinalPass() bool {
	return fc.MaxIterations > 0 && fc.IterationNum == fc.MaxIterations
}

// wireReview is the strict JSON contract the model must emit.
type wireReview struct {
	Score int    `json:"score"`
	Label string `json:"label"`

	Subscores struct {
		SentenceVariety      int `json:"sentenceVariety"`
		DialogueAuthenticity int `json:"dialogueAuthenticity"`
		SensoryDetail        int `json:"sensoryDetail"`
		EmotionalResonance   int `json:"emotionalResonance"`
		VocabularyPrecision  int `json:"vocabularyPrecision"`
		NarrativeFlow        int `json:"narrativeFlow"`
		OriginalityVoice     int `json:"originalityVoice"`
		TechnicalExecution   int `json:"technicalExecution"`
	} `json:"subscores"`

	Issues []struct {
		Severity        string  `json:"severity"`
		Category        string  `json:"category"`
		Text            string  `json:"text"`
		Problem         string  `json:"problem"`
		EstimatedImpact float64 `json:"estimatedImpact"`
	} `json:"issues"`

	AIPatterns []struct {
		Pattern         string   `json:"pattern"`
		Examples        []string `json:"examples"`
		EstimatedImpact float64  `json:"estimatedImpact"`
	} `json:"aiPatterns"`

	FourRequirementsFound struct {
		CharacterSpecificThought bool `json:"characterSpecificThought"`
		PreciseObservation       bool `json:"preciseObservation"`
		MusicalSentence          bool `json:"musicalSentence"`
		ExpectationBreak         bool `json:"expectationBreak"`
	} `json:"fourRequirementsFound"`

	BeforeScore        int    `json:"beforeScore"`
	AfterScore         int    `json:"afterScore"`
	MicroFixedProse    string `json:"microFixedProse"`
	FixApplied         string `json:"fixApplied"`
	FixCategory        string `json:"fixCategory"`
	FixTarget          string `json:"fixTarget"`
	InternalValidation string `json:"internalValidation"`
}

// Score performs a no-fix evaluation, used for the Chunk Controller's final
// whole-text score (spec §4.D).
func (s *Scorer) Score(ctx context.Context, text string, fc FixContext) (review.ScoreReview, error) {
	fc.MaxIterations = 1
	fc.IterationNum = 1
	return s.call(ctx, text, fc)
}

// ScoreAndMicroFix performs one scoring pass, optionally proposing a fix
// (spec §4.D).
func (s *Scorer) ScoreAndMicroFix(ctx context.Context, text string, fc FixContext) (review.ScoreReview, error) {
	return s.call(ctx, text, fc)
}

func (s *Scorer) call(ctx context.Context, text string, fc FixContext) (review.ScoreReview, error) {
	systemPrompt := buildSystemPrompt(fc)
	userPrompt := buildUserPrompt(text, fc)

	spanCtx, call := observability.StartScorerCall(ctx, "scorer.call", s.model, fc.IterationNum, fc.MaxIterations, userPrompt)
	defer call.End()

	raw, err := s.provider.Call(spanCtx, systemPrompt, userPrompt, llmclient.CallOptions{Model: s.model, MaxTokens: 4000, Temperature: 0.3})
	if err != nil {
		call.Fail(spanCtx, err, "")
		return review.ScoreReview{}, err
	}

	wire, err := parseWireReview(raw)
	if err != nil {
		call.Fail(spanCtx, err, raw)
		return review.ScoreReview{}, errs.ParseFailure(err, "scorer response did not parse: %v", err)
	}

	rev := toScoreReview(wire)
	call.Succeed(spanCtx, raw, rev.Score)
	return rev, nil
}

func buildSystemPrompt(fc FixContext) string {
	var b strings.Builder
	b.WriteString("You are a meticulous prose editor. Score the passage honestly on the eight fixed subscore dimensions (summing to 100) and, unless told to score only, propose exactly one surgical fix targeting the highest-impact defect.\n")
	b.WriteString("Respond with a single JSON object only, no prose, no markdown code fences.\n")
	if fc.Genre != "" {
		fmt.Fprintf(&b, "Genre: %s\n", fc.Genre)
	}
	if fc.Voice != "" {
		fmt.Fprintf(&b, "Voice: %s\n", fc.Voice)
	}
	if fc.AIInstructions != "" {
		fmt.Fprintf(&b, "Additional instructions: %s\n", fc.AIInstructions)
	}
	if fc.NegativePrompt != "" {
		b.WriteString(fc.NegativePrompt)
		b.WriteString("\n")
	}
	if fc.IntentLedger != nil {
		fmt.Fprintf(&b, "Locked intent — POV: %s, tense: %s, core intent: %s. Do not drift from these.\n",
			fc.IntentLedger.POVType, fc.IntentLedger.Tense, fc.IntentLedger.CoreIntent)
	}
	if fc.PreviousScore > 0 {
		fmt.Fprintf(&b, "This text is the result of a targeted rewrite. Previous score: %d, previous issue count: %d.\n", fc.PreviousScore, fc.PreviousIssueCount)
		if fc.PreviousSubscores != nil {
			fmt.Fprintf(&b, "Previous subscores: sentenceVariety=%d dialogueAuthenticity=%d sensoryDetail=%d emotionalResonance=%d vocabularyPrecision=%d narrativeFlow=%d originalityVoice=%d technicalExecution=%d\n",
				fc.PreviousSubscores.SentenceVariety, fc.PreviousSubscores.DialogueAuthenticity, fc.PreviousSubscores.SensoryDetail,
				fc.PreviousSubscores.EmotionalResonance, fc.PreviousSubscores.VocabularyPrecision, fc.PreviousSubscores.NarrativeFlow,
				fc.PreviousSubscores.OriginalityVoice, fc.PreviousSubscores.TechnicalExecution)
		}
		b.WriteString("Judge this rewrite honestly against that baseline — do not inflate the score merely because a rewrite was requested.\n")
	}
	return b.String()
}

func buildUserPrompt(text string, fc FixContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pass %d of %d. Quality threshold: %d.\n", fc.IterationNum, fc.MaxIterations, fc.Threshold)
	if fc.isFinalPass() {
		b.WriteString("This is the final pass: score only, do not propose a fix (omit microFixedProse).\n")
	}
	if len(fc.PreviousFixes) > 0 {
		fmt.Fprintf(&b, "Fixes already accepted this chunk (do not redo): %s\n", strings.Join(fc.PreviousFixes, "; "))
	}
	if len(fc.AttemptedFixes) > 0 {
		fmt.Fprintf(&b, "Fixes already attempted and rejected (do not retry the same strategy): %s\n", strings.Join(fc.AttemptedFixes, "; "))
	}
	if len(fc.LintDefects) > 0 {
		b.WriteString("Deterministic linter found these hard defects — prefer fixing these first:\n")
		for _, d := range fc.LintDefects {
			fmt.Fprintf(&b, "- %s: %q\n", d.Type, d.Text)
		}
	}
	b.WriteString("\nPassage:\n")
	b.WriteString(text)
	return b.String()
}

// parseWireReview strips ```json fences and locates the outermost {...}
// before unmarshaling, per spec §6/§9's "forgiving parser" requirement.
func parseWireReview(raw string) (*wireReview, error) {
	cleaned := stripJSONFences(raw)
	objectStr, err := extractOutermostObject(cleaned)
	if err != nil {
		return nil, err
	}
	var wire wireReview
	if err := json.Unmarshal([]byte(objectStr), &wire); err != nil {
		return nil, fmt.Errorf("unmarshal scorer json: %w", err)
	}
	return &wire, nil
}

func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func extractOutermostObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// inside a string literal, braces don't count
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON object in response")
}

func toScoreReview(w *wireReview) review.ScoreReview {
	r := review.ScoreReview{
		Score: w.Score,
		Label: w.Label,
		Subscores: review.Subscores{
			SentenceVariety:      w.Subscores.SentenceVariety,
			DialogueAuthenticity: w.Subscores.DialogueAuthenticity,
			SensoryDetail:        w.Subscores.SensoryDetail,
			EmotionalResonance:   w.Subscores.EmotionalResonance,
			VocabularyPrecision:  w.Subscores.VocabularyPrecision,
			NarrativeFlow:        w.Subscores.NarrativeFlow,
			OriginalityVoice:     w.Subscores.OriginalityVoice,
			TechnicalExecution:   w.Subscores.TechnicalExecution,
		},
		FourRequirementsFound: review.FourRequirements{
			CharacterSpecificThought: w.FourRequirementsFound.CharacterSpecificThought,
			PreciseObservation:       w.FourRequirementsFound.PreciseObservation,
			MusicalSentence:          w.FourRequirementsFound.MusicalSentence,
			ExpectationBreak:         w.FourRequirementsFound.ExpectationBreak,
		},
		BeforeScore:        w.BeforeScore,
		AfterScore:         w.AfterScore,
		MicroFixedProse:    w.MicroFixedProse,
		FixApplied:         w.FixApplied,
		FixCategory:        w.FixCategory,
		FixTarget:          w.FixTarget,
		InternalValidation: w.InternalValidation,
		HasFix:             w.MicroFixedProse != "" && w.AfterScore > w.BeforeScore,
	}

	for _, iss := range w.Issues {
		r.Issues = append(r.Issues, review.Issue{
			Severity:        review.Severity(iss.Severity),
			Category:        iss.Category,
			Text:            iss.Text,
			Problem:         iss.Problem,
			EstimatedImpact: iss.EstimatedImpact,
		})
	}
	for _, ap := range w.AIPatterns {
		r.AIPatterns = append(r.AIPatterns, review.AIPattern{
			Pattern:         ap.Pattern,
			Examples:        ap.Examples,
			EstimatedImpact: ap.EstimatedImpact,
		})
	}

	return r
}
