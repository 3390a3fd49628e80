package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/genesis-engine/ipgre/internal/errs"
	"github.com/genesis-engine/ipgre/internal/llmclient"
	"github.com/genesis-engine/ipgre/internal/review"
)

// IntentLedgerParams is the input to GenerateIntentLedger (spec §4.D).
type IntentLedgerParams struct {
	Plot           string
	ChapterOutline string
	Characters     []review.Character
	ExistingProse  string
	ChapterTitle   string
}

type wireIntentLedger struct {
	POVType    string `json:"povType"`
	Tense      string `json:"tense"`
	CoreIntent string `json:"coreIntent"`
}

// GenerateIntentLedger runs once per chunk, before the Micro-Fix Loop,
// locking POV/tense/core-intent so later fixes cannot drift narrative
// commitments (spec §4.D / glossary "Intent ledger").
func (s *Scorer) GenerateIntentLedger(ctx context.Context, p IntentLedgerParams) (review.IntentLedger, error) {
	systemPrompt := "You establish narrative commitments for one chunk of fiction before any drafting begins. Respond with a single JSON object only: {\"povType\": string, \"tense\": string, \"coreIntent\": string}. No markdown fences, no prose."

	var b strings.Builder
	fmt.Fprintf(&b, "Chapter: %s\n", p.ChapterTitle)
	fmt.Fprintf(&b, "Plot: %s\n", p.Plot)
	if p.ChapterOutline != "" {
		fmt.Fprintf(&b, "Outline: %s\n", p.ChapterOutline)
	}
	for _, c := range p.Characters {
		fmt.Fprintf(&b, "Character %s (%s): %s, motivation: %s, arc: %s\n", c.Name, c.Role, c.Description, c.Motivation, c.Arc)
	}
	if p.ExistingProse != "" {
		b.WriteString("Existing prose so far (for continuity):\n")
		b.WriteString(p.ExistingProse)
	}

	raw, err := s.provider.Call(ctx, systemPrompt, b.String(), llmclient.CallOptions{Model: s.model, MaxTokens: 400, Temperature: 0.2})
	if err != nil {
		return review.IntentLedger{}, err
	}

	cleaned := stripJSONFences(raw)
	objectStr, err := extractOutermostObject(cleaned)
	if err != nil {
		return review.IntentLedger{}, errs.ParseFailure(err, "intent ledger response did not contain JSON")
	}

	var wire wireIntentLedger
	if err := json.Unmarshal([]byte(objectStr), &wire); err != nil {
		return review.IntentLedger{}, errs.ParseFailure(err, "unmarshal intent ledger: %v", err)
	}

	return review.IntentLedger{POVType: wire.POVType, Tense: wire.Tense, CoreIntent: wire.CoreIntent}, nil
}
