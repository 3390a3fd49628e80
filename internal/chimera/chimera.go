// Package chimera is the Multi-Agent Orchestrator's optional path (spec
// §4.G): build a roster of author voices, fan them out in parallel, and
// stitch the best paragraph from each candidate into one draft via a judge
// model, smoothing the seams between agent-authored paragraphs.
//
// Grounded on the teacher's internal/orchestration.Ensemble (parallel
// fan-out over a model roster, join-then-vote) and agent/local_runtime.go's
// CallParallel (wait-group+mutex join), generalized here to errgroup per
// SPEC_FULL.md's DOMAIN STACK assignment of golang.org/x/sync/errgroup to
// this package, and from "vote on one output" to "vote per paragraph
// position."
package chimera

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/genesis-engine/ipgre/internal/errs"
	"github.com/genesis-engine/ipgre/internal/llmclient"
	"github.com/genesis-engine/ipgre/internal/review"
)

// Profile is one roster member's voice (spec §4.G).
type Profile struct {
	Name        string
	VoicePrompt string
	Temperature float64
}

// wildcardProfiles pads a roster out to the requested size when the
// author's palette runs short (spec §4.G names these five explicitly).
var wildcardProfiles = []Profile{
	{Name: "precision", VoicePrompt: "Write with exacting, spare precision — every word load-bearing, no ornamentation.", Temperature: 0.6},
	{Name: "sensory", VoicePrompt: "Lead with sensory grounding — texture, sound, smell, temperature — before interiority.", Temperature: 0.8},
	{Name: "rhythm", VoicePrompt: "Vary sentence length aggressively for rhythm; let cadence carry the emotional beat.", Temperature: 0.85},
	{Name: "restraint", VoicePrompt: "Underwrite. Let the reader supply the emotion the prose withholds.", Temperature: 0.55},
	{Name: "accumulative", VoicePrompt: "Build through accumulation — layered clauses and repetition that gather weight.", Temperature: 0.9},
}

// BuildRoster builds a roster of exactly n profiles: one per entry in the
// author's palette, then padded with wildcard profiles cycled in order
// (spec §4.G step 1).
func BuildRoster(authorPalette []string, n int) []Profile {
	roster := make([]Profile, 0, n)
	for _, voice := range authorPalette {
		if len(roster) >= n {
			break
		}
		roster = append(roster, Profile{Name: voice, VoicePrompt: voice, Temperature: 0.75})
	}
	for i := 0; len(roster) < n; i++ {
		roster = append(roster, wildcardProfiles[i%len(wildcardProfiles)])
	}
	return roster
}

// launchStagger is the delay between successive agent launches (spec §4.G
// step 2: "staggered by ~300ms to soften rate limits").
var launchStagger = 300 * time.Millisecond

// Deps bundles the Orchestrator's collaborators.
type Deps struct {
	Provider llmclient.Provider
	Model    string
	Rand     *rand.Rand
}

func (d Deps) rng() *rand.Rand {
	if d.Rand != nil {
		return d.Rand
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// candidate is one roster member's completed draft.
type candidate struct {
	agentIdx   int
	profile    Profile
	text       string
	paragraphs []string
}

// Orchestrate runs the full Multi-Agent Orchestrator path: parallel
// generation, Chimera paragraph stitching, and transition smoothing (spec
// §4.G). The returned text is handed to the Micro-Fix Loop unchanged.
func Orchestrate(ctx context.Context, deps Deps, req review.Request, words, agentCount int) (string, error) {
	roster := BuildRoster(req.AuthorPalette, agentCount)

	candidates, err := launchRoster(ctx, deps, req, words, roster)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", errs.APIError("", nil, "all %d roster agents failed", len(roster))
	}

	stitched, origins, err := stitch(ctx, deps, candidates)
	if err != nil {
		return "", err
	}

	return smoothTransitions(ctx, deps, stitched, origins)
}

// launchRoster fans out one generation call per roster profile, staggered
// by launchStagger, retrying once on a rate-limited response, and joins by
// agentIdx so ordering is reconstructible regardless of completion order
// (spec §5: "the join reassembles by agentId").
func launchRoster(ctx context.Context, deps Deps, req review.Request, words int, roster []Profile) ([]candidate, error) {
	results := make([]*candidate, len(roster))

	g, gctx := errgroup.WithContext(ctx)
	for i, profile := range roster {
		i, profile := i, profile
		g.Go(func() error {
			select {
			case <-time.After(time.Duration(i) * launchStagger):
			case <-gctx.Done():
				return gctx.Err()
			}

			text, err := callWithRetry(gctx, deps, req, words, profile)
			if err != nil {
				// A single agent failing doesn't abort the batch — the
				// roster proceeds with whoever succeeded (spec §4.G allows
				// the Chimera step to fall back when too few remain).
				return nil
			}
			results[i] = &candidate{agentIdx: i, profile: profile, text: text, paragraphs: splitParagraphs(text)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]candidate, 0, len(roster))
	for _, c := range results {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

// callWithRetryDelay is the spec §5 fixed single retry delay on a 429
// ("a fixed single retry after ≈5s"); overridable so tests don't pay it.
var callWithRetryDelay = 5 * time.Second

func callWithRetry(ctx context.Context, deps Deps, req review.Request, words int, profile Profile) (string, error) {
	systemPrompt := fmt.Sprintf("You are a fiction writer with a distinct voice. %s", profile.VoicePrompt)
	userPrompt := fmt.Sprintf("Write approximately %d words continuing this chapter.\nPlot: %s\n", words, req.Plot)
	opts := llmclient.CallOptions{Model: deps.Model, MaxTokens: words * 4, Temperature: profile.Temperature}

	text, err := deps.Provider.Call(ctx, systemPrompt, userPrompt, opts)
	if err == nil {
		return text, nil
	}
	if !errs.Is(err, errs.KindRateLimited) {
		return "", err
	}
	select {
	case <-time.After(callWithRetryDelay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return deps.Provider.Call(ctx, systemPrompt, userPrompt, opts)
}

func splitParagraphs(text string) []string {
	raw := strings.Split(strings.TrimSpace(text), "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// modalParagraphCount returns the most common paragraph count across
// candidates (spec §4.G step 3).
func modalParagraphCount(candidates []candidate) int {
	counts := make(map[int]int)
	for _, c := range candidates {
		counts[len(c.paragraphs)]++
	}
	best, bestCount := 0, -1
	for n, count := range counts {
		if count > bestCount || (count == bestCount && n < best) {
			best, bestCount = n, count
		}
	}
	return best
}

// normalizeToModal keeps candidates within ±1 of modal, merging trailing
// excess paragraphs down to exactly modal when a candidate runs long (spec
// §4.G step 3).
func normalizeToModal(candidates []candidate, modal int) []candidate {
	var kept []candidate
	for _, c := range candidates {
		n := len(c.paragraphs)
		switch {
		case n == modal:
			kept = append(kept, c)
		case n == modal+1 && modal > 0:
			merged := append([]string(nil), c.paragraphs[:modal-1]...)
			merged = append(merged, strings.Join(c.paragraphs[modal-1:], "\n\n"))
			c.paragraphs = merged
			kept = append(kept, c)
		case n == modal-1:
			kept = append(kept, c)
		}
	}
	return kept
}

type paragraphOrigin struct {
	agentIdx int
	profile  string
}

// stitch implements the Chimera step: normalize candidates to the modal
// paragraph count, fall back to whole-output judging if too few survive,
// otherwise judge each paragraph position independently (spec §4.G step 3).
func stitch(ctx context.Context, deps Deps, candidates []candidate) (string, []paragraphOrigin, error) {
	modal := modalParagraphCount(candidates)
	kept := normalizeToModal(candidates, modal)

	if len(kept) < 3 {
		winner, err := judgeWholeOutput(ctx, deps, candidates)
		if err != nil {
			return "", nil, err
		}
		return winner.text, []paragraphOrigin{{agentIdx: winner.agentIdx, profile: winner.profile.Name}}, nil
	}

	var paragraphs []string
	var origins []paragraphOrigin
	for pos := 0; pos < modal; pos++ {
		var options []candidate
		for _, c := range kept {
			if pos < len(c.paragraphs) {
				options = append(options, c)
			}
		}
		if len(options) == 0 {
			continue
		}
		winnerIdx, err := judgeParagraphPosition(ctx, deps, options, pos, deps.rng())
		if err != nil {
			return "", nil, err
		}
		chosen := options[winnerIdx]
		paragraphs = append(paragraphs, chosen.paragraphs[pos])
		origins = append(origins, paragraphOrigin{agentIdx: chosen.agentIdx, profile: chosen.profile.Name})
	}

	return strings.Join(paragraphs, "\n\n"), origins, nil
}

// judgeParagraphPosition shuffles candidate labels so the judge model can't
// learn a position bias, asks it to pick the best paragraph at this
// position, and returns the index into options of the winner.
func judgeParagraphPosition(ctx context.Context, deps Deps, options []candidate, pos int, rng *rand.Rand) (int, error) {
	order := rng.Perm(len(options))

	var b strings.Builder
	fmt.Fprintf(&b, "Paragraph position %d. Candidates below are labeled with letters in random order. Pick the strongest candidate prose-craft-wise.\n", pos)
	labels := make([]string, len(options))
	for slot, origIdx := range order {
		label := string(rune('A' + slot))
		labels[origIdx] = label
		fmt.Fprintf(&b, "\n[%s]\n%s\n", label, options[origIdx].paragraphs[pos])
	}
	b.WriteString("\nRespond with a single JSON object only: {\"winner\": \"<letter>\"}\n")

	raw, err := deps.Provider.Call(ctx, "You are a meticulous fiction editor judging prose candidates.", b.String(), llmclient.CallOptions{Model: deps.Model, MaxTokens: 50, Temperature: 0.0})
	if err != nil {
		return 0, err
	}

	winnerLabel, err := parseWinnerLabel(raw)
	if err != nil {
		// Forgiving: fall back to the first candidate rather than aborting
		// the whole stitch over one malformed judge response.
		return 0, nil
	}
	for origIdx, label := range labels {
		if label == winnerLabel {
			return origIdx, nil
		}
	}
	return 0, nil
}

func judgeWholeOutput(ctx context.Context, deps Deps, candidates []candidate) (candidate, error) {
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	var b strings.Builder
	b.WriteString("Candidates below are labeled with letters in random order. Pick the single strongest whole draft.\n")
	order := deps.rng().Perm(len(candidates))
	labels := make([]string, len(candidates))
	for slot, origIdx := range order {
		label := string(rune('A' + slot))
		labels[origIdx] = label
		fmt.Fprintf(&b, "\n[%s]\n%s\n", label, candidates[origIdx].text)
	}
	b.WriteString("\nRespond with a single JSON object only: {\"winner\": \"<letter>\"}\n")

	raw, err := deps.Provider.Call(ctx, "You are a meticulous fiction editor judging prose candidates.", b.String(), llmclient.CallOptions{Model: deps.Model, MaxTokens: 50, Temperature: 0.0})
	if err != nil {
		return candidate{}, err
	}
	winnerLabel, err := parseWinnerLabel(raw)
	if err != nil {
		return candidates[0], nil
	}
	for origIdx, label := range labels {
		if label == winnerLabel {
			return candidates[origIdx], nil
		}
	}
	return candidates[0], nil
}

// smoothTransitions rewrites the junction sentence at each boundary between
// paragraphs authored by different agents (spec §4.G step 4).
func smoothTransitions(ctx context.Context, deps Deps, stitched string, origins []paragraphOrigin) (string, error) {
	if len(origins) < 2 {
		return stitched, nil
	}
	paragraphs := splitParagraphs(stitched)
	if len(paragraphs) != len(origins) {
		return stitched, nil
	}

	for i := 1; i < len(paragraphs); i++ {
		if origins[i].agentIdx == origins[i-1].agentIdx {
			continue
		}
		rewritten, err := rewriteJunction(ctx, deps, paragraphs[i-1], paragraphs[i])
		if err != nil {
			continue // smoothing is best-effort; a failed junction call keeps the raw seam
		}
		paragraphs[i] = rewritten
	}

	return strings.Join(paragraphs, "\n\n"), nil
}

func rewriteJunction(ctx context.Context, deps Deps, prevParagraph, nextParagraph string) (string, error) {
	prompt := fmt.Sprintf(
		"These two paragraphs come from different authors and the handoff is abrupt. Rewrite only the opening sentence of the SECOND paragraph so it reads as a natural continuation; return the full second paragraph with that one sentence changed, nothing else.\n\nFirst paragraph:\n%s\n\nSecond paragraph:\n%s\n",
		prevParagraph, nextParagraph,
	)
	raw, err := deps.Provider.Call(ctx, "You are a meticulous fiction editor smoothing a paragraph transition.", prompt, llmclient.CallOptions{Model: deps.Model, MaxTokens: len(nextParagraph)/3 + 100, Temperature: 0.4})
	if err != nil {
		return "", err
	}
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return nextParagraph, nil
	}
	return cleaned, nil
}

func parseWinnerLabel(raw string) (string, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.IndexByte(cleaned, '{')
	end := strings.LastIndexByte(cleaned, '}')
	if start < 0 || end < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in judge response")
	}
	obj := cleaned[start : end+1]

	idx := strings.Index(obj, "\"winner\"")
	if idx < 0 {
		return "", fmt.Errorf("judge response missing winner field")
	}
	rest := obj[idx+len("\"winner\""):]
	q1 := strings.IndexByte(rest, '"')
	if q1 < 0 {
		return "", fmt.Errorf("malformed winner field")
	}
	rest = rest[q1+1:]
	q2 := strings.IndexByte(rest, '"')
	if q2 < 0 {
		return "", fmt.Errorf("malformed winner field")
	}
	return rest[:q2], nil
}
