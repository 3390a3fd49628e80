package chunker

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/genesis-engine/ipgre/internal/errorstore"
	"github.com/genesis-engine/ipgre/internal/llmclient"
	"github.com/genesis-engine/ipgre/internal/review"
	"github.com/genesis-engine/ipgre/internal/scorer"
	"github.com/genesis-engine/ipgre/internal/session"
)

// memEditor is a minimal in-memory ports.Editor fake.
type memEditor struct {
	mu      sync.Mutex
	content string
}

func (e *memEditor) GetContent(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.content, nil
}
func (e *memEditor) SetContent(ctx context.Context, html string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.content = html
	return nil
}
func (e *memEditor) AppendContent(ctx context.Context, html string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.content += html
	return nil
}
func (e *memEditor) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.content = ""
	return nil
}
func (e *memEditor) GetWordCount(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return wordCount(e.content), nil
}

// scriptedProvider returns queued Call responses in order and streams a
// fixed draft for every Stream call.
type scriptedProvider struct {
	callResponses []string
	callIdx       int
	draft         string
	streamDelay   time.Duration
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Call(ctx context.Context, systemPrompt, userPrompt string, opts llmclient.CallOptions) (string, error) {
	i := p.callIdx
	if i >= len(p.callResponses) {
		i = len(p.callResponses) - 1
	}
	p.callIdx++
	return p.callResponses[i], nil
}

func (p *scriptedProvider) Stream(ctx context.Context, systemPrompt, userPrompt string, opts llmclient.CallOptions, cb llmclient.StreamCallbacks) *llmclient.StreamHandle {
	streamCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-time.After(p.streamDelay):
		case <-streamCtx.Done():
			return
		}
		cb.OnChunk(p.draft)
		cb.OnDone(p.draft, "stop")
	}()
	return llmclient.NewStreamHandle(cancel, done)
}

func TestRunSessionThresholdMetImmediately(t *testing.T) {
	const ledgerJSON = `{"povType": "third-limited", "tense": "past", "coreIntent": "quiet resolve"}`
	const scoreJSON = `{"score": 95, "beforeScore": 95, "afterScore": 0, "subscores": {}}`

	provider := &scriptedProvider{
		callResponses: []string{ledgerJSON, scoreJSON},
		draft:         "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty",
	}
	tempDir := t.TempDir()
	store, err := errorstore.NewFileStore(tempDir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	editor := &memEditor{}

	deps := Deps{
		Provider:   provider,
		Scorer:     scorer.New(provider, "test-model"),
		ErrorStore: store,
		Editor:     editor,
		Session:    session.New(),
	}
	req := review.Request{
		ChapterTitle:     "Ashes",
		WordTarget:       20,
		QualityThreshold: 90,
	}

	result, err := RunSession(context.Background(), deps, req, ModeIterative)
	if err != nil {
		t.Fatalf("RunSession: %v", err)
	}
	if result.Finalize.DisplayedScore < 90 {
		t.Fatalf("expected displayed score >= threshold, got %d", result.Finalize.DisplayedScore)
	}
	if !result.Finalize.RescoreSkipped {
		t.Fatal("expected Finalize to skip rescoring when weightedAvg already meets threshold")
	}
	if editor.content == "" {
		t.Fatal("expected committed text to be written to the editor")
	}
}

func TestDecideWriteToGoalSchedulesNextSession(t *testing.T) {
	req := review.Request{ProjectGoal: 10000}
	decision := decideWriteToGoal(req, 5000)
	if !decision.ScheduleNext {
		t.Fatal("expected a session well below goal to schedule another")
	}
	if decision.NextWordTarget != 2000 {
		t.Fatalf("expected capped word target of 2000, got %d", decision.NextWordTarget)
	}
	if decision.ConcludeStory {
		t.Fatal("did not expect concludeStory on a non-final scheduled chunk")
	}
}

func TestDecideWriteToGoalConcludesOnLastChunk(t *testing.T) {
	req := review.Request{ProjectGoal: 10000}
	decision := decideWriteToGoal(req, 9000)
	if !decision.ScheduleNext {
		t.Fatal("expected a session below the overshoot tolerance to schedule another")
	}
	if !decision.ConcludeStory {
		t.Fatal("expected concludeStory true when remaining words fit in one more chunk")
	}
}

func TestDecideWriteToGoalSkipsWhenWithinOvershoot(t *testing.T) {
	req := review.Request{ProjectGoal: 10000}
	decision := decideWriteToGoal(req, 9800)
	if decision.ScheduleNext {
		t.Fatal("expected no further session when within the overshoot tolerance")
	}
}

func TestGenerateChunkObservesCancellation(t *testing.T) {
	provider := &scriptedProvider{draft: "this draft never arrives", streamDelay: time.Second}
	deps := Deps{
		Provider: provider,
		Session:  session.New(),
	}
	cancelPollInterval = 10 * time.Millisecond
	defer func() { cancelPollInterval = 200 * time.Millisecond }()

	go func() {
		time.Sleep(30 * time.Millisecond)
		deps.Session.Cancel()
	}()

	_, err := generateChunk(context.Background(), deps, review.Request{}, "", 100)
	if err == nil {
		t.Fatal("expected cancellation to surface as an error")
	}
}

func TestRunSessionSeedsEditorFromExistingContent(t *testing.T) {
	const ledgerJSON = `{"povType": "third-limited", "tense": "past", "coreIntent": "quiet resolve"}`
	const scoreJSON = `{"score": 95, "beforeScore": 95, "afterScore": 0, "subscores": {}}`

	provider := &scriptedProvider{
		callResponses: []string{ledgerJSON, scoreJSON},
		draft:         "one two three four five six seven eight nine ten",
	}
	editor := &memEditor{}

	deps := Deps{
		Provider: provider,
		Scorer:   scorer.New(provider, "test-model"),
		Editor:   editor,
		Session:  session.New(),
	}
	req := review.Request{
		ChapterTitle:     "Ashes",
		ExistingContent:  "Once upon a time, ",
		WordTarget:       10,
		QualityThreshold: 0,
	}

	result, err := RunSession(context.Background(), deps, req, ModeIterative)
	if err != nil {
		t.Fatalf("RunSession: %v", err)
	}

	if !strings.HasPrefix(editor.content, req.ExistingContent) {
		t.Fatalf("expected editor content to be seeded with ExistingContent, got %q", editor.content)
	}
	if !strings.HasPrefix(result.Finalize.FullText, req.ExistingContent) {
		t.Fatalf("expected FullText to carry ExistingContent forward, got %q", result.Finalize.FullText)
	}
}

func TestRunSessionWriteToGoalUsesCumulativeWordCount(t *testing.T) {
	const ledgerJSON = `{"povType": "third-limited", "tense": "past", "coreIntent": "quiet resolve"}`
	const scoreJSON = `{"score": 95, "beforeScore": 95, "afterScore": 0, "subscores": {}}`

	// A chapter that already has 9000 words in the editor; this session
	// generates another 1800 (session-local total, 1800 < goalOvershoot
	// threshold of 9700) but the chapter's cumulative total (10800) already
	// clears it — the cascade must look at the cumulative total, not just
	// what this call generated (spec §8 scenario 8).
	existing := strings.Repeat("w ", 9000)
	draft := strings.Repeat("w ", 600)

	provider := &scriptedProvider{
		callResponses: []string{ledgerJSON, scoreJSON, scoreJSON, scoreJSON},
		draft:         draft,
	}
	editor := &memEditor{content: existing}

	deps := Deps{
		Provider: provider,
		Scorer:   scorer.New(provider, "test-model"),
		Editor:   editor,
		Session:  session.New(),
	}
	req := review.Request{
		ChapterTitle:     "Ashes",
		WordTarget:       2000,
		QualityThreshold: 0,
		ProjectGoal:      10000,
	}

	result, err := RunSession(context.Background(), deps, req, ModeBulk)
	if err != nil {
		t.Fatalf("RunSession: %v", err)
	}

	if result.Cascade.ScheduleNext {
		t.Fatalf("expected cumulative total (%d words) past the overshoot threshold to stop the cascade, got %+v",
			wordCount(editor.content), result.Cascade)
	}
}
