// Package scheduler is the engine's background cadence (spec §5): a
// periodic auto-save latch over the live editor, and the one-shot delay
// that chains a write-to-goal cascade into the next generation session.
//
// Grounded on smilemakc-mbflow's internal/application/trigger.CronScheduler
// (robfig/cron wrapped behind a small Start/Stop/AddTrigger surface,
// second-precision schedule, a FuncJob closing over the work to run).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/genesis-engine/ipgre/internal/chunker"
	"github.com/genesis-engine/ipgre/internal/ports"
)

// autoSaveSchedule fires every 30 seconds (spec §5).
const autoSaveSchedule = "@every 30s"

// PersistFunc commits editor content to durable storage.
type PersistFunc func(ctx context.Context, content string) error

// AutoSaver periodically commits the live editor's content, guarded by a
// nominal "save in progress" latch so an overrunning save can't overlap
// with the next tick (spec §5).
type AutoSaver struct {
	cron    *cron.Cron
	editor  ports.Editor
	persist PersistFunc

	mu      sync.Mutex
	saving  bool
	started bool
}

// NewAutoSaver builds an AutoSaver over the given editor. persist may be
// nil, in which case ticks still acquire and release the latch but do
// nothing with the content (useful for tests exercising the latch alone).
func NewAutoSaver(editor ports.Editor, persist PersistFunc) *AutoSaver {
	return &AutoSaver{
		cron:    cron.New(cron.WithSeconds()),
		editor:  editor,
		persist: persist,
	}
}

// Start begins the auto-save cadence. Calling Start twice is a no-op.
func (a *AutoSaver) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	if _, err := a.cron.AddFunc(autoSaveSchedule, func() { a.tick(ctx) }); err != nil {
		return err
	}
	a.cron.Start()
	a.started = true
	return nil
}

// Stop halts the auto-save cadence, waiting for any in-flight tick to
// finish.
func (a *AutoSaver) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	a.mu.Unlock()

	stopCtx := a.cron.Stop()
	<-stopCtx.Done()
}

// tick runs one auto-save pass if the latch isn't already held.
func (a *AutoSaver) tick(ctx context.Context) {
	if !a.acquire() {
		return
	}
	defer a.release()

	content, err := a.editor.GetContent(ctx)
	if err != nil || a.persist == nil {
		return
	}
	_ = a.persist(ctx, content)
}

func (a *AutoSaver) acquire() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.saving {
		return false
	}
	a.saving = true
	return true
}

func (a *AutoSaver) release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saving = false
}

// Saving reports whether a save is currently in flight, for tests and
// diagnostics.
func (a *AutoSaver) Saving() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saving
}

// NextSessionFunc starts the next chained generation session.
type NextSessionFunc func(ctx context.Context, wordTarget int, concludeStory bool) error

// cascadeDelayVar is the pause between a committed chunk's write-to-goal
// decision and the next chained session, giving the auto-save tick and any
// UI update a moment to land first. A var (not const) so tests can shorten
// it instead of waiting out the real delay.
var cascadeDelayVar = 2 * time.Second

// CascadeScheduler chains write-to-goal sessions (spec §4.E's "write to
// goal" cascade): when a chunk commits below the project goal, schedule
// the next session after a short delay; a ConcludeStory decision still
// schedules one final session, with concludeStory set so it wraps up.
type CascadeScheduler struct {
	next NextSessionFunc

	mu    sync.Mutex
	timer *time.Timer
}

// NewCascadeScheduler builds a CascadeScheduler invoking next for each
// scheduled session.
func NewCascadeScheduler(next NextSessionFunc) *CascadeScheduler {
	return &CascadeScheduler{next: next}
}

// Schedule applies a chunker.WriteToGoalDecision: a no-op if the decision
// didn't ask for another session, otherwise a delayed call to next. Any
// previously pending schedule is cancelled first — only the latest
// decision for a session should fire.
func (c *CascadeScheduler) Schedule(ctx context.Context, decision chunker.WriteToGoalDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if !decision.ScheduleNext {
		return
	}
	c.timer = time.AfterFunc(cascadeDelayVar, func() {
		_ = c.next(ctx, decision.NextWordTarget, decision.ConcludeStory)
	})
}

// Cancel stops any pending scheduled session.
func (c *CascadeScheduler) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
