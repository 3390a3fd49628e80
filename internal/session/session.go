// Package session is the Session/State component (spec §3, §4.E-H): the
// in-memory generation-session state — best-so-far text, score history, the
// consecutive-no-fix counter, and the session key used to dedupe Error
// Store writes — plus a checkpoint/restore pair generalized from the
// teacher's pkg/session chat-session checkpointing (same
// snapshot-now/truncate-on-restore shape, repurposed from message-history
// truncation to pre-generation-snapshot rollback for the Rewrite Action).
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/genesis-engine/ipgre/internal/review"
)

// IterationRecord is one entry in the session's iteration history, added
// through AppendIteration. The Micro-Fix Loop reports its own passes as
// microfix.IterationOutcome values in its Result; the Chunk Controller does
// not copy them here.
type IterationRecord struct {
	Iteration   int
	BeforeScore int
	AfterScore  int
	FixAccepted bool
	Reason      string
	Timestamp   time.Time
}

// Snapshot is a restorable copy of session state, used by the Rewrite
// Action to roll the editor back to the pre-generation state (spec §4.H)
// before streaming a rewrite, and to auto-revert when a rewrite regresses.
type Snapshot struct {
	ID              string
	CurrentText     string
	BestText        string
	BestScore       int
	PreviousFixes   []string
	AttemptedFixes  []string
	ConsecutiveNoFix int
	Timestamp       time.Time
}

// Session holds one generation session's mutable state. It is not safe for
// concurrent use from multiple goroutines except where noted — the spec's
// concurrency model (§5) runs the Chunk Controller and Micro-Fix Loop from a
// single goroutine, so the mutex here only guards against the Orchestrator's
// parallel agent calls touching shared fields, and against a concurrent
// Cancel() call from the host application's UI thread.
type Session struct {
	mu sync.Mutex

	sessionKey string

	currentText string
	bestText    string
	bestScore   int
	bestReview  *review.ScoreReview

	previousFixes    []string
	attemptedFixes   []string
	consecutiveNoFix int

	iterationHistory []IterationRecord
	chunkScores      []ChunkScoreEntry

	cancelled bool

	checkpoints map[string]Snapshot
}

// ChunkScoreEntry records one committed chunk's outcome (spec §4.E Commit state).
type ChunkScoreEntry struct {
	Score int
	Words int
	Review review.ScoreReview
}

// New creates a fresh session with a random session key (spec §3, glossary
// "Session key"), matching the teacher's uuid.New().String() idiom.
func New() *Session {
	return &Session{
		sessionKey:  uuid.New().String(),
		checkpoints: make(map[string]Snapshot),
	}
}

// SessionKey returns the unique identifier for this generation session.
func (s *Session) SessionKey() string {
	return s.sessionKey
}

// Init resets all per-generation state (spec §4.E Init state).
func (s *Session) Init() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentText = ""
	s.bestText = ""
	s.bestScore = 0
	s.bestReview = nil
	s.previousFixes = nil
	s.attemptedFixes = nil
	s.consecutiveNoFix = 0
	s.iterationHistory = nil
	s.chunkScores = nil
	s.cancelled = false
}

// BestText returns the best-so-far text (invariant 2: never replaced by a
// lower-scoring candidate).
func (s *Session) BestText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bestText
}

// BestScore returns the current best score (invariant 1: monotone
// non-decreasing within a chunk's loop).
func (s *Session) BestScore() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bestScore
}

// BestReview returns the review associated with the current best text.
func (s *Session) BestReview() *review.ScoreReview {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bestReview
}

// SetBest updates bestText/bestScore/bestReview together, enforcing
// invariant 1: the new score must be >= the current best.
func (s *Session) SetBest(text string, score int, rev review.ScoreReview) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if score < s.bestScore {
		return
	}
	s.bestText = text
	s.bestScore = score
	r := rev
	s.bestReview = &r
}

// RecordFix appends an accepted fix description to previousFixes.
func (s *Session) RecordFix(description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previousFixes = append(s.previousFixes, description)
	s.consecutiveNoFix = 0
}

// RecordAttempt appends a rejected/attempted fix description.
func (s *Session) RecordAttempt(description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attemptedFixes = append(s.attemptedFixes, description)
}

// IncrementNoFix bumps the consecutive-no-fix counter and returns the new value.
func (s *Session) IncrementNoFix() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveNoFix++
	return s.consecutiveNoFix
}

// ConsecutiveNoFix returns the current no-fix streak.
func (s *Session) ConsecutiveNoFix() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveNoFix
}

// PreviousFixes returns a copy of the accepted-fix descriptions.
func (s *Session) PreviousFixes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.previousFixes))
	copy(out, s.previousFixes)
	return out
}

// AttemptedFixes returns a copy of the attempted (including rejected) fix descriptions.
func (s *Session) AttemptedFixes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.attemptedFixes))
	copy(out, s.attemptedFixes)
	return out
}

// AppendIteration records one Micro-Fix Loop pass, whatever its outcome.
func (s *Session) AppendIteration(rec IterationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Timestamp = time.Now()
	s.iterationHistory = append(s.iterationHistory, rec)
}

// IterationHistory returns a copy of every recorded iteration this session.
func (s *Session) IterationHistory() []IterationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]IterationRecord, len(s.iterationHistory))
	copy(out, s.iterationHistory)
	return out
}

// AppendChunkScore records a committed chunk's score (spec §4.E Commit).
func (s *Session) AppendChunkScore(entry ChunkScoreEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkScores = append(s.chunkScores, entry)
}

// ChunkScores returns a copy of every committed chunk's score so far.
func (s *Session) ChunkScores() []ChunkScoreEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChunkScoreEntry, len(s.chunkScores))
	copy(out, s.chunkScores)
	return out
}

// Cancel marks the session cancelled. Every suspension point in the Chunk
// Controller and Micro-Fix Loop must observe this and unwind to best-so-far
// rather than throwing (spec §5).
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// Cancelled reports whether the session has been cancelled.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Checkpoint snapshots the current state and returns its ID, used by the
// Rewrite Action to capture the pre-generation state before streaming a
// rewrite (spec §4.H).
func (s *Session) Checkpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	s.checkpoints[id] = Snapshot{
		ID:               id,
		CurrentText:      s.currentText,
		BestText:         s.bestText,
		BestScore:        s.bestScore,
		PreviousFixes:    append([]string(nil), s.previousFixes...),
		AttemptedFixes:   append([]string(nil), s.attemptedFixes...),
		ConsecutiveNoFix: s.consecutiveNoFix,
		Timestamp:        time.Now(),
	}
	return id
}

// Restore reverts session state to a prior checkpoint, the "roll the editor
// back to the pre-generation snapshot" step in the Rewrite Action and the
// auto-revert safeguard when a rewrite regresses (spec §4.H).
func (s *Session) Restore(checkpointID string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.checkpoints[checkpointID]
	if !ok {
		return Snapshot{}, false
	}
	s.currentText = snap.CurrentText
	s.bestText = snap.BestText
	s.bestScore = snap.BestScore
	s.previousFixes = append([]string(nil), snap.PreviousFixes...)
	s.attemptedFixes = append([]string(nil), snap.AttemptedFixes...)
	s.consecutiveNoFix = snap.ConsecutiveNoFix
	return snap, true
}

// SetCurrentText updates the working text for the active chunk.
func (s *Session) SetCurrentText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentText = text
}

// CurrentText returns the working text for the active chunk.
func (s *Session) CurrentText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentText
}
