// Package llmclient is the LLM Client component (spec §4.B). It wraps the
// two model backends wired for this engine — OpenAI-compatible chat
// completions and Gemini — behind a single Provider interface so the Scorer,
// Chunk Controller, and Multi-Agent Orchestrator never see vendor-specific
// request/response shapes.
package llmclient

import "context"

// Message is a single turn in a chat-style completion request.
type Message struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// CallOptions tunes a single completion call.
type CallOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// StreamCallbacks are invoked as a streaming generation progresses.
// OnChunk receives normalized text — em/en dashes already stripped and
// whitespace already collapsed, per spec §4.B — never raw provider deltas.
type StreamCallbacks struct {
	OnChunk func(text string)
	OnDone  func(full string, finishReason string)
	OnError func(err error)
}

// StreamHandle lets a caller cooperatively cancel an in-flight stream.
type StreamHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the underlying stream and blocks until the goroutine driving
// it has observed the cancellation and returned.
func (h *StreamHandle) Cancel() {
	h.cancel()
	<-h.done
}

// NewStreamHandle builds a StreamHandle from a cancel func and a done
// channel closed when the driving goroutine exits. It exists so fake
// Provider implementations in other packages' tests can return a working
// handle without reaching into this package's unexported fields.
func NewStreamHandle(cancel context.CancelFunc, done chan struct{}) *StreamHandle {
	return &StreamHandle{cancel: cancel, done: done}
}

// Provider is implemented by each model backend.
type Provider interface {
	// Name identifies the provider for logging and roster selection
	// ("openai", "gemini").
	Name() string

	// Call performs a single non-streaming completion.
	Call(ctx context.Context, systemPrompt, userPrompt string, opts CallOptions) (string, error)

	// Stream performs a streaming completion, invoking cb.OnChunk for every
	// normalized delta. It returns immediately with a handle; generation
	// runs on a background goroutine until it finishes, errors, or is
	// cancelled via the handle.
	Stream(ctx context.Context, systemPrompt, userPrompt string, opts CallOptions, cb StreamCallbacks) *StreamHandle
}
