package llmclient

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeProvider exercises the Provider contract (cancellable streaming,
// normalized chunks) without touching a real backend, the same role
// NewSimulatedStream played in the teacher's provider tests.
type fakeProvider struct {
	chunks []string
	delay  time.Duration
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Call(ctx context.Context, systemPrompt, userPrompt string, opts CallOptions) (string, error) {
	full := ""
	for _, c := range f.chunks {
		full += normalizeDelta(c)
	}
	return full, nil
}

func (f *fakeProvider) Stream(ctx context.Context, systemPrompt, userPrompt string, opts CallOptions, cb StreamCallbacks) *StreamHandle {
	streamCtx, cancel := context.WithCancel(ctx)
	handle := &StreamHandle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(handle.done)
		var full string
		for _, c := range f.chunks {
			select {
			case <-streamCtx.Done():
				if cb.OnError != nil {
					cb.OnError(streamCtx.Err())
				}
				return
			case <-time.After(f.delay):
			}
			delta := normalizeDelta(c)
			full += delta
			if cb.OnChunk != nil {
				cb.OnChunk(delta)
			}
		}
		if cb.OnDone != nil {
			cb.OnDone(full, "stop")
		}
	}()

	return handle
}

func TestStreamHandleDeliversAllChunks(t *testing.T) {
	p := &fakeProvider{chunks: []string{"Hello", ", world"}}

	var mu sync.Mutex
	var got string
	doneCh := make(chan struct{})

	p.Stream(context.Background(), "", "", CallOptions{}, StreamCallbacks{
		OnChunk: func(text string) {
			mu.Lock()
			got += text
			mu.Unlock()
		},
		OnDone: func(full, reason string) {
			close(doneCh)
		},
	})

	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("stream did not complete in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if got != "Hello, world" {
		t.Errorf("got %q, want %q", got, "Hello, world")
	}
}

func TestStreamHandleCancelStopsDelivery(t *testing.T) {
	p := &fakeProvider{chunks: []string{"a", "b", "c", "d"}, delay: 50 * time.Millisecond}

	var mu sync.Mutex
	received := 0
	var cancelErr error

	h := p.Stream(context.Background(), "", "", CallOptions{}, StreamCallbacks{
		OnChunk: func(text string) {
			mu.Lock()
			received++
			mu.Unlock()
		},
		OnError: func(err error) {
			mu.Lock()
			cancelErr = err
			mu.Unlock()
		},
	})

	time.Sleep(70 * time.Millisecond)
	h.Cancel()

	mu.Lock()
	defer mu.Unlock()
	if received >= len(p.chunks) {
		t.Errorf("expected cancellation before all chunks delivered, got %d/%d", received, len(p.chunks))
	}
	if cancelErr == nil {
		t.Errorf("expected OnError to be called on cancellation")
	}
}
