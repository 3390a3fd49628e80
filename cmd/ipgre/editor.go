package main

import (
	"context"
	"strings"
	"sync"
)

// bufferEditor is an in-memory ports.Editor backing the CLI demo driver. A
// host application would instead wire this interface to its own rich-text
// editor component (spec §6); nothing in the engine depends on storage.
type bufferEditor struct {
	mu      sync.Mutex
	content string
}

func newBufferEditor(seed string) *bufferEditor {
	return &bufferEditor{content: seed}
}

func (e *bufferEditor) GetContent(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.content, nil
}

func (e *bufferEditor) SetContent(ctx context.Context, html string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.content = html
	return nil
}

func (e *bufferEditor) AppendContent(ctx context.Context, html string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.content += html
	return nil
}

func (e *bufferEditor) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.content = ""
	return nil
}

func (e *bufferEditor) GetWordCount(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(strings.Fields(e.content)), nil
}

// memStore is an in-memory ports.Store backing the CLI demo driver.
type memStore struct {
	mu       sync.Mutex
	settings map[string]string
}

func newMemStore() *memStore {
	return &memStore{settings: make(map[string]string)}
}

func (s *memStore) GetSetting(ctx context.Context, key string, def string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.settings[key]; ok {
		return v, nil
	}
	return def, nil
}

func (s *memStore) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}
