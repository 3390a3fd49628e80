package main

import (
	"context"
	"fmt"

	"github.com/genesis-engine/ipgre/internal/errorstore"
	"github.com/genesis-engine/ipgre/internal/llmclient"
	"github.com/genesis-engine/ipgre/internal/scorer"
	"github.com/genesis-engine/ipgre/pkg/config"
	"github.com/genesis-engine/ipgre/pkg/observability"
)

// engine bundles everything a command needs to drive a generation session,
// built once from config at process start.
type engine struct {
	cfg        *config.Config
	provider   llmclient.Provider
	scorer     *scorer.Scorer
	errorStore errorstore.Store
	editor     *bufferEditor
	settings   *memStore
}

func buildEngine(cfg *config.Config) (*engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildErrorStore(cfg)
	if err != nil {
		return nil, err
	}

	return &engine{
		cfg:        cfg,
		provider:   provider,
		scorer:     scorer.New(provider, cfg.DefaultModel),
		errorStore: store,
		editor:     newBufferEditor(""),
		settings:   newMemStore(),
	}, nil
}

func buildProvider(cfg *config.Config) (llmclient.Provider, error) {
	switch {
	case cfg.GeminiKey != "":
		return llmclient.NewGeminiProvider(context.Background(), cfg.GeminiKey, cfg.DefaultModel)
	case cfg.OpenAIKey != "":
		return llmclient.NewOpenAIProvider(cfg.OpenAIKey, "", cfg.DefaultModel), nil
	default:
		return nil, fmt.Errorf("no model credentials configured")
	}
}

func buildErrorStore(cfg *config.Config) (errorstore.Store, error) {
	switch cfg.ErrorStore.Backend {
	case "redis":
		return errorstore.NewRedisStore(errorstore.RedisConfig{Addr: cfg.ErrorStore.RedisAddr})
	default:
		return errorstore.NewFileStore(cfg.ErrorStore.Path)
	}
}

// registerHealthChecks wires the engine's backends into the process-wide
// health checker (spec §6 ambient concerns, not an engine operation).
func (e *engine) registerHealthChecks() {
	checker := observability.InitHealthChecker()
	checker.RegisterCheck(observability.PingCheck())
	checker.RegisterCheck(observability.ErrorStoreCheck(func(ctx context.Context) error {
		_, err := e.errorStore.Stats()
		return err
	}))
}
