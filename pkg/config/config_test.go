package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfig_FileSizeLimit(t *testing.T) {
	tmpDir := t.TempDir()

	// Create a large file (> 1MB)
	largeFile := filepath.Join(tmpDir, "large.yaml")
	data := strings.Repeat("x: value\n", 200000) // ~1.8MB
	err := os.WriteFile(largeFile, []byte(data), 0600)
	if err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	_, err = LoadConfig(largeFile)
	if err == nil {
		t.Error("expected error for large file")
	}
	if !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected 'too large' error, got: %v", err)
	}
}

func TestLoadConfig_ValidFile(t *testing.T) {
	tmpDir := t.TempDir()

	validConfig := `
default_model: gpt-4o
openai_key: test-key
max_tokens: 100
temperature: 0.5
quality_threshold: 92
`

	validFile := filepath.Join(tmpDir, "valid.yaml")
	err := os.WriteFile(validFile, []byte(validConfig), 0600)
	if err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	cfg, err := LoadConfig(validFile)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected config, got nil")
	}
	if cfg.DefaultModel != "gpt-4o" {
		t.Errorf("expected model 'gpt-4o', got %s", cfg.DefaultModel)
	}
	if cfg.QualityThreshold != 92 {
		t.Errorf("expected quality_threshold 92, got %d", cfg.QualityThreshold)
	}
}

func TestLoadConfig_NonexistentFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()

	invalidYAML := `
default_model: gpt-4o
invalid yaml here: [[[
`

	invalidFile := filepath.Join(tmpDir, "invalid.yaml")
	err := os.WriteFile(invalidFile, []byte(invalidYAML), 0600)
	if err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	_, err = LoadConfig(invalidFile)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "minimal.yaml")
	if err := os.WriteFile(file, []byte("default_model: gpt-4o\n"), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	cfg, err := LoadConfig(file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.QualityThreshold != 90 {
		t.Errorf("expected default quality_threshold 90, got %d", cfg.QualityThreshold)
	}
	if cfg.BulkChunkWords != 1000 {
		t.Errorf("expected default bulk_chunk_words 1000, got %d", cfg.BulkChunkWords)
	}
	if cfg.IterativeChunkWords != 100 {
		t.Errorf("expected default iterative_chunk_words 100, got %d", cfg.IterativeChunkWords)
	}
	if cfg.ErrorStore.Backend != "file" {
		t.Errorf("expected default error_store.backend 'file', got %s", cfg.ErrorStore.Backend)
	}
	if cfg.Orchestrator.AgentCount != 3 {
		t.Errorf("expected default orchestrator.agent_count 3, got %d", cfg.Orchestrator.AgentCount)
	}
}

func TestLoadConfig_EnvOverridesBlankKeys(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-openai-key")
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "noKey.yaml")
	if err := os.WriteFile(file, []byte("default_model: gpt-4o\n"), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	cfg, err := LoadConfig(file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OpenAIKey != "env-openai-key" {
		t.Errorf("expected env override to fill openai_key, got %q", cfg.OpenAIKey)
	}
}

func TestValidateRequiresDefaultModel(t *testing.T) {
	cfg := &Config{OpenAIKey: "k", ErrorStore: ErrorStoreConfig{Backend: "file"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when default_model is missing")
	}
}

func TestValidateRequiresAtLeastOneKey(t *testing.T) {
	cfg := &Config{DefaultModel: "gpt-4o", ErrorStore: ErrorStoreConfig{Backend: "file"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when no provider key is configured")
	}
}

func TestValidateRequiresRedisAddrForRedisBackend(t *testing.T) {
	cfg := &Config{DefaultModel: "gpt-4o", OpenAIKey: "k", ErrorStore: ErrorStoreConfig{Backend: "redis"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when redis backend is chosen without an address")
	}
}

func TestSaveConfigRoundTrips(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "out.yaml")
	cfg := &Config{DefaultModel: "gpt-4o", OpenAIKey: "k", QualityThreshold: 95}

	if err := SaveConfig(cfg, file); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	loaded, err := LoadConfig(file)
	if err != nil {
		t.Fatalf("LoadConfig after save: %v", err)
	}
	if loaded.DefaultModel != "gpt-4o" || loaded.QualityThreshold != 95 {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}
