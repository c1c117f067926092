package intent

import (
	"testing"

	"squadbot/pkg/config"
	intentfantasy "squadbot/pkg/intent/fantasy"
	"squadbot/pkg/intent/keyword"
	intentopenai "squadbot/pkg/intent/openai"
	"squadbot/pkg/intent/opencode"
)

func TestNewDefaultsToKeywordExtractor(t *testing.T) {
	cfg := &config.Config{}

	extractor, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok := extractor.(*keyword.Client); !ok {
		t.Fatalf("expected *keyword.Client, got %T", extractor)
	}
}

func TestNewReturnsErrorForUnsupportedProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.Intent.Provider = "unknown"

	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestNewReturnsOpenAIExtractor(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := &config.Config{}
	cfg.Intent.Provider = "openai"
	cfg.Intent.Model = "gpt-5-mini"

	extractor, err := New(cfg, []string{"schedule"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok := extractor.(*intentopenai.Client); !ok {
		t.Fatalf("expected *openai.Client, got %T", extractor)
	}
}

func TestNewReturnsFantasyExtractor(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := &config.Config{}
	cfg.Intent.Provider = "fantasy"
	cfg.Intent.Model = "openai/gpt-5-mini"

	extractor, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok := extractor.(*intentfantasy.Client); !ok {
		t.Fatalf("expected *fantasy.Client, got %T", extractor)
	}
}

func TestNewReturnsOpenCodeExtractor(t *testing.T) {
	cfg := &config.Config{}
	cfg.Intent.Provider = "OpenCode"
	cfg.Providers.OpenCode.BaseURL = "http://127.0.0.1:4096"

	extractor, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok := extractor.(*opencode.Client); !ok {
		t.Fatalf("expected *opencode.Client, got %T", extractor)
	}
}
