package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"squadbot/pkg/config"
)

func testConfig(baseURL string) *config.Config {
	cfg := &config.Config{}
	cfg.Intent.Model = "openai/gpt-5-mini"
	cfg.Providers.OpenAI.BaseURL = baseURL
	return cfg
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := New(testConfig(""), nil)
	if err == nil {
		t.Fatal("expected error when API key is missing")
	}
}

func TestNewUsesConfiguredAPIKeyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("TEST_OPENAI_API_KEY", "sk-test")

	cfg := testConfig("")
	cfg.Providers.OpenAI.APIKeyEnv = "TEST_OPENAI_API_KEY"

	client, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if client.model != "gpt-5-mini" {
		t.Fatalf("model = %q, want gpt-5-mini", client.model)
	}
}

func TestNormalizeModel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain model", input: "gpt-5-mini", want: "gpt-5-mini"},
		{name: "openai prefix", input: "openai/gpt-5-mini", want: "gpt-5-mini"},
		{name: "other provider", input: "anthropic/claude", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeModel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeModel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("normalizeModel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractParsesResponsesReply(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	var requestBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/responses") {
			http.NotFound(w, r)
			return
		}

		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &requestBody)

		reply := `{"intent":"add_member","entities":{"name":"Ana"},"confidence":0.82}`
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":         "resp_1",
			"object":     "response",
			"created_at": 1,
			"model":      "gpt-5-mini",
			"status":     "completed",
			"output": []any{map[string]any{
				"id":     "msg_1",
				"type":   "message",
				"role":   "assistant",
				"status": "completed",
				"content": []any{map[string]any{
					"type":        "output_text",
					"text":        reply,
					"annotations": []any{},
				}},
			}},
		})
	}))
	defer server.Close()

	client, err := New(testConfig(server.URL+"/v1/"), []string{"add_member"})
	require.NoError(t, err)

	result, err := client.Extract(context.Background(), "can someone add Ana to the roster")
	require.NoError(t, err)
	require.Equal(t, "add_member", result.Intent)
	require.InDelta(t, 0.82, result.Confidence, 1e-9)
	require.Equal(t, "Ana", result.Entities["name"])

	require.Equal(t, "gpt-5-mini", requestBody["model"])
	require.Equal(t, "can someone add Ana to the roster", requestBody["input"])
	require.Contains(t, requestBody["instructions"], "add_member")
}

func TestExtractSurfacesServerErrors(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := New(testConfig(server.URL+"/v1/"), nil)
	require.NoError(t, err)

	_, err = client.Extract(context.Background(), "hello")
	require.Error(t, err)
}
