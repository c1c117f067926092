package opencode

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	sdk "github.com/sst/opencode-sdk-go"
	"github.com/stretchr/testify/require"

	"squadbot/pkg/config"
)

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(&config.Config{}, nil)
	if err == nil {
		t.Fatal("expected error when base_url is missing")
	}
}

func TestNewCarriesModelAgentAndLabels(t *testing.T) {
	cfg := &config.Config{}
	cfg.Intent.Model = "openai/gpt-5-mini"
	cfg.Providers.OpenCode.BaseURL = "http://127.0.0.1:4096"
	cfg.Providers.OpenCode.Agent = " classifier "

	client, err := New(cfg, []string{"add_member", "schedule_match"})
	require.NoError(t, err)
	require.Equal(t, "openai/gpt-5-mini", client.model)
	require.Equal(t, "classifier", client.agent)
	require.Contains(t, client.instructions, "add_member, schedule_match")
}

func TestParseModelRef(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantOK     bool
		wantProvID string
		wantModel  string
	}{
		{name: "valid", input: "openai/gpt-5.2", wantOK: true, wantProvID: "openai", wantModel: "gpt-5.2"},
		{name: "missing slash", input: "gpt-5.2", wantOK: false},
		{name: "empty provider", input: "/gpt-5.2", wantOK: false},
		{name: "empty model", input: "openai/", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provID, modelID, ok := parseModelRef(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if provID != tt.wantProvID {
				t.Fatalf("providerID = %q, want %q", provID, tt.wantProvID)
			}
			if modelID != tt.wantModel {
				t.Fatalf("modelID = %q, want %q", modelID, tt.wantModel)
			}
		})
	}
}

func TestExtractText(t *testing.T) {
	parts := []sdk.Part{
		{Type: sdk.PartTypeReasoning, Text: "should be ignored"},
		{Type: sdk.PartTypeText, Text: "  {\"intent\":  "},
		{Type: sdk.PartTypeText, Text: ""},
		{Type: sdk.PartTypeText, Text: "\"add_member\"}"},
	}

	got := extractText(parts)
	if got != "{\"intent\":\n\"add_member\"}" {
		t.Fatalf("extractText() = %q", got)
	}
}

func TestBuildPromptAppendsMessage(t *testing.T) {
	prompt := buildPrompt("classify this", "add player Sam")
	require.True(t, strings.HasPrefix(prompt, "classify this"))
	require.True(t, strings.HasSuffix(prompt, "Message:\nadd player Sam"))
}

func TestBuildBasicAuthHeader(t *testing.T) {
	t.Setenv("TEST_OPENCODE_PASSWORD", "secret")

	header, ok := buildBasicAuthHeader(config.OpenCodeProviderConfig{
		PasswordEnv: "TEST_OPENCODE_PASSWORD",
	})
	if !ok {
		t.Fatal("expected basic auth header")
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
	require.NoError(t, err)
	require.Equal(t, "opencode:secret", string(decoded))
}

func TestBuildBasicAuthHeaderMissingEnvValue(t *testing.T) {
	t.Setenv("TEST_OPENCODE_PASSWORD", "")

	_, ok := buildBasicAuthHeader(config.OpenCodeProviderConfig{PasswordEnv: "TEST_OPENCODE_PASSWORD"})
	if ok {
		t.Fatal("expected no header when env value is empty")
	}
}

func newServerConfig(baseURL string) *config.Config {
	cfg := &config.Config{}
	cfg.Providers.OpenCode.BaseURL = baseURL
	return cfg
}

func TestExtractDoesNotRetryThrottledServer(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer server.Close()

	client, err := New(newServerConfig(server.URL), nil)
	require.NoError(t, err)

	_, err = client.Extract(context.Background(), "add me to the roster")
	require.Error(t, err)
	require.Equal(t, int32(1), hits.Load())
}

func TestHealthReadsServerStatus(t *testing.T) {
	var path atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"healthy":true,"version":"0.19.2"}`))
	}))
	defer server.Close()

	client, err := New(newServerConfig(server.URL), nil)
	require.NoError(t, err)

	require.NoError(t, client.Health(context.Background()))
	require.Equal(t, "/global/health", path.Load())
}
