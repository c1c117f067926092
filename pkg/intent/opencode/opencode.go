package opencode

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	sdk "github.com/sst/opencode-sdk-go"
	"github.com/sst/opencode-sdk-go/option"

	"squadbot/pkg/config"
	"squadbot/pkg/intent/types"
)

const sessionTitle = "squadbot intent"

// Client extracts intents through an OpenCode server. Every extraction runs
// in a fresh session so earlier messages never leak into a classification.
type Client struct {
	client         *sdk.Client
	model          string
	agent          string
	instructions   string
	requestTimeout time.Duration
}

type healthResponse struct {
	Healthy bool   `json:"healthy"`
	Version string `json:"version"`
}

func New(cfg *config.Config, labels []string) (*Client, error) {
	providerCfg := cfg.Providers.OpenCode
	baseURL := strings.TrimSpace(providerCfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("providers.opencode.base_url is required")
	}

	opts := []option.RequestOption{option.WithBaseURL(baseURL), option.WithMaxRetries(0)}
	if authHeader, ok := buildBasicAuthHeader(providerCfg); ok {
		opts = append(opts, option.WithHeader("Authorization", authHeader))
	}

	return &Client{
		client:         sdk.NewClient(opts...),
		model:          strings.TrimSpace(cfg.Intent.Model),
		agent:          strings.TrimSpace(providerCfg.Agent),
		instructions:   types.BuildInstructions(labels),
		requestTimeout: time.Duration(providerCfg.RequestTimeoutSeconds) * time.Second,
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "health")
	startedAt := time.Now()
	log.Debug("provider request started")

	var response healthResponse
	if err := c.client.Get(ctx, "/global/health", nil, &response); err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return fmt.Errorf("health check failed: %w", err)
	}
	if !response.Healthy {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "server unhealthy")
		return errors.New("opencode server reported unhealthy status")
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "version", response.Version)

	return nil
}

func (c *Client) Extract(ctx context.Context, text string) (types.Result, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "extract")
	startedAt := time.Now()

	text = strings.TrimSpace(text)
	if text == "" {
		return types.Result{}, errors.New("text is required")
	}
	log.Debug("provider request started", "model", c.model, "agent", c.agent, "text_length", len(text))

	session, err := c.client.Session.New(ctx, sdk.SessionNewParams{Title: sdk.F(sessionTitle)})
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return types.Result{}, fmt.Errorf("create session: %w", err)
	}
	if session.ID == "" {
		return types.Result{}, errors.New("create session returned empty session id")
	}

	params := sdk.SessionPromptParams{
		Parts: sdk.F([]sdk.SessionPromptParamsPartUnion{
			sdk.TextPartInputParam{
				Type: sdk.F(sdk.TextPartInputTypeText),
				Text: sdk.F(buildPrompt(c.instructions, text)),
			},
		}),
	}
	if c.agent != "" {
		params.Agent = sdk.F(c.agent)
	}
	if providerID, modelID, ok := parseModelRef(c.model); ok {
		params.Model = sdk.F(sdk.SessionPromptParamsModel{
			ProviderID: sdk.F(providerID),
			ModelID:    sdk.F(modelID),
		})
	}

	response, err := c.client.Session.Prompt(ctx, session.ID, params)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "session_id", session.ID, "error", err)
		return types.Result{}, fmt.Errorf("extract intent: %w", err)
	}

	reply := extractText(response.Parts)
	if reply == "" {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "no text parts")
		return types.Result{}, errors.New("extraction succeeded but returned no text parts")
	}

	result, err := types.ParseResult(reply)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return types.Result{}, err
	}
	log.Debug("provider request completed",
		"duration_ms", time.Since(startedAt).Milliseconds(),
		"session_id", session.ID,
		"intent", result.Intent,
		"confidence", result.Confidence,
	)

	return result, nil
}

func providerLogger() *slog.Logger {
	return slog.Default().With("component", "intent.opencode")
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

func buildPrompt(instructions string, text string) string {
	return instructions + "\n\nMessage:\n" + text
}

func buildBasicAuthHeader(cfg config.OpenCodeProviderConfig) (string, bool) {
	passwordEnv := strings.TrimSpace(cfg.PasswordEnv)
	if passwordEnv == "" {
		return "", false
	}

	password := strings.TrimSpace(os.Getenv(passwordEnv))
	if password == "" {
		return "", false
	}

	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		username = "opencode"
	}

	token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return "Basic " + token, true
}

func parseModelRef(input string) (providerID string, modelID string, ok bool) {
	providerID, modelID, found := strings.Cut(strings.TrimSpace(input), "/")
	if !found {
		return "", "", false
	}

	providerID = strings.TrimSpace(providerID)
	modelID = strings.TrimSpace(modelID)
	if providerID == "" || modelID == "" {
		return "", "", false
	}

	return providerID, modelID, true
}

func extractText(parts []sdk.Part) string {
	var lines []string
	for _, part := range parts {
		if part.Type != sdk.PartTypeText {
			continue
		}
		if text := strings.TrimSpace(part.Text); text != "" {
			lines = append(lines, text)
		}
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
