package fantasy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	core "charm.land/fantasy"
	provideropenai "charm.land/fantasy/providers/openai"

	"squadbot/pkg/config"
	"squadbot/pkg/intent/types"
)

type languageModelProvider interface {
	LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error)
}

// Client extracts intents through a fantasy agent over the OpenAI provider.
type Client struct {
	provider       languageModelProvider
	modelID        string
	instructions   string
	requestTimeout time.Duration
	generate       func(context.Context, core.LanguageModel, core.AgentCall) (*core.AgentResult, error)
}

func New(cfg *config.Config, labels []string) (*Client, error) {
	apiKey := resolveAPIKey(cfg.Providers.OpenAI)
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY must be set")
	}

	modelID, err := normalizeOpenAIModel(cfg.Intent.Model)
	if err != nil {
		return nil, err
	}

	providerOptions := []provideropenai.Option{provideropenai.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.Providers.OpenAI.BaseURL); baseURL != "" {
		providerOptions = append(providerOptions, provideropenai.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(cfg.Providers.OpenAI.Organization); organization != "" {
		providerOptions = append(providerOptions, provideropenai.WithOrganization(organization))
	}
	if project := strings.TrimSpace(cfg.Providers.OpenAI.Project); project != "" {
		providerOptions = append(providerOptions, provideropenai.WithProject(project))
	}

	fantasyProvider, err := provideropenai.New(providerOptions...)
	if err != nil {
		return nil, fmt.Errorf("initialize fantasy openai provider: %w", err)
	}

	return &Client{
		provider:       fantasyProvider,
		modelID:        modelID,
		instructions:   types.BuildInstructions(labels),
		requestTimeout: time.Duration(cfg.Providers.OpenAI.RequestTimeoutSeconds) * time.Second,
		generate:       generateWithFantasyAgent,
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.provider.LanguageModel(ctx, c.modelID); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	return nil
}

func (c *Client) Extract(ctx context.Context, text string) (types.Result, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	text = strings.TrimSpace(text)
	if text == "" {
		return types.Result{}, errors.New("text is required")
	}

	languageModel, err := c.provider.LanguageModel(ctx, c.modelID)
	if err != nil {
		return types.Result{}, fmt.Errorf("resolve language model: %w", err)
	}

	temperature := 0.0
	// The dispatcher owns the retry policy for extraction: none.
	maxRetries := 0
	call := core.AgentCall{
		Prompt: text,
		Messages: []core.Message{{
			Role:    core.MessageRoleSystem,
			Content: []core.MessagePart{core.TextPart{Text: c.instructions}},
		}},
		Temperature: &temperature,
		MaxRetries:  &maxRetries,
	}

	generate := c.generate
	if generate == nil {
		generate = generateWithFantasyAgent
	}

	startedAt := time.Now()
	result, err := generate(ctx, languageModel, call)
	if err != nil {
		return types.Result{}, fmt.Errorf("extract intent: %w", err)
	}

	reply := extractText(result.Response.Content)
	if reply == "" {
		return types.Result{}, errors.New("extraction succeeded but returned no text")
	}

	parsed, err := types.ParseResult(reply)
	if err != nil {
		return types.Result{}, err
	}

	slog.Default().With("component", "intent.fantasy").Debug("intent extracted",
		"model", c.modelID,
		"intent", parsed.Intent,
		"confidence", parsed.Confidence,
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)

	return parsed, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

func resolveAPIKey(cfg config.OpenAIProviderConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

func normalizeOpenAIModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("intent.model is required")
	}

	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return model, nil
	}

	providerID := strings.TrimSpace(parts[0])
	modelID := strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", errors.New("intent.model is invalid")
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not supported by fantasy openai provider", providerID)
	}

	return modelID, nil
}

func extractText(content core.ResponseContent) string {
	lines := make([]string, 0)
	for _, part := range content {
		if part.GetType() != core.ContentTypeText {
			continue
		}

		textPart, ok := core.AsContentType[core.TextContent](part)
		if !ok {
			continue
		}

		line := strings.TrimSpace(textPart.Text)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func generateWithFantasyAgent(ctx context.Context, model core.LanguageModel, call core.AgentCall) (*core.AgentResult, error) {
	return core.NewAgent(model).Generate(ctx, call)
}
