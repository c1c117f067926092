package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"squadbot/pkg/config"
	intentfantasy "squadbot/pkg/intent/fantasy"
	"squadbot/pkg/intent/keyword"
	intentopenai "squadbot/pkg/intent/openai"
	"squadbot/pkg/intent/opencode"
	"squadbot/pkg/intent/types"
)

// Extractor turns free-form text into a structured intent.
type Extractor interface {
	Extract(ctx context.Context, text string) (types.Result, error)
	Health(ctx context.Context) error
}

// New builds the configured extractor. labels are the intents the routing
// table can resolve; model-backed extractors are told to choose among them.
func New(cfg *config.Config, labels []string) (Extractor, error) {
	providerID := strings.ToLower(strings.TrimSpace(cfg.Intent.Provider))
	if providerID == "" {
		providerID = "keyword"
	}

	slog.Default().With("component", "intent.factory").Debug("Resolving intent extractor", "provider", providerID, "labels", len(labels))

	switch providerID {
	case "keyword":
		return keyword.New(cfg.Intent.Keywords)
	case "openai":
		return intentopenai.New(cfg, labels)
	case "fantasy":
		return intentfantasy.New(cfg, labels)
	case "opencode":
		return opencode.New(cfg, labels)
	default:
		return nil, fmt.Errorf("unsupported intent provider: %s", providerID)
	}
}
