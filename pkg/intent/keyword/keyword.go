package keyword

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"squadbot/pkg/config"
	"squadbot/pkg/intent/types"
)

const defaultConfidence = 0.9

type rule struct {
	phrase     string
	intent     string
	confidence float64
}

// Client extracts intents by phrase matching. It makes no network calls.
type Client struct {
	rules []rule
}

func New(keywords []config.KeywordConfig) (*Client, error) {
	rules := make([]rule, 0, len(keywords))
	for i, keyword := range keywords {
		phrase := strings.ToLower(strings.Join(strings.Fields(keyword.Phrase), " "))
		label := strings.TrimSpace(keyword.Intent)
		if phrase == "" || label == "" {
			return nil, fmt.Errorf("intent.keywords[%d]: phrase and intent are required", i)
		}

		confidence := keyword.Confidence
		if confidence <= 0 {
			confidence = defaultConfidence
		}
		if confidence > 1 {
			return nil, fmt.Errorf("intent.keywords[%d]: confidence %v above 1", i, confidence)
		}

		rules = append(rules, rule{phrase: phrase, intent: label, confidence: confidence})
	}

	return &Client{rules: rules}, nil
}

func (c *Client) Health(ctx context.Context) error {
	if len(c.rules) == 0 {
		return errors.New("no keywords configured")
	}

	return ctx.Err()
}

// Extract picks the longest configured phrase contained in text. No match
// yields an empty intent.
func (c *Client) Extract(ctx context.Context, text string) (types.Result, error) {
	if err := ctx.Err(); err != nil {
		return types.Result{}, err
	}

	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))

	var best *rule
	for i := range c.rules {
		candidate := &c.rules[i]
		if !strings.Contains(normalized, candidate.phrase) {
			continue
		}
		if best == nil || len(candidate.phrase) > len(best.phrase) {
			best = candidate
		}
	}

	if best == nil {
		return types.Result{}, nil
	}

	return types.Result{
		Intent:     best.intent,
		Entities:   map[string]any{"phrase": best.phrase},
		Confidence: best.confidence,
	}, nil
}
