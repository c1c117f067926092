package routing

import (
	"errors"
	"fmt"
	"strings"

	"squadbot/pkg/config"
	"squadbot/pkg/envelope"
	"squadbot/pkg/message"
)

// IntentRule maps an extracted intent on a set of channels to a handler,
// gated by a minimum permission tier.
type IntentRule struct {
	ID            string
	Priority      int
	Intent        string
	Channels      []message.ChannelType
	MinTier       message.PermissionTier
	MinConfidence float64
	HandlerID     string
}

// IntentTable resolves extracted intents to handlers. It is immutable after
// construction and safe for concurrent use.
type IntentTable struct {
	rules []IntentRule
}

func NewIntentTable(configs []config.IntentRuleConfig) (*IntentTable, error) {
	var (
		rules []IntentRule
		keyed []keyedRule
		errs  []error
	)

	for i, cfg := range configs {
		if cfg.Disabled {
			continue
		}

		id := strings.TrimSpace(cfg.ID)
		if id == "" {
			errs = append(errs, fmt.Errorf("intent rule #%d: id is required", i))
			continue
		}

		label := NormalizeIntent(cfg.Intent)
		if label == "" {
			errs = append(errs, fmt.Errorf("intent rule %q: intent is required", id))
			continue
		}

		channels, err := parseChannels(cfg.Channels)
		if err != nil {
			errs = append(errs, fmt.Errorf("intent rule %q: %w", id, err))
			continue
		}

		tier, err := message.ParsePermissionTier(cfg.MinTier)
		if err != nil {
			errs = append(errs, fmt.Errorf("intent rule %q: %w", id, err))
			continue
		}

		if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
			errs = append(errs, fmt.Errorf("intent rule %q: min_confidence %v outside [0,1]", id, cfg.MinConfidence))
			continue
		}

		handlerID := strings.TrimSpace(cfg.Handler)
		if handlerID == "" {
			errs = append(errs, fmt.Errorf("intent rule %q: handler is required", id))
			continue
		}

		rules = append(rules, IntentRule{
			ID:            id,
			Priority:      cfg.Priority,
			Intent:        label,
			Channels:      channels,
			MinTier:       tier,
			MinConfidence: cfg.MinConfidence,
			HandlerID:     handlerID,
		})
		keyed = append(keyed, keyedRule{id: id, priority: cfg.Priority, key: label, channels: channels})
	}

	errs = append(errs, validateRules("intent", keyed))
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	sortByPriority(rules, func(r IntentRule) int { return r.Priority }, func(r IntentRule) string { return r.ID })
	return &IntentTable{rules: rules}, nil
}

// Resolve maps an extracted intent to a handler decision.
//
// The first rule matching intent, channel and confidence floor decides the
// outcome: if tier is below the rule's minimum the result is a
// permission_denied rejection; no later rule is tried. No match at all is a
// classification_error rejection.
func (t *IntentTable) Resolve(intent string, confidence float64, channel message.ChannelType, tier message.PermissionTier) Decision {
	label := NormalizeIntent(intent)
	score := confidence

	decision := Decision{Path: PathNeedsIntent, Intent: label, Confidence: &score}
	if label == "" {
		decision.Rejection = envelope.CodeClassification
		return decision
	}

	for _, rule := range t.rules {
		if rule.Intent != label || !channelSet(rule.Channels).has(channel) {
			continue
		}
		if confidence < rule.MinConfidence {
			continue
		}

		decision.RuleID = rule.ID
		if !tier.Allows(rule.MinTier) {
			decision.Rejection = envelope.CodePermissionDenied
			return decision
		}

		decision.HandlerID = rule.HandlerID
		return decision
	}

	decision.Rejection = envelope.CodeClassification
	return decision
}

// Rules returns the enabled rules in evaluation order.
func (t *IntentTable) Rules() []IntentRule {
	out := make([]IntentRule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Labels returns the distinct intent labels the table can route.
func (t *IntentTable) Labels() []string {
	var labels []string
	seen := make(map[string]struct{})
	for _, rule := range t.rules {
		if _, ok := seen[rule.Intent]; ok {
			continue
		}
		seen[rule.Intent] = struct{}{}
		labels = append(labels, rule.Intent)
	}

	return labels
}

// NormalizeIntent canonicalizes an intent label.
func NormalizeIntent(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	return strings.Join(strings.FieldsFunc(label, func(r rune) bool {
		return r == ' ' || r == '-'
	}), "_")
}
