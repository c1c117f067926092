package routing

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"squadbot/pkg/config"
	"squadbot/pkg/message"
)

// CommandPrefix marks the first token of text as a direct command.
const CommandPrefix = "/"

// CommandRule maps a command token on a set of channels to a handler.
type CommandRule struct {
	ID          string
	Priority    int
	Command     string
	Channels    []message.ChannelType
	HandlerID   string
	Description string
}

// CommandTable is the direct-command classifier. It is immutable after
// construction and safe for concurrent use.
type CommandTable struct {
	rules []CommandRule
}

// NewCommandTable validates rule configs and builds the classifier.
// Disabled rules are dropped before validation.
func NewCommandTable(configs []config.CommandRuleConfig) (*CommandTable, error) {
	var (
		rules []CommandRule
		keyed []keyedRule
		errs  []error
	)

	for i, cfg := range configs {
		if cfg.Disabled {
			continue
		}

		id := strings.TrimSpace(cfg.ID)
		if id == "" {
			errs = append(errs, fmt.Errorf("command rule #%d: id is required", i))
			continue
		}

		command := NormalizeCommand(cfg.Command)
		if len(command) <= len(CommandPrefix) || !strings.HasPrefix(command, CommandPrefix) {
			errs = append(errs, fmt.Errorf("command rule %q: command %q must start with %q", id, cfg.Command, CommandPrefix))
			continue
		}

		channels, err := parseChannels(cfg.Channels)
		if err != nil {
			errs = append(errs, fmt.Errorf("command rule %q: %w", id, err))
			continue
		}

		handlerID := strings.TrimSpace(cfg.Handler)
		if handlerID == "" {
			errs = append(errs, fmt.Errorf("command rule %q: handler is required", id))
			continue
		}

		rules = append(rules, CommandRule{
			ID:          id,
			Priority:    cfg.Priority,
			Command:     command,
			Channels:    channels,
			HandlerID:   handlerID,
			Description: strings.TrimSpace(cfg.Description),
		})
		keyed = append(keyed, keyedRule{id: id, priority: cfg.Priority, key: command, channels: channels})
	}

	errs = append(errs, validateRules("command", keyed))
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	sortByPriority(rules, func(r CommandRule) int { return r.Priority }, func(r CommandRule) string { return r.ID })
	return &CommandTable{rules: rules}, nil
}

// Classify returns a direct decision for the first matching rule, or a
// needs-intent decision when nothing matches. It performs no I/O.
func (t *CommandTable) Classify(text string, channel message.ChannelType) Decision {
	token, args := SplitCommand(text)
	if token == "" {
		return Decision{Path: PathNeedsIntent}
	}

	for _, rule := range t.rules {
		if rule.Command != token || !channelSet(rule.Channels).has(channel) {
			continue
		}

		return Decision{
			Path:      PathDirect,
			HandlerID: rule.HandlerID,
			RuleID:    rule.ID,
			Command:   token,
			Args:      args,
		}
	}

	return Decision{Path: PathNeedsIntent}
}

// Rules returns the enabled rules in evaluation order.
func (t *CommandTable) Rules() []CommandRule {
	out := make([]CommandRule, len(t.rules))
	copy(out, t.rules)
	return out
}

// RulesFor returns the enabled rules usable on channel, one per command.
func (t *CommandTable) RulesFor(channel message.ChannelType) []CommandRule {
	var out []CommandRule
	seen := make(map[string]struct{})
	for _, rule := range t.rules {
		if !channelSet(rule.Channels).has(channel) {
			continue
		}
		if _, ok := seen[rule.Command]; ok {
			continue
		}
		seen[rule.Command] = struct{}{}
		out = append(out, rule)
	}

	return out
}

// SplitCommand extracts the normalized command token and the remaining
// text. Token is empty when text does not start with CommandPrefix.
func SplitCommand(text string) (token string, args string) {
	trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)
	if !strings.HasPrefix(trimmed, CommandPrefix) {
		return "", ""
	}

	end := strings.IndexFunc(trimmed, unicode.IsSpace)
	if end < 0 {
		end = len(trimmed)
	}

	token = NormalizeCommand(trimmed[:end])
	if len(token) <= len(CommandPrefix) {
		return "", ""
	}

	return token, strings.TrimSpace(trimmed[end:])
}

// NormalizeCommand lower-cases a command token and strips a trailing
// "@botname" addressing suffix.
func NormalizeCommand(token string) string {
	token = strings.ToLower(strings.TrimSpace(token))
	if at := strings.IndexByte(token, '@'); at >= 0 {
		token = token[:at]
	}

	return token
}
