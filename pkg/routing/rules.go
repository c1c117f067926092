package routing

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"squadbot/pkg/message"
)

// channelSet is the normalized set of channel types a rule applies to.
type channelSet []message.ChannelType

func parseChannels(raw []string) (channelSet, error) {
	if len(raw) == 0 {
		return channelSet(message.ChannelTypes()), nil
	}

	set := make(channelSet, 0, len(raw))
	for _, value := range raw {
		channel, err := message.ParseChannelType(value)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(set, channel) {
			set = append(set, channel)
		}
	}

	return set, nil
}

func (s channelSet) has(channel message.ChannelType) bool {
	return slices.Contains(s, channel)
}

func (s channelSet) overlaps(other channelSet) bool {
	for _, channel := range s {
		if other.has(channel) {
			return true
		}
	}

	return false
}

// keyedRule is what tie validation needs to know about any rule.
type keyedRule struct {
	id       string
	priority int
	key      string
	channels channelSet
}

// validateRules enforces unique ids and rejects equal-priority rules whose
// match keys overlap.
func validateRules(kind string, rules []keyedRule) error {
	var errs []error
	seen := make(map[string]struct{}, len(rules))

	for i, rule := range rules {
		if _, dup := seen[rule.id]; dup {
			errs = append(errs, fmt.Errorf("%s rule %q: duplicate id", kind, rule.id))
		}
		seen[rule.id] = struct{}{}

		for _, other := range rules[:i] {
			if other.priority != rule.priority || other.key != rule.key {
				continue
			}
			if rule.channels.overlaps(other.channels) {
				errs = append(errs, fmt.Errorf("%s rules %q and %q: equal priority %d with overlapping match on %q",
					kind, other.id, rule.id, rule.priority, rule.key))
			}
		}
	}

	return errors.Join(errs...)
}

// sortByPriority orders rules by descending priority, then id for stability.
func sortByPriority[T any](rules []T, priority func(T) int, id func(T) string) {
	slices.SortStableFunc(rules, func(a, b T) int {
		if pa, pb := priority(a), priority(b); pa != pb {
			return cmp.Compare(pb, pa)
		}
		return strings.Compare(id(a), id(b))
	})
}
