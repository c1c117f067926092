package routing

import (
	"errors"
	"fmt"
	"slices"

	"squadbot/pkg/config"
)

// Tables bundles both routing tables loaded from one configuration.
type Tables struct {
	Commands *CommandTable
	Intents  *IntentTable
}

// NewTables validates and builds both tables. Rule ids must be unique
// across the two tables.
func NewTables(cfg config.RoutingConfig) (*Tables, error) {
	commands, cmdErr := NewCommandTable(cfg.Commands)
	intents, intentErr := NewIntentTable(cfg.Intents)
	if err := errors.Join(cmdErr, intentErr); err != nil {
		return nil, fmt.Errorf("invalid routing tables: %w", err)
	}

	ids := make(map[string]struct{})
	for _, rule := range commands.rules {
		ids[rule.ID] = struct{}{}
	}
	for _, rule := range intents.rules {
		if _, dup := ids[rule.ID]; dup {
			return nil, fmt.Errorf("invalid routing tables: rule id %q used by both tables", rule.ID)
		}
	}

	return &Tables{Commands: commands, Intents: intents}, nil
}

// HandlerIDs returns every handler id referenced by either table, sorted.
func (t *Tables) HandlerIDs() []string {
	var ids []string
	for _, rule := range t.Commands.rules {
		ids = append(ids, rule.HandlerID)
	}
	for _, rule := range t.Intents.rules {
		ids = append(ids, rule.HandlerID)
	}

	slices.Sort(ids)
	return slices.Compact(ids)
}

// CheckHandlers reports every referenced handler id for which has is false.
func (t *Tables) CheckHandlers(has func(id string) bool) error {
	var errs []error
	for _, id := range t.HandlerIDs() {
		if !has(id) {
			errs = append(errs, fmt.Errorf("handler %q is referenced by routing rules but not registered", id))
		}
	}

	return errors.Join(errs...)
}
