package handler

import (
	"context"
	"fmt"
	"strings"

	"squadbot/pkg/envelope"
	"squadbot/pkg/routing"
)

const (
	PingID   = "ping-handler"
	HelpID   = "help-handler"
	WhoamiID = "whoami-handler"
)

// RegisterBuiltins adds the ping, help and whoami handlers. commands returns
// the active command table so help reflects reloads.
func RegisterBuiltins(reg *Registry, commands func() *routing.CommandTable) error {
	for id, h := range map[string]Handler{
		PingID:   HandlerFunc(ping),
		HelpID:   help(commands),
		WhoamiID: HandlerFunc(whoami),
	} {
		if err := reg.Register(id, h); err != nil {
			return err
		}
	}

	return nil
}

func ping(context.Context, Request) (envelope.Envelope, error) {
	return envelope.OK("pong", nil), nil
}

func help(commands func() *routing.CommandTable) HandlerFunc {
	return func(_ context.Context, req Request) (envelope.Envelope, error) {
		table := commands()
		if table == nil || req.Context == nil {
			return envelope.OK("No commands are available here.", nil), nil
		}

		rules := table.RulesFor(req.Context.Channel())
		if len(rules) == 0 {
			return envelope.OK("No commands are available here.", nil), nil
		}

		var b strings.Builder
		b.WriteString("Commands you can use here:")
		listed := make([]string, 0, len(rules))
		for _, rule := range rules {
			b.WriteString("\n")
			b.WriteString(rule.Command)
			if rule.Description != "" {
				b.WriteString(" - ")
				b.WriteString(rule.Description)
			}
			listed = append(listed, rule.Command)
		}

		return envelope.OK(b.String(), map[string]any{"commands": listed}), nil
	}
}

func whoami(_ context.Context, req Request) (envelope.Envelope, error) {
	ec := req.Context
	if ec == nil {
		return envelope.Envelope{}, fmt.Errorf("whoami: missing execution context")
	}

	status := strings.ReplaceAll(string(ec.RegistrationStatus()), "_", " ")
	text := fmt.Sprintf("You are %s in %s with %s access.", status, ec.TenantID(), ec.PermissionTier())

	return envelope.OK(text, map[string]any{
		"tenant_id":           ec.TenantID(),
		"sender_id":           ec.SenderID().String(),
		"registration_status": string(ec.RegistrationStatus()),
		"permission_tier":     ec.PermissionTier().String(),
	}), nil
}
