package channel

import (
	"context"

	"squadbot/pkg/bus"
	"squadbot/pkg/envelope"
)

// Handler processes one inbound transport message and returns the reply envelope.
type Handler func(context.Context, bus.InboundMessage) envelope.Envelope

// Adapter bridges one external transport (for example Telegram) into the router.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}
