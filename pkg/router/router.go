package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"squadbot/pkg/admission"
	"squadbot/pkg/bus"
	"squadbot/pkg/dispatch"
	"squadbot/pkg/envelope"
	"squadbot/pkg/handler"
	"squadbot/pkg/logger"
	"squadbot/pkg/message"
	"squadbot/pkg/registration"
	"squadbot/pkg/routing"
)

// Identifier resolves a sender's registration status and tier. It must not
// fail; uncertainty resolves to the least-privileged identity.
type Identifier interface {
	Identify(ctx context.Context, tenantID string, senderID message.SenderID) registration.Identity
}

// Deps are the collaborators a Router is built from. Bus and Logger are optional.
type Deps struct {
	Admission  *admission.Controller
	Validator  *message.Validator
	Identifier Identifier
	Tables     *routing.Tables
	Dispatcher *dispatch.Dispatcher
	Handlers   *handler.Registry
	Bus        *bus.MessageBus
	Logger     *slog.Logger
}

// Router is the single entry point from transports into the request pipeline.
type Router struct {
	admission  *admission.Controller
	validator  *message.Validator
	identifier Identifier
	dispatcher *dispatch.Dispatcher
	handlers   *handler.Registry
	bus        *bus.MessageBus
	log        *slog.Logger
	tracer     trace.Tracer

	tables atomic.Pointer[routing.Tables]
}

func New(deps Deps) (*Router, error) {
	var missing []string
	if deps.Admission == nil {
		missing = append(missing, "admission")
	}
	if deps.Validator == nil {
		missing = append(missing, "validator")
	}
	if deps.Identifier == nil {
		missing = append(missing, "identifier")
	}
	if deps.Tables == nil {
		missing = append(missing, "tables")
	}
	if deps.Dispatcher == nil {
		missing = append(missing, "dispatcher")
	}
	if deps.Handlers == nil {
		missing = append(missing, "handlers")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("router: missing %s", strings.Join(missing, ", "))
	}

	if err := deps.Tables.CheckHandlers(deps.Handlers.Has); err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	r := &Router{
		admission:  deps.Admission,
		validator:  deps.Validator,
		identifier: deps.Identifier,
		dispatcher: deps.Dispatcher,
		handlers:   deps.Handlers,
		bus:        deps.Bus,
		log:        log.With("component", "router"),
		tracer:     otel.Tracer("squadbot/router"),
	}
	r.tables.Store(deps.Tables)

	return r, nil
}

// Tables returns the routing tables currently in effect.
func (r *Router) Tables() *routing.Tables {
	return r.tables.Load()
}

// ReloadTables swaps in new tables after checking their handler references.
// In-flight requests keep the tables they started with.
func (r *Router) ReloadTables(tables *routing.Tables) error {
	if tables == nil {
		return errors.New("router: nil tables")
	}
	if err := tables.CheckHandlers(r.handlers.Has); err != nil {
		return fmt.Errorf("router: %w", err)
	}

	r.tables.Store(tables)
	r.log.Info("routing tables reloaded",
		"commands", len(tables.Commands.Rules()),
		"intents", len(tables.Intents.Rules()),
	)
	return nil
}

// Handle runs one inbound message through admission, validation,
// registration, classification and dispatch. It always returns an envelope.
func (r *Router) Handle(ctx context.Context, raw bus.InboundMessage) envelope.Envelope {
	startedAt := time.Now()
	tenantID := strings.TrimSpace(raw.TenantID)

	ctx, span := r.tracer.Start(ctx, "router.handle", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("transport", raw.Channel),
		attribute.String("channel_type", raw.ChannelType),
	))
	defer span.End()

	ticket, err := r.admission.Admit(tenantID)
	if err != nil {
		env := envelope.Assemble(envelope.Envelope{}, err)
		span.SetStatus(codes.Error, string(env.ErrorCode))
		r.publish(ctx, bus.EventRequestRejected, raw, "", map[string]string{"error_code": string(env.ErrorCode)})
		r.log.Info("request rejected",
			"tenant_id", tenantID,
			"transport", raw.Channel,
			"error_code", env.ErrorCode,
		)
		return env
	}
	defer ticket.Release()

	requestID := uuid.NewString()
	span.SetAttributes(attribute.String("request_id", requestID))
	r.publish(ctx, bus.EventRequestAdmitted, raw, requestID, nil)

	env, decision := r.process(ctx, raw, requestID)

	elapsed := time.Since(startedAt)
	payload := map[string]string{
		"path":        string(decision.Path),
		"handler_id":  decision.HandlerID,
		"rule_id":     decision.RuleID,
		"duration_ms": strconv.FormatInt(elapsed.Milliseconds(), 10),
	}

	if env.Success {
		r.publish(ctx, bus.EventRequestCompleted, raw, requestID, payload)
	} else {
		span.SetStatus(codes.Error, string(env.ErrorCode))
		payload["error_code"] = string(env.ErrorCode)
		r.publish(ctx, bus.EventRequestFailed, raw, requestID, payload)
	}

	r.log.Info("request handled",
		"tenant_id", tenantID,
		"request_id", requestID,
		"path", decision.Path,
		"rule_id", decision.RuleID,
		"handler_id", decision.HandlerID,
		"success", env.Success,
		"error_code", env.ErrorCode,
		"duration_ms", elapsed.Milliseconds(),
	)

	return env
}

func (r *Router) process(ctx context.Context, raw bus.InboundMessage, requestID string) (envelope.Envelope, routing.Decision) {
	msg, err := r.validator.Validate(raw)
	if err != nil {
		r.log.Debug("request invalid", "request_id", requestID, "error", err)
		return envelope.Assemble(envelope.Envelope{}, err), routing.Decision{}
	}

	r.log.Debug("request accepted",
		"tenant_id", msg.TenantID,
		"request_id", requestID,
		"sender_id", msg.SenderID.String(),
		"channel", msg.Channel,
		"text_preview", logger.Preview(msg.Text),
	)

	identity := r.identify(ctx, msg)
	ec := message.NewExecutionContext(requestID, msg, identity.Status, identity.Tier)

	// Direct rules are always checked first; intent resolution only runs on no match.
	tables := r.tables.Load()
	decision := tables.Commands.Classify(msg.Text, msg.Channel)
	if decision.Path == routing.PathNeedsIntent {
		decision = r.dispatcher.ResolveIntent(ctx, tables.Intents, msg.Text, msg.Channel, ec.PermissionTier())
	}

	result, err := r.dispatcher.Dispatch(ctx, decision, ec)
	return envelope.Assemble(result, err), decision
}

func (r *Router) identify(ctx context.Context, msg message.InboundMessage) registration.Identity {
	ctx, span := r.tracer.Start(ctx, "registration.resolve")
	defer span.End()

	identity := r.identifier.Identify(ctx, msg.TenantID, msg.SenderID)
	span.SetAttributes(
		attribute.String("registration_status", string(identity.Status)),
		attribute.String("permission_tier", identity.Tier.String()),
	)
	return identity
}

func (r *Router) publish(ctx context.Context, eventType bus.EventType, raw bus.InboundMessage, requestID string, payload map[string]string) {
	if r.bus == nil {
		return
	}

	// Events outlive a canceled request context.
	r.bus.PublishEvent(context.WithoutCancel(ctx), bus.Event{
		Type:      eventType,
		Channel:   raw.Channel,
		TenantID:  strings.TrimSpace(raw.TenantID),
		ChatID:    raw.ChatID,
		RequestID: requestID,
		Payload:   payload,
	})
}
