package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"squadbot/pkg/envelope"
	"squadbot/pkg/handler"
	"squadbot/pkg/intent"
	"squadbot/pkg/intent/types"
	"squadbot/pkg/message"
	"squadbot/pkg/routing"
)

const (
	DefaultIntentTimeout  = 15 * time.Second
	DefaultHandlerTimeout = 20 * time.Second
)

// Options bounds the two suspending calls the dispatcher makes.
type Options struct {
	IntentTimeout   time.Duration
	HandlerTimeout  time.Duration
	HandlerTimeouts map[string]time.Duration
}

// Dispatcher resolves intents and invokes specialist handlers.
type Dispatcher struct {
	extractor intent.Extractor
	handlers  *handler.Registry
	opts      Options
	log       *slog.Logger
	tracer    trace.Tracer
}

func New(extractor intent.Extractor, handlers *handler.Registry, opts Options, log *slog.Logger) *Dispatcher {
	if opts.IntentTimeout <= 0 {
		opts.IntentTimeout = DefaultIntentTimeout
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = DefaultHandlerTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	if handlers == nil {
		handlers = handler.NewRegistry()
	}

	return &Dispatcher{
		extractor: extractor,
		handlers:  handlers,
		opts:      opts,
		log:       log.With("component", "dispatch"),
		tracer:    otel.Tracer("squadbot/dispatch"),
	}
}

// ResolveIntent extracts an intent from text and resolves it through table.
//
// Extraction is attempted once under its own timeout. A timeout or failure
// yields a handler_unavailable rejection; the table never guesses.
func (d *Dispatcher) ResolveIntent(ctx context.Context, table *routing.IntentTable, text string, channel message.ChannelType, tier message.PermissionTier) routing.Decision {
	ctx, span := d.tracer.Start(ctx, "intent.extract")
	defer span.End()

	if d.extractor == nil || table == nil {
		span.SetStatus(codes.Error, "no extractor")
		return routing.Reject(envelope.CodeHandlerUnavailable)
	}

	result, err := d.extract(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		d.log.Warn("intent extraction failed",
			"channel", channel,
			"timeout", d.opts.IntentTimeout,
			"error", err,
		)
		return routing.Reject(envelope.CodeHandlerUnavailable)
	}

	decision := table.Resolve(result.Intent, result.Confidence, channel, tier)
	decision.Entities = result.Entities

	span.SetAttributes(
		attribute.String("intent", decision.Intent),
		attribute.Float64("confidence", result.Confidence),
		attribute.String("rule_id", decision.RuleID),
		attribute.String("handler_id", decision.HandlerID),
	)
	d.log.Debug("intent resolved",
		"intent", decision.Intent,
		"confidence", result.Confidence,
		"rule_id", decision.RuleID,
		"handler_id", decision.HandlerID,
		"rejection", decision.Rejection,
	)

	return decision
}

func (d *Dispatcher) extract(ctx context.Context, text string) (types.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.IntentTimeout)
	defer cancel()

	type outcome struct {
		result types.Result
		err    error
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("extractor panic: %v", r)}
			}
		}()

		result, err := d.extractor.Extract(ctx, text)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return types.Result{}, ctx.Err()
	case out := <-done:
		return out.result, out.err
	}
}

// Dispatch invokes the handler named by decision and waits at most the
// handler's timeout. The handler may keep running after the wait ends.
func (d *Dispatcher) Dispatch(ctx context.Context, decision routing.Decision, ec *message.ExecutionContext) (envelope.Envelope, error) {
	if err := decision.Err(); err != nil {
		return envelope.Envelope{}, err
	}

	h, ok := d.handlers.Lookup(decision.HandlerID)
	if !ok {
		return envelope.Envelope{}, envelope.NewError(envelope.CodeHandlerUnavailable, "handler "+decision.HandlerID+" is not registered")
	}

	timeout := d.handlerTimeout(decision.HandlerID)
	ctx, span := d.tracer.Start(ctx, "handler.invoke", trace.WithAttributes(
		attribute.String("handler_id", decision.HandlerID),
		attribute.String("path", string(decision.Path)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		env envelope.Envelope
		err error
	}

	startedAt := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: envelope.NewError(envelope.CodeInternalDispatch, fmt.Sprintf("handler %s panicked: %v", decision.HandlerID, r))}
			}
		}()

		env, err := h.Invoke(ctx, handler.Request{Context: ec, Decision: decision})
		done <- outcome{env: env, err: err}
	}()

	var out outcome
	select {
	case <-ctx.Done():
		out.err = envelope.Wrap(envelope.CodeHandlerUnavailable, ctx.Err(), "handler "+decision.HandlerID+" did not answer")
	case out = <-done:
		out.err = categorize(decision.HandlerID, out.err)
	}

	elapsed := time.Since(startedAt)
	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, string(envelope.CodeOf(out.err)))
		d.log.Warn("handler failed",
			"handler_id", decision.HandlerID,
			"request_id", ec.RequestID(),
			"duration_ms", elapsed.Milliseconds(),
			"error_code", envelope.CodeOf(out.err),
			"error", out.err,
		)
		return envelope.Envelope{}, out.err
	}

	d.log.Debug("handler completed",
		"handler_id", decision.HandlerID,
		"request_id", ec.RequestID(),
		"duration_ms", elapsed.Milliseconds(),
		"success", out.env.Success,
	)
	return out.env, nil
}

func (d *Dispatcher) handlerTimeout(id string) time.Duration {
	if timeout, ok := d.opts.HandlerTimeouts[id]; ok && timeout > 0 {
		return timeout
	}

	return d.opts.HandlerTimeout
}

// categorize keeps a handler's own category and otherwise separates
// unavailability from unexpected failures.
func categorize(handlerID string, err error) error {
	if err == nil {
		return nil
	}

	var categorized *envelope.Error
	if errors.As(err, &categorized) && categorized.Code != "" {
		return err
	}

	switch {
	case errors.Is(err, handler.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return envelope.Wrap(envelope.CodeHandlerUnavailable, err, "handler "+handlerID)
	default:
		return envelope.Wrap(envelope.CodeInternalDispatch, err, "handler "+handlerID)
	}
}
