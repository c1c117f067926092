package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"squadbot/pkg/config"
	"squadbot/pkg/envelope"
	"squadbot/pkg/handler"
	"squadbot/pkg/intent/types"
	"squadbot/pkg/message"
	"squadbot/pkg/routing"
)

type fakeExtractor struct {
	result types.Result
	err    error
	block  chan struct{}
	calls  atomic.Int32
}

func (f *fakeExtractor) Extract(ctx context.Context, text string) (types.Result, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}

	return f.result, f.err
}

func (f *fakeExtractor) Health(context.Context) error { return nil }

func intentTable(t *testing.T) *routing.IntentTable {
	t.Helper()

	table, err := routing.NewIntentTable([]config.IntentRuleConfig{
		{ID: "add-member", Priority: 10, Intent: "add_member", Channels: []string{"restricted"}, MinTier: "leadership", Handler: "team-admin-handler"},
	})
	require.NoError(t, err)
	return table
}

func execContext() *message.ExecutionContext {
	return message.NewExecutionContext("req-1", message.InboundMessage{
		TenantID: "t1",
		SenderID: 7,
		Channel:  message.ChannelRestricted,
		Text:     "can someone add me to the roster",
	}, message.RegisteredActive, message.TierLeadership)
}

func registryWith(t *testing.T, id string, h handler.HandlerFunc) *handler.Registry {
	t.Helper()

	reg := handler.NewRegistry()
	require.NoError(t, reg.Register(id, h))
	return reg
}

func TestResolveIntentAddMember(t *testing.T) {
	extractor := &fakeExtractor{result: types.Result{Intent: "add_member", Confidence: 0.9, Entities: map[string]any{"name": "me"}}}
	d := New(extractor, nil, Options{}, nil)

	leader := d.ResolveIntent(context.Background(), intentTable(t), "can someone add me to the roster", message.ChannelRestricted, message.TierLeadership)
	require.Equal(t, "team-admin-handler", leader.HandlerID)
	require.Equal(t, "me", leader.Entities["name"])

	member := d.ResolveIntent(context.Background(), intentTable(t), "can someone add me to the roster", message.ChannelRestricted, message.TierMember)
	require.Equal(t, envelope.CodePermissionDenied, member.Rejection)
	require.Empty(t, member.HandlerID)
}

func TestResolveIntentNeverGuesses(t *testing.T) {
	extractor := &fakeExtractor{result: types.Result{Intent: "order_pizza", Confidence: 1}}
	d := New(extractor, nil, Options{}, nil)

	decision := d.ResolveIntent(context.Background(), intentTable(t), "pizza?", message.ChannelRestricted, message.TierSystem)
	require.Equal(t, envelope.CodeClassification, decision.Rejection)
	require.Empty(t, decision.HandlerID)
}

func TestResolveIntentTimeoutIsHandlerUnavailable(t *testing.T) {
	extractor := &fakeExtractor{block: make(chan struct{})}
	t.Cleanup(func() { close(extractor.block) })

	d := New(extractor, nil, Options{IntentTimeout: 30 * time.Millisecond}, nil)

	start := time.Now()
	decision := d.ResolveIntent(context.Background(), intentTable(t), "hello", message.ChannelRestricted, message.TierAdmin)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, envelope.CodeHandlerUnavailable, decision.Rejection)
	require.EqualValues(t, 1, extractor.calls.Load())
}

func TestResolveIntentFailureIsNotRetried(t *testing.T) {
	extractor := &fakeExtractor{err: errors.New("model overloaded")}
	d := New(extractor, nil, Options{}, nil)

	decision := d.ResolveIntent(context.Background(), intentTable(t), "hello", message.ChannelRestricted, message.TierAdmin)
	require.Equal(t, envelope.CodeHandlerUnavailable, decision.Rejection)
	require.EqualValues(t, 1, extractor.calls.Load())
}

func TestDispatchSuccess(t *testing.T) {
	reg := registryWith(t, "team-admin-handler", func(ctx context.Context, req handler.Request) (envelope.Envelope, error) {
		return envelope.OK("added "+req.Context.SenderID().String(), nil), nil
	})
	d := New(nil, reg, Options{}, nil)

	env, err := d.Dispatch(context.Background(), routing.Decision{Path: routing.PathNeedsIntent, HandlerID: "team-admin-handler"}, execContext())
	require.NoError(t, err)
	require.Equal(t, "added 7", env.Message)
}

func TestDispatchRejectedDecisionNeverInvokes(t *testing.T) {
	var invoked atomic.Bool
	reg := registryWith(t, "h", func(context.Context, handler.Request) (envelope.Envelope, error) {
		invoked.Store(true)
		return envelope.OK("", nil), nil
	})
	d := New(nil, reg, Options{}, nil)

	_, err := d.Dispatch(context.Background(), routing.Reject(envelope.CodePermissionDenied), execContext())
	require.Equal(t, envelope.CodePermissionDenied, envelope.CodeOf(err))
	require.False(t, invoked.Load())
}

func TestDispatchErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		h    handler.HandlerFunc
		want envelope.Code
	}{
		{
			name: "panic",
			h:    func(context.Context, handler.Request) (envelope.Envelope, error) { panic("boom") },
			want: envelope.CodeInternalDispatch,
		},
		{
			name: "plain error",
			h: func(context.Context, handler.Request) (envelope.Envelope, error) {
				return envelope.Envelope{}, errors.New("nil map")
			},
			want: envelope.CodeInternalDispatch,
		},
		{
			name: "unavailable",
			h: func(context.Context, handler.Request) (envelope.Envelope, error) {
				return envelope.Envelope{}, handler.ErrUnavailable
			},
			want: envelope.CodeHandlerUnavailable,
		},
		{
			name: "categorized",
			h: func(context.Context, handler.Request) (envelope.Envelope, error) {
				return envelope.Envelope{}, envelope.NewError(envelope.CodePermissionDenied, "not a captain")
			},
			want: envelope.CodePermissionDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(nil, registryWith(t, "h", tt.h), Options{}, nil)

			_, err := d.Dispatch(context.Background(), routing.Decision{Path: routing.PathDirect, HandlerID: "h"}, execContext())
			if got := envelope.CodeOf(err); got != tt.want {
				t.Fatalf("CodeOf(err) = %q, want %q (err=%v)", got, tt.want, err)
			}
		})
	}
}

func TestDispatchTimeoutUsesPerHandlerOverride(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	reg := registryWith(t, "slow", func(context.Context, handler.Request) (envelope.Envelope, error) {
		<-release
		return envelope.OK("late", nil), nil
	})
	d := New(nil, reg, Options{
		HandlerTimeout:  time.Minute,
		HandlerTimeouts: map[string]time.Duration{"slow": 30 * time.Millisecond},
	}, nil)

	start := time.Now()
	_, err := d.Dispatch(context.Background(), routing.Decision{Path: routing.PathDirect, HandlerID: "slow"}, execContext())
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, envelope.CodeHandlerUnavailable, envelope.CodeOf(err))
}

func TestDispatchUnknownHandler(t *testing.T) {
	d := New(nil, handler.NewRegistry(), Options{}, nil)

	_, err := d.Dispatch(context.Background(), routing.Decision{Path: routing.PathDirect, HandlerID: "ghost"}, execContext())
	require.Equal(t, envelope.CodeHandlerUnavailable, envelope.CodeOf(err))
}

func TestDispatchPropagatesCallerCancellation(t *testing.T) {
	stopped := make(chan struct{})
	reg := registryWith(t, "h", func(ctx context.Context, _ handler.Request) (envelope.Envelope, error) {
		<-ctx.Done()
		close(stopped)
		return envelope.Envelope{}, ctx.Err()
	})
	d := New(nil, reg, Options{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := d.Dispatch(ctx, routing.Decision{Path: routing.PathDirect, HandlerID: "h"}, execContext())
	require.Equal(t, envelope.CodeHandlerUnavailable, envelope.CodeOf(err))

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("handler context was not canceled")
	}
}
