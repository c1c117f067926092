package console

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"squadbot/pkg/bus"
	"squadbot/pkg/envelope"
	"squadbot/pkg/message"
)

func readyModel(t *testing.T, handle func(context.Context, bus.InboundMessage) envelope.Envelope) *model {
	t.Helper()

	m := newModel(context.Background(), handle, modeInteractive, "", Session{TenantID: "T1", SenderID: 7})
	m.booting = false
	return m
}

func TestHandleViewportMouseWheelUpDisablesFollowLog(t *testing.T) {
	t.Parallel()

	m := readyModel(t, nil)
	m.viewport.Width = 40
	m.viewport.Height = 5
	m.viewport.SetContent(strings.Repeat("line\n", 40))
	m.viewport.GotoBottom()
	m.followLog = true

	previousOffset := m.viewport.YOffset
	handled := m.handleViewportMouse(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonWheelUp})
	if !handled {
		t.Fatal("expected wheel-up mouse event to be handled")
	}
	if m.followLog {
		t.Fatal("expected followLog to be disabled after wheel-up scroll")
	}
	if m.viewport.YOffset >= previousOffset {
		t.Fatalf("expected YOffset to decrease after wheel-up scroll, got %d want < %d", m.viewport.YOffset, previousOffset)
	}
}

func TestHandleViewportMouseIgnoresNonWheelEvents(t *testing.T) {
	t.Parallel()

	m := readyModel(t, nil)
	handled := m.handleViewportMouse(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	if handled {
		t.Fatal("expected non-wheel mouse event to be ignored")
	}
}

func TestEnterSendsInboundUnderSession(t *testing.T) {
	t.Parallel()

	var got bus.InboundMessage
	m := readyModel(t, func(_ context.Context, inbound bus.InboundMessage) envelope.Envelope {
		got = inbound
		return envelope.OK("pong", nil)
	})

	m.input.SetValue("/ping")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	require.True(t, m.isLoading)
	require.Equal(t, 1, m.requests)

	// Run the send command directly rather than through the batch.
	reply := sendCmd(m.ctx, m.handle, m.session.inbound("/ping"))()
	require.Equal(t, Transport, got.Channel)
	require.Equal(t, "T1", got.TenantID)
	require.Equal(t, "7", got.SenderID)
	require.Equal(t, string(message.ChannelDirect), got.ChannelType)

	m.Update(reply)
	require.False(t, m.isLoading)
	require.Equal(t, entryReply, m.entries[len(m.entries)-1].kind)
	require.Equal(t, "pong", m.entries[len(m.entries)-1].content)
}

func TestRejectedReplyIsRecordedWithCode(t *testing.T) {
	t.Parallel()

	m := readyModel(t, nil)
	m.Update(replyMsg{reply: envelope.Failure(envelope.CodePermissionDenied)})

	require.Equal(t, 1, m.failures)
	require.Equal(t, envelope.CodePermissionDenied, m.lastErr)
	last := m.entries[len(m.entries)-1]
	require.Equal(t, entryError, last.kind)
	require.Equal(t, envelope.CodePermissionDenied, last.code)
	require.NotContains(t, last.content, "permission_denied")
}

func TestLocalCommandsSwitchIdentity(t *testing.T) {
	t.Parallel()

	called := false
	m := readyModel(t, func(context.Context, bus.InboundMessage) envelope.Envelope {
		called = true
		return envelope.OK("", nil)
	})

	require.True(t, m.applyLocalCommand(":as 42"))
	require.Equal(t, message.SenderID(42), m.session.SenderID)

	require.True(t, m.applyLocalCommand(":in Restricted"))
	require.Equal(t, message.ChannelRestricted, m.session.ChannelType)

	require.True(t, m.applyLocalCommand(":tenant T2"))
	require.Equal(t, "T2", m.session.TenantID)

	require.True(t, m.applyLocalCommand(":in lobby"))
	require.Equal(t, message.ChannelRestricted, m.session.ChannelType)
	require.Equal(t, entryNotice, m.entries[len(m.entries)-1].kind)

	require.False(t, m.applyLocalCommand("/help"))
	require.False(t, called)
}

func TestExitCommandQuits(t *testing.T) {
	t.Parallel()

	m := readyModel(t, nil)
	m.input.SetValue(":q")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}
