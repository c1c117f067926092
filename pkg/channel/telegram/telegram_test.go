package telegram

import (
	"context"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/require"

	"squadbot/pkg/config"
)

type recordingSender struct {
	sent []*telego.SendMessageParams
}

func (r *recordingSender) SendMessage(_ context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	r.sent = append(r.sent, params)
	return &telego.Message{}, nil
}

func newTestAdapter(t *testing.T, cfg config.TelegramConfig) *Adapter {
	t.Helper()

	cfg.Token = "123:abc"
	adapter, err := NewAdapter(cfg, nil)
	require.NoError(t, err)
	return adapter
}

func teamConfig() config.TelegramConfig {
	return config.TelegramConfig{
		DefaultTenant: "T1",
		Teams: []config.TelegramTeamConfig{
			{TenantID: "T1", MainChatID: -100, LeadershipChatID: -200},
			{TenantID: "T2", MainChatID: -300},
		},
	}
}

func textMessage(chatID int64, chatType string, senderID int64, text string) *telego.Message {
	return &telego.Message{
		MessageID: 9,
		Date:      1700000000,
		Chat:      telego.Chat{ID: chatID, Type: chatType},
		From:      &telego.User{ID: senderID, FirstName: "Ana", LastName: "Silva"},
		Text:      text,
	}
}

func TestAllowFromSet(t *testing.T) {
	allowed := allowFromSet([]string{" 123 ", "", "456", "123"})
	if len(allowed) != 2 {
		t.Fatalf("allowFromSet len = %d, want 2", len(allowed))
	}
	if _, ok := allowed["123"]; !ok {
		t.Fatal("allowFromSet missing 123")
	}
	if _, ok := allowed["456"]; !ok {
		t.Fatal("allowFromSet missing 456")
	}
}

func TestSenderAllowed(t *testing.T) {
	adapter := &Adapter{allowFrom: map[string]struct{}{"1": {}}}
	if !adapter.senderAllowed("1") {
		t.Fatal("expected sender 1 to be allowed")
	}
	if adapter.senderAllowed("2") {
		t.Fatal("expected sender 2 to be denied")
	}

	adapter.allowFrom = nil
	if !adapter.senderAllowed("any") {
		t.Fatal("expected sender to be allowed when allowlist empty")
	}
}

func TestNewAdapterValidatesTeams(t *testing.T) {
	_, err := NewAdapter(config.TelegramConfig{}, nil)
	require.Error(t, err)

	_, err = NewAdapter(config.TelegramConfig{Token: "x", Teams: []config.TelegramTeamConfig{{MainChatID: 1}}}, nil)
	require.ErrorContains(t, err, "tenant_id")

	_, err = NewAdapter(config.TelegramConfig{Token: "x", Teams: []config.TelegramTeamConfig{
		{TenantID: "T1", MainChatID: 1},
		{TenantID: "T2", LeadershipChatID: 1},
	}}, nil)
	require.ErrorContains(t, err, "mapped to both")
}

func TestInboundMapsChatsToChannelTypes(t *testing.T) {
	adapter := newTestAdapter(t, teamConfig())

	tests := []struct {
		name        string
		msg         *telego.Message
		tenant      string
		channelType string
	}{
		{name: "main chat", msg: textMessage(-100, telego.ChatTypeSupergroup, 5, "/ping"), tenant: "T1", channelType: "broadcast"},
		{name: "leadership chat", msg: textMessage(-200, telego.ChatTypeGroup, 5, "/ping"), tenant: "T1", channelType: "restricted"},
		{name: "other team", msg: textMessage(-300, telego.ChatTypeGroup, 5, "/ping"), tenant: "T2", channelType: "broadcast"},
		{name: "private chat", msg: textMessage(5, telego.ChatTypePrivate, 5, "/ping"), tenant: "T1", channelType: "direct"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inbound, ok := adapter.inbound(1, tt.msg)
			require.True(t, ok)
			require.Equal(t, tt.tenant, inbound.TenantID)
			require.Equal(t, tt.channelType, inbound.ChannelType)
			require.Equal(t, "5", inbound.SenderID)
			require.Equal(t, "Ana Silva", inbound.SenderName)
			require.Equal(t, "telegram", inbound.Channel)
			require.Equal(t, int64(1700000000), inbound.ReceivedAt.Unix())
		})
	}
}

func TestInboundIgnoresUnroutableMessages(t *testing.T) {
	cfg := teamConfig()
	cfg.AllowFrom = []string{"5"}
	adapter := newTestAdapter(t, cfg)

	noSender := textMessage(-100, telego.ChatTypeGroup, 5, "/ping")
	noSender.From = nil

	for name, msg := range map[string]*telego.Message{
		"unmapped group": textMessage(-999, telego.ChatTypeGroup, 5, "/ping"),
		"empty text":     textMessage(-100, telego.ChatTypeGroup, 5, "   "),
		"no sender":      noSender,
		"not allowed":    textMessage(-100, telego.ChatTypeGroup, 6, "/ping"),
	} {
		if _, ok := adapter.inbound(1, msg); ok {
			t.Fatalf("%s: expected message to be ignored", name)
		}
	}
}

func TestPrivateChatIgnoredWithoutDefaultTenant(t *testing.T) {
	cfg := teamConfig()
	cfg.DefaultTenant = ""
	adapter := newTestAdapter(t, cfg)

	_, ok := adapter.inbound(1, textMessage(5, telego.ChatTypePrivate, 5, "/ping"))
	require.False(t, ok)
}

func TestReplyThreadsGroupMessages(t *testing.T) {
	adapter := newTestAdapter(t, teamConfig())
	sender := &recordingSender{}

	adapter.reply(context.Background(), sender, textMessage(-100, telego.ChatTypeGroup, 5, "/ping"), " pong ")
	adapter.reply(context.Background(), sender, textMessage(5, telego.ChatTypePrivate, 5, "/ping"), "pong")
	adapter.reply(context.Background(), sender, textMessage(5, telego.ChatTypePrivate, 5, "/ping"), "  ")

	require.Len(t, sender.sent, 2)
	require.Equal(t, "pong", sender.sent[0].Text)
	require.NotNil(t, sender.sent[0].ReplyParameters)
	require.Equal(t, 9, sender.sent[0].ReplyParameters.MessageID)
	require.Nil(t, sender.sent[1].ReplyParameters)
}

func TestReplyStopsWhenContextCanceled(t *testing.T) {
	adapter := newTestAdapter(t, teamConfig())
	sender := &recordingSender{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	adapter.reply(ctx, sender, textMessage(5, telego.ChatTypePrivate, 5, "/ping"), "pong")
	require.Empty(t, sender.sent)
}
