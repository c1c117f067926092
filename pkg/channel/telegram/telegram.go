package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"squadbot/pkg/bus"
	"squadbot/pkg/channel"
	"squadbot/pkg/config"
	"squadbot/pkg/logger"
	"squadbot/pkg/message"
)

const channelName = "telegram"
const typingRefreshInterval = 4 * time.Second

// route is where a Telegram chat lands in the tenant model.
type route struct {
	tenantID    string
	channelType message.ChannelType
}

type messageSender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Adapter bridges Telegram updates into router requests and sends replies.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom map[string]struct{}
	routes    map[int64]route
	limiter   *rate.Limiter
	log       *slog.Logger
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	routes, err := routeTable(cfg.Teams)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}

	perSecond := cfg.SendRatePerSecond
	if perSecond <= 0 {
		perSecond = 25
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: allowFromSet(cfg.AllowFrom),
		routes:    routes,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), 1),
		log:       log.With("component", "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in bus metadata and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling. Each message is handled on its own
// goroutine; Run waits for in-flight messages before returning.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started", "teams", len(a.cfg.Teams))

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			if update.Message == nil {
				continue
			}

			inbound, ok := a.inbound(update.UpdateID, update.Message)
			if !ok {
				continue
			}

			msg := update.Message
			wg.Add(1)
			go func() {
				defer wg.Done()

				stopTyping := a.startTypingIndicator(ctx, bot, msg.Chat.ID)
				env := handler(ctx, inbound)
				stopTyping()

				a.reply(ctx, bot, msg, env.Message)
			}()
		}
	}
}

// inbound maps a Telegram message onto a raw router message. It returns
// false for messages the adapter ignores.
func (a *Adapter) inbound(updateID int, msg *telego.Message) (bus.InboundMessage, bool) {
	content := strings.TrimSpace(msg.Text)
	if content == "" {
		return bus.InboundMessage{}, false
	}
	if msg.From == nil {
		a.log.Debug("Ignoring message without sender")
		return bus.InboundMessage{}, false
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !a.senderAllowed(senderID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return bus.InboundMessage{}, false
	}

	target, ok := a.routeFor(msg.Chat)
	if !ok {
		a.log.Debug("Ignoring message from unmapped chat", "chat_id", msg.Chat.ID, "chat_type", msg.Chat.Type)
		return bus.InboundMessage{}, false
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	inbound := bus.InboundMessage{
		Channel:     channelName,
		TenantID:    target.tenantID,
		SenderID:    senderID,
		SenderName:  displayName(msg.From),
		ChatID:      chatID,
		ChannelType: string(target.channelType),
		Content:     content,
		ReceivedAt:  time.Unix(msg.Date, 0).UTC(),
		Metadata: map[string]string{
			"update_id":  strconv.Itoa(updateID),
			"message_id": strconv.Itoa(msg.MessageID),
		},
	}
	a.log.Info("Received message",
		"tenant_id", target.tenantID,
		"chat_id", chatID,
		"sender_id", senderID,
		"channel_type", target.channelType,
		"content", logger.Preview(content),
	)

	return inbound, true
}

func (a *Adapter) routeFor(chat telego.Chat) (route, bool) {
	if target, ok := a.routes[chat.ID]; ok {
		return target, true
	}

	tenantID := strings.TrimSpace(a.cfg.DefaultTenant)
	if chat.Type == telego.ChatTypePrivate && tenantID != "" {
		return route{tenantID: tenantID, channelType: message.ChannelDirect}, true
	}

	return route{}, false
}

// reply sends text back to the originating chat, paced by the adapter's
// send limiter.
func (a *Adapter) reply(ctx context.Context, sender messageSender, msg *telego.Message, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if err := a.limiter.Wait(ctx); err != nil {
		a.log.Debug("Dropping reply after shutdown", "chat_id", msg.Chat.ID, "error", err)
		return
	}

	params := tu.Message(tu.ID(msg.Chat.ID), text)
	if msg.Chat.Type != telego.ChatTypePrivate {
		params.ReplyParameters = &telego.ReplyParameters{MessageID: msg.MessageID}
	}

	a.log.Info("Sending message", "chat_id", msg.Chat.ID, "content", logger.Preview(text))
	if _, err := sender.SendMessage(ctx, params); err != nil {
		a.log.Error("Failed to send telegram message", "chat_id", msg.Chat.ID, "error", err)
	}
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// routeTable indexes team chats by chat id.
func routeTable(teams []config.TelegramTeamConfig) (map[int64]route, error) {
	routes := make(map[int64]route, len(teams)*2)
	add := func(chatID int64, target route) error {
		if chatID == 0 {
			return nil
		}
		if existing, ok := routes[chatID]; ok {
			return fmt.Errorf("telegram chat %d is mapped to both %s/%s and %s/%s",
				chatID, existing.tenantID, existing.channelType, target.tenantID, target.channelType)
		}
		routes[chatID] = target
		return nil
	}

	for i, team := range teams {
		tenantID := strings.TrimSpace(team.TenantID)
		if tenantID == "" {
			return nil, fmt.Errorf("channels.telegram.teams[%d].tenant_id is required", i)
		}
		if err := add(team.MainChatID, route{tenantID: tenantID, channelType: message.ChannelBroadcast}); err != nil {
			return nil, err
		}
		if err := add(team.LeadershipChatID, route{tenantID: tenantID, channelType: message.ChannelRestricted}); err != nil {
			return nil, err
		}
	}

	return routes, nil
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

func displayName(user *telego.User) string {
	name := strings.TrimSpace(strings.TrimSpace(user.FirstName) + " " + strings.TrimSpace(user.LastName))
	if name == "" {
		name = strings.TrimSpace(user.Username)
	}

	return name
}

// startTypingIndicator sends an initial typing action and refreshes it periodically
// until the returned cancel function is called.
func (a *Adapter) startTypingIndicator(ctx context.Context, bot *telego.Bot, chatID int64) context.CancelFunc {
	typingCtx, cancel := context.WithCancel(ctx)

	sendTyping := func() {
		if err := bot.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	sendTyping()

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()

	return cancel
}
