package message

import (
	"strings"
	"time"
	"unicode/utf8"

	"squadbot/pkg/bus"
	"squadbot/pkg/envelope"
)

const DefaultMaxTextLength = 4096

// Validator rejects malformed inbound messages and normalizes identifiers.
type Validator struct {
	maxLength int
	now       func() time.Time
}

func NewValidator(maxLength int) *Validator {
	if maxLength <= 0 {
		maxLength = DefaultMaxTextLength
	}

	return &Validator{maxLength: maxLength, now: time.Now}
}

// Validate returns a normalized message or a validation_error.
func (v *Validator) Validate(raw bus.InboundMessage) (InboundMessage, error) {
	tenantID := strings.TrimSpace(raw.TenantID)
	if tenantID == "" {
		return InboundMessage{}, envelope.NewError(envelope.CodeValidation, "tenant id is required")
	}

	senderID, err := ParseSenderID(raw.SenderID)
	if err != nil {
		return InboundMessage{}, envelope.Wrap(envelope.CodeValidation, err, "sender id")
	}

	channel, err := ParseChannelType(raw.ChannelType)
	if err != nil {
		return InboundMessage{}, envelope.Wrap(envelope.CodeValidation, err, "channel type")
	}

	text := strings.TrimSpace(raw.Content)
	if text == "" {
		return InboundMessage{}, envelope.NewError(envelope.CodeValidation, "text is empty")
	}
	if !utf8.ValidString(text) {
		return InboundMessage{}, envelope.NewError(envelope.CodeValidation, "text is not valid utf-8")
	}
	if utf8.RuneCountInString(text) > v.maxLength {
		return InboundMessage{}, envelope.NewError(envelope.CodeValidation, "text exceeds maximum length")
	}

	receivedAt := raw.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = v.now()
	}

	return InboundMessage{
		TenantID:   tenantID,
		SenderID:   senderID,
		SenderName: strings.TrimSpace(raw.SenderName),
		Channel:    channel,
		ChatID:     strings.TrimSpace(raw.ChatID),
		Transport:  strings.TrimSpace(raw.Channel),
		Text:       text,
		ReceivedAt: receivedAt.UTC(),
	}, nil
}
