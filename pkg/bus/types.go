package bus

import "time"

// InboundMessage is the transport-shaped message delivered to the router.
//
// Fields are raw strings; the router validates and normalizes them once.
type InboundMessage struct {
	Channel     string            `json:"channel"`
	TenantID    string            `json:"tenant_id"`
	SenderID    string            `json:"sender_id"`
	SenderName  string            `json:"sender_name,omitempty"`
	ChatID      string            `json:"chat_id"`
	ChannelType string            `json:"channel_type"`
	Content     string            `json:"content"`
	ReceivedAt  time.Time         `json:"received_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
