package message

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ChannelType is the category of conversation a message arrived on.
type ChannelType string

const (
	ChannelBroadcast  ChannelType = "broadcast"
	ChannelRestricted ChannelType = "restricted"
	ChannelDirect     ChannelType = "direct"
)

// ChannelTypes lists the closed set of channel types.
func ChannelTypes() []ChannelType {
	return []ChannelType{ChannelBroadcast, ChannelRestricted, ChannelDirect}
}

// ParseChannelType accepts the canonical names case-insensitively.
func ParseChannelType(value string) (ChannelType, error) {
	switch ChannelType(strings.ToLower(strings.TrimSpace(value))) {
	case ChannelBroadcast:
		return ChannelBroadcast, nil
	case ChannelRestricted:
		return ChannelRestricted, nil
	case ChannelDirect:
		return ChannelDirect, nil
	default:
		return "", fmt.Errorf("unknown channel type %q", value)
	}
}

// SenderID is the canonical chat-platform user identifier.
type SenderID int64

// ParseSenderID normalizes a raw identifier into a SenderID.
func ParseSenderID(raw string) (SenderID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("sender id is required")
	}

	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sender id %q is not numeric", trimmed)
	}
	if id == 0 {
		return 0, fmt.Errorf("sender id must be non-zero")
	}

	return SenderID(id), nil
}

func (id SenderID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// InboundMessage is a validated message. It is read-only inside the core.
type InboundMessage struct {
	TenantID   string
	SenderID   SenderID
	SenderName string
	Channel    ChannelType
	ChatID     string
	Transport  string
	Text       string
	ReceivedAt time.Time
}

// RegistrationStatus classifies the sender against the tenant's directories.
type RegistrationStatus string

const (
	Unregistered      RegistrationStatus = "unregistered"
	RegisteredPending RegistrationStatus = "registered_pending"
	RegisteredActive  RegistrationStatus = "registered_active"
)

// PermissionTier is ordered from least to most privileged.
type PermissionTier int

const (
	TierPublic PermissionTier = iota
	TierMember
	TierLeadership
	TierAdmin
	TierSystem
)

var tierNames = map[PermissionTier]string{
	TierPublic:     "public",
	TierMember:     "member",
	TierLeadership: "leadership",
	TierAdmin:      "admin",
	TierSystem:     "system",
}

func (t PermissionTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}

	return "tier(" + strconv.Itoa(int(t)) + ")"
}

// Allows reports whether t satisfies a rule requiring required.
func (t PermissionTier) Allows(required PermissionTier) bool {
	return t >= required
}

// ParsePermissionTier accepts tier names case-insensitively; empty means public.
func ParsePermissionTier(value string) (PermissionTier, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return TierPublic, nil
	}

	for tier, name := range tierNames {
		if name == normalized {
			return tier, nil
		}
	}

	return TierPublic, fmt.Errorf("unknown permission tier %q", value)
}
