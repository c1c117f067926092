package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"squadbot/pkg/message"
)

var (
	// ErrNotFound means the sender has no record in the directory.
	ErrNotFound = errors.New("membership not found")
	// ErrUnavailable marks transient initialization failures that may be retried.
	ErrUnavailable = errors.New("directory unavailable")
)

// Names of the two directories consulted by the registration resolver.
const (
	Players = "players"
	Members = "members"
)

// Membership status values stored in records.
const (
	StatusActive   = "active"
	StatusPending  = "pending"
	StatusInactive = "inactive"
)

// MembershipRecord is one sender's entry in a tenant directory.
type MembershipRecord struct {
	TenantID string
	SenderID message.SenderID
	Name     string
	Role     string
	Status   string
}

// Directory answers membership lookups. Implementations must be safe for
// concurrent use and free of side effects.
type Directory interface {
	Lookup(ctx context.Context, tenantID string, senderID message.SenderID) (MembershipRecord, error)
}

// Memory is an in-process directory, used for static configuration and tests.
type Memory struct {
	mu      sync.RWMutex
	records map[memoryKey]MembershipRecord
}

type memoryKey struct {
	tenantID string
	senderID message.SenderID
}

func NewMemory(records ...MembershipRecord) *Memory {
	m := &Memory{records: make(map[memoryKey]MembershipRecord, len(records))}
	for _, record := range records {
		m.Put(record)
	}

	return m
}

// Put inserts or replaces a record.
func (m *Memory) Put(record MembershipRecord) {
	record = normalizeRecord(record)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[memoryKey{tenantID: record.TenantID, senderID: record.SenderID}] = record
}

func (m *Memory) Lookup(ctx context.Context, tenantID string, senderID message.SenderID) (MembershipRecord, error) {
	if err := ctx.Err(); err != nil {
		return MembershipRecord{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[memoryKey{tenantID: strings.TrimSpace(tenantID), senderID: senderID}]
	if !ok {
		return MembershipRecord{}, ErrNotFound
	}

	return record, nil
}

// ValidateRecord checks the fields a stored record must carry.
func ValidateRecord(record MembershipRecord) error {
	if strings.TrimSpace(record.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if record.SenderID == 0 {
		return errors.New("sender id is required")
	}

	switch normalizeStatus(record.Status) {
	case StatusActive, StatusPending, StatusInactive:
	default:
		return fmt.Errorf("unknown membership status %q", record.Status)
	}

	return nil
}

func normalizeRecord(record MembershipRecord) MembershipRecord {
	record.TenantID = strings.TrimSpace(record.TenantID)
	record.Name = strings.TrimSpace(record.Name)
	record.Role = strings.ToLower(strings.TrimSpace(record.Role))
	record.Status = normalizeStatus(record.Status)
	return record
}

func normalizeStatus(status string) string {
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		return StatusActive
	}

	return status
}
