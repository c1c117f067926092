package admission

import (
	"context"
	"log/slog"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
	"weak"

	"github.com/google/uuid"

	"squadbot/pkg/envelope"
)

const (
	DefaultMaxConcurrent = 10
	DefaultMaxPerWindow  = 60
	DefaultWindow        = 60 * time.Second
	DefaultSweepInterval = 5 * time.Minute
)

var (
	ErrConcurrencyLimitExceeded = &envelope.Error{Code: envelope.CodeConcurrencyLimited, Detail: "tenant concurrency limit reached"}
	ErrRateLimitExceeded        = &envelope.Error{Code: envelope.CodeRateLimited, Detail: "tenant rate limit reached"}
	ErrTenantRequired           = &envelope.Error{Code: envelope.CodeValidation, Detail: "tenant id is required"}
)

// Limits bounds per-tenant work. Zero values fall back to the defaults.
type Limits struct {
	MaxConcurrent int
	MaxPerWindow  int
	Window        time.Duration
	SweepInterval time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.MaxConcurrent <= 0 {
		l.MaxConcurrent = DefaultMaxConcurrent
	}
	if l.MaxPerWindow <= 0 {
		l.MaxPerWindow = DefaultMaxPerWindow
	}
	if l.Window <= 0 {
		l.Window = DefaultWindow
	}
	if l.SweepInterval <= 0 {
		l.SweepInterval = DefaultSweepInterval
	}

	return l
}

// TenantStats is a point-in-time gauge reading for one tenant.
type TenantStats struct {
	Active          int `json:"active"`
	WindowOccupancy int `json:"window_occupancy"`
}

// Controller enforces per-tenant concurrency and trailing-window rate limits.
//
// All tenant state is guarded by mu; no other type touches it.
type Controller struct {
	limits Limits
	log    *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	tenants map[string]*tenantState
}

type tenantState struct {
	active map[string]trackedTicket
	// issued holds admission timestamps in ascending order.
	issued []time.Time
}

type trackedTicket struct {
	ref      weak.Pointer[Ticket]
	issuedAt time.Time
}

func NewController(limits Limits, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}

	return &Controller{
		limits:  limits.withDefaults(),
		log:     log.With("component", "admission.controller"),
		now:     time.Now,
		tenants: make(map[string]*tenantState),
	}
}

// Limits returns the effective limits after defaults.
func (c *Controller) Limits() Limits {
	return c.limits
}

// Admit issues a ticket for tenantID or reports which limit was hit.
//
// Concurrency is checked before rate, so a tenant violating both sees
// concurrency_limit_exceeded. Rejected attempts do not consume rate budget.
func (c *Controller) Admit(tenantID string) (*Ticket, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	state := c.tenantLocked(tenantID)

	if len(state.active) >= c.limits.MaxConcurrent {
		return nil, ErrConcurrencyLimitExceeded
	}

	state.issued = pruneIssued(state.issued, now, c.limits.Window)
	if len(state.issued) >= c.limits.MaxPerWindow {
		return nil, ErrRateLimitExceeded
	}

	ticket := &Ticket{
		id:       uuid.NewString(),
		tenantID: tenantID,
		issuedAt: now,
		owner:    c,
	}
	key := ticketKey{tenantID: tenantID, id: ticket.id}
	ticket.cleanup = runtime.AddCleanup(ticket, c.reclaimAbandoned, key)

	state.issued = append(state.issued, now)
	state.active[ticket.id] = trackedTicket{ref: weak.Make(ticket), issuedAt: now}

	return ticket, nil
}

// Release returns ticket's slot. Releasing twice, or releasing a ticket from
// another controller, is a no-op.
func (c *Controller) Release(ticket *Ticket) {
	if ticket == nil || ticket.owner != c {
		return
	}
	if !ticket.released.CompareAndSwap(false, true) {
		return
	}

	ticket.cleanup.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(ticketKey{tenantID: ticket.tenantID, id: ticket.id})
}

// Active returns the number of unreleased tickets for tenantID.
func (c *Controller) Active(tenantID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.tenants[tenantID]
	if !ok {
		return 0
	}

	return len(state.active)
}

// Stats returns gauges for every tenant with tracked state.
func (c *Controller) Stats() map[string]TenantStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	stats := make(map[string]TenantStats, len(c.tenants))
	for tenantID, state := range c.tenants {
		stats[tenantID] = TenantStats{
			Active:          len(state.active),
			WindowOccupancy: countWithin(state.issued, now, c.limits.Window),
		}
	}

	return stats
}

// Sweep purges expired rate timestamps, reclaims collected tickets, drops idle
// tenants, and logs current gauges.
func (c *Controller) Sweep() map[string]TenantStats {
	c.mu.Lock()
	now := c.now()
	stats := make(map[string]TenantStats, len(c.tenants))
	reclaimed := 0
	for tenantID, state := range c.tenants {
		state.issued = pruneIssued(state.issued, now, c.limits.Window)
		for id, tracked := range state.active {
			if tracked.ref.Value() == nil {
				delete(state.active, id)
				reclaimed++
			}
		}

		if len(state.active) == 0 && len(state.issued) == 0 {
			delete(c.tenants, tenantID)
			continue
		}

		stats[tenantID] = TenantStats{Active: len(state.active), WindowOccupancy: len(state.issued)}
	}
	c.mu.Unlock()

	if reclaimed > 0 {
		c.log.Warn("Reclaimed abandoned admission tickets", "count", reclaimed)
	}

	tenantIDs := make([]string, 0, len(stats))
	for tenantID := range stats {
		tenantIDs = append(tenantIDs, tenantID)
	}
	sort.Strings(tenantIDs)

	totalActive := 0
	for _, tenantID := range tenantIDs {
		s := stats[tenantID]
		totalActive += s.Active
		c.log.Info("Admission gauges", "tenant_id", tenantID, "active", s.Active, "window_occupancy", s.WindowOccupancy)
	}
	c.log.Debug("Admission sweep completed", "tenants", len(stats), "active_total", totalActive)

	return stats
}

// Run sweeps on the configured interval until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.limits.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// reclaimAbandoned runs after an unreleased ticket has been garbage collected.
func (c *Controller) reclaimAbandoned(key ticketKey) {
	c.mu.Lock()
	removed := c.removeLocked(key)
	c.mu.Unlock()

	if removed {
		c.log.Warn("Reclaimed admission ticket that was never released", "tenant_id", key.tenantID, "ticket_id", key.id)
	}
}

func (c *Controller) tenantLocked(tenantID string) *tenantState {
	state, ok := c.tenants[tenantID]
	if !ok {
		state = &tenantState{active: make(map[string]trackedTicket)}
		c.tenants[tenantID] = state
	}

	return state
}

func (c *Controller) removeLocked(key ticketKey) bool {
	state, ok := c.tenants[key.tenantID]
	if !ok {
		return false
	}
	if _, ok := state.active[key.id]; !ok {
		return false
	}

	delete(state.active, key.id)
	return true
}

// pruneIssued drops timestamps that are at least window old.
func pruneIssued(issued []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	idx := sort.Search(len(issued), func(i int) bool {
		return issued[i].After(cutoff)
	})
	if idx == 0 {
		return issued
	}

	return slices.Clone(issued[idx:])
}

func countWithin(issued []time.Time, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	idx := sort.Search(len(issued), func(i int) bool {
		return issued[i].After(cutoff)
	})

	return len(issued) - idx
}
