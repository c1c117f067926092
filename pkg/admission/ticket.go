package admission

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Ticket is one in-flight request's claim on a tenant's capacity.
//
// Callers release it with defer immediately after Admit succeeds. A ticket that
// becomes unreachable without Release is reclaimed by the garbage collector
// cleanup and by the periodic sweep.
type Ticket struct {
	id       string
	tenantID string
	issuedAt time.Time

	owner    *Controller
	released atomic.Bool
	cleanup  runtime.Cleanup
}

func (t *Ticket) ID() string          { return t.id }
func (t *Ticket) TenantID() string    { return t.tenantID }
func (t *Ticket) IssuedAt() time.Time { return t.issuedAt }

// Release returns the ticket's slot to its tenant. It is safe to call more than once.
func (t *Ticket) Release() {
	if t == nil || t.owner == nil {
		return
	}

	t.owner.Release(t)
}

// Released reports whether Release has been called.
func (t *Ticket) Released() bool {
	return t.released.Load()
}

type ticketKey struct {
	tenantID string
	id       string
}
