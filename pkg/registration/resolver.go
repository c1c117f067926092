package registration

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"squadbot/pkg/directory"
	"squadbot/pkg/envelope"
	"squadbot/pkg/message"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 2
	DefaultBackoff    = 100 * time.Millisecond
)

// Options tunes a Resolver. A zero Timeout or Backoff uses the default;
// MaxRetries is taken as given.
type Options struct {
	Timeout       time.Duration
	MaxRetries    int
	Backoff       time.Duration
	SystemSenders []message.SenderID
}

// Identity is the resolved registration status and the tier derived from it.
type Identity struct {
	Status message.RegistrationStatus
	Tier   message.PermissionTier
}

var unregistered = Identity{Status: message.Unregistered, Tier: message.TierPublic}

// Resolver classifies a sender against the player and team-member directories.
type Resolver struct {
	players directory.Directory
	members directory.Directory
	opts    Options
	log     *slog.Logger
}

func NewResolver(players, members directory.Directory, opts Options, log *slog.Logger) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if log == nil {
		log = slog.Default()
	}

	return &Resolver{
		players: players,
		members: members,
		opts:    opts,
		log:     log.With("component", "registration.resolver"),
	}
}

// Resolve returns the sender's registration status. It never fails; lookup
// errors and timeouts yield Unregistered.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, senderID message.SenderID) message.RegistrationStatus {
	return r.Identify(ctx, tenantID, senderID).Status
}

// Identify resolves status and permission tier under one aggregate timeout.
func (r *Resolver) Identify(ctx context.Context, tenantID string, senderID message.SenderID) Identity {
	if slices.Contains(r.opts.SystemSenders, senderID) {
		return Identity{Status: message.RegisteredActive, Tier: message.TierSystem}
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	type outcome struct {
		records []directory.MembershipRecord
		err     error
	}

	// Buffered so the lookup goroutine can finish after we stop waiting.
	done := make(chan outcome, 1)
	go func() {
		var player, member *directory.MembershipRecord

		group, groupCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			var err error
			player, err = r.lookup(groupCtx, r.players, directory.Players, tenantID, senderID)
			return err
		})
		group.Go(func() error {
			var err error
			member, err = r.lookup(groupCtx, r.members, directory.Members, tenantID, senderID)
			return err
		})

		err := group.Wait()
		var records []directory.MembershipRecord
		for _, record := range []*directory.MembershipRecord{player, member} {
			if record != nil {
				records = append(records, *record)
			}
		}
		done <- outcome{records: records, err: err}
	}()

	select {
	case <-ctx.Done():
		r.log.Warn("registration lookup did not complete",
			"tenant_id", tenantID,
			"sender_id", senderID.String(),
			"error_code", envelope.CodeRegistrationTimeout,
			"error", ctx.Err(),
		)
		return unregistered
	case out := <-done:
		if out.err != nil {
			code := envelope.CodeInternalDispatch
			if errors.Is(out.err, context.DeadlineExceeded) {
				code = envelope.CodeRegistrationTimeout
			}
			r.log.Warn("registration lookup failed",
				"tenant_id", tenantID,
				"sender_id", senderID.String(),
				"error_code", code,
				"error", out.err,
			)
			return unregistered
		}

		identity := Combine(out.records...)
		r.log.Debug("registration resolved",
			"tenant_id", tenantID,
			"sender_id", senderID.String(),
			"status", identity.Status,
			"tier", identity.Tier.String(),
		)
		return identity
	}
}

// lookup queries one directory. NotFound is not an error. Only ErrUnavailable
// is retried, with exponential backoff bounded by ctx.
func (r *Resolver) lookup(ctx context.Context, dir directory.Directory, name string, tenantID string, senderID message.SenderID) (*directory.MembershipRecord, error) {
	if dir == nil {
		return nil, nil
	}

	backoff := r.opts.Backoff
	for attempt := 0; ; attempt++ {
		record, err := dir.Lookup(ctx, tenantID, senderID)
		switch {
		case err == nil:
			return &record, nil
		case errors.Is(err, directory.ErrNotFound):
			return nil, nil
		case !errors.Is(err, directory.ErrUnavailable) || attempt >= r.opts.MaxRetries:
			return nil, err
		}

		r.log.Debug("directory unavailable, retrying",
			"directory", name,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}

// Combine derives an Identity from the records found across directories.
// Any active record wins over pending ones; inactive records are ignored.
func Combine(records ...directory.MembershipRecord) Identity {
	identity := unregistered

	for _, record := range records {
		switch strings.ToLower(strings.TrimSpace(record.Status)) {
		case directory.StatusActive, "":
			tier := RoleTier(record.Role)
			if identity.Status != message.RegisteredActive || tier > identity.Tier {
				identity.Tier = tier
			}
			identity.Status = message.RegisteredActive
		case directory.StatusPending:
			if identity.Status == message.Unregistered {
				identity.Status = message.RegisteredPending
			}
		}
	}

	return identity
}

// RoleTier maps a directory role onto a permission tier. Unknown roles are members.
func RoleTier(role string) message.PermissionTier {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "admin", "owner":
		return message.TierAdmin
	case "leadership", "leader", "captain", "coach", "manager":
		return message.TierLeadership
	default:
		return message.TierMember
	}
}
