package registration

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"squadbot/pkg/directory"
	"squadbot/pkg/message"
)

type hangingDirectory struct {
	release chan struct{}
}

func (d hangingDirectory) Lookup(context.Context, string, message.SenderID) (directory.MembershipRecord, error) {
	<-d.release
	return directory.MembershipRecord{}, directory.ErrNotFound
}

type flakyDirectory struct {
	failures int32
	calls    atomic.Int32
	record   directory.MembershipRecord
	err      error
}

func (d *flakyDirectory) Lookup(context.Context, string, message.SenderID) (directory.MembershipRecord, error) {
	call := d.calls.Add(1)
	if call <= d.failures {
		if d.err != nil {
			return directory.MembershipRecord{}, d.err
		}
		return directory.MembershipRecord{}, directory.ErrUnavailable
	}
	if d.record.TenantID == "" {
		return directory.MembershipRecord{}, directory.ErrNotFound
	}

	return d.record, nil
}

func TestResolveReturnsUnregisteredWhenLookupsHang(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	timeout := 50 * time.Millisecond
	resolver := NewResolver(hangingDirectory{release}, hangingDirectory{release}, Options{Timeout: timeout}, nil)

	start := time.Now()
	status := resolver.Resolve(context.Background(), "t1", 1)
	elapsed := time.Since(start)

	require.Equal(t, message.Unregistered, status)
	require.Less(t, elapsed, timeout+500*time.Millisecond)
}

func TestResolveHonorsCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	resolver := NewResolver(hangingDirectory{release}, hangingDirectory{release}, Options{Timeout: time.Minute}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	identity := resolver.Identify(ctx, "t1", 1)
	require.Equal(t, message.Unregistered, identity.Status)
	require.Equal(t, message.TierPublic, identity.Tier)
}

func TestResolveStatusCombinations(t *testing.T) {
	active := directory.MembershipRecord{TenantID: "t1", SenderID: 5, Status: directory.StatusActive}
	pending := directory.MembershipRecord{TenantID: "t1", SenderID: 5, Status: directory.StatusPending}

	tests := []struct {
		name    string
		players []directory.MembershipRecord
		members []directory.MembershipRecord
		want    message.RegistrationStatus
	}{
		{name: "neither", want: message.Unregistered},
		{name: "player only", players: []directory.MembershipRecord{active}, want: message.RegisteredActive},
		{name: "member only", members: []directory.MembershipRecord{active}, want: message.RegisteredActive},
		{name: "pending player", players: []directory.MembershipRecord{pending}, want: message.RegisteredPending},
		{name: "pending and active", players: []directory.MembershipRecord{pending}, members: []directory.MembershipRecord{active}, want: message.RegisteredActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := NewResolver(directory.NewMemory(tt.players...), directory.NewMemory(tt.members...), Options{}, nil)
			if got := resolver.Resolve(context.Background(), "t1", 5); got != tt.want {
				t.Fatalf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveRetriesUnavailableDirectory(t *testing.T) {
	players := &flakyDirectory{
		failures: 2,
		record:   directory.MembershipRecord{TenantID: "t1", SenderID: 5, Status: directory.StatusActive},
	}
	resolver := NewResolver(players, directory.NewMemory(), Options{MaxRetries: 2, Backoff: time.Millisecond}, nil)

	identity := resolver.Identify(context.Background(), "t1", 5)
	require.Equal(t, message.RegisteredActive, identity.Status)
	require.Equal(t, message.TierMember, identity.Tier)
	require.EqualValues(t, 3, players.calls.Load())
}

func TestResolveGivesUpAfterMaxRetries(t *testing.T) {
	players := &flakyDirectory{
		failures: 5,
		record:   directory.MembershipRecord{TenantID: "t1", SenderID: 5, Status: directory.StatusActive},
	}
	resolver := NewResolver(players, directory.NewMemory(), Options{MaxRetries: 2, Backoff: time.Millisecond}, nil)

	require.Equal(t, message.Unregistered, resolver.Resolve(context.Background(), "t1", 5))
	require.EqualValues(t, 3, players.calls.Load())
}

func TestResolveDoesNotRetryOtherFailures(t *testing.T) {
	players := &flakyDirectory{failures: 1, err: errors.New("boom")}
	resolver := NewResolver(players, directory.NewMemory(), Options{MaxRetries: 2, Backoff: time.Millisecond}, nil)

	require.Equal(t, message.Unregistered, resolver.Resolve(context.Background(), "t1", 5))
	require.EqualValues(t, 1, players.calls.Load())
}

func TestIdentifyTiers(t *testing.T) {
	members := directory.NewMemory(
		directory.MembershipRecord{TenantID: "t1", SenderID: 1, Role: "member"},
		directory.MembershipRecord{TenantID: "t1", SenderID: 2, Role: "captain"},
		directory.MembershipRecord{TenantID: "t1", SenderID: 3, Role: "admin", Status: directory.StatusPending},
	)
	players := directory.NewMemory(
		directory.MembershipRecord{TenantID: "t1", SenderID: 2, Role: "player"},
	)
	resolver := NewResolver(players, members, Options{SystemSenders: []message.SenderID{99}}, nil)

	ctx := context.Background()
	require.Equal(t, Identity{Status: message.RegisteredActive, Tier: message.TierMember}, resolver.Identify(ctx, "t1", 1))
	require.Equal(t, Identity{Status: message.RegisteredActive, Tier: message.TierLeadership}, resolver.Identify(ctx, "t1", 2))
	require.Equal(t, Identity{Status: message.RegisteredPending, Tier: message.TierPublic}, resolver.Identify(ctx, "t1", 3))
	require.Equal(t, Identity{Status: message.RegisteredActive, Tier: message.TierSystem}, resolver.Identify(ctx, "t1", 99))
}

func TestCombineIgnoresInactive(t *testing.T) {
	got := Combine(directory.MembershipRecord{Status: directory.StatusInactive, Role: "admin"})
	require.Equal(t, message.Unregistered, got.Status)
	require.Equal(t, message.TierPublic, got.Tier)
}
