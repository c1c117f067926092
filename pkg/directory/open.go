package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"squadbot/pkg/config"
	"squadbot/pkg/message"
)

// Set holds the two directories consulted during registration resolution.
type Set struct {
	Players Directory
	Members Directory

	stores []*SQLStore
}

// Open builds the directory pair described by cfg. The memory driver is
// seeded from cfg.Members; SQL drivers connect lazily on first lookup.
func Open(cfg config.DirectoryConfig) (*Set, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))

	switch driver {
	case "", "memory":
		players := NewMemory()
		members := NewMemory()
		for _, seed := range cfg.Members {
			record := recordFromConfig(seed)
			if err := ValidateRecord(record); err != nil {
				return nil, fmt.Errorf("directory seed for sender %d: %w", seed.SenderID, err)
			}

			switch strings.ToLower(strings.TrimSpace(seed.Directory)) {
			case Players:
				players.Put(record)
			case Members, "":
				members.Put(record)
			default:
				return nil, fmt.Errorf("directory seed for sender %d: unknown directory %q", seed.SenderID, seed.Directory)
			}
		}
		return &Set{Players: players, Members: members}, nil
	case DriverSQLite, DriverPostgres:
		players, err := NewSQLStore(driver, cfg.DSN, Players)
		if err != nil {
			return nil, err
		}
		members, err := NewSQLStore(driver, cfg.DSN, Members)
		if err != nil {
			return nil, err
		}
		return &Set{Players: players, Members: members, stores: []*SQLStore{players, members}}, nil
	default:
		return nil, fmt.Errorf("unsupported directory driver %q", cfg.Driver)
	}
}

// Store returns the writable SQL store for a directory name, or nil for
// in-memory sets.
func (s *Set) Store(name string) *SQLStore {
	for _, store := range s.stores {
		want, _ := tableFor(name)
		if store.table == want {
			return store
		}
	}

	return nil
}

// EnsureSchema creates SQL tables; it is a no-op for memory directories.
func (s *Set) EnsureSchema(ctx context.Context) error {
	for _, store := range s.stores {
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (s *Set) Close() error {
	var errs []error
	for _, store := range s.stores {
		errs = append(errs, store.Close())
	}

	return errors.Join(errs...)
}

func recordFromConfig(seed config.MembershipConfig) MembershipRecord {
	return normalizeRecord(MembershipRecord{
		TenantID: seed.TenantID,
		SenderID: message.SenderID(seed.SenderID),
		Name:     seed.Name,
		Role:     seed.Role,
		Status:   seed.Status,
	})
}
