package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"squadbot/pkg/message"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLStore is a directory backed by a players or members table.
//
// The connection is opened lazily on first use; a failed open or ping is
// reported as ErrUnavailable so callers may retry.
type SQLStore struct {
	driver string
	dsn    string
	table  string

	mu sync.Mutex
	db *sql.DB
}

// NewSQLStore returns a store for one of the two directories (Players or Members).
func NewSQLStore(driver string, dsn string, name string) (*SQLStore, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported directory driver %q", driver)
	}

	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("directory dsn is required")
	}

	table, err := tableFor(name)
	if err != nil {
		return nil, err
	}

	return &SQLStore{driver: driver, dsn: strings.TrimSpace(dsn), table: table}, nil
}

// NewSQLStoreFromDB wraps an already-open database handle.
func NewSQLStoreFromDB(db *sql.DB, driver string, name string) (*SQLStore, error) {
	table, err := tableFor(name)
	if err != nil {
		return nil, err
	}

	return &SQLStore{driver: strings.ToLower(strings.TrimSpace(driver)), table: table, db: db}, nil
}

func tableFor(name string) (string, error) {
	switch name {
	case Players:
		return "players", nil
	case Members:
		return "team_members", nil
	default:
		return "", fmt.Errorf("unknown directory %q", name)
	}
}

// EnsureSchema creates the backing table when it does not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		tenant_id TEXT NOT NULL,
		sender_id BIGINT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'member',
		status TEXT NOT NULL DEFAULT 'active',
		PRIMARY KEY (tenant_id, sender_id)
	)`)
	if err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}

	return nil
}

func (s *SQLStore) Lookup(ctx context.Context, tenantID string, senderID message.SenderID) (MembershipRecord, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return MembershipRecord{}, err
	}

	row := db.QueryRowContext(ctx,
		`SELECT tenant_id, sender_id, name, role, status FROM `+s.table+
			` WHERE tenant_id = `+s.placeholder(1)+` AND sender_id = `+s.placeholder(2),
		strings.TrimSpace(tenantID), int64(senderID),
	)

	var (
		record MembershipRecord
		rawID  int64
	)
	if err := row.Scan(&record.TenantID, &rawID, &record.Name, &record.Role, &record.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MembershipRecord{}, ErrNotFound
		}
		return MembershipRecord{}, fmt.Errorf("lookup %s: %w", s.table, err)
	}
	record.SenderID = message.SenderID(rawID)

	return normalizeRecord(record), nil
}

// Put inserts or replaces a record.
func (s *SQLStore) Put(ctx context.Context, record MembershipRecord) error {
	record = normalizeRecord(record)
	if err := ValidateRecord(record); err != nil {
		return err
	}
	if record.Role == "" {
		record.Role = "member"
	}

	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO `+s.table+` (tenant_id, sender_id, name, role, status) VALUES (`+
			s.placeholder(1)+`, `+s.placeholder(2)+`, `+s.placeholder(3)+`, `+s.placeholder(4)+`, `+s.placeholder(5)+
			`) ON CONFLICT (tenant_id, sender_id) DO UPDATE SET name = excluded.name, role = excluded.role, status = excluded.status`,
		record.TenantID, int64(record.SenderID), record.Name, record.Role, record.Status,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", s.table, err)
	}

	return nil
}

// Close releases the underlying connection pool if this store opened it.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil || s.dsn == "" {
		return nil
	}

	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLStore) conn(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}

	db, err := sql.Open(s.driverName(), s.dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, s.driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrUnavailable, s.driver, err)
	}

	s.db = db
	return db, nil
}

func (s *SQLStore) driverName() string {
	if s.driver == DriverPostgres {
		return "pgx"
	}

	return "sqlite"
}

func (s *SQLStore) placeholder(n int) string {
	if s.driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}

	return "?"
}
