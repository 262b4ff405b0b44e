// Package sqlite implements the relay's persistence store backed by
// SQLite: doc:<name> snapshots and room:<id> metadata in two tables behind
// the store.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/obsliveshare/relay/internal/domain"
)

const (
	defaultMaxOpenConns = 10
	defaultMaxIdleConns = 10
)

// Store wraps a SQLite database connection for the relay's persistence
// operations.
type Store struct {
	db *sql.DB
}

// OpenOptions controls SQLite connection pool sizing.
type OpenOptions struct {
	MaxOpenConns int
	MaxIdleConns int
}

// Open creates or opens the SQLite database at path, runs migrations, and
// enables WAL mode for improved concurrent read performance.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, OpenOptions{})
}

// OpenWithOptions creates or opens the SQLite database at path with tunable
// connection pool settings, runs migrations, and enables WAL mode.
func OpenWithOptions(path string, opts OpenOptions) (*Store, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=foreign_keys(1)&_pragma=synchronous(normal)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	maxOpenConns := opts.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}
	maxIdleConns := opts.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = defaultMaxIdleConns
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	// journal_mode and busy_timeout are database-wide; set them once here.
	// foreign_keys and synchronous are per-connection and handled via the
	// DSN _pragma parameters above.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite setup (%s): %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection. Idempotent: closing an
// already-closed *sql.DB returns nil.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS docs (
			name TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// LoadDoc returns the persisted snapshot for name, or ok == false if none
// exists. A missing key is a normal condition, not an error.
func (s *Store) LoadDoc(ctx context.Context, name string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM docs WHERE name = ?`, name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load doc %s: %w", name, err)
	}
	return data, true, nil
}

// PersistDoc overwrites the persisted snapshot for name.
func (s *Store) PersistDoc(ctx context.Context, name string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO docs (name, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, name, data, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("persist doc %s: %w", name, err)
	}
	return nil
}

type roomRow struct {
	ID                string `json:"id"`
	Token             string `json:"token"`
	Name              string `json:"name"`
	HostUserID        string `json:"hostUserId,omitempty"`
	RequireApproval   bool   `json:"requireApproval,omitempty"`
	DefaultPermission string `json:"defaultPermission,omitempty"`
	CreatedAt         int64  `json:"createdAt"`
}

func encodeRoom(r domain.Room) ([]byte, error) {
	return json.Marshal(roomRow{
		ID:                r.ID,
		Token:             r.Token,
		Name:              r.Name,
		HostUserID:        r.HostUserID,
		RequireApproval:   r.RequireApproval,
		DefaultPermission: r.DefaultPermission,
		CreatedAt:         r.CreatedAt.UTC().UnixNano(),
	})
}

func decodeRoom(data []byte) (domain.Room, error) {
	var row roomRow
	if err := json.Unmarshal(data, &row); err != nil {
		return domain.Room{}, err
	}
	return domain.Room{
		ID:                row.ID,
		Token:             row.Token,
		Name:              row.Name,
		HostUserID:        row.HostUserID,
		RequireApproval:   row.RequireApproval,
		DefaultPermission: row.DefaultPermission,
		CreatedAt:         time.Unix(0, row.CreatedAt).UTC(),
	}, nil
}

// SaveRoom creates or overwrites a room's persisted metadata.
func (s *Store) SaveRoom(ctx context.Context, room domain.Room) error {
	data, err := encodeRoom(room)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", room.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, room.ID, string(data), time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("save room %s: %w", room.ID, err)
	}
	return nil
}

// DeleteRoom removes a room's persisted metadata. Deleting an unknown id
// is not an error.
func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete room %s: %w", id, err)
	}
	return nil
}

// LoadAllRooms returns every persisted room, for startup population of the
// registry.
func (s *Store) LoadAllRooms(ctx context.Context) ([]domain.Room, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM rooms`)
	if err != nil {
		return nil, fmt.Errorf("load all rooms: %w", err)
	}
	defer rows.Close()

	var out []domain.Room
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		room, err := decodeRoom([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("decode room: %w", err)
		}
		out = append(out, room)
	}
	return out, rows.Err()
}

func ensureParentDir(path string) error {
	path = strings.TrimSpace(path)
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
