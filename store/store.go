// Package store provides persistent server state backed by an embedded
// SQLite database. It owns the database lifecycle and backs the two
// external collaborators the core engine depends on: join authorization,
// implemented as a ban-list lookup, and disconnect notification,
// implemented as a bounded disconnect log.
//
// Migration design: SQL statements are kept in the [migrations] slice as
// ordered strings. Each is applied exactly once; the applied version is
// tracked in the schema_migrations table. To add a migration, append a new
// string — never edit or reorder existing entries.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"

	_ "modernc.org/sqlite"
)

// migrations holds the ordered list of DDL/DML statements that bring the
// schema up to date. Index i corresponds to version i+1.
var migrations = []string{
	// v1 — settings key/value store
	`CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	// v2 — room catalog
	`CREATE TABLE IF NOT EXISTS rooms (
		id   INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	// v3 — hwid ban list, backing try_join(hwid)
	`CREATE TABLE IF NOT EXISTS bans (
		hwid       TEXT PRIMARY KEY,
		reason     TEXT NOT NULL DEFAULT '',
		banned_by  TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v4 — disconnect log, backing on_disconnect(hwid)
	`CREATE TABLE IF NOT EXISTS disconnect_log (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		hwid            TEXT NOT NULL,
		disconnected_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v5 — index on disconnect_log time
	`CREATE INDEX IF NOT EXISTS idx_disconnect_log_time ON disconnect_log(disconnected_at)`,
	// v6 — enable WAL mode
	`PRAGMA journal_mode=WAL`,
}

// maxDisconnectLogRows bounds the disconnect log exactly like the bans
// table is otherwise unbounded; old rows are of little operational value.
const maxDisconnectLogRows = 10000

// Store wraps a SQLite database and exposes server-state operations.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at path and applies any
// pending migrations. Use ":memory:" for ephemeral in-process storage
// (tests).
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Allow multiple read connections but serialise writes.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		log.Printf("[store] WAL mode: %v (non-fatal)", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Printf("[store] busy_timeout: %v (non-fatal)", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the schema_migrations table (if absent) and applies any
// migrations whose version number exceeds the current maximum.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		log.Printf("[store] applied migration v%d", v)
	}
	return nil
}

// GetSetting returns the value stored under key. The second return value is
// false when the key does not exist; an error is only returned for real I/O
// failures.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var val string
	err := s.db.QueryRow(
		`SELECT value FROM settings WHERE key = ?`, key,
	).Scan(&val)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetSetting upserts key → value in the settings table.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetAllSettings returns all key/value pairs from the settings table.
func (s *Store) GetAllSettings() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		settings[k] = v
	}
	return settings, rows.Err()
}

// ---------------------------------------------------------------------------
// Room catalog
// ---------------------------------------------------------------------------

// Room is a row of the persisted room catalog.
type Room struct {
	ID   uint16
	Name string
}

// GetRooms returns the full room catalog ordered by id.
func (s *Store) GetRooms() ([]Room, error) {
	rows, err := s.db.Query(`SELECT id, name FROM rooms ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// createRoomMu serialises CreateRoom's read-then-insert so concurrent
// callers never pick the same id.
var createRoomMu sync.Mutex

// CreateRoom inserts a new room at the next free id (max(id)+1, or 0 if the
// catalog is empty) and returns it. Returns an error if name is already
// taken.
func (s *Store) CreateRoom(name string) (uint16, error) {
	createRoomMu.Lock()
	defer createRoomMu.Unlock()

	var nextID sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(id) FROM rooms`).Scan(&nextID); err != nil {
		return 0, err
	}
	id := uint16(0)
	if nextID.Valid {
		id = uint16(nextID.Int64 + 1)
	}
	if _, err := s.db.Exec(`INSERT INTO rooms(id, name) VALUES(?, ?)`, id, name); err != nil {
		return 0, err
	}
	return id, nil
}

// RoomCount returns the number of rooms currently stored.
func (s *Store) RoomCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM rooms`).Scan(&n)
	return n, err
}

// ---------------------------------------------------------------------------
// Bans — backs the try_join(hwid) external collaborator
// ---------------------------------------------------------------------------

// Ban represents a row in the bans table.
type Ban struct {
	HWID      string
	Reason    string
	BannedBy  string
	CreatedAt int64
}

// InsertBan bans hwid with the given reason, upserting if already present.
func (s *Store) InsertBan(hwid, reason, bannedBy string) error {
	_, err := s.db.Exec(
		`INSERT INTO bans(hwid, reason, banned_by) VALUES(?,?,?)
		 ON CONFLICT(hwid) DO UPDATE SET reason = excluded.reason, banned_by = excluded.banned_by`,
		hwid, reason, bannedBy,
	)
	return err
}

// GetBans returns all bans, most recently created first.
func (s *Store) GetBans() ([]Ban, error) {
	rows, err := s.db.Query(
		`SELECT hwid, reason, banned_by, created_at FROM bans ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bans []Ban
	for rows.Next() {
		var b Ban
		if err := rows.Scan(&b.HWID, &b.Reason, &b.BannedBy, &b.CreatedAt); err != nil {
			return nil, err
		}
		bans = append(bans, b)
	}
	return bans, rows.Err()
}

// IsBanned reports whether hwid is banned, and if so, the stored reason.
func (s *Store) IsBanned(hwid string) (bool, string, error) {
	var reason string
	err := s.db.QueryRow(`SELECT reason FROM bans WHERE hwid = ?`, hwid).Scan(&reason)
	if err == sql.ErrNoRows {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, reason, nil
}

// DeleteBan removes a ban by hwid. Returns sql.ErrNoRows if no such ban
// exists.
func (s *Store) DeleteBan(hwid string) error {
	res, err := s.db.Exec(`DELETE FROM bans WHERE hwid = ?`, hwid)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---------------------------------------------------------------------------
// Disconnect log — backs the on_disconnect(hwid) external collaborator
// ---------------------------------------------------------------------------

// RecordDisconnect appends a disconnect event for hwid and purges the
// oldest rows beyond maxDisconnectLogRows.
func (s *Store) RecordDisconnect(hwid string) error {
	if _, err := s.db.Exec(`INSERT INTO disconnect_log(hwid) VALUES(?)`, hwid); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`DELETE FROM disconnect_log WHERE id NOT IN (SELECT id FROM disconnect_log ORDER BY id DESC LIMIT ?)`,
		maxDisconnectLogRows,
	)
	return err
}

// DisconnectCount returns the number of recorded disconnects for hwid.
func (s *Store) DisconnectCount(hwid string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM disconnect_log WHERE hwid = ?`, hwid).Scan(&n)
	return n, err
}

// ---------------------------------------------------------------------------
// Misc
// ---------------------------------------------------------------------------

// Optimize runs PRAGMA optimize for SQLite query planner statistics.
func (s *Store) Optimize() error {
	_, err := s.db.Exec(`PRAGMA optimize`)
	return err
}

// Backup creates a copy of the database at destPath via VACUUM INTO.
func (s *Store) Backup(destPath string) error {
	_, err := s.db.Exec(`VACUUM INTO ?`, destPath)
	return err
}

// ---------------------------------------------------------------------------
// Collaborator wiring
// ---------------------------------------------------------------------------

// Authorizer backs the engine's join-authorization collaborator with the
// bans table: any banned hwid is refused.
type Authorizer struct {
	store *Store
}

// NewAuthorizer returns an Authorizer backed by s.
func NewAuthorizer(s *Store) *Authorizer {
	return &Authorizer{store: s}
}

// TryJoin returns an error naming the ban reason if hwid is banned.
func (a *Authorizer) TryJoin(ctx context.Context, hwid string) error {
	banned, reason, err := a.store.IsBanned(hwid)
	if err != nil {
		return fmt.Errorf("ban lookup failed: %w", err)
	}
	if banned {
		if reason == "" {
			reason = "banned"
		}
		return errors.New(reason)
	}
	return nil
}

// DisconnectRecorder backs the engine's on_disconnect collaborator by
// appending to the disconnect_log table.
type DisconnectRecorder struct {
	store *Store
}

// NewDisconnectRecorder returns a DisconnectRecorder backed by s.
func NewDisconnectRecorder(s *Store) *DisconnectRecorder {
	return &DisconnectRecorder{store: s}
}

// OnDisconnect records hwid's disconnect. Write failures are logged, not
// propagated: the caller (the engine) has no recovery path for them and a
// lost log row is not worth the connection.
func (d *DisconnectRecorder) OnDisconnect(hwid string) {
	if err := d.store.RecordDisconnect(hwid); err != nil {
		log.Printf("[store] record disconnect for %q: %v", hwid, err)
	}
}
