package store

import (
	"path/filepath"
	"sync"
	"testing"
)

// newFileStore opens a file-backed SQLite database in a temp directory.
// This is needed for concurrent write tests because :memory: databases
// do not support WAL mode properly under concurrent access.
func newFileStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ---------------------------------------------------------------------------
// Migration tests
// ---------------------------------------------------------------------------

func TestMigrationVersionSequence(t *testing.T) {
	s := newMemStore(t)

	rows, err := s.db.Query(`SELECT version FROM schema_migrations ORDER BY version ASC`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	expected := 1
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if v != expected {
			t.Errorf("expected migration version %d, got %d", expected, v)
		}
		expected++
	}
	if expected-1 != len(migrations) {
		t.Errorf("expected %d migration versions, found %d", len(migrations), expected-1)
	}
}

func TestMigrationAllTablesExist(t *testing.T) {
	s := newMemStore(t)

	tables := []string{
		"settings",
		"rooms",
		"bans",
		"disconnect_log",
	}

	for _, table := range tables {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&count)
		if err != nil {
			t.Errorf("table %q should exist: %v", table, err)
		}
	}
}

func TestMigrationIndexExists(t *testing.T) {
	s := newMemStore(t)

	var name string
	err := s.db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type='index' AND name='idx_disconnect_log_time'`,
	).Scan(&name)
	if err != nil {
		t.Errorf("index idx_disconnect_log_time should exist: %v", err)
	}
}

func TestMigrationJournalModeWAL(t *testing.T) {
	s := newFileStore(t)

	var mode string
	if err := s.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected journal_mode=wal, got %q", mode)
	}
}

// ---------------------------------------------------------------------------
// Concurrent read/write under WAL mode
// ---------------------------------------------------------------------------

func TestConcurrentReadWrite(t *testing.T) {
	s := newFileStore(t)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			s.SetSetting("counter", "value")
		}
	}()

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _, _ = s.GetSetting("counter")
			}
		}()
	}

	wg.Wait()
}

func TestConcurrentRoomCreation(t *testing.T) {
	s := newFileStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				name := "room-" + string(rune('A'+idx)) + "-" + string(rune('0'+j))
				_, _ = s.CreateRoom(name)
			}
		}(i)
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = s.GetRooms()
				_, _ = s.RoomCount()
			}
		}()
	}

	wg.Wait()

	n, err := s.RoomCount()
	if err != nil {
		t.Fatalf("RoomCount: %v", err)
	}
	if n != 50 {
		t.Errorf("expected 50 rooms after concurrent creation, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// Disconnect log auto-purge at maxDisconnectLogRows
// ---------------------------------------------------------------------------

func TestDisconnectLogPurgeKeepsMostRecent(t *testing.T) {
	s := newMemStore(t)

	n := maxDisconnectLogRows + 50
	for i := 0; i < n; i++ {
		if err := s.RecordDisconnect("hwid-x"); err != nil {
			t.Fatalf("RecordDisconnect %d: %v", i, err)
		}
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM disconnect_log`).Scan(&total); err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != maxDisconnectLogRows {
		t.Errorf("expected exactly %d rows after purge, got %d", maxDisconnectLogRows, total)
	}

	var minID int64
	if err := s.db.QueryRow(`SELECT MIN(id) FROM disconnect_log`).Scan(&minID); err != nil {
		t.Fatalf("min id: %v", err)
	}
	if want := int64(n - maxDisconnectLogRows + 1); minID != want {
		t.Errorf("expected oldest kept row id %d (most recent rows kept), got %d", want, minID)
	}
}

func TestDisconnectLogBelowThresholdNotPurged(t *testing.T) {
	s := newMemStore(t)

	for i := 0; i < 100; i++ {
		if err := s.RecordDisconnect("hwid-x"); err != nil {
			t.Fatalf("RecordDisconnect %d: %v", i, err)
		}
	}

	n, err := s.DisconnectCount("hwid-x")
	if err != nil {
		t.Fatalf("DisconnectCount: %v", err)
	}
	if n != 100 {
		t.Errorf("expected 100 entries (below purge threshold), got %d", n)
	}
}

// ---------------------------------------------------------------------------
// Concurrent disconnect log inserts
// ---------------------------------------------------------------------------

func TestConcurrentDisconnectInserts(t *testing.T) {
	s := newFileStore(t)

	// Concurrent writes to SQLite may encounter SQLITE_BUSY, retried
	// transparently via the busy_timeout pragma set in New. Verify no
	// panics and that at least some writes succeed.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = s.RecordDisconnect("hwid-concurrent")
			}
		}(i)
	}
	wg.Wait()

	n, err := s.DisconnectCount("hwid-concurrent")
	if err != nil {
		t.Fatalf("DisconnectCount: %v", err)
	}
	if n == 0 {
		t.Error("expected at least some disconnect log entries after concurrent inserts")
	}
}

// ---------------------------------------------------------------------------
// Concurrent ban inserts
// ---------------------------------------------------------------------------

func TestConcurrentBanInserts(t *testing.T) {
	s := newFileStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				hwid := "hwid-" + string(rune('A'+idx))
				_ = s.InsertBan(hwid, "reason", "admin")
			}
		}(i)
	}
	wg.Wait()

	bans, err := s.GetBans()
	if err != nil {
		t.Fatalf("GetBans: %v", err)
	}
	if len(bans) == 0 {
		t.Error("expected at least some bans after concurrent inserts")
	}
}

// ---------------------------------------------------------------------------
// GetAllSettings
// ---------------------------------------------------------------------------

func TestGetAllSettings(t *testing.T) {
	s := newMemStore(t)

	s.SetSetting("key1", "val1")
	s.SetSetting("key2", "val2")
	s.SetSetting("key3", "val3")

	settings, err := s.GetAllSettings()
	if err != nil {
		t.Fatalf("GetAllSettings: %v", err)
	}
	if len(settings) != 3 {
		t.Fatalf("expected 3 settings, got %d", len(settings))
	}
	if settings["key1"] != "val1" || settings["key2"] != "val2" || settings["key3"] != "val3" {
		t.Errorf("unexpected settings: %v", settings)
	}
}

func TestGetAllSettingsEmpty(t *testing.T) {
	s := newMemStore(t)

	settings, err := s.GetAllSettings()
	if err != nil {
		t.Fatalf("GetAllSettings: %v", err)
	}
	if len(settings) != 0 {
		t.Errorf("expected empty map, got %v", settings)
	}
}

// ---------------------------------------------------------------------------
// Backup
// ---------------------------------------------------------------------------

func TestBackupCreatesValidDB(t *testing.T) {
	s := newMemStore(t)

	s.SetSetting("backup_test", "value123")
	s.CreateRoom("TestRoom")

	backupPath := t.TempDir() + "/backup.db"
	if err := s.Backup(backupPath); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	backup, err := New(backupPath)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer backup.Close()

	val, ok, err := backup.GetSetting("backup_test")
	if err != nil || !ok || val != "value123" {
		t.Errorf("backup setting: val=%q ok=%v err=%v", val, ok, err)
	}

	rooms, err := backup.GetRooms()
	if err != nil {
		t.Fatalf("GetRooms from backup: %v", err)
	}
	if len(rooms) != 1 || rooms[0].Name != "TestRoom" {
		t.Errorf("backup rooms: got %v", rooms)
	}
}

// ---------------------------------------------------------------------------
// Room ordering
// ---------------------------------------------------------------------------

func TestRoomsOrderedByID(t *testing.T) {
	s := newMemStore(t)

	s.CreateRoom("Alpha")
	s.CreateRoom("Beta")
	s.CreateRoom("Gamma")

	rooms, err := s.GetRooms()
	if err != nil {
		t.Fatalf("GetRooms: %v", err)
	}
	if len(rooms) != 3 {
		t.Fatalf("expected 3, got %d", len(rooms))
	}
	if rooms[0].Name != "Alpha" || rooms[1].Name != "Beta" || rooms[2].Name != "Gamma" {
		t.Errorf("unexpected order: %v", rooms)
	}
}
