package store

import (
	"database/sql"
	"testing"
)

// newMemStore opens an in-memory SQLite database, runs migrations, and returns
// the store. The database is discarded when the test process exits.
func newMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsApplied verifies that after opening a fresh database every
// migration has been recorded in schema_migrations.
func TestMigrationsApplied(t *testing.T) {
	s := newMemStore(t)

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("query schema_migrations: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("expected %d migrations recorded, got %d", len(migrations), count)
	}
}

// TestMigrationsIdempotent verifies that calling migrate a second time on an
// already-migrated store applies nothing further.
func TestMigrationsIdempotent(t *testing.T) {
	s := newMemStore(t)

	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("expected %d rows after second migrate, got %d", len(migrations), count)
	}
}

// TestGetSetSetting verifies the basic read/write contract of the settings
// table.
func TestGetSetSetting(t *testing.T) {
	s := newMemStore(t)

	val, ok, err := s.GetSetting("server_name")
	if err != nil {
		t.Fatalf("GetSetting missing key: %v", err)
	}
	if ok {
		t.Errorf("expected ok=false for missing key, got %q", val)
	}

	if err := s.SetSetting("server_name", "My Server"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}

	val, ok, err = s.GetSetting("server_name")
	if err != nil {
		t.Fatalf("GetSetting after set: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true after set")
	}
	if val != "My Server" {
		t.Errorf("expected %q, got %q", "My Server", val)
	}
}

// TestSetSettingUpsert verifies that SetSetting overwrites an existing value.
func TestSetSettingUpsert(t *testing.T) {
	s := newMemStore(t)

	if err := s.SetSetting("x", "first"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting("x", "second"); err != nil {
		t.Fatal(err)
	}

	val, ok, err := s.GetSetting("x")
	if err != nil || !ok {
		t.Fatalf("GetSetting: val=%q ok=%v err=%v", val, ok, err)
	}
	if val != "second" {
		t.Errorf("expected %q after upsert, got %q", "second", val)
	}
}

// TestMultipleSettings verifies that distinct keys are stored independently.
func TestMultipleSettings(t *testing.T) {
	s := newMemStore(t)

	pairs := [][2]string{
		{"key_a", "val_a"},
		{"key_b", "val_b"},
		{"key_c", "val_c"},
	}
	for _, p := range pairs {
		if err := s.SetSetting(p[0], p[1]); err != nil {
			t.Fatalf("SetSetting %q: %v", p[0], err)
		}
	}

	all, err := s.GetAllSettings()
	if err != nil {
		t.Fatalf("GetAllSettings: %v", err)
	}
	for _, p := range pairs {
		if all[p[0]] != p[1] {
			t.Errorf("GetAllSettings[%q]: got %q, want %q", p[0], all[p[0]], p[1])
		}
	}
}

// --- Room catalog tests ---

func TestCreateAndGetRooms(t *testing.T) {
	s := newMemStore(t)

	id, err := s.CreateRoom("Lobby")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected first room id 0, got %d", id)
	}

	rooms, err := s.GetRooms()
	if err != nil {
		t.Fatalf("GetRooms: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("expected 1 room, got %d", len(rooms))
	}
	if rooms[0].Name != "Lobby" {
		t.Errorf("expected name %q, got %q", "Lobby", rooms[0].Name)
	}
}

func TestCreateRoomAssignsSequentialIDs(t *testing.T) {
	s := newMemStore(t)

	id1, _ := s.CreateRoom("Lobby")
	id2, _ := s.CreateRoom("Gaming")
	id3, _ := s.CreateRoom("Music")

	if id1 != 0 || id2 != 1 || id3 != 2 {
		t.Errorf("expected ids 0,1,2, got %d,%d,%d", id1, id2, id3)
	}
}

func TestGetRoomsEmpty(t *testing.T) {
	s := newMemStore(t)

	rooms, err := s.GetRooms()
	if err != nil {
		t.Fatalf("GetRooms: %v", err)
	}
	if len(rooms) != 0 {
		t.Errorf("expected 0 rooms, got %d", len(rooms))
	}
}

func TestCreateRoomDuplicateName(t *testing.T) {
	s := newMemStore(t)

	if _, err := s.CreateRoom("Lobby"); err != nil {
		t.Fatalf("first CreateRoom: %v", err)
	}
	if _, err := s.CreateRoom("Lobby"); err == nil {
		t.Fatal("expected error for duplicate room name, got nil")
	}
}

func TestRoomCount(t *testing.T) {
	s := newMemStore(t)

	n, err := s.RoomCount()
	if err != nil || n != 0 {
		t.Fatalf("expected 0, got %d err=%v", n, err)
	}

	s.CreateRoom("A")
	s.CreateRoom("B")

	n, err = s.RoomCount()
	if err != nil || n != 2 {
		t.Fatalf("expected 2, got %d err=%v", n, err)
	}
}

// --- Ban list tests ---

func TestInsertAndCheckBan(t *testing.T) {
	s := newMemStore(t)

	banned, _, err := s.IsBanned("hwid-1")
	if err != nil {
		t.Fatalf("IsBanned: %v", err)
	}
	if banned {
		t.Fatal("expected hwid-1 not banned")
	}

	if err := s.InsertBan("hwid-1", "spamming", "admin"); err != nil {
		t.Fatalf("InsertBan: %v", err)
	}

	banned, reason, err := s.IsBanned("hwid-1")
	if err != nil {
		t.Fatalf("IsBanned after insert: %v", err)
	}
	if !banned {
		t.Fatal("expected hwid-1 banned")
	}
	if reason != "spamming" {
		t.Errorf("expected reason %q, got %q", "spamming", reason)
	}
}

func TestInsertBanUpsert(t *testing.T) {
	s := newMemStore(t)

	s.InsertBan("hwid-1", "first reason", "admin")
	s.InsertBan("hwid-1", "second reason", "admin")

	_, reason, err := s.IsBanned("hwid-1")
	if err != nil {
		t.Fatal(err)
	}
	if reason != "second reason" {
		t.Errorf("expected upsert to replace reason, got %q", reason)
	}
}

func TestGetBans(t *testing.T) {
	s := newMemStore(t)

	s.InsertBan("hwid-1", "r1", "admin")
	s.InsertBan("hwid-2", "r2", "admin")

	bans, err := s.GetBans()
	if err != nil {
		t.Fatalf("GetBans: %v", err)
	}
	if len(bans) != 2 {
		t.Fatalf("expected 2 bans, got %d", len(bans))
	}
}

func TestDeleteBan(t *testing.T) {
	s := newMemStore(t)

	s.InsertBan("hwid-1", "r1", "admin")
	if err := s.DeleteBan("hwid-1"); err != nil {
		t.Fatalf("DeleteBan: %v", err)
	}

	banned, _, _ := s.IsBanned("hwid-1")
	if banned {
		t.Error("expected hwid-1 unbanned after delete")
	}
}

func TestDeleteBanNotFound(t *testing.T) {
	s := newMemStore(t)

	err := s.DeleteBan("nonexistent")
	if err != sql.ErrNoRows {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}

// --- Disconnect log tests ---

func TestRecordAndCountDisconnects(t *testing.T) {
	s := newMemStore(t)

	for i := 0; i < 3; i++ {
		if err := s.RecordDisconnect("hwid-1"); err != nil {
			t.Fatalf("RecordDisconnect: %v", err)
		}
	}

	n, err := s.DisconnectCount("hwid-1")
	if err != nil {
		t.Fatalf("DisconnectCount: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 disconnects, got %d", n)
	}
}

func TestDisconnectCountUnrelatedHWID(t *testing.T) {
	s := newMemStore(t)

	s.RecordDisconnect("hwid-1")

	n, err := s.DisconnectCount("hwid-2")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected 0 disconnects for unrelated hwid, got %d", n)
	}
}
