package db

import (
	"path/filepath"
	"testing"
)

func TestOpenSQLiteWithMigrations_CreatesCoreTables(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sitecrew.db")
	sqlDB, err := OpenSQLiteWithMigrations(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLiteWithMigrations failed: %v", err)
	}
	defer sqlDB.Close()

	for _, name := range []string{"projects", "turns", "files", "knowledge_entries"} {
		var got string
		if err := sqlDB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&got); err != nil {
			t.Fatalf("missing table %s: %v", name, err)
		}
	}
}

func TestOpenSQLiteWithMigrations_IsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sitecrew.db")
	sqlDB, err := OpenSQLiteWithMigrations(dbPath)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	_ = sqlDB.Close()

	sqlDB, err = OpenSQLiteWithMigrations(dbPath)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer sqlDB.Close()

	var n int
	if err := sqlDB.QueryRow(`SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='projects'`).Scan(&n); err != nil {
		t.Fatalf("count projects table failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected projects table after second open, got count %d", n)
	}
}

func TestMigrateUp_DropsOrphansAndPlaceholders(t *testing.T) {
	gdb, err := Open(filepath.Join(t.TempDir(), "sitecrew.db"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := gdb.Create(&Project{ProjectID: "1", Title: "kept"}).Error; err != nil {
		t.Fatalf("insert project failed: %v", err)
	}
	rows := []Turn{
		{TurnID: "t1", ProjectID: "1", Agent: "User", Content: ""},
		{TurnID: "t2", ProjectID: "1", Agent: "Manager", Content: "", Pending: "loading"},
		{TurnID: "t3", ProjectID: "1", Agent: "Manager", Content: "hello"},
		{TurnID: "t4", ProjectID: "gone", Agent: "Manager", Content: "orphan"},
	}
	if err := gdb.Create(&rows).Error; err != nil {
		t.Fatalf("insert turns failed: %v", err)
	}
	if err := MigrateUp(gdb); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	var ids []string
	if err := gdb.Model(&Turn{}).Order("turn_id").Pluck("turn_id", &ids).Error; err != nil {
		t.Fatalf("pluck failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "t1" || ids[1] != "t3" {
		t.Fatalf("unexpected remaining turns: %v", ids)
	}
}
