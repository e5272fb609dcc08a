package migration

import (
	"fmt"
	"sync"

	"gorm.io/gorm"
)

type step struct {
	name string
	run  func(*Migration) error
}

var (
	steps    []step
	initOnce sync.Once
)

// Migration is passed to each migration step. DB is set by RunAll.
type Migration struct {
	DB   *gorm.DB
	logs []string
}

func (m *Migration) Log(v ...interface{}) {
	m.logs = append(m.logs, fmt.Sprint(v...))
}

func (m *Migration) Logs() []string {
	return append([]string(nil), m.logs...)
}

// Init registers the built-in data migrations once.
func Init() {
	initOnce.Do(func() {
		register("drop_orphan_rows", dropOrphanRows)
		register("clear_stale_placeholders", clearStalePlaceholders)
	})
}

func register(name string, run func(*Migration) error) {
	steps = append(steps, step{name: name, run: run})
}

// RunAll runs all registered migrations in order. Used for data/behavior one-shots; schema is synced via db.SyncSchema.
func RunAll(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	ctx := &Migration{DB: db}
	for _, s := range steps {
		ctx.logs = nil
		if err := s.run(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", s.name, err)
		}
	}
	return nil
}

// dropOrphanRows removes turns and files whose project row is gone.
func dropOrphanRows(m *Migration) error {
	for _, table := range []string{"turns", "files"} {
		res := m.DB.Exec(`DELETE FROM ` + table + ` WHERE project_id NOT IN (SELECT project_id FROM projects)`)
		if res.Error != nil {
			return res.Error
		}
		m.Log(table, " orphans removed: ", res.RowsAffected)
	}
	return nil
}

// clearStalePlaceholders drops placeholder turns saved by a process that
// stopped while a turn was in flight.
func clearStalePlaceholders(m *Migration) error {
	res := m.DB.Exec(`DELETE FROM turns WHERE pending <> ''`)
	if res.Error != nil {
		return res.Error
	}
	m.Log("empty placeholders removed: ", res.RowsAffected)
	return nil
}
