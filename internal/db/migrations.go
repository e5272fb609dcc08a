package db

import (
	"errors"

	"sitecrew/cli/internal/db/migration"

	"gorm.io/gorm"
)

// SyncSchema creates/updates tables and indexes from models. Table structure changes do not use versioned migrations.
func SyncSchema(db *gorm.DB) error {
	if db == nil {
		return errors.New("db is required")
	}
	if err := db.AutoMigrate(
		&Project{},
		&Turn{},
		&File{},
		&KnowledgeEntry{},
	); err != nil {
		return err
	}
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_turns_project_seq ON turns(project_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_files_project_seq ON files(project_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_projects_created_at ON projects(created_at DESC);`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// MigrateUp syncs schema then runs data migrations.
func MigrateUp(db *gorm.DB) error {
	if err := SyncSchema(db); err != nil {
		return err
	}
	migration.Init()
	return migration.RunAll(db)
}
