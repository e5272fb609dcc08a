package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sitecrew/cli/internal/db"
	"sitecrew/cli/internal/global"
	"sitecrew/cli/internal/knowledge"
	"sitecrew/cli/internal/projectstate"
	"sitecrew/cli/internal/workflow"
)

// Snapshot is the export document written by the export command.
type Snapshot struct {
	ExportedAt int64                     `json:"exported_at"`
	Projects   []workflow.Project        `json:"projects"`
	Knowledge  []workflow.KnowledgeEntry `json:"knowledge"`
}

// MigrateUp applies pending schema and data migrations to dsn.
func MigrateUp(ctx context.Context, dsn string) error {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return fmt.Errorf("db dsn is required")
	}
	gdb, err := db.Open(dsn)
	if err != nil {
		return err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Export reads every stored project and knowledge entry from dsn and writes
// them to path as one JSON document.
func Export(ctx context.Context, dsn, path string) (Snapshot, error) {
	if strings.TrimSpace(path) == "" {
		return Snapshot{}, fmt.Errorf("export path is required")
	}
	gdb, err := db.Open(strings.TrimSpace(dsn))
	if err != nil {
		return Snapshot{}, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return Snapshot{}, err
	}
	defer func() { _ = sqlDB.Close() }()

	projects, err := projectstate.NewStore(gdb).LoadProjects(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load projects: %w", err)
	}
	ks, err := knowledge.NewStore(gdb)
	if err != nil {
		return Snapshot{}, err
	}
	entries, err := ks.List(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load knowledge: %w", err)
	}
	if entries == nil {
		entries = []workflow.KnowledgeEntry{}
	}
	snap := Snapshot{ExportedAt: time.Now().UnixMilli(), Projects: projects, Knowledge: entries}
	if err := global.WriteJSONAtomically(path, snap); err != nil {
		return Snapshot{}, fmt.Errorf("write export: %w", err)
	}
	return snap, nil
}
