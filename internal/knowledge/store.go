package knowledge

import (
	"context"
	"errors"
	"strings"

	dbmodel "sitecrew/cli/internal/db"
	"sitecrew/cli/internal/workflow"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

// NewStore uses the shared global DB. Caller must not close the db.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Store{db: db}, nil
}

// Put inserts entry unless one already exists for its project. It reports
// whether a row was written.
func (s *Store) Put(ctx context.Context, entry workflow.KnowledgeEntry) (bool, error) {
	id := strings.TrimSpace(entry.ProjectID)
	if id == "" {
		return false, errors.New("project id is required")
	}
	row := dbmodel.KnowledgeEntry{
		ProjectID: id,
		Title:     entry.Title,
		Summary:   entry.Summary,
		CreatedAt: entry.CreatedAt,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) Has(ctx context.Context, projectID string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&dbmodel.KnowledgeEntry{}).Where("project_id = ?", strings.TrimSpace(projectID)).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns entries in the order they were learned.
func (s *Store) List(ctx context.Context) ([]workflow.KnowledgeEntry, error) {
	var rows []dbmodel.KnowledgeEntry
	if err := s.db.WithContext(ctx).Order("created_at ASC, project_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]workflow.KnowledgeEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, workflow.KnowledgeEntry{
			ProjectID: row.ProjectID,
			Title:     row.Title,
			Summary:   row.Summary,
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&dbmodel.KnowledgeEntry{}).Error
}

// Preamble renders entries as the system-instruction prefix the coordinator
// reads before its own instructions. No entries yield "".
func Preamble(entries []workflow.KnowledgeEntry) string {
	if len(entries) == 0 {
		return ""
	}
	items := make([]string, 0, len(entries))
	for _, e := range entries {
		items = append(items, "*   **Project: \""+e.Title+"\"**\n    *   Summary: "+e.Summary)
	}
	return "**Previous Project Knowledge Base:**\n" + strings.Join(items, "\n\n") + "\n\n---\n\n"
}
