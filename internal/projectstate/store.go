package projectstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"sitecrew/cli/internal/db"
	"sitecrew/cli/internal/workflow"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	globalDBMu   sync.Mutex
	globalDBGORM *gorm.DB
	globalDBPath string
)

// InitGlobalDBWithDSN opens the process-wide sqlite handle used by project
// and knowledge storage.
func InitGlobalDBWithDSN(dsn string) error {
	globalDBMu.Lock()
	defer globalDBMu.Unlock()

	if dsn == "" {
		return errors.New("db path is required")
	}
	if globalDBGORM != nil && globalDBPath == dsn {
		return nil
	}
	if globalDBGORM != nil {
		if sqlDB, err := globalDBGORM.DB(); err == nil {
			_ = sqlDB.Close()
		}
		globalDBGORM = nil
	}
	gdb, err := db.Open(dsn)
	if err != nil {
		return err
	}
	globalDBGORM = gdb
	globalDBPath = dsn
	return nil
}

// GlobalDBGORM returns the process-wide GORM DB. Caller must not close it.
func GlobalDBGORM() (*gorm.DB, error) {
	globalDBMu.Lock()
	gdb := globalDBGORM
	globalDBMu.Unlock()
	if gdb == nil {
		return nil, errors.New("global DB not initialized: call InitGlobalDBWithDSN first")
	}
	return gdb, nil
}

// CloseGlobalDB closes the process-wide handle if one is open.
func CloseGlobalDB() error {
	globalDBMu.Lock()
	defer globalDBMu.Unlock()
	if globalDBGORM == nil {
		return nil
	}
	sqlDB, err := globalDBGORM.DB()
	globalDBGORM = nil
	globalDBPath = ""
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Store persists whole projects: one row per project plus its turns and files.
type Store struct {
	db *gorm.DB
}

func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

func (s *Store) SaveProject(ctx context.Context, p workflow.Project) error {
	row, turns, files, err := toRows(p)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "project_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"title":           row.Title,
				"stage":           row.Stage,
				"prd":             row.PRD,
				"open_files_json": row.OpenFiles,
				"active_file":     row.ActiveFile,
				"deep_thinking":   row.DeepThinking,
				"updated_at":      row.UpdatedAt,
			}),
		}).Create(&row).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", p.ID).Delete(&db.Turn{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", p.ID).Delete(&db.File{}).Error; err != nil {
			return err
		}
		if len(turns) > 0 {
			if err := tx.CreateInBatches(&turns, 100).Error; err != nil {
				return err
			}
		}
		if len(files) > 0 {
			if err := tx.CreateInBatches(&files, 100).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&db.Turn{}, &db.File{}, &db.Project{}} {
			if err := tx.Where("project_id = ?", projectID).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadProjects restores every stored project. An empty database yields an
// empty list.
func (s *Store) LoadProjects(ctx context.Context) ([]workflow.Project, error) {
	gdb := s.db.WithContext(ctx)
	var rows []db.Project
	if err := gdb.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	var turns []db.Turn
	if err := gdb.Order("project_id, seq").Find(&turns).Error; err != nil {
		return nil, err
	}
	var files []db.File
	if err := gdb.Order("project_id, seq").Find(&files).Error; err != nil {
		return nil, err
	}
	turnsByProject := map[string][]db.Turn{}
	for _, t := range turns {
		turnsByProject[t.ProjectID] = append(turnsByProject[t.ProjectID], t)
	}
	filesByProject := map[string][]db.File{}
	for _, f := range files {
		filesByProject[f.ProjectID] = append(filesByProject[f.ProjectID], f)
	}
	out := make([]workflow.Project, 0, len(rows))
	for _, row := range rows {
		p, err := fromRows(row, turnsByProject[row.ProjectID], filesByProject[row.ProjectID])
		if err != nil {
			return nil, fmt.Errorf("decode project %s: %w", row.ProjectID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func toRows(p workflow.Project) (db.Project, []db.Turn, []db.File, error) {
	openFiles, err := json.Marshal(p.OpenFiles)
	if err != nil {
		return db.Project{}, nil, nil, err
	}
	row := db.Project{
		ProjectID:    p.ID,
		Title:        p.Title,
		Stage:        string(p.Stage),
		PRD:          p.PRD,
		OpenFiles:    string(openFiles),
		ActiveFile:   p.ActiveFile,
		DeepThinking: p.DeepThinking,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
	turns := make([]db.Turn, 0, len(p.Turns))
	for i, t := range p.Turns {
		out := db.Turn{
			TurnID:     t.ID,
			ProjectID:  p.ID,
			Seq:        i,
			Agent:      string(t.Agent),
			Content:    t.Content,
			APIContent: t.APIContent,
			IsError:    t.Error,
			Voice:      t.Voice,
			Thoughts:   t.Thoughts,
			CreatedAt:  t.CreatedAt,
		}
		switch {
		case t.Generating:
			out.Pending = "generating"
		case t.Loading:
			out.Pending = "loading"
		}
		if t.Attachment != nil {
			raw, err := json.Marshal(t.Attachment)
			if err != nil {
				return db.Project{}, nil, nil, err
			}
			out.Attachment = string(raw)
		}
		if len(t.Sources) > 0 {
			raw, err := json.Marshal(t.Sources)
			if err != nil {
				return db.Project{}, nil, nil, err
			}
			out.Sources = string(raw)
		}
		turns = append(turns, out)
	}
	files := make([]db.File, 0, len(p.Files))
	for i, f := range p.Files {
		files = append(files, db.File{ProjectID: p.ID, Name: f.Name, Seq: i, FileType: f.Type, Content: f.Content})
	}
	return row, turns, files, nil
}

func fromRows(row db.Project, turns []db.Turn, files []db.File) (workflow.Project, error) {
	p := workflow.Project{
		ID:           row.ProjectID,
		Title:        row.Title,
		Stage:        workflow.Stage(row.Stage),
		PRD:          row.PRD,
		ActiveFile:   row.ActiveFile,
		DeepThinking: row.DeepThinking,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
		Turns:        make([]workflow.Turn, 0, len(turns)),
		Files:        make([]workflow.GeneratedFile, 0, len(files)),
		OpenFiles:    []string{},
	}
	if !p.Stage.Valid() {
		p.Stage = workflow.StageUserReview
	}
	if row.OpenFiles != "" {
		if err := json.Unmarshal([]byte(row.OpenFiles), &p.OpenFiles); err != nil {
			return workflow.Project{}, err
		}
	}
	for _, t := range turns {
		turn := workflow.Turn{
			ID:         t.TurnID,
			Agent:      workflow.Agent(t.Agent),
			Content:    t.Content,
			APIContent: t.APIContent,
			Loading:    t.Pending == "loading",
			Generating: t.Pending == "generating",
			Error:      t.IsError,
			Voice:      t.Voice,
			Thoughts:   t.Thoughts,
			CreatedAt:  t.CreatedAt,
		}
		if t.Attachment != "" {
			var att workflow.Attachment
			if err := json.Unmarshal([]byte(t.Attachment), &att); err != nil {
				return workflow.Project{}, err
			}
			turn.Attachment = &att
		}
		if t.Sources != "" {
			if err := json.Unmarshal([]byte(t.Sources), &turn.Sources); err != nil {
				return workflow.Project{}, err
			}
		}
		p.Turns = append(p.Turns, turn)
	}
	for _, f := range files {
		p.Files = append(p.Files, workflow.GeneratedFile{Name: f.Name, Type: f.FileType, Content: f.Content})
	}
	return p, nil
}
