package projectstate

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"sitecrew/cli/internal/db"
	"sitecrew/cli/internal/workflow"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	gdb, err := db.Open(filepath.Join(t.TempDir(), "sitecrew.db"))
	if err != nil {
		t.Fatalf("open db failed: %v", err)
	}
	return NewStore(gdb)
}

func sampleProject() workflow.Project {
	p := workflow.NewProject("1700000000000", "Bakery", workflow.StagePRDReview, time.UnixMilli(1700000000000))
	p.PRD = "# PRD: Bakery"
	p.OpenFiles = []string{"PRD.md", "index.html"}
	p.ActiveFile = "index.html"
	p.DeepThinking = true
	p.Turns = []workflow.Turn{
		{ID: "t1", Agent: workflow.AgentUser, Content: "a bakery site", Attachment: &workflow.Attachment{Name: "logo.png", MIMEType: "image/png", Data: "aGk="}},
		{ID: "t2", Agent: workflow.AgentManager, Content: "drafting", APIContent: "[CREATE_PRD]...", Thoughts: "plan", Sources: []workflow.Source{{URI: "https://example.com", Title: "Example"}}},
	}
	p.Files = []workflow.GeneratedFile{{Name: "index.html", Type: "html", Content: "<p>hi</p>"}, {Name: "css/style.css", Type: "css", Content: "p{}"}}
	return *p
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	want := sampleProject()
	if err := store.SaveProject(ctx, want); err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}
	want.Title = "Cozy Bakery"
	want.Turns = append(want.Turns, workflow.Turn{ID: "t3", Agent: workflow.AgentUser, Content: "approve"})
	want.Files = want.Files[:1]
	if err := store.SaveProject(ctx, want); err != nil {
		t.Fatalf("second SaveProject failed: %v", err)
	}

	got, err := store.LoadProjects(ctx)
	if err != nil {
		t.Fatalf("LoadProjects failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 project, got %d", len(got))
	}
	p := got[0]
	if p.Title != "Cozy Bakery" || p.Stage != workflow.StagePRDReview || !p.DeepThinking || p.ActiveFile != "index.html" {
		t.Fatalf("unexpected project row: %+v", p)
	}
	if len(p.Turns) != 3 || p.Turns[0].Attachment == nil || p.Turns[0].Attachment.Data != "aGk=" {
		t.Fatalf("unexpected turns: %+v", p.Turns)
	}
	if p.Turns[1].Sources[0].URI != "https://example.com" || p.Turns[1].APIContent != "[CREATE_PRD]..." {
		t.Fatalf("unexpected agent turn: %+v", p.Turns[1])
	}
	if len(p.Files) != 1 || p.Files[0].Content != "<p>hi</p>" {
		t.Fatalf("unexpected files: %+v", p.Files)
	}
	if len(p.OpenFiles) != 2 || p.OpenFiles[0] != "PRD.md" {
		t.Fatalf("unexpected open files: %v", p.OpenFiles)
	}
}

func TestStore_EmptyDatabaseIsEmptyState(t *testing.T) {
	got, err := newTestStore(t).LoadProjects(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty state, got %v %v", got, err)
	}
}

func TestStore_DeleteProject(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.SaveProject(ctx, sampleProject()); err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}
	if err := store.DeleteProject(ctx, "1700000000000"); err != nil {
		t.Fatalf("DeleteProject failed: %v", err)
	}
	got, _ := store.LoadProjects(ctx)
	if len(got) != 0 {
		t.Fatalf("expected no projects after delete, got %d", len(got))
	}
}

func TestInitGlobalDBWithDSN_InMemorySQLite(t *testing.T) {
	dsn := fmt.Sprintf("file:ps_mem_%d?mode=memory&cache=shared", time.Now().UnixNano())
	if err := InitGlobalDBWithDSN(dsn); err != nil {
		t.Fatalf("InitGlobalDBWithDSN failed: %v", err)
	}
	defer func() { _ = CloseGlobalDB() }()
	gdb, err := GlobalDBGORM()
	if err != nil {
		t.Fatalf("GlobalDBGORM failed: %v", err)
	}
	store := NewStore(gdb)
	if err := store.SaveProject(context.Background(), sampleProject()); err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}
	rows, err := store.LoadProjects(context.Background())
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected 1 project, got %d err=%v", len(rows), err)
	}
}
