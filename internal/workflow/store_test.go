package workflow

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestStore_CreateUpdateNotify(t *testing.T) {
	s := NewStore()
	s.now = func() time.Time { return time.UnixMilli(1000) }

	var mu sync.Mutex
	var events []Event
	unsubscribe := s.Subscribe(func(evt Event) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	})
	defer unsubscribe()

	a, err := s.Create(DefaultTitle, StageRequirementGathering, nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	b, err := s.Create(DefaultTitle, StageRequirementGathering, nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("ids must be unique, both %s", a.ID)
	}

	got, err := s.Update(a.ID, func(p *Project) error {
		p.Title = "Bakery"
		return nil
	})
	if err != nil || got.Title != "Bakery" {
		t.Fatalf("update failed: %v %+v", err, got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 3 || events[2].Project.Title != "Bakery" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestStore_FailedUpdateDiscardsChanges(t *testing.T) {
	s := NewStore()
	p, _ := s.Create(DefaultTitle, StageDelivery, nil)
	_, err := s.Update(p.ID, func(p *Project) error {
		p.Title = "changed"
		_, err := AppendUserTurn(p, "hello", nil, false)
		return err
	})
	if !errors.Is(err, ErrDelivered) {
		t.Fatalf("expected ErrDelivered, got %v", err)
	}
	again, _ := s.Get(p.ID)
	if again.Title != DefaultTitle || len(again.Turns) != 0 {
		t.Fatalf("failed update leaked: %+v", again)
	}
}

func TestStore_ConcurrentUpdatesAreSerialized(t *testing.T) {
	s := NewStore()
	p, _ := s.Create(DefaultTitle, StageRequirementGathering, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Update(p.ID, func(p *Project) error {
				AppendAgentTurn(p, AgentManager, "x", false)
				return nil
			})
		}()
	}
	wg.Wait()
	got, _ := s.Get(p.ID)
	if len(got.Turns) != 50 {
		t.Fatalf("expected 50 turns without lost updates, got %d", len(got.Turns))
	}
}

func TestStore_SnapshotsAreIsolated(t *testing.T) {
	s := NewStore()
	p, _ := s.Create(DefaultTitle, StageRequirementGathering, func(p *Project) error {
		p.PutFile(GeneratedFile{Name: "index.html", Content: "a"})
		return nil
	})
	p.Files[0].Content = "mutated"
	got, _ := s.Get(p.ID)
	if got.Files[0].Content != "a" {
		t.Fatalf("snapshot mutation leaked into store: %q", got.Files[0].Content)
	}
}

func TestStore_DeleteListLoad(t *testing.T) {
	s := NewStore()
	s.Load([]Project{
		{ID: "100", Title: "old", Stage: StageDelivery, CreatedAt: 100},
		{ID: "200", Title: "new", Stage: StageUserReview, CreatedAt: 200},
	})
	list := s.List()
	if len(list) != 2 || list[0].ID != "200" {
		t.Fatalf("expected newest first: %+v", list)
	}
	if list[1].Turns == nil || list[1].OpenFiles == nil {
		t.Fatal("restored slices must be non-nil")
	}
	if err := s.Delete("100"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.Get("100"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
	if err := s.Delete("100"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound on second delete, got %v", err)
	}
	s.now = func() time.Time { return time.UnixMilli(150) }
	created, _ := s.Create(DefaultTitle, StageRequirementGathering, nil)
	if created.ID != "201" {
		t.Fatalf("ids must stay ahead of restored ids, got %s", created.ID)
	}
}
