package workflow

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type EventKind string

const (
	EventProjectUpdated EventKind = "project.updated"
	EventProjectDeleted EventKind = "project.deleted"
)

type Event struct {
	Kind      EventKind
	ProjectID string
	Project   Project
}

type entry struct {
	mu      sync.Mutex
	project *Project
	deleted bool
}

// Store is the single addressable home of project state. Every mutation goes
// through Update, which serializes per project and always sees the latest
// state. Subscribers run synchronously after each commit and must not call
// back into Update for the same project.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	lastID  int64

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		entries: map[string]*entry{},
		subs:    map[int]func(Event){},
		now:     time.Now,
	}
}

// Create registers a new project keyed by its creation timestamp and runs
// init on it before the first notification.
func (s *Store) Create(title string, stage Stage, init func(*Project) error) (Project, error) {
	now := s.now()
	s.mu.Lock()
	id := now.UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	for {
		if _, ok := s.entries[strconv.FormatInt(id, 10)]; !ok {
			break
		}
		id++
	}
	s.lastID = id
	p := NewProject(strconv.FormatInt(id, 10), title, stage, now)
	if init != nil {
		if err := init(p); err != nil {
			s.mu.Unlock()
			return Project{}, err
		}
	}
	e := &entry{project: p}
	s.entries[p.ID] = e
	snapshot := p.Clone()
	e.mu.Lock()
	s.mu.Unlock()
	defer e.mu.Unlock()
	s.publish(Event{Kind: EventProjectUpdated, ProjectID: snapshot.ID, Project: snapshot})
	return snapshot, nil
}

func (s *Store) Get(id string) (Project, error) {
	e := s.entry(id)
	if e == nil {
		return Project{}, fmt.Errorf("get %q: %w", id, ErrProjectNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return Project{}, fmt.Errorf("get %q: %w", id, ErrProjectNotFound)
	}
	return e.project.Clone(), nil
}

// List returns every project, newest first.
func (s *Store) List() []Project {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Project, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			out = append(out, e.project.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Update runs fn against the current project under its lock. Changes made by
// a failing fn are discarded.
func (s *Store) Update(id string, fn func(*Project) error) (Project, error) {
	e := s.entry(id)
	if e == nil {
		return Project{}, fmt.Errorf("update %q: %w", id, ErrProjectNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return Project{}, fmt.Errorf("update %q: %w", id, ErrProjectNotFound)
	}
	working := e.project.Clone()
	if err := fn(&working); err != nil {
		return e.project.Clone(), err
	}
	working.ID = e.project.ID
	working.UpdatedAt = s.now().UnixMilli()
	e.project = &working
	snapshot := working.Clone()
	s.publish(Event{Kind: EventProjectUpdated, ProjectID: id, Project: snapshot})
	return snapshot, nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	e, ok := s.entries[strings.TrimSpace(id)]
	if ok {
		delete(s.entries, strings.TrimSpace(id))
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("delete %q: %w", id, ErrProjectNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deleted = true
	s.publish(Event{Kind: EventProjectDeleted, ProjectID: id})
	return nil
}

// Load restores persisted projects without notifying subscribers.
func (s *Store) Load(projects []Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range projects {
		p := projects[i].Clone()
		if p.Turns == nil {
			p.Turns = []Turn{}
		}
		if p.Files == nil {
			p.Files = []GeneratedFile{}
		}
		if p.OpenFiles == nil {
			p.OpenFiles = []string{}
		}
		if n, err := strconv.ParseInt(p.ID, 10, 64); err == nil && n > s.lastID {
			s.lastID = n
		}
		s.entries[p.ID] = &entry{project: &p}
	}
}

// Subscribe registers fn for every committed change and returns a function
// that removes it.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) entry(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[strings.TrimSpace(id)]
}

func (s *Store) publish(evt Event) {
	s.subMu.RLock()
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.RUnlock()
	for _, fn := range subs {
		fn(evt)
	}
}
