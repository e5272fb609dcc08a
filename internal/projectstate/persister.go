package projectstate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"sitecrew/cli/internal/workflow"
)

const DefaultDebounce = 500 * time.Millisecond

// Persister mirrors workflow store changes into the database. Saves are
// debounced: a burst of updates to a project results in one write of its
// latest state.
type Persister struct {
	store    *Store
	source   *workflow.Store
	debounce time.Duration
	maxWait  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	dirty   map[string]bool
	deleted map[string]bool
	kick    chan struct{}
	unsub   func()

	OnFlush func(saved, deleted int, err error)
}

func NewPersister(store *Store, source *workflow.Store, debounce time.Duration, logger *slog.Logger) *Persister {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Persister{
		store:    store,
		source:   source,
		debounce: debounce,
		maxWait:  10 * debounce,
		logger:   logger.With("component", "persistence"),
		dirty:    map[string]bool{},
		deleted:  map[string]bool{},
		kick:     make(chan struct{}, 1),
	}
	p.unsub = source.Subscribe(p.observe)
	return p
}

// Restore loads stored projects into the workflow store, repairing any that
// were mid-turn when the process stopped.
func (p *Persister) Restore(ctx context.Context) (int, error) {
	projects, err := p.store.LoadProjects(ctx)
	if err != nil {
		return 0, err
	}
	for i := range projects {
		if workflow.RecoverInterrupted(&projects[i]) {
			p.logger.Info("recovered interrupted project", "project_id", projects[i].ID, "stage", projects[i].Stage)
			p.markDirty(projects[i].ID)
		}
	}
	p.source.Load(projects)
	return len(projects), nil
}

func (p *Persister) observe(evt workflow.Event) {
	switch evt.Kind {
	case workflow.EventProjectDeleted:
		p.mu.Lock()
		delete(p.dirty, evt.ProjectID)
		p.deleted[evt.ProjectID] = true
		p.mu.Unlock()
		p.signal()
	case workflow.EventProjectUpdated:
		p.markDirty(evt.ProjectID)
	}
}

func (p *Persister) markDirty(id string) {
	p.mu.Lock()
	p.dirty[id] = true
	delete(p.deleted, id)
	p.mu.Unlock()
	p.signal()
}

func (p *Persister) signal() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run flushes pending changes until ctx ends, then performs a final flush.
func (p *Persister) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return p.Flush(context.Background())
		case <-p.kick:
		}
		if !p.wait(ctx) {
			return p.Flush(context.Background())
		}
		if err := p.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("persist projects failed", "err", err)
		}
	}
}

// wait holds until no change arrived for one debounce period, or maxWait.
func (p *Persister) wait(ctx context.Context) bool {
	deadline := time.NewTimer(p.maxWait)
	defer deadline.Stop()
	quiet := time.NewTimer(p.debounce)
	defer quiet.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return true
		case <-quiet.C:
			return true
		case <-p.kick:
			if !quiet.Stop() {
				select {
				case <-quiet.C:
				default:
				}
			}
			quiet.Reset(p.debounce)
		}
	}
}

// Flush writes every pending change now.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	dirty := p.dirty
	deleted := p.deleted
	p.dirty = map[string]bool{}
	p.deleted = map[string]bool{}
	p.mu.Unlock()

	var errs []error
	saved := 0
	for id := range deleted {
		if err := p.store.DeleteProject(ctx, id); err != nil {
			errs = append(errs, err)
			p.requeue(id, true)
		}
	}
	for id := range dirty {
		project, err := p.source.Get(id)
		if errors.Is(err, workflow.ErrProjectNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := p.store.SaveProject(ctx, project); err != nil {
			errs = append(errs, err)
			p.requeue(id, false)
			continue
		}
		saved++
	}
	err := errors.Join(errs...)
	if p.OnFlush != nil {
		p.OnFlush(saved, len(deleted), err)
	}
	if saved > 0 || len(deleted) > 0 {
		p.logger.Debug("projects persisted", "saved", saved, "deleted", len(deleted))
	}
	return err
}

func (p *Persister) requeue(id string, deleted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if deleted {
		p.deleted[id] = true
		return
	}
	if !p.deleted[id] {
		p.dirty[id] = true
	}
}

func (p *Persister) Close() {
	if p.unsub != nil {
		p.unsub()
	}
}
