package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

const defaultRuntimeQueueSize = 64

var (
	ErrRuntimeClosed = errors.New("project runtime is closed")
	ErrRuntimeBusy   = errors.New("project runtime queue is full")
)

// RuntimeEvent is one unit of deferred work for a project.
type RuntimeEvent struct {
	Key     string
	Payload any
}

type RuntimeHandler func(context.Context, RuntimeEvent) error

type projectActor struct {
	base     context.Context
	key      string
	queue    chan RuntimeEvent
	handler  RuntimeHandler
	logger   *slog.Logger
	mu       sync.Mutex
	inflight context.CancelFunc
	pending  atomic.Int64
}

// Runtime serializes work per project: events for one key run one at a time
// in enqueue order, events for different keys run concurrently.
type Runtime struct {
	// sendMu keeps Close from closing a queue under a pending send. Close
	// holds it only while closing the queues.
	sendMu    sync.RWMutex
	mu        sync.Mutex
	actors    map[string]*projectActor
	handler   RuntimeHandler
	logger    *slog.Logger
	queueSize int
	closed    bool
	wg        sync.WaitGroup
	base      context.Context
	stop      context.CancelFunc
}

func NewRuntime(handler RuntimeHandler, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	return &Runtime{
		actors:    map[string]*projectActor{},
		handler:   handler,
		logger:    logger,
		queueSize: defaultRuntimeQueueSize,
		base:      base,
		stop:      stop,
	}
}

func (r *Runtime) Enqueue(ctx context.Context, evt RuntimeEvent) error {
	return r.enqueue(ctx, evt, true)
}

// TryEnqueue queues evt without waiting for room. It is safe to call from a
// handler, including for its own key.
func (r *Runtime) TryEnqueue(evt RuntimeEvent) error {
	return r.enqueue(context.Background(), evt, false)
}

func (r *Runtime) enqueue(ctx context.Context, evt RuntimeEvent, wait bool) error {
	if r == nil {
		return errors.New("project runtime is unavailable")
	}
	key := strings.TrimSpace(evt.Key)
	if key == "" {
		return errors.New("project key is required")
	}
	evt.Key = key
	if r.base.Err() != nil {
		return ErrRuntimeClosed
	}
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	actor, err := r.getOrCreateActor(key)
	if err != nil {
		return err
	}
	actor.pending.Add(1)
	if !wait {
		select {
		case actor.queue <- evt:
			return nil
		default:
			actor.pending.Add(-1)
			return ErrRuntimeBusy
		}
	}
	select {
	case actor.queue <- evt:
		return nil
	case <-ctx.Done():
		actor.pending.Add(-1)
		return ctx.Err()
	case <-r.base.Done():
		actor.pending.Add(-1)
		return ErrRuntimeClosed
	}
}

// Cancel aborts the context of the event currently running for key.
func (r *Runtime) Cancel(key string) {
	if r == nil {
		return
	}
	actor := r.getActor(strings.TrimSpace(key))
	if actor == nil {
		return
	}
	actor.mu.Lock()
	cancel := actor.inflight
	actor.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Runtime) QueueLen(key string) int {
	if r == nil {
		return 0
	}
	actor := r.getActor(strings.TrimSpace(key))
	if actor == nil {
		return 0
	}
	return len(actor.queue)
}

// Idle reports whether key has nothing queued or running.
func (r *Runtime) Idle(key string) bool {
	actor := r.getActor(strings.TrimSpace(key))
	if actor == nil {
		return true
	}
	return actor.pending.Load() == 0
}

// Close stops accepting events, cancels the context of running and queued
// ones and waits for the actors to drain. Handlers that enqueue while Close
// runs get ErrRuntimeClosed.
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	actors := make([]*projectActor, 0, len(r.actors))
	for _, actor := range r.actors {
		actors = append(actors, actor)
	}
	r.mu.Unlock()

	// Senders blocked on a full queue leave through base.Done.
	r.stop()
	r.sendMu.Lock()
	for _, actor := range actors {
		close(actor.queue)
	}
	r.sendMu.Unlock()
	r.wg.Wait()
}

func (r *Runtime) getActor(key string) *projectActor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.actors[key]
}

func (r *Runtime) getOrCreateActor(key string) (*projectActor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRuntimeClosed
	}
	if actor, ok := r.actors[key]; ok {
		return actor, nil
	}
	actor := &projectActor{
		base:    r.base,
		key:     key,
		queue:   make(chan RuntimeEvent, r.queueSize),
		handler: r.handler,
		logger:  r.logger,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		actor.run()
	}()
	r.actors[key] = actor
	return actor, nil
}

func (a *projectActor) run() {
	for evt := range a.queue {
		if a.handler == nil {
			continue
		}
		runCtx, cancel := context.WithCancel(a.base)
		a.mu.Lock()
		a.inflight = cancel
		a.mu.Unlock()
		if err := a.handler(runCtx, evt); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("project event failed", "project_id", a.key, "err", err)
		}
		cancel()
		a.mu.Lock()
		a.inflight = nil
		a.mu.Unlock()
		a.pending.Add(-1)
	}
}
