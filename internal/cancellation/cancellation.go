package cancellation

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Coordinator holds one advisory stop flag per project. Orchestration checks
// the flag at safe points; nothing here aborts an in-flight network call.
type Coordinator struct {
	mu    sync.Mutex
	flags map[string]*atomic.Bool
}

func New() *Coordinator {
	return &Coordinator{flags: map[string]*atomic.Bool{}}
}

func (c *Coordinator) Reset(projectID string) {
	c.flag(projectID).Store(false)
}

func (c *Coordinator) Cancel(projectID string) {
	c.flag(projectID).Store(true)
}

func (c *Coordinator) Cancelled(projectID string) bool {
	if c == nil {
		return false
	}
	return c.flag(projectID).Load()
}

func (c *Coordinator) Forget(projectID string) {
	c.mu.Lock()
	delete(c.flags, strings.TrimSpace(projectID))
	c.mu.Unlock()
}

func (c *Coordinator) flag(projectID string) *atomic.Bool {
	key := strings.TrimSpace(projectID)
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flags[key]
	if !ok {
		f = &atomic.Bool{}
		c.flags[key] = f
	}
	return f
}
