package resolver

import (
	"sync"

	"github.com/planpath/planpath/internal/task"
)

// Key addresses one cache entry. References are cached per project so an
// identical reference in another project can never surface a foreign task.
type Key struct {
	ProjectID string
	Reference string
}

// Cache is the resolution cache. Lookups are synchronous and never touch
// storage.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]*task.Task
}

func NewCache() *Cache {
	return &Cache{entries: make(map[Key]*task.Task)}
}

func (c *Cache) Get(projectID, reference string) (*task.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.entries[Key{ProjectID: projectID, Reference: reference}]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

func (c *Cache) Put(projectID, reference string, t *task.Task) {
	c.mu.Lock()
	c.entries[Key{ProjectID: projectID, Reference: reference}] = t.Clone()
	c.mu.Unlock()
}

func (c *Cache) Delete(projectID, reference string) {
	c.mu.Lock()
	delete(c.entries, Key{ProjectID: projectID, Reference: reference})
	c.mu.Unlock()
}

// Clear evicts all entries of one project, or every entry when projectID is
// empty.
func (c *Cache) Clear(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if projectID == "" {
		c.entries = make(map[Key]*task.Task)
		return
	}
	for k := range c.entries {
		if k.ProjectID == projectID {
			delete(c.entries, k)
		}
	}
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
