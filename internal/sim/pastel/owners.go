package pastel

import (
	"sync"

	"github.com/google/uuid"
)

// Owners maps each node to the network it currently belongs to. Networks
// sharing one Owners value keep it consistent across adds, removes and merges.
type Owners struct {
	mu sync.RWMutex
	m  map[NodeKey]uuid.UUID
}

func NewOwners() *Owners {
	return &Owners{m: map[NodeKey]uuid.UUID{}}
}

func (o *Owners) Get(k NodeKey) (uuid.UUID, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	id, ok := o.m[k]
	return id, ok
}

func (o *Owners) set(k NodeKey, id uuid.UUID) {
	o.mu.Lock()
	o.m[k] = id
	o.mu.Unlock()
}

// release clears k only if it is still owned by id.
func (o *Owners) release(k NodeKey, id uuid.UUID) {
	o.mu.Lock()
	if cur, ok := o.m[k]; ok && cur == id {
		delete(o.m, k)
	}
	o.mu.Unlock()
}

func (o *Owners) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.m)
}
