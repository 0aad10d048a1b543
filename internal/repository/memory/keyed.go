package memory

import (
	"sync"

	"github.com/and161185/medgate/internal/model"
)

// keyedMutex hands out one mutex per identity and forgets it once unused.
type keyedMutex struct {
	mu sync.Mutex
	m  map[model.Identity]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until id's mutex is held and returns its release func.
func (k *keyedMutex) Lock(id model.Identity) (unlock func()) {
	k.mu.Lock()
	e := k.m[id]
	if e == nil {
		e = &keyedEntry{}
		k.m[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.m, id)
		}
		k.mu.Unlock()
	}
}
