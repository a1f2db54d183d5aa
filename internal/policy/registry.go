package policy

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps unit ids to units. Reload swaps the whole set at once, so
// readers see either the old set or the new one.
type Registry struct {
	mu    sync.RWMutex
	units map[string]Unit
}

func NewRegistry(units ...Unit) (*Registry, error) {
	r := &Registry{units: map[string]Unit{}}
	if err := r.Reload(units); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Get(id string) (Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[id]
	return u, ok
}

// List returns the units sorted by id.
func (r *Registry) List() []Unit {
	r.mu.RLock()
	out := make([]Unit, 0, len(r.units))
	for _, u := range r.units {
		out = append(out, u)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.units)
}

// Put adds or replaces a single unit.
func (r *Registry) Put(u Unit) {
	r.mu.Lock()
	r.units[u.ID] = u
	r.mu.Unlock()
}

// Reload replaces every unit. On error the current set is left untouched.
func (r *Registry) Reload(units []Unit) error {
	next := make(map[string]Unit, len(units))
	for _, u := range units {
		if u.ID == "" {
			return fmt.Errorf("%w: missing id", ErrInvalidUnit)
		}
		if _, dup := next[u.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateUnit, u.ID)
		}
		next[u.ID] = u
	}
	r.mu.Lock()
	r.units = next
	r.mu.Unlock()
	return nil
}
