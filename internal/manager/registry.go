package manager

import (
	"cmp"
	"maps"
	"slices"
	"sync"
	"time"
)

// Config describes one fare provider (an airline site or a mileage program).
// It is immutable once registered.
type Config struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	GapTimeServer time.Duration `json:"gap_time_server"`
	MaxWaiting    int           `json:"max_waiting"`
	Order         int           `json:"order"`

	URL             string            `json:"url,omitempty"`
	Method          string            `json:"method,omitempty"`
	Headers         map[string]string `json:"-"`
	WithCredentials bool              `json:"with_credentials,omitempty"`
}

// IsZero reports whether c is the empty value returned for unknown ids.
func (c Config) IsZero() bool {
	return c.ID == ""
}

// Entry is the presentation view of a registered manager.
type Entry struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Registry is the ordered collection of manager configurations. Managers are
// kept sorted by Order, ties in registration order.
type Registry struct {
	mu       sync.RWMutex
	managers []Config
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds c and re-sorts the collection.
func (r *Registry) Register(c Config) {
	c.Headers = maps.Clone(c.Headers)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.managers = append(r.managers, c)
	slices.SortStableFunc(r.managers, func(a, b Config) int {
		return cmp.Compare(a.Order, b.Order)
	})
}

// List returns the registered managers in order.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.managers))
	for _, m := range r.managers {
		entries = append(entries, Entry{ID: m.ID, Text: m.Name})
	}
	return entries
}

// Get returns the first manager with the given id, or the zero Config.
func (r *Registry) Get(id string) Config {
	c, _ := r.Lookup(id)
	return c
}

// Lookup is like Get and also reports whether the id was found.
func (r *Registry) Lookup(id string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.managers {
		if m.ID == id {
			return m.clone(), true
		}
	}
	return Config{}, false
}

// Configs returns a snapshot of every registered configuration in order.
func (r *Registry) Configs() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Config, 0, len(r.managers))
	for _, m := range r.managers {
		out = append(out, m.clone())
	}
	return out
}

// Len returns the number of registered managers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.managers)
}

func (c Config) clone() Config {
	c.Headers = maps.Clone(c.Headers)
	return c
}
