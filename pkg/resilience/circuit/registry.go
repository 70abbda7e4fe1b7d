package circuit

import (
	"sync"
)

// Registry manages one breaker per named dependency, created lazily on
// first use and kept for the process lifetime.
type Registry struct {
	mu           sync.Mutex
	breakers     map[string]*Breaker
	defaults     Config
	perDep       map[string]Config
	onTransition TransitionFunc
}

// NewRegistry creates a breaker registry. perDep overrides the default
// config for specific dependency names; both come from the configuration
// surface, never hardcoded call sites.
func NewRegistry(defaults Config, perDep map[string]Config, onTransition TransitionFunc) *Registry {
	return &Registry{
		breakers:     make(map[string]*Breaker),
		defaults:     defaults,
		perDep:       perDep,
		onTransition: onTransition,
	}
}

// Get returns the breaker for the named dependency, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	cfg := r.defaults
	if override, ok := r.perDep[name]; ok {
		cfg = override
	}
	b := NewBreaker(name, cfg, r.onTransition)
	r.breakers[name] = b
	return b
}

// Execute runs call through the named dependency's breaker.
func (r *Registry) Execute(name string, call func() (any, error)) (any, error) {
	return r.Get(name).Execute(call)
}

// Snapshot returns the status of every breaker created so far.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	statuses := make([]Status, 0, len(breakers))
	for _, b := range breakers {
		statuses = append(statuses, b.Snapshot())
	}
	return statuses
}
