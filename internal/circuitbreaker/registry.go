package circuitbreaker

import "sync"

// Registry is the process-wide registry of per-project breakers (spec.md
// §5 "Process-wide state": "a registry of CircuitBreakers keyed by
// project"). It has a single initialization point (NewRegistry) and lives for the
// Worker's lifetime.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry returns an empty Registry; every breaker it creates on
// demand uses cfg (or DefaultConfig if zero).
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For returns the Breaker for projectID, creating one on first use.
func (r *Registry) For(projectID string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[projectID]
	if !ok {
		b = New(r.cfg)
		r.breakers[projectID] = b
	}
	return b
}
