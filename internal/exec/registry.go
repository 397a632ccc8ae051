package exec

import (
	"sort"
	"sync"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// Registry maps stable handler identifiers to collaborators. Dispatch-time
// resolution goes through an explicit lookup that fails loudly on unknown
// names; there is no implicit string matching or fallback handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Collaborator
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Collaborator)}
}

// Register binds a handler name to a collaborator. Re-registering a name
// replaces the previous binding.
func (r *Registry) Register(name string, c Collaborator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = c
}

// Resolve returns the collaborator for name. Unknown names are a
// dispatch-time error with the UNKNOWN_HANDLER reason code.
func (r *Registry) Resolve(name string) (Collaborator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.handlers[name]
	if !ok {
		return nil, models.Validationf(models.ReasonUnknownHandler,
			"no collaborator registered for handler %q", name)
	}
	return c, nil
}

// Known reports whether a handler name is registered. Used at submission
// time so routing errors are rejected synchronously, not at dispatch.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Names returns the registered handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
