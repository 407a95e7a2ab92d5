package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// RunnerFunc is a type-erased workflow handler that accepts raw JSON input.
// The typed Definition[T] is converted to a RunnerFunc at registration
// time by closing over JSON unmarshal + the typed handler.
type RunnerFunc func(wf *Workflow, input []byte) error

// Registry maps workflow names to versioned handlers. New runs use the
// highest version; resumed runs use the version they were stamped with.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	versions map[string]map[int]RunnerFunc
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{versions: make(map[string]map[int]RunnerFunc)}
}

// RegisterDefinition registers a typed workflow definition. Registering the
// same name and version twice replaces the earlier handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	version := def.Version
	if version <= 0 {
		version = 1
	}

	runner := func(wf *Workflow, input []byte) error {
		var t T
		if len(input) > 0 {
			if err := json.Unmarshal(input, &t); err != nil {
				return NonRetryable(fmt.Errorf("unmarshal input for workflow %q: %w", def.Name, err))
			}
		}
		return def.Handler(wf, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.versions[def.Name] == nil {
		r.versions[def.Name] = make(map[int]RunnerFunc)
	}
	r.versions[def.Name][version] = runner
}

// Get returns the latest-version handler for the given workflow name.
func (r *Registry) Get(name string) (RunnerFunc, bool) {
	return r.GetVersion(name, 0)
}

// GetVersion returns the handler for a specific version of a workflow.
// If version <= 0, it behaves like Get.
func (r *Registry) GetVersion(name string, version int) (RunnerFunc, bool) {
	if version <= 0 {
		version = r.LatestVersion(name)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.versions[name][version]
	return fn, ok
}

// LatestVersion returns the highest registered version number for a workflow.
// Returns 0 if the workflow is not registered.
func (r *Registry) LatestVersion(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	best := 0
	for v := range r.versions[name] {
		if v > best {
			best = v
		}
	}
	return best
}

// Names returns all registered workflow names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.versions))
	for name := range r.versions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
