// Package runner implements JobRunner: worker-side loading of a
// Dispatched step, construction of its job from class/arguments, and the
// Running -> terminal lifecycle. Registry is a name-keyed, mutex-guarded
// map rather than reflection, so a typo'd class name fails fast with a
// clear error instead of a reflection panic.
package runner

import (
	"fmt"
	"sync"
)

// Constructor builds one job instance from its decoded arguments map. It
// matches parameter names to keys in arguments, supplies defaults where
// available, and fails with MissingArgument otherwise — each Constructor
// implementation owns that
// matching for its own parameter set.
type Constructor func(args map[string]interface{}) (Job, error)

// Job is the plug-in contract every job class implements: a callable
// taking a Step reference and returning once its work is done or failed.
type Job interface {
	Execute(ctx *Context) error
}

// Registry maps a Step's class name to the Constructor that builds it.
// Registration is expected at process init time; lookups happen on every
// dispatch, hence the RWMutex rather than a plain map guarded by a single
// mutex.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds class -> ctor. Re-registering the same class name is
// rejected: two jobs silently fighting over one class would be a
// deployment bug, not something to paper over at runtime.
func (r *Registry) Register(class string, ctor Constructor) error {
	if class == "" {
		return fmt.Errorf("runner: empty class name")
	}
	if ctor == nil {
		return fmt.Errorf("runner: nil constructor for class %q", class)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.constructors[class]; exists {
		return fmt.Errorf("runner: class %q already registered", class)
	}
	r.constructors[class] = ctor
	return nil
}

func (r *Registry) Get(class string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.constructors[class]
	return ctor, ok
}
