// Package registry implements nanovm's name/value lookup table: the
// caller-provided reverse (value → symbol) and forward (symbol →
// value) mapping spec.md §4.5 uses to shortcut well-known C-functions
// and abstract types into a short registry-ref on the wire, and that
// spec.md §9's abstract vtable dispatch uses to resolve a type name
// back to its vtable.
//
// Grounded on cmd/vango/internal/styling/registry.go's name→handler
// map shape (a mutex-guarded map with Register/Lookup), generalized
// from "CSS class name → generated rule" to "symbol → value".
package registry

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/nanovm/nanovm/pkg/value"
)

// Registry is a per-VM bidirectional table. Entries are typically
// registered once at startup (builtin C-functions, known abstract
// vtables) before any marshaling happens.
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]value.Value
	byPointer map[uintptr]string
}

func New() *Registry {
	return &Registry{
		byName:    make(map[string]value.Value),
		byPointer: make(map[uintptr]string),
	}
}

// Register associates name with v. v must be a reference value
// (typically a cfunction or abstract); Register panics if given a
// non-reference value, since NameOf only resolves reference values.
// Other reference kinds are accepted.
func (r *Registry) Register(name string, v value.Value) {
	if !v.IsReference() {
		panic(fmt.Sprintf("registry: %q must be registered with a reference value, got %v", name, v.Kind()))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = v
	r.byPointer[refIdentity(v)] = name
}

// Lookup resolves a registry-ref's symbol to its value (spec.md §4.5
// "On unmarshal, a forward lookup resolves the symbol back").
func (r *Registry) Lookup(name string) (value.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byName[name]
	return v, ok
}

// NameOf is the reverse lookup marshal consults before falling back
// to a value's normal encoding.
func (r *Registry) NameOf(v value.Value) (string, bool) {
	if !v.IsReference() {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byPointer[refIdentity(v)]
	return name, ok
}

func refIdentity(v value.Value) uintptr {
	return reflect.ValueOf(v.Ref()).Pointer()
}
