// Package registry holds the set of declared attribute types.
//
// The registry is append-only. Reads go through an atomically published
// immutable map and never take a lock; Register copies the map under a
// mutex and publishes the copy. A registration is visible to every Resolve
// that starts after Register returns.
package registry

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/roach88/attrstore/internal/ir"
)

var (
	// ErrAlreadyExists is returned when a symbol is registered twice.
	ErrAlreadyExists = errors.New("attribute type already exists")

	// ErrNotFound is returned when a symbol has not been registered.
	ErrNotFound = errors.New("attribute type not found")

	// ErrInvalid is returned for a malformed symbol or value kind.
	ErrInvalid = errors.New("invalid attribute type")
)

// Entry is a registered attribute type and the entity that declares it.
type Entry struct {
	Type     ir.AttributeType
	EntityID ir.EntityID
}

// Registry maps attribute-type symbols to their declared kinds.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries atomic.Pointer[map[ir.Symbol]Entry]
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{}
	empty := map[ir.Symbol]Entry{}
	r.entries.Store(&empty)
	return r
}

func (r *Registry) load() map[ir.Symbol]Entry {
	return *r.entries.Load()
}

// Check reports whether at could be registered right now without changing
// the registry.
func (r *Registry) Check(at ir.AttributeType) error {
	return check(r.load(), at)
}

func check(current map[ir.Symbol]Entry, at ir.AttributeType) error {
	if !at.Symbol.Valid() {
		return fmt.Errorf("%w: %q is not a valid symbol name", ErrInvalid, string(at.Symbol))
	}
	if _, ok := ir.KindMarker(at.ValueKind); !ok {
		return fmt.Errorf("%w: unknown value kind for %q", ErrInvalid, string(at.Symbol))
	}
	if _, ok := current[at.Symbol]; ok {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, string(at.Symbol))
	}
	return nil
}

// Register adds at, declared by entity id. It fails with ErrAlreadyExists if
// the symbol is taken.
func (r *Registry) Register(at ir.AttributeType, id ir.EntityID) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.load()
	if err := check(current, at); err != nil {
		return Entry{}, err
	}

	next := maps.Clone(current)
	e := Entry{Type: at, EntityID: id}
	next[at.Symbol] = e
	r.entries.Store(&next)
	return e, nil
}

// Resolve returns the declared kind of sym.
func (r *Registry) Resolve(sym ir.Symbol) (ir.ValueKind, error) {
	e, ok := r.load()[sym]
	if !ok {
		return ir.KindInvalid, fmt.Errorf("%w: %q", ErrNotFound, string(sym))
	}
	return e.Type.ValueKind, nil
}

// Lookup returns the entry for sym.
func (r *Registry) Lookup(sym ir.Symbol) (Entry, bool) {
	e, ok := r.load()[sym]
	return e, ok
}

// ResolveAll resolves every symbol and reports all unknown ones in a single
// error.
func (r *Registry) ResolveAll(syms []ir.Symbol) error {
	current := r.load()
	var missing []string
	for _, s := range syms {
		if _, ok := current[s]; !ok {
			missing = append(missing, fmt.Sprintf("%q", string(s)))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, strings.Join(missing, ", "))
	}
	return nil
}

// All returns every entry sorted by symbol.
func (r *Registry) All() []Entry {
	current := r.load()
	out := slices.Collect(maps.Values(current))
	slices.SortFunc(out, func(a, b Entry) int {
		return strings.Compare(string(a.Type.Symbol), string(b.Type.Symbol))
	})
	return out
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	return len(r.load())
}
