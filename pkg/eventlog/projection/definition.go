package projection

import (
	"fmt"
	"reflect"

	"github.com/randalmurphal/eventlog/pkg/eventlog/event"
)

// Handler updates state for an event whose type has no typed handler, or
// for every event when registered with Any.
type Handler[T any] func(state *T, e event.Event) error

type indexDef[T any] struct {
	field string
	value func(*T) any
}

// Definition declares how a projection of T is built. Build it once at
// startup with Define and the chained registration methods; it must not
// be modified after it is passed to New.
type Definition[T any] struct {
	name       string
	version    int
	create     func(id string) *T
	handlers   map[string]Handler[T]
	unexpected Handler[T]
	any        Handler[T]
	indexes    []indexDef[T]
	indexNames map[string]struct{}
}

// Define starts a projection definition. The version participates in the
// snapshot key; bump it whenever T or its handlers change incompatibly.
func Define[T any](name string, version int) *Definition[T] {
	return &Definition[T]{
		name:       name,
		version:    version,
		handlers:   make(map[string]Handler[T]),
		indexNames: make(map[string]struct{}),
	}
}

// Name returns the projection name.
func (d *Definition[T]) Name() string { return d.name }

// Version returns the declared schema version.
func (d *Definition[T]) Version() int { return d.version }

// Create sets the constructor for a new aggregate. It receives the raw
// aggregate id. Default: a zero T.
func (d *Definition[T]) Create(fn func(id string) *T) *Definition[T] {
	d.create = fn
	return d
}

// Unexpected sets the handler for events with no typed handler.
func (d *Definition[T]) Unexpected(fn Handler[T]) *Definition[T] {
	d.unexpected = fn
	return d
}

// Any sets the handler that runs for every event after the typed or
// unexpected handler.
func (d *Definition[T]) Any(fn Handler[T]) *Definition[T] {
	d.any = fn
	return d
}

// Index declares an equality index on field. value extracts the field from
// a projection; nil results are left out of the index. Non-string values
// are indexed by their fmt rendering, so an int 4 is queried as "4".
func (d *Definition[T]) Index(field string, value func(*T) any) *Definition[T] {
	if _, dup := d.indexNames[field]; dup {
		panic(fmt.Sprintf("projection %s: duplicate index %q", d.name, field))
	}
	d.indexNames[field] = struct{}{}
	d.indexes = append(d.indexes, indexDef[T]{field: field, value: value})
	return d
}

// On registers the handler for events of typeName. The stored payload is
// passed as P; events whose payload is not a P (or *P) fail with an error
// reported like any other handler failure.
func On[T, P any](d *Definition[T], typeName string, fn func(state *T, payload P, e event.Event) error) *Definition[T] {
	name := event.NormalizeName(typeName)
	d.handlers[name] = func(state *T, e event.Event) error {
		switch p := e.Payload.(type) {
		case P:
			return fn(state, p, e)
		case *P:
			if p != nil {
				return fn(state, *p, e)
			}
		}
		return fmt.Errorf("payload %T is not %s", e.Payload, reflect.TypeOf((*P)(nil)).Elem())
	}
	return d
}

func (d *Definition[T]) newState(id string) *T {
	if d.create == nil {
		return new(T)
	}
	if s := d.create(id); s != nil {
		return s
	}
	return new(T)
}

func (d *Definition[T]) hasIndex(field string) bool {
	_, ok := d.indexNames[field]
	return ok
}
