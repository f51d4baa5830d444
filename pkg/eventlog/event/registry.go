package event

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Decoder turns a stored payload into a typed value.
type Decoder func(data []byte, codec PayloadCodec) (any, error)

// Registry maps logical type names to payload decoders.
// It is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	// decoders maps upper-case name -> decoder
	decoders map[string]Decoder

	// names maps Go payload type -> upper-case name
	names map[reflect.Type]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		decoders: make(map[string]Decoder),
		names:    make(map[reflect.Type]string),
	}
}

// NormalizeName returns the stored form of a logical type name.
func NormalizeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Register adds a decoder for name. Registering the same name again
// replaces the previous decoder.
func (r *Registry) Register(name string, dec Decoder) error {
	name = NormalizeName(name)
	if name == "" {
		return fmt.Errorf("event type name is required")
	}
	if strings.ContainsAny(name, "\t\n\r") {
		return fmt.Errorf("event type name %q contains a separator", name)
	}
	if dec == nil {
		return fmt.Errorf("decoder for %s is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[name] = dec
	return nil
}

// RegisterType registers T under name. Payloads of type T (or *T) are
// labelled with name when encoded and decode back to a T value.
func RegisterType[T any](r *Registry, name string) error {
	dec := func(data []byte, codec PayloadCodec) (any, error) {
		var v T
		if err := codec.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	if err := r.Register(name, dec); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[reflect.TypeOf((*T)(nil)).Elem()] = NormalizeName(name)
	return nil
}

// MustRegisterType is RegisterType that panics on error.
func MustRegisterType[T any](r *Registry, name string) {
	if err := RegisterType[T](r, name); err != nil {
		panic(fmt.Sprintf("failed to register event type: %v", err))
	}
}

// Resolve returns the decoder for name. It never fails; callers handle
// the unknown case.
func (r *Registry) Resolve(name string) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dec, ok := r.decoders[NormalizeName(name)]
	return dec, ok
}

// NameOf returns the registered name for payload's Go type.
func (r *Registry) NameOf(payload any) (string, bool) {
	if payload == nil {
		return "", false
	}
	if raw, ok := payload.(Raw); ok {
		return NormalizeName(raw.Type), raw.Type != ""
	}

	t := reflect.TypeOf(payload)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.names[t]
	return name, ok
}

// Has returns true if name has a decoder.
func (r *Registry) Has(name string) bool {
	_, ok := r.Resolve(name)
	return ok
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.decoders))
	for name := range r.decoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
