// Package config is a typed key-value configuration tree loaded from YAML,
// grounded on ljrServer's Config/ConfigVar (config.h/.cpp): named,
// described, typed variables registered once at startup, looked up by
// dotted name, and reloadable from a fresh YAML document without restarting
// the process — any code holding a *Var[T] observes the new value on its
// next Value() call, and registered listeners are notified of the change.
//
// Go's generics replace the original's LexicalCast/TypeToString boost
// machinery: a Var[T] round-trips through yaml.Marshal/Unmarshal instead of
// a per-type specialization, which also gets the container types (slices,
// maps) for free instead of needing an explicit partial specialization per
// container shape.
package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lijianran/ljrserver/internal/logging"
)

var log = logging.Named("config")

// Listener is notified with a variable's old and new value whenever Load
// changes it, matching ConfigVar::addListener's change-callback contract.
type Listener[T any] func(old, new T)

// varBase is the type-erased half of every registered variable, letting the
// registry walk all of them during Load without reflecting into T.
type varBase interface {
	name() string
	description() string
	applyRaw(node *yaml.Node) error
}

// Var is a single typed configuration value.
type Var[T any] struct {
	mu        sync.RWMutex
	varName   string
	desc      string
	value     T
	listeners []Listener[T]
}

func (v *Var[T]) name() string        { return v.varName }
func (v *Var[T]) description() string { return v.desc }

// Value returns the variable's current value.
func (v *Var[T]) Value() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// AddListener registers fn to be called, with the old and new value,
// whenever Load changes this variable.
func (v *Var[T]) AddListener(fn Listener[T]) {
	v.mu.Lock()
	v.listeners = append(v.listeners, fn)
	v.mu.Unlock()
}

func (v *Var[T]) applyRaw(node *yaml.Node) error {
	var next T
	if err := node.Decode(&next); err != nil {
		return fmt.Errorf("config: decode %q: %w", v.varName, err)
	}
	v.mu.Lock()
	old := v.value
	v.value = next
	listeners := append([]Listener[T](nil), v.listeners...)
	v.mu.Unlock()

	for _, l := range listeners {
		l(old, next)
	}
	return nil
}

// Registry is the process-wide set of named configuration variables,
// mirroring Config's static s_datas map.
type Registry struct {
	mu   sync.RWMutex
	vars map[string]varBase
}

// NewRegistry constructs an empty Registry. Most callers want the process
// Default() instead.
func NewRegistry() *Registry {
	return &Registry{vars: map[string]varBase{}}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide Registry, mirroring Config's singleton
// data map.
func Default() *Registry { return defaultRegistry }

// Lookup returns an existing variable by name, or nil.
func Lookup[T any](r *Registry, name string) *Var[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vb, ok := r.vars[name]
	if !ok {
		return nil
	}
	v, ok := vb.(*Var[T])
	if !ok {
		return nil
	}
	return v
}

// LookupOrDefine returns the existing variable named name, or registers and
// returns a new one seeded with defaultValue if none exists yet. Matches
// Config::Lookup(name, default_value, description)'s "find or create"
// contract; it panics if name is already registered with a different type,
// matching the original's type-mismatch CONFIG_ASSERT.
func LookupOrDefine[T any](r *Registry, name string, defaultValue T, description string) *Var[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.vars[name]; ok {
		v, ok := existing.(*Var[T])
		if !ok {
			panic(fmt.Sprintf("config: %q already registered with a different type", name))
		}
		return v
	}

	v := &Var[T]{varName: name, desc: description, value: defaultValue}
	r.vars[name] = v
	return v
}

// LoadFile reads path as YAML and applies every top-level key matching a
// registered variable's name, matching Config::LoadFromYaml's tree walk.
// Unknown keys are ignored (logged at debug); a key matching a registered
// name that fails to decode into that variable's type is an error, but
// other keys still apply.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	return r.Load(data)
}

// Load parses data as a YAML document and applies it the same way LoadFile
// does.
func (r *Registry) Load(data []byte) error {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config: parse yaml: %w", err)
	}

	r.mu.RLock()
	vars := make(map[string]varBase, len(r.vars))
	for k, v := range r.vars {
		vars[k] = v
	}
	r.mu.RUnlock()

	var firstErr error
	for key, node := range doc {
		v, ok := vars[key]
		if !ok {
			log.Debug().Str("key", key).Log("config: ignoring unregistered key")
			continue
		}
		node := node
		if err := v.applyRaw(&node); err != nil {
			log.Err().Err(err).Str("key", key).Log("config: failed to apply value")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
