// Package registry implements the typed dependency-injection container and
// uniform component lifecycle described for this service: every long-lived
// subsystem (configuration store, ingest, relay supervisor, telemetry bus,
// control API) registers a factory under a symbolic name, declares the
// interfaces it depends on and exports, and is driven through
// initialize -> activate -> deactivate -> destroy in registration order (and
// reverse order for teardown).
//
// The pattern mirrors the construction-order wiring the teacher performs by
// hand in its process entrypoint (explicit dependency graph, sequential
// startup) but makes the graph and its lifecycle states explicit and
// reusable across components instead of inlined in main.
package registry

import (
	"fmt"
	"sync"
)

// State is a component's position in its lifecycle state machine.
type State int

const (
	Created State = iota
	Initializing
	Initialized
	Activating
	Active
	Deactivating
	Deactivated
	Destroying
	Destroyed
	ErrorState
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	case Activating:
		return "activating"
	case Active:
		return "active"
	case Deactivating:
		return "deactivating"
	case Deactivated:
		return "deactivated"
	case Destroying:
		return "destroying"
	case Destroyed:
		return "destroyed"
	case ErrorState:
		return "error"
	default:
		return "unknown"
	}
}

// Component is the uniform contract every registered singleton implements.
type Component interface {
	Initialize() error
	Activate() error
	Deactivate() error
	Destroy() error
}

// StatusComponent is implemented by components that can report a synchronous
// status snapshot beyond their lifecycle state; it is optional.
type StatusComponent interface {
	StatusSnapshot() any
}

var validTransitions = map[State]State{
	Created:      Initializing,
	Initializing: Initialized,
	Initialized:  Activating,
	Activating:   Active,
	Active:       Deactivating,
	Deactivating: Deactivated,
	Deactivated:  Destroying,
	Destroying:   Destroyed,
}

type entry struct {
	name     string
	factory  func() (Component, error)
	deps     []string
	exports  []string
	instance Component
	state    State
	built    bool
}

// Registry is the typed DI container. It is not safe for concurrent
// registration; registration happens once at process startup before any
// lifecycle method is invoked.
type Registry struct {
	mu        sync.Mutex
	byName    map[string]*entry
	order     []*entry
	exportIdx map[string][]*entry
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		byName:    make(map[string]*entry),
		exportIdx: make(map[string][]*entry),
	}
}

// Register adds a component factory under name. Re-registering the same name
// is an error. deps and exports are symbolic interface names used only for
// documentation and resolveAll lookups; the registry does not itself compute
// a topological sort -- registration order IS dependency order, matching the
// spec's "registration (dependency) order" contract.
func (r *Registry) Register(name string, factory func() (Component, error), deps []string, exports []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("registry: component %q already registered", name)
	}
	e := &entry{name: name, factory: factory, deps: deps, exports: exports, state: Created}
	r.byName[name] = e
	r.order = append(r.order, e)
	for _, exp := range exports {
		r.exportIdx[exp] = append(r.exportIdx[exp], e)
	}
	return nil
}

// Resolve lazily instantiates and caches the singleton registered under name,
// or the first singleton exporting nameOrExport if no component is
// registered under that literal name.
func (r *Registry) Resolve(nameOrExport string) (Component, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byName[nameOrExport]; ok {
		return r.buildLocked(e)
	}
	if exporters, ok := r.exportIdx[nameOrExport]; ok && len(exporters) > 0 {
		return r.buildLocked(exporters[0])
	}
	return nil, fmt.Errorf("registry: no component registered for %q", nameOrExport)
}

// ResolveAll returns every singleton exporting exportName, in registration
// order, lazily instantiating any not yet built.
func (r *Registry) ResolveAll(exportName string) ([]Component, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exporters := r.exportIdx[exportName]
	out := make([]Component, 0, len(exporters))
	for _, e := range exporters {
		c, err := r.buildLocked(e)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *Registry) buildLocked(e *entry) (Component, error) {
	if e.built {
		return e.instance, nil
	}
	c, err := e.factory()
	if err != nil {
		return nil, fmt.Errorf("registry: build %q: %w", e.name, err)
	}
	e.instance = c
	e.built = true
	return c, nil
}

// transition validates and applies a state change, failing closed (no
// mutation) on an invalid transition.
func (e *entry) transition(target State) error {
	if e.state == target {
		return nil
	}
	expected, ok := validTransitions[e.state]
	if !ok || expected != target {
		return fmt.Errorf("registry: component %q cannot transition from %s to %s", e.name, e.state, target)
	}
	e.state = target
	return nil
}

// InitializeAll drives every registered singleton through Initialize in
// registration order. Any failure marks the offending component ERROR and
// aborts the remainder.
func (r *Registry) InitializeAll() error {
	return r.driveForward(Initializing, Initialized, Component.Initialize)
}

// ActivateAll drives every registered singleton through Activate in
// registration order. Any failure marks the offending component ERROR and
// aborts the remainder -- the registry does not attempt to activate
// components whose dependencies failed.
func (r *Registry) ActivateAll() error {
	return r.driveForward(Activating, Active, Component.Activate)
}

func (r *Registry) driveForward(transitional, final State, call func(Component) error) error {
	r.mu.Lock()
	entries := append([]*entry(nil), r.order...)
	r.mu.Unlock()

	for _, e := range entries {
		c, err := r.resolveEntry(e)
		if err != nil {
			return err
		}
		if err := e.transition(transitional); err != nil {
			e.state = ErrorState
			return err
		}
		if err := call(c); err != nil {
			e.state = ErrorState
			return fmt.Errorf("registry: %q failed: %w", e.name, err)
		}
		if err := e.transition(final); err != nil {
			e.state = ErrorState
			return err
		}
	}
	return nil
}

func (r *Registry) resolveEntry(e *entry) (Component, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buildLocked(e)
}

// DeactivateAll drives every built singleton through Deactivate in reverse
// registration order, best-effort: it collects errors instead of aborting so
// that one misbehaving component does not prevent its siblings from
// releasing resources.
func (r *Registry) DeactivateAll() []error {
	return r.driveReverse(Deactivating, Deactivated, Component.Deactivate)
}

// DestroyAll drives every built singleton through Destroy in reverse
// registration order, best-effort.
func (r *Registry) DestroyAll() []error {
	return r.driveReverse(Destroying, Destroyed, Component.Destroy)
}

func (r *Registry) driveReverse(transitional, final State, call func(Component) error) []error {
	r.mu.Lock()
	entries := append([]*entry(nil), r.order...)
	r.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if !e.built {
			continue
		}
		if err := e.transition(transitional); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := call(e.instance); err != nil {
			e.state = ErrorState
			errs = append(errs, fmt.Errorf("registry: %q: %w", e.name, err))
			continue
		}
		if err := e.transition(final); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// StateOf returns the current lifecycle state of the named component, for
// diagnostics and tests.
func (r *Registry) StateOf(name string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[name]
	if !ok {
		return 0, false
	}
	return e.state, true
}
