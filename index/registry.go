package index

import "github.com/nanovec/vecengine/core"

// NewFunc constructs an untrained Index for a family from a Spec.
type NewFunc func(spec Spec) Index

// Family bundles a constructor and loader for one index kind.
type Family struct {
	New  NewFunc
	Load Loader
}

// Registry dispatches a core.IndexKind to the Family that implements it.
// The engine package populates this once at startup with every family
// package it imports; keeping the mapping here (rather than in each
// family package) avoids an import cycle between the families and this
// package, since families already import index for the contract types.
type Registry struct {
	families map[core.IndexKind]Family
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{families: make(map[core.IndexKind]Family)}
}

// Register installs the Family implementing kind.
func (r *Registry) Register(kind core.IndexKind, f Family) {
	r.families[kind] = f
}

// New constructs an untrained index of the given kind.
func (r *Registry) New(spec Spec) (Index, bool) {
	f, ok := r.families[spec.Kind]
	if !ok {
		return nil, false
	}
	return f.New(spec), true
}

// LoaderFor returns the Loader for kind.
func (r *Registry) LoaderFor(kind core.IndexKind) (Loader, bool) {
	f, ok := r.families[kind]
	if !ok {
		return nil, false
	}
	return f.Load, true
}
