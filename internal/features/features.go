// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package features implements the firmware feature-flag registry: named
// runtime-toggleable capability flags, plus per-feature grouped element
// arrays addressable by (feature, group, element, index).
package features

import (
	"sync"

	"fci.dev/endpoint/internal/errors"
)

// Flag is one named feature flag.
type Flag struct {
	Name              string
	Description       string
	Value             byte
	Default           byte
	Present           bool
	RuntimeToggleable bool
}

type elementKey struct {
	feature, group, element string
	index                   int
}

// Registry is the feature-flag and grouped-element store.
type Registry struct {
	mu       sync.Mutex
	flags    map[string]*Flag
	elements map[elementKey]byte
}

// NewRegistry constructs an empty feature-flag registry.
func NewRegistry() *Registry {
	return &Registry{
		flags:    make(map[string]*Flag),
		elements: make(map[elementKey]byte),
	}
}

// Register adds a feature flag definition, typically done at bring-up
// from the driver surface's capability report.
func (r *Registry) Register(f Flag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.flags[f.Name]; exists {
		return errors.New(errors.KindAlreadyExists, "features: flag already registered")
	}
	cp := f
	if cp.Value == 0 {
		cp.Value = cp.Default
	}
	r.flags[f.Name] = &cp
	return nil
}

// Get returns the named flag.
func (r *Registry) Get(name string) (Flag, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flags[name]
	if !ok {
		return Flag{}, false
	}
	return *f, true
}

// List returns every registered flag, for FW_FEATURE enumeration.
func (r *Registry) List() []Flag {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Flag, 0, len(r.flags))
	for _, f := range r.flags {
		out = append(out, *f)
	}
	return out
}

// Set toggles a flag's value. Flags not marked RuntimeToggleable reject
// the write with "not available".
func (r *Registry) Set(name string, value byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flags[name]
	if !ok {
		return errors.New(errors.KindNotFound, "features: flag not found")
	}
	if !f.RuntimeToggleable {
		return errors.New(errors.KindPermission, "features: flag not runtime-toggleable")
	}
	f.Value = value
	return nil
}

// SetElement writes one entry of a feature's named grouped element
// array.
func (r *Registry) SetElement(feature, group, element string, index int, value byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.flags[feature]; !ok {
		return errors.New(errors.KindNotFound, "features: flag not found")
	}
	r.elements[elementKey{feature, group, element, index}] = value
	return nil
}

// GetElement reads one entry of a feature's named grouped element array.
func (r *Registry) GetElement(feature, group, element string, index int) (byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.elements[elementKey{feature, group, element, index}]
	return v, ok
}
