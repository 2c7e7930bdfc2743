// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package mirror implements the named mirror-rule registry: an egress
// interface, an optional flex-parser table acting as a filter (resident
// in classifier DMEM at the address the mirror record holds), and a
// modification-action bitset.
package mirror

import (
	"sort"
	"sync"

	"fci.dev/endpoint/internal/errors"
)

// MaxNameLen is the mirror rule name length limit.
const MaxNameLen = 16

// ModAction is the modification-action bitset applied to mirrored
// traffic.
type ModAction uint8

const (
	ModAddOuterVLAN ModAction = 1 << iota
	ModReplaceOuterVLAN
)

// FilterBinder is the narrow collaborator interface satisfied by
// internal/flexparser.DB: bind/unbind a named table into classifier
// DMEM and reverse-resolve a DMEM address back to its table name.
type FilterBinder interface {
	Bind(table string) (addr uint32, err error)
	Unbind(table string) error
	TableByAddr(addr uint32) (string, bool)
}

// Rule is one named mirror rule.
type Rule struct {
	Name        string
	Egress      uint32
	FilterTable string // "" if unfiltered
	filterAddr  uint32
	ModActions  ModAction
	VLANID      uint16 // argument for Add/ReplaceOuterVLAN
}

// Registry is the mirror-rule store.
type Registry struct {
	mu     sync.Mutex
	binder FilterBinder
	rules  map[string]*Rule
	cur    cursor
}

// cursor is the embedded QUERY/QUERY_CONT iteration state, mirroring
// internal/routedb's cursor over a snapshot of keys taken at GetFirst.
type cursor struct {
	active    bool
	names     []string
	nextIndex int
}

// NewRegistry constructs an empty mirror registry bound to the given
// flex-parser filter binder.
func NewRegistry(binder FilterBinder) *Registry {
	return &Registry{
		binder: binder,
		rules:  make(map[string]*Rule),
	}
}

// Register adds a new mirror rule with no filter table bound.
func (r *Registry) Register(name string, egress uint32) error {
	if len(name) == 0 || len(name) > MaxNameLen {
		return errors.New(errors.KindValidation, "mirror: name length out of range")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rules[name]; exists {
		return errors.New(errors.KindAlreadyExists, "mirror: rule already registered")
	}
	r.rules[name] = &Rule{Name: name, Egress: egress}
	return nil
}

// Deregister removes a mirror rule, unbinding its filter table first if
// one is set.
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[name]
	if !ok {
		return errors.New(errors.KindNotFound, "mirror: rule not found")
	}
	if rule.FilterTable != "" {
		if err := r.binder.Unbind(rule.FilterTable); err != nil {
			return errors.Wrap(err, errors.KindInternal, "mirror: unbind filter table failed")
		}
	}
	delete(r.rules, name)
	return nil
}

// Rule returns a copy of the named mirror rule.
func (r *Registry) Rule(name string) (Rule, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[name]
	if !ok {
		return Rule{}, false
	}
	return *rule, true
}

// GetFirst starts a new QUERY/QUERY_CONT enumeration of the flat
// mirror-rule list, ordered by name.
func (r *Registry) GetFirst() (Rule, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.rules))
	for n := range r.rules {
		names = append(names, n)
	}
	sort.Strings(names)
	r.cur = cursor{active: true, names: names}
	return r.advanceLocked()
}

// GetNext continues the enumeration started by GetFirst.
func (r *Registry) GetNext() (Rule, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.cur.active {
		return Rule{}, false
	}
	return r.advanceLocked()
}

func (r *Registry) advanceLocked() (Rule, bool) {
	for r.cur.nextIndex < len(r.cur.names) {
		name := r.cur.names[r.cur.nextIndex]
		r.cur.nextIndex++
		if rule, ok := r.rules[name]; ok {
			return *rule, true
		}
	}
	return Rule{}, false
}

// UpdateEgress changes a rule's egress interface.
func (r *Registry) UpdateEgress(name string, egress uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[name]
	if !ok {
		return errors.New(errors.KindNotFound, "mirror: rule not found")
	}
	rule.Egress = egress
	return nil
}

// UpdateModActions changes a rule's modification-action bitset and VLAN
// argument.
func (r *Registry) UpdateModActions(name string, actions ModAction, vlanID uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[name]
	if !ok {
		return errors.New(errors.KindNotFound, "mirror: rule not found")
	}
	rule.ModActions = actions
	rule.VLANID = vlanID
	return nil
}

// UpdateFilterTable rebinds the rule's filter table: the previous table
// (if any) is unbound from classifier DMEM before the new one is bound,
// keeping the invariant that a set FilterTable is always resident at
// the address the rule holds.
func (r *Registry) UpdateFilterTable(name, table string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[name]
	if !ok {
		return errors.New(errors.KindNotFound, "mirror: rule not found")
	}

	if rule.FilterTable != "" {
		if err := r.binder.Unbind(rule.FilterTable); err != nil {
			return errors.Wrap(err, errors.KindInternal, "mirror: unbind previous filter table failed")
		}
		rule.FilterTable = ""
		rule.filterAddr = 0
	}

	if table == "" {
		return nil
	}

	addr, err := r.binder.Bind(table)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "mirror: bind filter table failed")
	}
	rule.FilterTable = table
	rule.filterAddr = addr
	return nil
}

// FilterAddr returns the DMEM address the rule's filter table is bound
// at, and whether it resolves back to the rule's recorded table name via
// the binder's reverse lookup.
func (r *Registry) FilterAddr(name string) (addr uint32, resolvedTable string, ok bool) {
	r.mu.Lock()
	rule, exists := r.rules[name]
	r.mu.Unlock()
	if !exists || rule.FilterTable == "" {
		return 0, "", false
	}
	table, found := r.binder.TableByAddr(rule.filterAddr)
	return rule.filterAddr, table, found
}
