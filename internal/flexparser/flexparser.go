// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package flexparser implements the flexible-parser database: named
// match rules and named ordered rule tables, with bind/unbind of a table
// into the classifier's DMEM and reference counting of that binding.
package flexparser

import (
	"sync"

	"fci.dev/endpoint/internal/errors"
)

// OffsetFrom selects which protocol layer a rule's Offset is relative to.
type OffsetFrom int

const (
	FromL2 OffsetFrom = iota
	FromL3
	FromL4
)

// Action is a rule's match-action.
type Action int

const (
	ActionAccept Action = iota
	ActionReject
	ActionNextRule
)

// Rule is one named flex-parser rule.
type Rule struct {
	Name       string
	Data       uint32
	Mask       uint32
	Offset     uint16
	OffsetFrom OffsetFrom
	Invert     bool
	Action     Action
	NextRule   string

	table string // name of the table this rule belongs to, "" if none
}

// Table is a named ordered sequence of rule references, optionally bound
// into the classifier's DMEM.
type Table struct {
	Name    string
	Rules   []string // ordered rule names
	Addr    uint32   // DMEM binding address, 0 if unbound
	RefCount int
}

// Classifier is the narrow driver-surface interface the flex-parser DB
// invokes to materialize a table binding in DMEM.
type Classifier interface {
	BindTable(table string, rules []Rule) (addr uint32, err error)
	UnbindTable(addr uint32) error
}

// DB is the flex-parser rule/table store.
type DB struct {
	mu         sync.Mutex
	classifier Classifier

	rules      map[string]*Rule
	tables     map[string]*Table
	addrToName map[uint32]string
}

// NewDB constructs an empty flex-parser database bound to the given
// classifier driver surface.
func NewDB(classifier Classifier) *DB {
	return &DB{
		classifier: classifier,
		rules:      make(map[string]*Rule),
		tables:     make(map[string]*Table),
		addrToName: make(map[uint32]string),
	}
}

// RegisterRule adds a new named rule.
func (d *DB) RegisterRule(r Rule) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.rules[r.Name]; exists {
		return errors.New(errors.KindAlreadyExists, "flexparser: rule already registered")
	}
	cp := r
	d.rules[r.Name] = &cp
	return nil
}

// DeregisterRule removes a rule not currently a member of any table.
func (d *DB) DeregisterRule(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.rules[name]
	if !ok {
		return errors.New(errors.KindNotFound, "flexparser: rule not found")
	}
	if r.table != "" {
		return errors.New(errors.KindConflict, "flexparser: rule is a member of a table")
	}
	delete(d.rules, name)
	return nil
}

// Rule returns a copy of the named rule.
func (d *DB) Rule(name string) (Rule, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.rules[name]
	if !ok {
		return Rule{}, false
	}
	return *r, true
}

// RegisterTable adds a new named, empty, unbound table.
func (d *DB) RegisterTable(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.tables[name]; exists {
		return errors.New(errors.KindAlreadyExists, "flexparser: table already registered")
	}
	d.tables[name] = &Table{Name: name}
	return nil
}

// DeregisterTable removes an unbound table. Any rules still in the table
// are released and become free to join another table.
func (d *DB) DeregisterTable(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[name]
	if !ok {
		return errors.New(errors.KindNotFound, "flexparser: table not found")
	}
	if t.RefCount > 0 {
		return errors.New(errors.KindConflict, "flexparser: table still bound")
	}
	for _, rn := range t.Rules {
		if r, ok := d.rules[rn]; ok {
			r.table = ""
		}
	}
	delete(d.tables, name)
	return nil
}

// Table returns a copy of the named table.
func (d *DB) Table(name string) (Table, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[name]
	if !ok {
		return Table{}, false
	}
	cp := *t
	cp.Rules = append([]string(nil), t.Rules...)
	return cp, true
}

// UseRule inserts rule into table at position pos, shifting successors;
// pos >= current length appends. A rule may belong to at most one
// table.
func (d *DB) UseRule(table, rule string, pos int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tables[table]
	if !ok {
		return errors.New(errors.KindNotFound, "flexparser: table not found")
	}
	r, ok := d.rules[rule]
	if !ok {
		return errors.New(errors.KindNotFound, "flexparser: rule not found")
	}
	if r.table != "" {
		return errors.New(errors.KindConflict, "flexparser: rule already belongs to a table")
	}

	if pos < 0 || pos >= len(t.Rules) {
		t.Rules = append(t.Rules, rule)
	} else {
		t.Rules = append(t.Rules, "")
		copy(t.Rules[pos+1:], t.Rules[pos:])
		t.Rules[pos] = rule
	}
	r.table = table
	return nil
}

// UnuseRule removes rule from table, compacting successor positions.
func (d *DB) UnuseRule(table, rule string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tables[table]
	if !ok {
		return errors.New(errors.KindNotFound, "flexparser: table not found")
	}
	idx := -1
	for i, rn := range t.Rules {
		if rn == rule {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.New(errors.KindNotFound, "flexparser: rule not a member of table")
	}
	t.Rules = append(t.Rules[:idx], t.Rules[idx+1:]...)
	if r, ok := d.rules[rule]; ok {
		r.table = ""
	}
	return nil
}

// Bind materializes table in the classifier's DMEM, or increments the
// reference count if it is already bound. Returns the binding address.
func (d *DB) Bind(table string) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tables[table]
	if !ok {
		return 0, errors.New(errors.KindNotFound, "flexparser: table not found")
	}
	if t.RefCount > 0 {
		t.RefCount++
		return t.Addr, nil
	}

	rules := make([]Rule, 0, len(t.Rules))
	for _, rn := range t.Rules {
		if r, ok := d.rules[rn]; ok {
			rules = append(rules, *r)
		}
	}
	addr, err := d.classifier.BindTable(table, rules)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, "flexparser: classifier bind failed")
	}
	t.Addr = addr
	t.RefCount = 1
	d.addrToName[addr] = table
	return addr, nil
}

// Unbind decrements table's binding reference count, unbinding from
// DMEM when it reaches zero.
func (d *DB) Unbind(table string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tables[table]
	if !ok {
		return errors.New(errors.KindNotFound, "flexparser: table not found")
	}
	if t.RefCount == 0 {
		return errors.New(errors.KindConflict, "flexparser: table not bound")
	}
	t.RefCount--
	if t.RefCount == 0 {
		if err := d.classifier.UnbindTable(t.Addr); err != nil {
			return errors.Wrap(err, errors.KindInternal, "flexparser: classifier unbind failed")
		}
		delete(d.addrToName, t.Addr)
		t.Addr = 0
	}
	return nil
}

// TableByAddr reverse-resolves a DMEM binding address to its table name;
// used by the mirror registry to validate its filter-table binding.
func (d *DB) TableByAddr(addr uint32) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name, ok := d.addrToName[addr]
	return name, ok
}
