// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package l2 implements the VLAN-keyed bridge domain store and the
// static (VLAN, MAC) forwarding entry table.
package l2

import (
	"sync"

	"fci.dev/endpoint/internal/errors"
)

// Action is a hit/miss forwarding decision.
type Action int

const (
	ActionForward Action = iota
	ActionFlood
	ActionPunt
	ActionDiscard
)

// Bridge is the narrow driver-surface interface for flush operations on
// the MAC learning table.
type Bridge interface {
	FlushLearned() error
	FlushAll() error
}

// Domain is one VLAN-keyed bridge domain.
type Domain struct {
	VLAN uint16

	UcastHit  Action
	UcastMiss Action
	McastHit  Action
	McastMiss Action

	Ports    uint64 // bitset over physical IDs
	Tagged   uint64 // subset of Ports
	Untagged uint64 // subset of Ports

	Fallback bool
	Default  bool
}

// StaticEntry is one (VLAN, MAC) static forwarding entry.
type StaticEntry struct {
	VLAN        uint16
	MAC         [6]byte
	ForwardList uint64 // bitset over physical IDs
	Local       bool
	SrcDiscard  bool
	DstDiscard  bool
}

type staticKey struct {
	vlan uint16
	mac  [6]byte
}

// reservedVLANs are never valid domain keys: 0 is "no VLAN" and 1 is the
// default untagged VLAN reserved by the bridge.
func reservedVLAN(vlan uint16) bool {
	return vlan == 0 || vlan == 1
}

// Manager owns the domain table, the static entry table, and the
// default/fallback domain singleton slots.
type Manager struct {
	mu      sync.Mutex
	bridge  Bridge
	domains map[uint16]*Domain
	static  map[staticKey]*StaticEntry

	defaultDomain  *Domain
	fallbackDomain *Domain
}

// NewManager constructs an empty L2 domain manager.
func NewManager(bridge Bridge) *Manager {
	return &Manager{
		bridge:  bridge,
		domains: make(map[uint16]*Domain),
		static:  make(map[staticKey]*StaticEntry),
	}
}

// RegisterDomain adds a new VLAN bridge domain. VLAN 0 and 1 are
// rejected with no state change.
func (m *Manager) RegisterDomain(d Domain) error {
	if reservedVLAN(d.VLAN) {
		return errors.New(errors.KindValidation, "l2: reserved VLAN")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.domains[d.VLAN]; exists {
		return errors.New(errors.KindAlreadyExists, "l2: domain already registered")
	}

	cp := d
	m.domains[d.VLAN] = &cp
	if cp.Default {
		m.defaultDomain = &cp
	}
	if cp.Fallback {
		m.fallbackDomain = &cp
	}
	return nil
}

// UpdateDomain replaces an existing domain's fields (ports, action
// matrix). On failure the caller (dispatch core) is responsible for
// undoing a preceding REGISTER by calling DeregisterDomain, per the
// partial-success rollback policy.
func (m *Manager) UpdateDomain(d Domain) error {
	if reservedVLAN(d.VLAN) {
		return errors.New(errors.KindValidation, "l2: reserved VLAN")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.domains[d.VLAN]; !exists {
		return errors.New(errors.KindNotFound, "l2: domain not found")
	}
	cp := d
	m.domains[d.VLAN] = &cp
	if cp.Default {
		m.defaultDomain = &cp
	}
	if cp.Fallback {
		m.fallbackDomain = &cp
	}
	return nil
}

// DeregisterDomain removes a domain.
func (m *Manager) DeregisterDomain(vlan uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.domains[vlan]
	if !ok {
		return errors.New(errors.KindNotFound, "l2: domain not found")
	}
	delete(m.domains, vlan)
	if m.defaultDomain == d {
		m.defaultDomain = nil
	}
	if m.fallbackDomain == d {
		m.fallbackDomain = nil
	}
	return nil
}

// Domain looks up a domain by VLAN.
func (m *Manager) Domain(vlan uint16) (Domain, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.domains[vlan]
	if !ok {
		return Domain{}, false
	}
	return *d, true
}

// DefaultDomain and FallbackDomain return the singleton domain slots, if
// any domain currently holds that role.
func (m *Manager) DefaultDomain() (Domain, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.defaultDomain == nil {
		return Domain{}, false
	}
	return *m.defaultDomain, true
}

func (m *Manager) FallbackDomain() (Domain, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fallbackDomain == nil {
		return Domain{}, false
	}
	return *m.fallbackDomain, true
}

// RegisterStaticEntry adds a (VLAN, MAC) static forwarding entry.
func (m *Manager) RegisterStaticEntry(e StaticEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := staticKey{e.VLAN, e.MAC}
	if _, exists := m.static[k]; exists {
		return errors.New(errors.KindAlreadyExists, "l2: static entry already registered")
	}
	cp := e
	m.static[k] = &cp
	return nil
}

// DeregisterStaticEntry removes a static entry.
func (m *Manager) DeregisterStaticEntry(vlan uint16, mac [6]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := staticKey{vlan, mac}
	if _, ok := m.static[k]; !ok {
		return errors.New(errors.KindNotFound, "l2: static entry not found")
	}
	delete(m.static, k)
	return nil
}

// StaticEntry looks up a static entry by its composite key.
func (m *Manager) StaticEntry(vlan uint16, mac [6]byte) (StaticEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.static[staticKey{vlan, mac}]
	if !ok {
		return StaticEntry{}, false
	}
	return *e, true
}

// FlushAll removes every static entry and asks the driver surface to
// drop both learned and static MAC table state.
func (m *Manager) FlushAll() error {
	m.mu.Lock()
	m.static = make(map[staticKey]*StaticEntry)
	m.mu.Unlock()
	return m.bridge.FlushAll()
}

// FlushLearned asks the driver surface to drop only dynamically-learned
// MAC entries; static entries are untouched.
func (m *Manager) FlushLearned() error {
	return m.bridge.FlushLearned()
}

// FlushStatic removes every static entry without touching learned state.
func (m *Manager) FlushStatic() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.static = make(map[staticKey]*StaticEntry)
}
