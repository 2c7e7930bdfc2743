// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ifaces is the read-mostly accessor over the physical/logical
// interface catalog: interface records, per-interface MAC lists, mirror
// bindings, and the exclusive per-session handle multi-step interface
// queries serialize on.
package ifaces

import (
	"sort"
	"sync"
	"sync/atomic"

	"fci.dev/endpoint/internal/errors"
)

// MirrorSlots is FPP_MIRRORS_CNT: the fixed number of ingress/egress
// mirror binding slots carried per physical interface.
const MirrorSlots = 2

// PhyFlags is the physical-interface flag bitset.
type PhyFlags uint16

const (
	PhyEnabled PhyFlags = 1 << iota
	PhyPromisc
	PhyVLANConform
	PhyPTPConform
	PhyPTPPromisc
	PhyAllowQinQ
	PhyDiscardTTL
	PhyLoopback
)

// OperMode and BlockState are small closed enumerations mirroring the
// driver surface's own.
type OperMode uint8
type BlockState uint8

const (
	ModeDefault OperMode = iota
	ModeRouter
	ModeBridge
)

const (
	BlockNone BlockState = iota
	BlockNormal
	BlockAll
)

// Stats is the read-only statistics snapshot the driver surface reports
// per interface.
type Stats struct {
	RxPackets, TxPackets uint64
	RxBytes, TxBytes     uint64
}

// Physical is one physical interface record.
type Physical struct {
	ID    uint32
	Name  string
	Flags PhyFlags
	Mode  OperMode
	Block BlockState

	// IngressMirrors/EgressMirrors name a bound mirror rule per slot, or
	// "" if unbound.
	IngressMirrors [MirrorSlots]string
	EgressMirrors  [MirrorSlots]string

	// FlexFilter names the FP-table bound as this interface's
	// flexifilter, or "" if unbound.
	FlexFilter string

	// PTPMgmtIface is the physical interface ID designated to carry PTP
	// management traffic for this interface, or 0 if unset.
	PTPMgmtIface uint32

	MACs  [][6]byte
	Stats Stats
}

// Logical is one logical interface record: a filtering view over a
// physical interface.
type Logical struct {
	ID         uint32
	Name       string
	Parent     uint32 // physical interface ID
	EgressBits uint64 // bitset over physical IDs
	MatchRules uint32 // bitset of active match rules
	MatchArgs  map[uint32][]byte
	Flags      uint32
	Stats      Stats
}

// Catalog is the interface view. Queries that span multiple calls (a
// session's QUERY/QUERY_CONT sequence) acquire the session lock via
// LockSession/UnlockSession so the snapshot observed stays consistent;
// the catalog's own mutex guards the maps for single-shot operations.
type Catalog struct {
	mu sync.RWMutex

	phys map[uint32]*Physical
	logs map[uint32]*Logical

	logCur logicalCursor
	phyCur physicalCursor
	macCur macCursor

	sessionHolder atomic.Uint64 // 0 = unheld; else current session id
	nextSessionID atomic.Uint64
}

// logicalCursor/physicalCursor/macCursor are the embedded iteration
// cursors LOG_IF/PHY_IF/IF_MAC QUERY/QUERY_CONT advance, mirroring
// internal/routedb's cursor over a snapshot of keys taken at GetFirst.
type logicalCursor struct {
	active    bool
	ids       []uint32
	nextIndex int
}

type physicalCursor struct {
	active    bool
	ids       []uint32
	nextIndex int
}

type macCursor struct {
	active    bool
	ifaceName string
	macs      [][6]byte
	nextIndex int
}

// NewCatalog constructs an empty interface catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		phys: make(map[uint32]*Physical),
		logs: make(map[uint32]*Logical),
	}
}

// LockSession implements IF_LOCK_SESSION: grants the exclusive session
// handle, returning its id, or ALREADY_LOCKED if one is already held.
func (c *Catalog) LockSession() (uint64, error) {
	if !c.sessionHolder.CompareAndSwap(0, 1) {
		return 0, errors.New(errors.KindContention, "ifaces: session already locked")
	}
	id := c.nextSessionID.Add(1)
	c.sessionHolder.Store(id)
	return id, nil
}

// UnlockSession implements IF_UNLOCK_SESSION: releases the session
// handle if sessionID matches the current holder, else WRONG_SESSION_ID.
func (c *Catalog) UnlockSession(sessionID uint64) error {
	if c.sessionHolder.Load() != sessionID {
		return errors.New(errors.KindContention, "ifaces: wrong session id")
	}
	c.sessionHolder.Store(0)
	return nil
}

// RegisterPhysical adds a physical interface record.
func (c *Catalog) RegisterPhysical(p *Physical) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.phys[p.ID]; exists {
		return errors.New(errors.KindAlreadyExists, "ifaces: physical interface already registered")
	}
	c.phys[p.ID] = p
	return nil
}

// Physical looks up a physical interface by ID.
func (c *Catalog) Physical(id uint32) (*Physical, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.phys[id]
	return p, ok
}

// PhysicalByName looks up a physical interface by name.
func (c *Catalog) PhysicalByName(name string) (*Physical, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.phys {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// GetFirstPhysical starts a new QUERY/QUERY_CONT enumeration of the flat
// physical interface list, ordered by ID.
func (c *Catalog) GetFirstPhysical() (*Physical, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint32, 0, len(c.phys))
	for id := range c.phys {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	c.phyCur = physicalCursor{active: true, ids: ids}
	return c.advancePhysicalLocked()
}

// GetNextPhysical continues the enumeration started by GetFirstPhysical.
func (c *Catalog) GetNextPhysical() (*Physical, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.phyCur.active {
		return nil, false
	}
	return c.advancePhysicalLocked()
}

func (c *Catalog) advancePhysicalLocked() (*Physical, bool) {
	for c.phyCur.nextIndex < len(c.phyCur.ids) {
		id := c.phyCur.ids[c.phyCur.nextIndex]
		c.phyCur.nextIndex++
		if p, ok := c.phys[id]; ok {
			return p, true
		}
	}
	return nil, false
}

// RegisterLogical adds a logical interface, validating that its parent
// physical interface exists and its egress bitset is a subset of known
// physical IDs.
func (c *Catalog) RegisterLogical(l *Logical) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.logs[l.ID]; exists {
		return errors.New(errors.KindAlreadyExists, "ifaces: logical interface already registered")
	}
	if _, ok := c.phys[l.Parent]; !ok {
		return errors.New(errors.KindValidation, "ifaces: unknown parent physical interface")
	}
	if !c.egressSubsetLocked(l.EgressBits) {
		return errors.New(errors.KindValidation, "ifaces: egress bitset references unknown physical interface")
	}
	c.logs[l.ID] = l
	return nil
}

func (c *Catalog) egressSubsetLocked(bits uint64) bool {
	for bits != 0 {
		id := uint32(trailingZero64(bits))
		if _, ok := c.phys[id]; !ok {
			return false
		}
		bits &= bits - 1
	}
	return true
}

func trailingZero64(x uint64) int {
	n := 0
	for x&1 == 0 {
		x >>= 1
		n++
	}
	return n
}

// DeregisterLogical removes a logical interface.
func (c *Catalog) DeregisterLogical(id uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.logs[id]; !ok {
		return errors.New(errors.KindNotFound, "ifaces: logical interface not found")
	}
	delete(c.logs, id)
	return nil
}

// Logical looks up a logical interface by ID.
func (c *Catalog) Logical(id uint32) (*Logical, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.logs[id]
	return l, ok
}

// UpdateLogical applies a REGISTER-shaped set of mutable fields (parent,
// egress bitset, match rules, flags) to an already-registered logical
// interface.
func (c *Catalog) UpdateLogical(id, parent uint32, egressBits uint64, matchRules, flags uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.logs[id]
	if !ok {
		return errors.New(errors.KindNotFound, "ifaces: logical interface not found")
	}
	if _, ok := c.phys[parent]; !ok {
		return errors.New(errors.KindValidation, "ifaces: unknown parent physical interface")
	}
	if !c.egressSubsetLocked(egressBits) {
		return errors.New(errors.KindValidation, "ifaces: egress bitset references unknown physical interface")
	}
	l.Parent = parent
	l.EgressBits = egressBits
	l.MatchRules = matchRules
	l.Flags = flags
	return nil
}

// GetFirstLogical starts a new QUERY/QUERY_CONT enumeration of the flat
// logical interface list, ordered by ID.
func (c *Catalog) GetFirstLogical() (*Logical, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint32, 0, len(c.logs))
	for id := range c.logs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	c.logCur = logicalCursor{active: true, ids: ids}
	return c.advanceLogicalLocked()
}

// GetNextLogical continues the enumeration started by GetFirstLogical.
func (c *Catalog) GetNextLogical() (*Logical, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.logCur.active {
		return nil, false
	}
	return c.advanceLogicalLocked()
}

func (c *Catalog) advanceLogicalLocked() (*Logical, bool) {
	for c.logCur.nextIndex < len(c.logCur.ids) {
		id := c.logCur.ids[c.logCur.nextIndex]
		c.logCur.nextIndex++
		if l, ok := c.logs[id]; ok {
			return l, true
		}
	}
	return nil, false
}

// AddMAC registers a MAC on a named physical interface's MAC list.
func (c *Catalog) AddMAC(name string, mac [6]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.findByNameLocked(name)
	if p == nil {
		return errors.New(errors.KindNotFound, "ifaces: interface not found")
	}
	for _, m := range p.MACs {
		if m == mac {
			return errors.New(errors.KindAlreadyExists, "ifaces: mac already registered")
		}
	}
	p.MACs = append(p.MACs, mac)
	return nil
}

// RemoveMAC deregisters a MAC from a named physical interface's MAC list.
func (c *Catalog) RemoveMAC(name string, mac [6]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.findByNameLocked(name)
	if p == nil {
		return errors.New(errors.KindNotFound, "ifaces: interface not found")
	}
	for i, m := range p.MACs {
		if m == mac {
			p.MACs = append(p.MACs[:i], p.MACs[i+1:]...)
			return nil
		}
	}
	return errors.New(errors.KindNotFound, "ifaces: mac not found")
}

func (c *Catalog) findByNameLocked(name string) *Physical {
	for _, p := range c.phys {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// BindMirror sets an ingress or egress mirror binding slot by index.
func (c *Catalog) BindMirror(name string, ingress bool, slot int, mirrorName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.findByNameLocked(name)
	if p == nil {
		return errors.New(errors.KindNotFound, "ifaces: interface not found")
	}
	if slot < 0 || slot >= MirrorSlots {
		return errors.New(errors.KindValidation, "ifaces: mirror slot out of range")
	}
	if ingress {
		p.IngressMirrors[slot] = mirrorName
	} else {
		p.EgressMirrors[slot] = mirrorName
	}
	return nil
}

// UnbindMirrorsByName clears any slot (ingress or egress, any interface)
// currently bound to mirrorName. Used when a mirror rule is deregistered.
func (c *Catalog) UnbindMirrorsByName(mirrorName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.phys {
		for i := range p.IngressMirrors {
			if p.IngressMirrors[i] == mirrorName {
				p.IngressMirrors[i] = ""
			}
		}
		for i := range p.EgressMirrors {
			if p.EgressMirrors[i] == mirrorName {
				p.EgressMirrors[i] = ""
			}
		}
	}
}

// BindFlexFilter sets the flexifilter (FP-table) binding for a physical
// interface.
func (c *Catalog) BindFlexFilter(name, tableName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.findByNameLocked(name)
	if p == nil {
		return errors.New(errors.KindNotFound, "ifaces: interface not found")
	}
	p.FlexFilter = tableName
	return nil
}

// SetPTPMgmtIface designates the physical interface carrying PTP
// management traffic for a named physical interface.
func (c *Catalog) SetPTPMgmtIface(name string, ptpIface uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.findByNameLocked(name)
	if p == nil {
		return errors.New(errors.KindNotFound, "ifaces: interface not found")
	}
	p.PTPMgmtIface = ptpIface
	return nil
}

// GetFirstMAC starts a new QUERY/QUERY_CONT enumeration of the MAC list
// registered on a named physical interface.
func (c *Catalog) GetFirstMAC(name string) ([6]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.findByNameLocked(name)
	if p == nil {
		c.macCur = macCursor{}
		return [6]byte{}, false
	}
	c.macCur = macCursor{active: true, ifaceName: name, macs: append([][6]byte(nil), p.MACs...)}
	return c.advanceMACLocked()
}

// GetNextMAC continues the enumeration started by GetFirstMAC.
func (c *Catalog) GetNextMAC() ([6]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.macCur.active {
		return [6]byte{}, false
	}
	return c.advanceMACLocked()
}

func (c *Catalog) advanceMACLocked() ([6]byte, bool) {
	if c.macCur.nextIndex >= len(c.macCur.macs) {
		return [6]byte{}, false
	}
	m := c.macCur.macs[c.macCur.nextIndex]
	c.macCur.nextIndex++
	return m, true
}
