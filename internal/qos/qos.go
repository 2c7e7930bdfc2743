// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package qos implements the per-interface QoS object tables: egress
// queues, schedulers, and shapers, plus the ingress policer's flow table
// and its own WRED and shaper objects.
package qos

import (
	"sync"

	"fci.dev/endpoint/internal/errors"
)

// WredZoneCount is the size of the fixed drop-probability zone array carried by
// both egress queues and ingress policer WRED objects. Zones beyond the
// number actually configured are marked invalid with the sentinel value
// InvalidZone, rather than being left implicitly zero.
const WredZoneCount = 32

// InvalidZone is the sentinel probability value marking an unused WRED
// zone slot.
const InvalidZone uint8 = 255

// WredZone is one drop-probability zone.
type WredZone struct {
	Probability uint8
	Invalid     bool
}

// NewWredZones returns a zone array with every slot marked invalid.
func NewWredZones() [WredZoneCount]WredZone {
	var z [WredZoneCount]WredZone
	for i := range z {
		z[i] = WredZone{Probability: InvalidZone, Invalid: true}
	}
	return z
}

// QueueMode selects an egress queue's drop discipline.
type QueueMode uint8

const (
	QueueDisabled QueueMode = iota
	QueueDefault
	QueueTailDrop
	QueueWRED
)

// Queue is one per-(interface,id) egress queue.
type Queue struct {
	Iface uint32
	ID    uint32
	Mode  QueueMode
	Max   uint32
	Wred  [WredZoneCount]WredZone
}

// SchedInput is one of a scheduler's 32 weighted inputs.
type SchedInput struct {
	Weight uint8
	Source uint8
}

// Scheduler is one per-(interface,id) egress scheduler. Mode 0 disables
// all inputs.
type Scheduler struct {
	Iface  uint32
	ID     uint32
	Mode   uint8
	Inputs [32]SchedInput
}

// ShaperMode selects a shaper's metering unit.
type ShaperMode uint8

const (
	ShaperDisabled ShaperMode = iota
	ShaperDataRate
	ShaperPacketRate
)

// Shaper is one per-(interface,id) egress or ingress-policer shaper.
type Shaper struct {
	Iface     uint32
	ID        uint32
	Mode      ShaperMode
	MinCredit int32
	MaxCredit int32
	IdleSlope uint32
	Position  uint8
}

// PolicerQueue selects which ingress buffer a policer WRED object guards.
type PolicerQueue uint8

const (
	PolicerQueueDMEM PolicerQueue = iota
	PolicerQueueLMEM
	PolicerQueueRXF
)

// PolicerFlow is one ingress policer flow table entry.
type PolicerFlow struct {
	Iface    uint32
	Position uint8
	Key      string
}

type queueKey struct{ iface, id uint32 }
type policerWredKey struct {
	iface uint32
	queue PolicerQueue
}

// Manager owns every QoS object table. Budget is the per-interface
// maximum sum of queue lengths; updates that would exceed it are
// rejected and leave all queues for that interface unchanged.
type Manager struct {
	mu sync.Mutex

	budget map[uint32]uint32 // iface -> queue-length budget

	queues     map[queueKey]*Queue
	schedulers map[queueKey]*Scheduler
	shapers    map[queueKey]*Shaper

	policerEnabled map[uint32]bool
	policerFlows   map[uint32][]*PolicerFlow // iface -> ordered flow table
	policerWred    map[policerWredKey]*[WredZoneCount]WredZone
	policerShapers map[queueKey]*Shaper
}

// NewManager constructs an empty QoS manager.
func NewManager() *Manager {
	return &Manager{
		budget:         make(map[uint32]uint32),
		queues:         make(map[queueKey]*Queue),
		schedulers:     make(map[queueKey]*Scheduler),
		shapers:        make(map[queueKey]*Shaper),
		policerEnabled: make(map[uint32]bool),
		policerFlows:   make(map[uint32][]*PolicerFlow),
		policerWred:    make(map[policerWredKey]*[WredZoneCount]WredZone),
		policerShapers: make(map[queueKey]*Shaper),
	}
}

// SetBudget installs the queue-length budget for an interface.
func (m *Manager) SetBudget(iface uint32, budget uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budget[iface] = budget
}

// UpdateQueue sets a queue's mode/length/WRED zones, enforcing that the
// sum of the interface's queue maxima does not exceed its budget. On
// violation, no queue for the interface is changed.
func (m *Manager) UpdateQueue(iface, id uint32, mode QueueMode, max uint32, wred [WredZoneCount]WredZone) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	budget, hasBudget := m.budget[iface]
	if hasBudget {
		sum := max
		for k, q := range m.queues {
			if k.iface == iface && k.id != id {
				sum += q.Max
			}
		}
		if sum > budget {
			return errors.New(errors.KindCapacity, "qos: sum of queue lengths exceeds interface budget")
		}
	}

	m.queues[queueKey{iface, id}] = &Queue{Iface: iface, ID: id, Mode: mode, Max: max, Wred: wred}
	return nil
}

// Queue returns the queue at (iface,id).
func (m *Manager) Queue(iface, id uint32) (*Queue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[queueKey{iface, id}]
	return q, ok
}

// UpdateScheduler sets a scheduler's mode and inputs. Mode 0 disables all
// inputs regardless of what Inputs carries.
func (m *Manager) UpdateScheduler(iface, id uint32, mode uint8, inputs [32]SchedInput) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mode == 0 {
		inputs = [32]SchedInput{}
	}
	m.schedulers[queueKey{iface, id}] = &Scheduler{Iface: iface, ID: id, Mode: mode, Inputs: inputs}
}

// Scheduler returns the scheduler at (iface,id).
func (m *Manager) Scheduler(iface, id uint32) (*Scheduler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedulers[queueKey{iface, id}]
	return s, ok
}

// UpdateShaper sets an egress shaper's parameters.
func (m *Manager) UpdateShaper(s Shaper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := s
	m.shapers[queueKey{s.Iface, s.ID}] = &cp
}

// Shaper returns the egress shaper at (iface,id).
func (m *Manager) Shaper(iface, id uint32) (*Shaper, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shapers[queueKey{iface, id}]
	return s, ok
}

// SetPolicerEnabled toggles the ingress policer for an interface.
func (m *Manager) SetPolicerEnabled(iface uint32, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policerEnabled[iface] = enabled
}

// PolicerEnabled reports whether the ingress policer is enabled for iface.
func (m *Manager) PolicerEnabled(iface uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policerEnabled[iface]
}

// firstFreePosition is the sentinel meaning "insert at the first free
// position" for RegisterPolicerFlow.
const firstFreePosition = 0xFF

// RegisterPolicerFlow inserts a flow at position (0xFF meaning first
// free / append).
func (m *Manager) RegisterPolicerFlow(flow *PolicerFlow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.policerFlows[flow.Iface]
	if flow.Position == firstFreePosition || int(flow.Position) >= len(list) {
		flow.Position = uint8(len(list))
		m.policerFlows[flow.Iface] = append(list, flow)
		return nil
	}

	list = append(list, nil)
	copy(list[flow.Position+1:], list[flow.Position:])
	list[flow.Position] = flow
	for i := int(flow.Position) + 1; i < len(list); i++ {
		list[i].Position = uint8(i)
	}
	m.policerFlows[flow.Iface] = list
	return nil
}

// DeregisterPolicerFlow removes the flow at position pos on iface,
// compacting positions of successors.
func (m *Manager) DeregisterPolicerFlow(iface uint32, pos uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.policerFlows[iface]
	if int(pos) >= len(list) {
		return errors.New(errors.KindNotFound, "qos: policer flow not found")
	}
	list = append(list[:pos], list[pos+1:]...)
	for i := int(pos); i < len(list); i++ {
		list[i].Position = uint8(i)
	}
	m.policerFlows[iface] = list
	return nil
}

// PolicerFlowTableFull is the capacity error for a full policer flow
// table. The flow table has no length cap: RegisterPolicerFlow never
// fails, and nothing in the endpoint returns this error.
var PolicerFlowTableFull = errors.New(errors.KindCapacity, "qos: policer flow table full")

// PolicerFlows returns the ordered flow table for an interface.
func (m *Manager) PolicerFlows(iface uint32) []*PolicerFlow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*PolicerFlow(nil), m.policerFlows[iface]...)
}

// UpdatePolicerWred sets the WRED zones for an (interface, queue) ingress
// policer object.
func (m *Manager) UpdatePolicerWred(iface uint32, queue PolicerQueue, zones [WredZoneCount]WredZone) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := zones
	m.policerWred[policerWredKey{iface, queue}] = &cp
}

// PolicerWred returns the WRED zones for an (interface, queue) ingress
// policer object.
func (m *Manager) PolicerWred(iface uint32, queue PolicerQueue) ([WredZoneCount]WredZone, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.policerWred[policerWredKey{iface, queue}]
	if !ok {
		return [WredZoneCount]WredZone{}, false
	}
	return *z, true
}

// UpdatePolicerShaper sets an ingress policer shaper's parameters.
func (m *Manager) UpdatePolicerShaper(s Shaper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := s
	m.policerShapers[queueKey{s.Iface, s.ID}] = &cp
}

// PolicerShaper returns the ingress policer shaper at (iface,id).
func (m *Manager) PolicerShaper(iface, id uint32) (*Shaper, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.policerShapers[queueKey{iface, id}]
	return s, ok
}
