// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package driver is the narrow collaborator surface for the hardware
// accelerator: classifier, L2 bridge, routing table, TMU, and interface
// catalog operations the core invokes but does not implement itself.
// This package provides an in-memory Fake for tests and bring-up without
// real hardware, plus a best-effort netlink-backed resolver used to seed
// the interface catalog from the host's actual network interfaces.
package driver

import (
	"fmt"
	"sync"

	"github.com/vishvananda/netlink"

	"fci.dev/endpoint/internal/errors"
	"fci.dev/endpoint/internal/flexparser"
	"fci.dev/endpoint/internal/logging"
)

// RoutingTable is the driver-surface operations the dispatch core
// invokes when a route is added or removed from the route DB.
type RoutingTable interface {
	AddRoute(id uint32) error
	DelRoute(id uint32) error
}

// TMU is the traffic management unit surface invoked when QoS objects
// are committed.
type TMU interface {
	CommitQueue(iface, id uint32) error
	CommitScheduler(iface, id uint32) error
	CommitShaper(iface, id uint32) error
}

// Fake is an in-memory stand-in for the entire driver surface: it
// implements flexparser.Classifier and l2.Bridge directly (both are
// narrow enough to share one backing store) plus RoutingTable and TMU,
// recording table binds, flushes and route changes for test assertions
// instead of touching real hardware. Its TMU methods record nothing.
type Fake struct {
	mu sync.Mutex

	nextAddr    uint32
	bound       map[uint32][]flexparser.Rule
	flushedAll  int
	flushedLrn  int
	routesAdded map[uint32]bool
	log         *logging.Logger
}

// NewFake constructs a driver-surface fake.
func NewFake(log *logging.Logger) *Fake {
	if log == nil {
		log = logging.WithComponent("driver")
	}
	return &Fake{
		bound:       make(map[uint32][]flexparser.Rule),
		routesAdded: make(map[uint32]bool),
		log:         log.WithComponent("driver"),
	}
}

// BindTable implements flexparser.Classifier.
func (f *Fake) BindTable(table string, rules []flexparser.Rule) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextAddr++
	f.bound[f.nextAddr] = rules
	f.log.Debug("classifier table bound", "table", table, "addr", f.nextAddr, "rules", len(rules))
	return f.nextAddr, nil
}

// UnbindTable implements flexparser.Classifier.
func (f *Fake) UnbindTable(addr uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.bound[addr]; !ok {
		return errors.New(errors.KindNotFound, "driver: no table bound at address")
	}
	delete(f.bound, addr)
	return nil
}

// FlushAll implements l2.Bridge.
func (f *Fake) FlushAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushedAll++
	return nil
}

// FlushLearned implements l2.Bridge.
func (f *Fake) FlushLearned() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushedLrn++
	return nil
}

// AddRoute implements RoutingTable.
func (f *Fake) AddRoute(id uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routesAdded[id] = true
	return nil
}

// DelRoute implements RoutingTable.
func (f *Fake) DelRoute(id uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.routesAdded, id)
	return nil
}

// CommitQueue, CommitScheduler, CommitShaper implement TMU as no-ops that
// record nothing; the fake has no real traffic shaper to program.
func (f *Fake) CommitQueue(iface, id uint32) error     { return nil }
func (f *Fake) CommitScheduler(iface, id uint32) error { return nil }
func (f *Fake) CommitShaper(iface, id uint32) error    { return nil }

// HostInterface is a physical interface resolved from the host's real
// network stack.
type HostInterface struct {
	Index int
	Name  string
	MAC   [6]byte
	Up    bool
}

// ResolveHostInterfaces lists the host's network interfaces via netlink,
// for seeding the interface catalog's physical interface records at
// bring-up on deployments where the accelerator's ports are exposed as
// ordinary Linux netdevs.
func ResolveHostInterfaces() ([]HostInterface, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "driver: netlink link list failed")
	}

	out := make([]HostInterface, 0, len(links))
	for _, link := range links {
		attrs := link.Attrs()
		var mac [6]byte
		copy(mac[:], attrs.HardwareAddr)
		out = append(out, HostInterface{
			Index: attrs.Index,
			Name:  attrs.Name,
			MAC:   mac,
			Up:    attrs.Flags&netlink.FlagUp != 0,
		})
	}
	return out, nil
}

// ResolveByName resolves a single host interface by name.
func ResolveByName(name string) (HostInterface, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return HostInterface{}, errors.Wrapf(err, errors.KindNotFound, "driver: interface %q not found", name)
	}
	attrs := link.Attrs()
	var mac [6]byte
	copy(mac[:], attrs.HardwareAddr)
	return HostInterface{
		Index: attrs.Index,
		Name:  attrs.Name,
		MAC:   mac,
		Up:    attrs.Flags&netlink.FlagUp != 0,
	}, nil
}

func (h HostInterface) String() string {
	return fmt.Sprintf("%s[%d]", h.Name, h.Index)
}
