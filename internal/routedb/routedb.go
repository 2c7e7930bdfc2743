// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package routedb implements the route descriptor table: a linear
// ordered container with an embedded iteration cursor, supporting
// selective iteration by criterion and safe removal of the cursor's
// current entry mid-traversal.
package routedb

import (
	"net"
	"sync"

	"fci.dev/endpoint/internal/errors"
)

// Criterion selects which entries GetFirst/GetNext enumerate.
type Criterion int

const (
	All Criterion = iota
	ByIface
	ByIfaceName
	ByIP
	ByMAC
	ByID
)

// Entry is one route descriptor. DstIP carries either a v4 or v6 address;
// net.IP's own tagging (4-byte vs 16-byte form) serves as the union
// discriminant, the same representation vishvananda/netlink uses for
// route and address records elsewhere in the endpoint. SrcMAC is stored
// as passed to Add; no lookup criterion or reply encoder reads it.
type Entry struct {
	ID        uint32
	DstIP     net.IP
	SrcMAC    [6]byte
	DstMAC    [6]byte
	Iface     uint32
	IfaceName string
	MTU       uint16
	RefPtr    any
}

type cursor struct {
	active    bool
	criterion Criterion
	arg       any
	nextIndex int
}

// DB is the route table. The zero value is not usable; use New.
type DB struct {
	mu      sync.Mutex
	entries []*Entry
	cur     cursor
}

// New constructs an empty route DB.
func New() *DB {
	return &DB{}
}

func matches(e *Entry, criterion Criterion, arg any) bool {
	switch criterion {
	case All:
		return true
	case ByIface:
		return e.Iface == arg.(uint32)
	case ByIfaceName:
		return e.IfaceName == arg.(string)
	case ByIP:
		return e.DstIP.Equal(arg.(net.IP))
	case ByMAC:
		return e.DstMAC == arg.([6]byte)
	case ByID:
		return e.ID == arg.(uint32)
	default:
		return false
	}
}

// Add inserts a route entry. If an entry with the same ID already exists
// and overwrite is false, Add fails with a KindAlreadyExists error (the
// IP_ROUTE handler replies RetWrongCommandParam). If overwrite is true,
// the existing entry is replaced in place
// (preserving its position so iterator validity holds) and its RefPtr is
// returned to the caller.
func (d *DB) Add(dstIP net.IP, srcMAC, dstMAC [6]byte, iface uint32, ifaceName string, id uint32, mtu uint16, refPtr any, overwrite bool) (replacedRefPtr any, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, e := range d.entries {
		if e.ID == id {
			if !overwrite {
				return nil, errors.New(errors.KindAlreadyExists, "routedb: id already registered")
			}
			replaced := e.RefPtr
			d.entries[i] = &Entry{
				ID: id, DstIP: dstIP, SrcMAC: srcMAC, DstMAC: dstMAC,
				Iface: iface, IfaceName: ifaceName, MTU: mtu, RefPtr: refPtr,
			}
			return replaced, nil
		}
	}

	d.entries = append(d.entries, &Entry{
		ID: id, DstIP: dstIP, SrcMAC: srcMAC, DstMAC: dstMAC,
		Iface: iface, IfaceName: ifaceName, MTU: mtu, RefPtr: refPtr,
	})
	return nil, nil
}

// Remove deletes the given entry (matched by ID). If it is the cursor's
// current entry, the cursor is advanced before the entry is freed so a
// concurrent traversal neither skips nor revisits other entries.
func (d *DB) Remove(e *Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := -1
	for i, cand := range d.entries {
		if cand.ID == e.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.New(errors.KindNotFound, "routedb: entry not found")
	}

	d.entries = append(d.entries[:idx], d.entries[idx+1:]...)

	if d.cur.active && idx < d.cur.nextIndex {
		d.cur.nextIndex--
	}
	return nil
}

// DropAll removes every entry and resets the cursor.
func (d *DB) DropAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = nil
	d.cur = cursor{}
}

// GetFirst starts a new enumeration under the given criterion, storing
// the criterion and argument in the cursor so GetNext continues with the
// same predicate.
func (d *DB) GetFirst(criterion Criterion, arg any) (*Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cur = cursor{active: true, criterion: criterion, arg: arg, nextIndex: 0}
	return d.advanceLocked()
}

// GetNext continues the enumeration started by GetFirst.
func (d *DB) GetNext() (*Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.cur.active {
		return nil, false
	}
	return d.advanceLocked()
}

func (d *DB) advanceLocked() (*Entry, bool) {
	for d.cur.nextIndex < len(d.entries) {
		e := d.entries[d.cur.nextIndex]
		d.cur.nextIndex++
		if matches(e, d.cur.criterion, d.cur.arg) {
			return e, true
		}
	}
	return nil, false
}

// Len returns the number of entries currently stored.
func (d *DB) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
