// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package conntrack implements the connection-tracking table: IPv4/IPv6
// conntracks keyed by their original 5-tuple, plus per-protocol default
// timeouts.
package conntrack

import (
	"net"
	"sync"
	"time"

	"fci.dev/endpoint/internal/errors"
)

// Protocol is an IP protocol number (TCP=6, UDP=17, ...).
type Protocol uint8

// Tuple is one direction's 5-tuple.
type Tuple struct {
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	Protocol Protocol
}

// Flags bitset for a conntrack entry.
type Flags uint8

const (
	FlagTTLDecrement Flags = 1 << iota
	FlagOrigDisabled
	FlagReplyDisabled
)

// Valid reports whether the flag combination respects the invariant that
// orig-disabled and reply-disabled are not both set.
func (f Flags) Valid() bool {
	return f&(FlagOrigDisabled|FlagReplyDisabled) != FlagOrigDisabled|FlagReplyDisabled
}

// Entry is one conntrack record.
type Entry struct {
	Orig      Tuple
	Reply     Tuple
	OrigRoute uint32
	ReplyRoute uint32
	OrigVLAN  uint16
	ReplyVLAN uint16
	Flags     Flags
}

// key identifies an entry by its original tuple. The key itself does not
// carry the family; each Table holds one family's entries.
type key struct {
	src, dst string
	srcPort  uint16
	dstPort  uint16
	protocol Protocol
}

func keyOf(t Tuple) key {
	return key{src: t.SrcIP.String(), dst: t.DstIP.String(), srcPort: t.SrcPort, dstPort: t.DstPort, protocol: t.Protocol}
}

// DefaultTimeouts holds per-protocol default timeouts for a family.
type DefaultTimeouts struct {
	mu      sync.RWMutex
	byProto map[Protocol]time.Duration
}

func newDefaultTimeouts() *DefaultTimeouts {
	return &DefaultTimeouts{byProto: make(map[Protocol]time.Duration)}
}

// Set installs the default timeout for protocol.
func (d *DefaultTimeouts) Set(protocol Protocol, d2 time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byProto[protocol] = d2
}

// Get returns the configured default timeout for protocol, or ok=false if
// none has been set.
func (d *DefaultTimeouts) Get(protocol Protocol) (time.Duration, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.byProto[protocol]
	return v, ok
}

// Table is the connection-tracking store for one family (v4 or v6).
type Table struct {
	mu       sync.Mutex
	entries  map[key]*Entry
	Timeouts *DefaultTimeouts
}

// NewTable constructs an empty conntrack table.
func NewTable() *Table {
	return &Table{
		entries:  make(map[key]*Entry),
		Timeouts: newDefaultTimeouts(),
	}
}

// Add registers a new conntrack entry keyed by its original tuple.
func (t *Table) Add(e *Entry) error {
	if !e.Flags.Valid() {
		return errors.New(errors.KindValidation, "conntrack: orig-disabled and reply-disabled cannot both be set")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	k := keyOf(e.Orig)
	if _, exists := t.entries[k]; exists {
		return errors.New(errors.KindAlreadyExists, "conntrack: entry already registered")
	}
	t.entries[k] = e
	return nil
}

// Update applies a restricted set of mutable fields (VLAN tags, route
// references, flags) to an existing entry, matched by its original
// tuple.
func (t *Table) Update(orig Tuple, origRoute, replyRoute uint32, origVLAN, replyVLAN uint16, flags Flags) error {
	if !flags.Valid() {
		return errors.New(errors.KindValidation, "conntrack: orig-disabled and reply-disabled cannot both be set")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[keyOf(orig)]
	if !ok {
		return errors.New(errors.KindNotFound, "conntrack: entry not found")
	}
	e.OrigRoute = origRoute
	e.ReplyRoute = replyRoute
	e.OrigVLAN = origVLAN
	e.ReplyVLAN = replyVLAN
	e.Flags = flags
	return nil
}

// Remove deletes the conntrack entry keyed by its original tuple.
func (t *Table) Remove(orig Tuple) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := keyOf(orig)
	if _, ok := t.entries[k]; !ok {
		return errors.New(errors.KindNotFound, "conntrack: entry not found")
	}
	delete(t.entries, k)
	return nil
}

// Reset drops every entry in the table (IPV4_RESET/IPV6_RESET).
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[key]*Entry)
}

// Len reports the number of tracked connections.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
