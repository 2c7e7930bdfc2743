// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package core

// Per-command handlers. Every handler follows the envelope described in
// the per-command matrix: validate arguments, convert wire fields to
// host order at the boundary (via internal/wire's Get/Put helpers),
// optionally touch a database, convert results back, return.
//
// Payload layout convention (fpp.h/fpp_ext.h are not available in this
// reimplementation's source material; see DESIGN.md): byte 0 is always
// the family Action where the family supports CRUD-style dispatch;
// subsequent fields are fixed-offset big-endian scalars as commented per
// handler.

import (
	"net"
	"sort"
	"time"

	"fci.dev/endpoint/internal/conntrack"
	"fci.dev/endpoint/internal/errors"
	"fci.dev/endpoint/internal/features"
	"fci.dev/endpoint/internal/flexparser"
	"fci.dev/endpoint/internal/ifaces"
	"fci.dev/endpoint/internal/l2"
	"fci.dev/endpoint/internal/mirror"
	"fci.dev/endpoint/internal/ownership"
	"fci.dev/endpoint/internal/qos"
	"fci.dev/endpoint/internal/routedb"
	"fci.dev/endpoint/internal/spd"
	"fci.dev/endpoint/internal/wire"
)

type handlerFunc func(e *Endpoint, sender ownership.Sender, payload []byte) (err error, proto RetCode, reply []byte)

// commandHandler pairs a handler with the reply-on-fault convention the
// source observes for that command: some handlers zero the reply length
// when they return a non-OK transport errno, others keep *fci_ret set
// with a clean EOK. Both are preserved as-observed per command, not
// uniformized (see DESIGN.md).
type commandHandler struct {
	fn               handlerFunc
	faultZeroesReply bool
}

func newHandlerTable(e *Endpoint) map[Code]*commandHandler {
	return map[Code]*commandHandler{
		CodeDataBufPut:       {fn: handleDataBufPut, faultZeroesReply: true},
		CodeIfLockSession:    {fn: handleIfLockSession},
		CodeIfUnlockSession:  {fn: handleIfUnlockSession},
		CodeLogIf:            {fn: handleLogIf},
		CodePhyIf:            {fn: handlePhyIf},
		CodeIfMAC:            {fn: handleIfMAC},
		CodeIPRoute:          {fn: handleIPRoute},
		CodeIPv4Reset:        {fn: handleIPv4Reset},
		CodeIPv6Reset:        {fn: handleIPv6Reset},
		CodeIPv4Conntrack:    {fn: handleConntrack(false)},
		CodeIPv6Conntrack:    {fn: handleConntrack(true)},
		CodeIPv4SetTimeout:   {fn: handleSetTimeout(false)},
		CodeIPv6SetTimeout:   {fn: handleSetTimeout(true)},
		CodeL2BD:             {fn: handleL2BD},
		CodeL2StaticEnt:      {fn: handleL2StaticEnt},
		CodeL2FlushAll:       {fn: handleL2FlushAll},
		CodeL2FlushLearned:   {fn: handleL2FlushLearned},
		CodeL2FlushStatic:    {fn: handleL2FlushStatic},
		CodeFPTable:          {fn: handleFPTable},
		CodeFPRule:           {fn: handleFPRule},
		CodeFWFeature:        {fn: handleFWFeature},
		CodeFWFeatureElement: {fn: handleFWFeatureElement},
		CodeMirror:           {fn: handleMirror},
		CodeQoSQueue:         {fn: handleQoSQueue, faultZeroesReply: true},
		CodeQoSScheduler:     {fn: handleQoSScheduler},
		CodeQoSShaper:        {fn: handleQoSShaper},
		CodeQoSPolicer:       {fn: handleQoSPolicer},
		CodeQoSPolicerFlow:   {fn: handleQoSPolicerFlow},
		CodeQoSPolicerWRED:   {fn: handleQoSPolicerWRED},
		CodeQoSPolicerSHP:    {fn: handleQoSPolicerSHP},
		CodeSPD:              {fn: handleSPD},
	}
}

func protoFor(err error) RetCode {
	switch errors.GetKind(err) {
	case errors.KindNotFound:
		return RetWrongCommandParam
	case errors.KindAlreadyExists:
		return RetWrongCommandParam
	case errors.KindCapacity:
		return RetWrongCommandParam
	case errors.KindValidation:
		return RetWrongCommandParam
	default:
		return RetInternalFailure
	}
}

// --- Buffer push --------------------------------------------------

const dataBufMaxLen = 64

func handleDataBufPut(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) > dataBufMaxLen {
		return errors.New(errors.KindValidation, "core: buffer push exceeds capacity"), RetWrongCommandParam, nil
	}
	return nil, RetOK, nil
}

// --- Interface session ---------------------------------------------

func handleIfLockSession(e *Endpoint, _ ownership.Sender, _ []byte) (error, RetCode, []byte) {
	id, err := e.ifaceCat.LockSession()
	if err != nil {
		return nil, RetIfResourceAlreadyLocked, nil
	}
	out := make([]byte, 8)
	wire.PutU32(out, 0, uint32(id>>32))
	wire.PutU32(out, 4, uint32(id))
	return nil, RetOK, out
}

func handleIfUnlockSession(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) < 8 {
		return nil, RetWrongCommandParam, nil
	}
	id := uint64(wire.GetU32(payload, 0))<<32 | uint64(wire.GetU32(payload, 4))
	if err := e.ifaceCat.UnlockSession(id); err != nil {
		return nil, RetIfWrongSessionID, nil
	}
	return nil, RetOK, nil
}

// --- Logical interface ----------------------------------------------
//
// REGISTER: [0]=Action [1:5]=id [5:9]=parent [9:17]=egress bitset.
// UPDATE: [0]=Action [1:5]=id [5:9]=parent [9:17]=egress bitset
// [17:21]=match rules [21:25]=flags.
// DEREGISTER: [0]=Action [1:5]=id.
// QUERY/QUERY_CONT carry no further fields; the flat list is walked via
// an embedded cursor in ifaces.Catalog, matching internal/routedb's
// convention.

func handleLogIf(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) < 1 {
		return nil, RetWrongCommandParam, nil
	}
	switch Action(payload[0]) {
	case ActionRegister:
		if len(payload) < 17 {
			return nil, RetWrongCommandParam, nil
		}
		l := &ifaces.Logical{
			ID:         wire.GetU32(payload, 1),
			Parent:     wire.GetU32(payload, 5),
			EgressBits: uint64(wire.GetU32(payload, 9))<<32 | uint64(wire.GetU32(payload, 13)),
		}
		if err := e.ifaceCat.RegisterLogical(l); err != nil {
			return nil, protoFor(err), nil
		}
		return nil, RetOK, nil
	case ActionUpdate:
		if len(payload) < 25 {
			return nil, RetWrongCommandParam, nil
		}
		id := wire.GetU32(payload, 1)
		parent := wire.GetU32(payload, 5)
		egress := uint64(wire.GetU32(payload, 9))<<32 | uint64(wire.GetU32(payload, 13))
		matchRules := wire.GetU32(payload, 17)
		flags := wire.GetU32(payload, 21)
		if err := e.ifaceCat.UpdateLogical(id, parent, egress, matchRules, flags); err != nil {
			return nil, protoFor(err), nil
		}
		return nil, RetOK, nil
	case ActionDeregister:
		if len(payload) < 5 {
			return nil, RetWrongCommandParam, nil
		}
		if err := e.ifaceCat.DeregisterLogical(wire.GetU32(payload, 1)); err != nil {
			return nil, RetIfEntryNotFound, nil
		}
		return nil, RetOK, nil
	case ActionQuery:
		l, ok := e.ifaceCat.GetFirstLogical()
		if !ok {
			return nil, RetIfEntryNotFound, nil
		}
		return nil, RetOK, encodeLogical(l)
	case ActionQueryCont:
		l, ok := e.ifaceCat.GetNextLogical()
		if !ok {
			return nil, RetIfEntryNotFound, nil
		}
		return nil, RetOK, encodeLogical(l)
	default:
		return nil, RetUnknownAction, nil
	}
}

func encodeLogical(l *ifaces.Logical) []byte {
	out := make([]byte, 24)
	wire.PutU32(out, 0, l.ID)
	wire.PutU32(out, 4, l.Parent)
	wire.PutU32(out, 8, uint32(l.EgressBits>>32))
	wire.PutU32(out, 12, uint32(l.EgressBits))
	wire.PutU32(out, 16, l.MatchRules)
	wire.PutU32(out, 20, l.Flags)
	return out
}

// --- Physical interface -----------------------------------------------
//
// UPDATE: [0]=Action [1:5]=id [5:7]=flags [7]=mode [8]=block
// [9:25]=ingress mirror slot 0 name(16B) [25:41]=ingress mirror slot 1
// name [41:57]=egress mirror slot 0 name [57:73]=egress mirror slot 1
// name [73:89]=flexifilter table name(16B) [89:93]=ptp mgmt iface id.
// A mirror/flexifilter name of all zero bytes unbinds that slot.
// QUERY/QUERY_CONT carry no further fields; the flat list is walked via
// an embedded cursor in ifaces.Catalog.

const phyIfUpdateLen = 93

func handlePhyIf(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) < 1 {
		return nil, RetWrongCommandParam, nil
	}
	switch Action(payload[0]) {
	case ActionUpdate:
		if len(payload) < phyIfUpdateLen {
			return nil, RetWrongCommandParam, nil
		}
		id := wire.GetU32(payload, 1)
		p, ok := e.ifaceCat.Physical(id)
		if !ok {
			return nil, RetIfEntryNotFound, nil
		}
		p.Flags = ifaces.PhyFlags(wire.GetU16(payload, 5))
		p.Mode = ifaces.OperMode(payload[7])
		p.Block = ifaces.BlockState(payload[8])

		name := p.Name
		if err := e.ifaceCat.BindMirror(name, true, 0, trimName(payload[9:25])); err != nil {
			return nil, protoFor(err), nil
		}
		if err := e.ifaceCat.BindMirror(name, true, 1, trimName(payload[25:41])); err != nil {
			return nil, protoFor(err), nil
		}
		if err := e.ifaceCat.BindMirror(name, false, 0, trimName(payload[41:57])); err != nil {
			return nil, protoFor(err), nil
		}
		if err := e.ifaceCat.BindMirror(name, false, 1, trimName(payload[57:73])); err != nil {
			return nil, protoFor(err), nil
		}
		if err := e.ifaceCat.BindFlexFilter(name, trimName(payload[73:89])); err != nil {
			return nil, protoFor(err), nil
		}
		if err := e.ifaceCat.SetPTPMgmtIface(name, wire.GetU32(payload, 89)); err != nil {
			return nil, protoFor(err), nil
		}
		return nil, RetOK, nil
	case ActionQuery:
		p, ok := e.ifaceCat.GetFirstPhysical()
		if !ok {
			return nil, RetIfEntryNotFound, nil
		}
		return nil, RetOK, encodePhysical(p)
	case ActionQueryCont:
		p, ok := e.ifaceCat.GetNextPhysical()
		if !ok {
			return nil, RetIfEntryNotFound, nil
		}
		return nil, RetOK, encodePhysical(p)
	default:
		return nil, RetUnknownAction, nil
	}
}

func encodePhysical(p *ifaces.Physical) []byte {
	out := make([]byte, 9)
	wire.PutU32(out, 0, p.ID)
	wire.PutU16(out, 4, uint16(p.Flags))
	out[6] = byte(p.Mode)
	out[7] = byte(p.Block)
	out[8] = byte(len(p.MACs))
	return out
}

// --- Interface MAC ------------------------------------------------
//
// REGISTER/DEREGISTER: [0]=Action [1:7]=mac; name is matched by the
// sender's interface session, simplified here to a fixed-length name
// trailer [7:23].
// QUERY: [0]=Action [1:17]=interface name(16B); enumerates the named
// interface's MAC list via an embedded cursor in ifaces.Catalog.
// QUERY_CONT: [0]=Action only, continues the enumeration GetFirstMAC
// started.

func handleIfMAC(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) < 1 {
		return nil, RetWrongCommandParam, nil
	}
	switch Action(payload[0]) {
	case ActionRegister, ActionDeregister:
		if len(payload) < 23 {
			return nil, RetWrongCommandParam, nil
		}
		var mac [6]byte
		copy(mac[:], payload[1:7])
		name := trimName(payload[7:23])

		if Action(payload[0]) == ActionRegister {
			if err := e.ifaceCat.AddMAC(name, mac); err != nil {
				if errors.GetKind(err) == errors.KindAlreadyExists {
					return nil, RetIfMACAlreadyRegistered, nil
				}
				return nil, RetIfEntryNotFound, nil
			}
			return nil, RetOK, nil
		}
		if err := e.ifaceCat.RemoveMAC(name, mac); err != nil {
			return nil, RetIfMACNotFound, nil
		}
		return nil, RetOK, nil
	case ActionQuery:
		if len(payload) < 17 {
			return nil, RetWrongCommandParam, nil
		}
		name := trimName(payload[1:17])
		mac, ok := e.ifaceCat.GetFirstMAC(name)
		if !ok {
			return nil, RetIfMACNotFound, nil
		}
		return nil, RetOK, mac[:]
	case ActionQueryCont:
		mac, ok := e.ifaceCat.GetNextMAC()
		if !ok {
			return nil, RetIfMACNotFound, nil
		}
		return nil, RetOK, mac[:]
	default:
		return nil, RetUnknownAction, nil
	}
}

func trimName(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// --- Routes ---------------------------------------------------------
//
// REGISTER: [0]=Action [1]=family(0=v4,1=v6) [2:6]=id [6:12]=srcMAC
// [12:18]=dstMAC [18:22]=iface [22:38]=ifaceName [38:54]=dstIP(16B,
// v4 uses first 4) [54:56]=mtu.
// DEREGISTER: [0]=Action [1]=family [2:6]=id.
// QUERY/QUERY_CONT carry no further fields; the session's cursor is
// kept in the route DB itself (serialized by the database mutex,
// matching the source's coarser of its two conventions per §9).

func handleIPRoute(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) < 2 {
		return nil, RetWrongCommandParam, nil
	}
	switch Action(payload[0]) {
	case ActionRegister:
		if len(payload) < 56 {
			return nil, RetWrongCommandParam, nil
		}
		id := wire.GetU32(payload, 2)
		var srcMAC, dstMAC [6]byte
		copy(srcMAC[:], payload[6:12])
		copy(dstMAC[:], payload[12:18])
		iface := wire.GetU32(payload, 18)
		name := trimName(payload[22:38])
		var ip net.IP
		if payload[1] == 0 {
			ip = net.IP(payload[38:42])
		} else {
			ip = net.IP(payload[38:54])
		}
		mtu := wire.GetU16(payload, 54)
		if err := e.routing.AddRoute(id); err != nil {
			return errors.Wrap(err, errors.KindInternal, "core: driver route add failed"), RetInternalFailure, nil
		}
		if _, err := e.routeDB.Add(ip, srcMAC, dstMAC, iface, name, id, mtu, nil, false); err != nil {
			_ = e.routing.DelRoute(id)
			return nil, RetWrongCommandParam, nil
		}
		return nil, RetOK, nil
	case ActionDeregister:
		if len(payload) < 6 {
			return nil, RetWrongCommandParam, nil
		}
		id := wire.GetU32(payload, 2)
		ent, ok := e.routeDB.GetFirst(routedb.ByID, id)
		if !ok {
			return nil, RetRouteEntryNotFound, nil
		}
		if err := e.routeDB.Remove(ent); err != nil {
			return errors.Wrap(err, errors.KindInternal, "core: route remove failed"), RetInternalFailure, nil
		}
		if err := e.routing.DelRoute(id); err != nil {
			return errors.Wrap(err, errors.KindInternal, "core: driver route delete failed"), RetInternalFailure, nil
		}
		return nil, RetOK, nil
	case ActionQuery:
		ent, ok := e.routeDB.GetFirst(routedb.All, nil)
		if !ok {
			return nil, RetRouteEntryNotFound, nil
		}
		return nil, RetOK, encodeRouteEntry(ent)
	case ActionQueryCont:
		ent, ok := e.routeDB.GetNext()
		if !ok {
			return nil, RetRouteEntryNotFound, nil
		}
		return nil, RetOK, encodeRouteEntry(ent)
	default:
		return nil, RetUnknownAction, nil
	}
}

func encodeRouteEntry(e *routedb.Entry) []byte {
	out := make([]byte, 6)
	wire.PutU32(out, 0, e.ID)
	wire.PutU16(out, 4, e.MTU)
	return out
}

func handleIPv4Reset(e *Endpoint, _ ownership.Sender, _ []byte) (error, RetCode, []byte) {
	e.conntrackV4.Reset()
	return nil, RetOK, nil
}

func handleIPv6Reset(e *Endpoint, _ ownership.Sender, _ []byte) (error, RetCode, []byte) {
	e.conntrackV6.Reset()
	return nil, RetOK, nil
}

// --- Conntracks -------------------------------------------------------
//
// Tuple fields (both REGISTER and UPDATE carry the orig tuple; REGISTER
// also carries the reply tuple): srcIP(4B v4/16B v6) dstIP(same width)
// srcPort(2B) dstPort(2B) protocol(1B).
//
// REGISTER: [0]=Action [1:1+2*tupleLen]=orig tuple, reply tuple
// [..+4]=origRoute [..+4]=replyRoute [..+2]=origVLAN [..+2]=replyVLAN
// [..+1]=flags.
// UPDATE: [0]=Action [1:1+tupleLen]=orig tuple (the match key)
// [..+4]=origRoute [..+4]=replyRoute [..+2]=origVLAN [..+2]=replyVLAN
// [..+1]=flags, applying only the mutable fields Table.Update accepts.
// DEREGISTER: [0]=Action [1:1+tupleLen]=orig tuple.

func conntrackTupleLen(v6 bool) int {
	ipLen := 4
	if v6 {
		ipLen = 16
	}
	return ipLen*2 + 5 // srcIP + dstIP + srcPort(2) + dstPort(2) + protocol(1)
}

func parseConntrackTuple(payload []byte, off, ipLen int) (conntrack.Tuple, int) {
	srcIP := append(net.IP(nil), payload[off:off+ipLen]...)
	off += ipLen
	dstIP := append(net.IP(nil), payload[off:off+ipLen]...)
	off += ipLen
	srcPort := wire.GetU16(payload, off)
	off += 2
	dstPort := wire.GetU16(payload, off)
	off += 2
	protocol := conntrack.Protocol(payload[off])
	off++
	return conntrack.Tuple{SrcIP: srcIP, DstIP: dstIP, SrcPort: srcPort, DstPort: dstPort, Protocol: protocol}, off
}

func handleConntrack(v6 bool) handlerFunc {
	ipLen := 4
	if v6 {
		ipLen = 16
	}
	tupleLen := conntrackTupleLen(v6)

	return func(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
		if len(payload) < 1 {
			return nil, RetWrongCommandParam, nil
		}
		table := e.conntrackV4
		if v6 {
			table = e.conntrackV6
		}

		switch Action(payload[0]) {
		case ActionRegister:
			if len(payload) < 1+2*tupleLen+4+4+2+2+1 {
				return nil, RetWrongCommandParam, nil
			}
			orig, off := parseConntrackTuple(payload, 1, ipLen)
			reply, off := parseConntrackTuple(payload, off, ipLen)
			origRoute := wire.GetU32(payload, off)
			replyRoute := wire.GetU32(payload, off+4)
			origVLAN := wire.GetU16(payload, off+8)
			replyVLAN := wire.GetU16(payload, off+10)
			flags := conntrack.Flags(payload[off+12])

			ent := &conntrack.Entry{
				Orig: orig, Reply: reply,
				OrigRoute: origRoute, ReplyRoute: replyRoute,
				OrigVLAN: origVLAN, ReplyVLAN: replyVLAN,
				Flags: flags,
			}
			if err := table.Add(ent); err != nil {
				if errors.GetKind(err) == errors.KindAlreadyExists {
					return nil, RetConntrackAlreadyRegistered, nil
				}
				return nil, RetWrongCommandParam, nil
			}
			return nil, RetOK, nil

		case ActionUpdate:
			if len(payload) < 1+tupleLen+4+4+2+2+1 {
				return nil, RetWrongCommandParam, nil
			}
			orig, off := parseConntrackTuple(payload, 1, ipLen)
			origRoute := wire.GetU32(payload, off)
			replyRoute := wire.GetU32(payload, off+4)
			origVLAN := wire.GetU16(payload, off+8)
			replyVLAN := wire.GetU16(payload, off+10)
			flags := conntrack.Flags(payload[off+12])

			if err := table.Update(orig, origRoute, replyRoute, origVLAN, replyVLAN, flags); err != nil {
				if errors.GetKind(err) == errors.KindValidation {
					return nil, RetWrongCommandParam, nil
				}
				return nil, RetConntrackNotFound, nil
			}
			return nil, RetOK, nil

		case ActionDeregister:
			if len(payload) < 1+tupleLen {
				return nil, RetWrongCommandParam, nil
			}
			orig, _ := parseConntrackTuple(payload, 1, ipLen)
			if err := table.Remove(orig); err != nil {
				return nil, RetConntrackNotFound, nil
			}
			return nil, RetOK, nil

		default:
			return nil, RetUnknownAction, nil
		}
	}
}

// SET_TIMEOUT: [0]=Action(Update only) [1]=protocol [2:6]=timeout in
// seconds.

func handleSetTimeout(v6 bool) handlerFunc {
	return func(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
		if len(payload) < 6 || Action(payload[0]) != ActionUpdate {
			return nil, RetUnknownAction, nil
		}
		table := e.conntrackV4
		if v6 {
			table = e.conntrackV6
		}
		protocol := conntrack.Protocol(payload[1])
		seconds := wire.GetU32(payload, 2)
		table.Timeouts.Set(protocol, time.Duration(seconds)*time.Second)
		return nil, RetOK, nil
	}
}

// --- L2 bridge --------------------------------------------------------
//
// REGISTER/UPDATE: [0]=Action [1:3]=vlan [3]=ucastHit [4]=ucastMiss
// [5]=mcastHit [6]=mcastMiss [7:15]=ports bitset.
// DEREGISTER: [0]=Action [1:3]=vlan.

func handleL2BD(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) < 3 {
		return nil, RetWrongCommandParam, nil
	}
	action := Action(payload[0])
	vlan := wire.GetU16(payload, 1)

	switch action {
	case ActionRegister, ActionUpdate:
		if len(payload) < 15 {
			return nil, RetWrongCommandParam, nil
		}
		d := l2.Domain{
			VLAN:      vlan,
			UcastHit:  l2.Action(payload[3]),
			UcastMiss: l2.Action(payload[4]),
			McastHit:  l2.Action(payload[5]),
			McastMiss: l2.Action(payload[6]),
			Ports:     uint64(wire.GetU32(payload, 7))<<32 | uint64(wire.GetU32(payload, 11)),
		}
		var err error
		if action == ActionRegister {
			err = e.l2Mgr.RegisterDomain(d)
		} else {
			err = e.l2Mgr.UpdateDomain(d)
		}
		if err != nil {
			if errors.GetKind(err) == errors.KindValidation {
				return nil, RetWrongCommandParam, nil
			}
			return nil, RetL2BDNotFound, nil
		}
		return nil, RetOK, nil
	case ActionDeregister:
		if err := e.l2Mgr.DeregisterDomain(vlan); err != nil {
			return nil, RetL2BDNotFound, nil
		}
		return nil, RetOK, nil
	default:
		return nil, RetUnknownAction, nil
	}
}

// --- L2 static entry --------------------------------------------------
//
// REGISTER/DEREGISTER: [0]=Action [1:3]=vlan [3:9]=mac [9:17]=forward
// list bitset [17]=flags.

func handleL2StaticEnt(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) < 18 {
		return nil, RetWrongCommandParam, nil
	}
	vlan := wire.GetU16(payload, 1)
	var mac [6]byte
	copy(mac[:], payload[3:9])

	switch Action(payload[0]) {
	case ActionRegister:
		flags := payload[17]
		ent := l2.StaticEntry{
			VLAN:        vlan,
			MAC:         mac,
			ForwardList: uint64(wire.GetU32(payload, 9))<<32 | uint64(wire.GetU32(payload, 13)),
			Local:       flags&1 != 0,
			SrcDiscard:  flags&2 != 0,
			DstDiscard:  flags&4 != 0,
		}
		if err := e.l2Mgr.RegisterStaticEntry(ent); err != nil {
			return nil, RetL2StaticEntAlreadyRegistered, nil
		}
		return nil, RetOK, nil
	case ActionDeregister:
		if err := e.l2Mgr.DeregisterStaticEntry(vlan, mac); err != nil {
			return nil, RetL2StaticEntNotFound, nil
		}
		return nil, RetOK, nil
	default:
		return nil, RetUnknownAction, nil
	}
}

func handleL2FlushAll(e *Endpoint, _ ownership.Sender, _ []byte) (error, RetCode, []byte) {
	if err := e.l2Mgr.FlushAll(); err != nil {
		return errors.Wrap(err, errors.KindInternal, "core: l2 flush all failed"), RetInternalFailure, nil
	}
	return nil, RetOK, nil
}

func handleL2FlushLearned(e *Endpoint, _ ownership.Sender, _ []byte) (error, RetCode, []byte) {
	if err := e.l2Mgr.FlushLearned(); err != nil {
		return errors.Wrap(err, errors.KindInternal, "core: l2 flush learned failed"), RetInternalFailure, nil
	}
	return nil, RetOK, nil
}

func handleL2FlushStatic(e *Endpoint, _ ownership.Sender, _ []byte) (error, RetCode, []byte) {
	e.l2Mgr.FlushStatic()
	return nil, RetOK, nil
}

// --- Flex parser ------------------------------------------------------
//
// FP_RULE REGISTER: [0]=Action [1:17]=name(16B) [17:21]=data
// [21:25]=mask [25:27]=offset [27]=offsetFrom [28]=invert [29]=action.
// FP_TABLE REGISTER/DEREGISTER: [0]=Action [1:17]=name.
// FP_TABLE USE_RULE/UNUSE_RULE: [0]=Action [1:17]=table [17:33]=rule
// [33]=position (0xFF meaning append, mirrors the policer flow table
// convention).

func handleFPRule(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) < 1 {
		return nil, RetWrongCommandParam, nil
	}
	switch Action(payload[0]) {
	case ActionRegister:
		if len(payload) < 30 {
			return nil, RetWrongCommandParam, nil
		}
		r := flexparser.Rule{
			Name:       trimName(payload[1:17]),
			Data:       wire.GetU32(payload, 17),
			Mask:       wire.GetU32(payload, 21),
			Offset:     wire.GetU16(payload, 25),
			OffsetFrom: flexparser.OffsetFrom(payload[27]),
			Invert:     payload[28] != 0,
			Action:     flexparser.Action(payload[29]),
		}
		if err := e.flexDB.RegisterRule(r); err != nil {
			return nil, RetWrongCommandParam, nil
		}
		return nil, RetOK, nil
	case ActionDeregister:
		if len(payload) < 17 {
			return nil, RetWrongCommandParam, nil
		}
		if err := e.flexDB.DeregisterRule(trimName(payload[1:17])); err != nil {
			return nil, RetFPRuleNotFound, nil
		}
		return nil, RetOK, nil
	default:
		return nil, RetUnknownAction, nil
	}
}

func handleFPTable(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) < 17 {
		return nil, RetWrongCommandParam, nil
	}
	name := trimName(payload[1:17])

	switch Action(payload[0]) {
	case ActionRegister:
		if err := e.flexDB.RegisterTable(name); err != nil {
			return nil, RetWrongCommandParam, nil
		}
		return nil, RetOK, nil
	case ActionDeregister:
		if err := e.flexDB.DeregisterTable(name); err != nil {
			return nil, RetWrongCommandParam, nil
		}
		return nil, RetOK, nil
	case ActionUseRule:
		if len(payload) < 34 {
			return nil, RetWrongCommandParam, nil
		}
		rule := trimName(payload[17:33])
		pos := int(payload[33])
		if payload[33] == 0xFF {
			pos = -1
		}
		if err := e.flexDB.UseRule(name, rule, pos); err != nil {
			return nil, RetWrongCommandParam, nil
		}
		return nil, RetOK, nil
	case ActionUnuseRule:
		if len(payload) < 33 {
			return nil, RetWrongCommandParam, nil
		}
		rule := trimName(payload[17:33])
		if err := e.flexDB.UnuseRule(name, rule); err != nil {
			return nil, RetFPRuleNotFound, nil
		}
		return nil, RetOK, nil
	default:
		return nil, RetUnknownAction, nil
	}
}

// --- FW features --------------------------------------------------
//
// FW_FEATURE UPDATE: [0]=Action [1:17]=name [17]=value.
// FW_FEATURE QUERY/QUERY_CONT: [0]=Action [1:5]=index, an explicit
// position into the registry's flag list sorted by name (the registry
// has no REGISTER-assigned position to key enumeration off of the way
// SPD/QOS_POLICER_FLOW do).
// FW_FEATURE_ELEMENT: [0]=Action [1:17]=feature [17:33]=group
// [33:49]=element [49:53]=index [53]=value.

func handleFWFeature(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) < 1 {
		return nil, RetWrongCommandParam, nil
	}
	if Action(payload[0]) == ActionQuery || Action(payload[0]) == ActionQueryCont {
		if len(payload) < 5 {
			return nil, RetWrongCommandParam, nil
		}
		index := int(wire.GetU32(payload, 1))
		flags := e.featureReg.List()
		sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })
		if index < 0 || index >= len(flags) {
			return nil, RetFWFeatureNotFound, nil
		}
		return nil, RetOK, encodeFeatureFlag(flags[index])
	}
	if len(payload) < 18 || Action(payload[0]) != ActionUpdate {
		return nil, RetUnknownAction, nil
	}
	name := trimName(payload[1:17])
	if err := e.featureReg.Set(name, payload[17]); err != nil {
		if errors.GetKind(err) == errors.KindPermission {
			return nil, RetFWFeatureNotAvailable, nil
		}
		return nil, RetFWFeatureNotFound, nil
	}
	return nil, RetOK, nil
}

func encodeFeatureFlag(f features.Flag) []byte {
	out := make([]byte, 18)
	copy(out[0:16], f.Name)
	out[16] = f.Value
	if f.RuntimeToggleable {
		out[17] = 1
	}
	return out
}

func handleFWFeatureElement(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) < 54 {
		return nil, RetWrongCommandParam, nil
	}
	feature := trimName(payload[1:17])
	group := trimName(payload[17:33])
	element := trimName(payload[33:49])
	index := int(wire.GetU32(payload, 49))

	switch Action(payload[0]) {
	case ActionUpdate:
		if err := e.featureReg.SetElement(feature, group, element, index, payload[53]); err != nil {
			return nil, RetFWFeatureNotFound, nil
		}
		return nil, RetOK, nil
	case ActionQuery:
		v, ok := e.featureReg.GetElement(feature, group, element, index)
		if !ok {
			return nil, RetFWFeatureNotFound, nil
		}
		return nil, RetOK, []byte{v}
	default:
		return nil, RetUnknownAction, nil
	}
}

// --- Mirror -------------------------------------------------------
//
// REGISTER: [0]=Action [1:17]=name [17:21]=egress.
// UPDATE: [0]=Action [1:17]=name [17:21]=egress [21:37]=filterTable
// [37]=modActions [38:40]=vlanID.
// DEREGISTER: [0]=Action [1:17]=name.
// QUERY/QUERY_CONT carry no further fields; the flat list is walked via
// an embedded cursor in mirror.Registry.

func handleMirror(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) < 1 {
		return nil, RetWrongCommandParam, nil
	}
	if Action(payload[0]) == ActionQuery {
		rule, ok := e.mirrorReg.GetFirst()
		if !ok {
			return nil, RetMirrorNotFound, nil
		}
		return nil, RetOK, encodeMirrorRule(rule)
	}
	if Action(payload[0]) == ActionQueryCont {
		rule, ok := e.mirrorReg.GetNext()
		if !ok {
			return nil, RetMirrorNotFound, nil
		}
		return nil, RetOK, encodeMirrorRule(rule)
	}

	if len(payload) < 17 {
		return nil, RetWrongCommandParam, nil
	}
	name := trimName(payload[1:17])

	switch Action(payload[0]) {
	case ActionRegister:
		if len(payload) < 21 {
			return nil, RetWrongCommandParam, nil
		}
		if err := e.mirrorReg.Register(name, wire.GetU32(payload, 17)); err != nil {
			return nil, RetWrongCommandParam, nil
		}
		return nil, RetOK, nil
	case ActionUpdate:
		if len(payload) < 40 {
			return nil, RetWrongCommandParam, nil
		}
		if err := e.mirrorReg.UpdateEgress(name, wire.GetU32(payload, 17)); err != nil {
			return nil, RetMirrorNotFound, nil
		}
		table := trimName(payload[21:37])
		if err := e.mirrorReg.UpdateFilterTable(name, table); err != nil {
			return errors.Wrap(err, errors.KindInternal, "core: mirror filter bind failed"), RetInternalFailure, nil
		}
		if err := e.mirrorReg.UpdateModActions(name, mirror.ModAction(payload[37]), wire.GetU16(payload, 38)); err != nil {
			return nil, RetMirrorNotFound, nil
		}
		return nil, RetOK, nil
	case ActionDeregister:
		if err := e.mirrorReg.Deregister(name); err != nil {
			return nil, RetMirrorNotFound, nil
		}
		return nil, RetOK, nil
	default:
		return nil, RetUnknownAction, nil
	}
}

func encodeMirrorRule(r mirror.Rule) []byte {
	out := make([]byte, 21)
	copy(out[0:16], r.Name)
	wire.PutU32(out, 16, r.Egress)
	out[20] = byte(r.ModActions)
	return out
}

// --- QoS egress -----------------------------------------------------
//
// QOS_QUEUE UPDATE: [0]=Action [1:5]=iface [5:9]=id [9]=mode
// [10:14]=max.
// QOS_QUEUE QUERY: [0]=Action [1:5]=iface [5:9]=id, a direct per-(if,id)
// lookup (not a flat-list enumeration).

func handleQoSQueue(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) < 9 {
		return nil, RetWrongCommandParam, nil
	}
	if Action(payload[0]) == ActionQuery {
		q, ok := e.qosMgr.Queue(wire.GetU32(payload, 1), wire.GetU32(payload, 5))
		if !ok {
			return nil, RetQoSQueueNotFound, nil
		}
		return nil, RetOK, encodeQueue(q)
	}
	if len(payload) < 14 || Action(payload[0]) != ActionUpdate {
		return nil, RetUnknownAction, nil
	}
	iface := wire.GetU32(payload, 1)
	id := wire.GetU32(payload, 5)
	mode := qos.QueueMode(payload[9])
	max := wire.GetU32(payload, 10)

	if err := e.qosMgr.UpdateQueue(iface, id, mode, max, qos.NewWredZones()); err != nil {
		return errors.Wrap(err, errors.KindCapacity, "core: qos queue budget"), RetQoSQueueSumOfLengthsExceeded, nil
	}
	return nil, RetOK, nil
}

func encodeQueue(q *qos.Queue) []byte {
	out := make([]byte, 9)
	wire.PutU32(out, 0, q.Iface)
	wire.PutU32(out, 4, q.ID)
	out[8] = byte(q.Mode)
	return out
}

// QOS_SCHEDULER UPDATE: [0]=Action [1:5]=iface [5:9]=id [9]=mode.
// QOS_SCHEDULER QUERY: [0]=Action [1:5]=iface [5:9]=id.
func handleQoSScheduler(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) < 9 {
		return nil, RetWrongCommandParam, nil
	}
	if Action(payload[0]) == ActionQuery {
		s, ok := e.qosMgr.Scheduler(wire.GetU32(payload, 1), wire.GetU32(payload, 5))
		if !ok {
			return nil, RetQoSSchedulerNotFound, nil
		}
		out := make([]byte, 9)
		wire.PutU32(out, 0, s.Iface)
		wire.PutU32(out, 4, s.ID)
		out[8] = s.Mode
		return nil, RetOK, out
	}
	if len(payload) < 10 || Action(payload[0]) != ActionUpdate {
		return nil, RetUnknownAction, nil
	}
	iface := wire.GetU32(payload, 1)
	id := wire.GetU32(payload, 5)
	e.qosMgr.UpdateScheduler(iface, id, payload[9], [32]qos.SchedInput{})
	return nil, RetOK, nil
}

// QOS_SHAPER UPDATE: [0]=Action [1:5]=iface [5:9]=id [9]=mode
// [10:14]=minCredit [14:18]=maxCredit [18:22]=idleSlope [22]=position.
// QOS_SHAPER QUERY: [0]=Action [1:5]=iface [5:9]=id.
func handleQoSShaper(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) < 9 {
		return nil, RetWrongCommandParam, nil
	}
	if Action(payload[0]) == ActionQuery {
		s, ok := e.qosMgr.Shaper(wire.GetU32(payload, 1), wire.GetU32(payload, 5))
		if !ok {
			return nil, RetQoSShaperNotFound, nil
		}
		return nil, RetOK, encodeShaper(s)
	}
	if len(payload) < 23 || Action(payload[0]) != ActionUpdate {
		return nil, RetUnknownAction, nil
	}
	s := qos.Shaper{
		Iface:     wire.GetU32(payload, 1),
		ID:        wire.GetU32(payload, 5),
		Mode:      qos.ShaperMode(payload[9]),
		MinCredit: int32(wire.GetU32(payload, 10)),
		MaxCredit: int32(wire.GetU32(payload, 14)),
		IdleSlope: wire.GetU32(payload, 18),
		Position:  payload[22],
	}
	e.qosMgr.UpdateShaper(s)
	return nil, RetOK, nil
}

func encodeShaper(s *qos.Shaper) []byte {
	out := make([]byte, 23)
	wire.PutU32(out, 0, s.Iface)
	wire.PutU32(out, 4, s.ID)
	out[9] = byte(s.Mode)
	wire.PutU32(out, 10, uint32(s.MinCredit))
	wire.PutU32(out, 14, uint32(s.MaxCredit))
	wire.PutU32(out, 18, s.IdleSlope)
	out[22] = s.Position
	return out
}

// --- QoS ingress policer ---------------------------------------------

// QOS_POLICER UPDATE: [0]=Action [1:5]=iface [5]=enable.
func handleQoSPolicer(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) < 6 || Action(payload[0]) != ActionUpdate {
		return nil, RetUnknownAction, nil
	}
	e.qosMgr.SetPolicerEnabled(wire.GetU32(payload, 1), payload[5] != 0)
	return nil, RetOK, nil
}

// QOS_POLICER_FLOW REGISTER/DEREGISTER: [0]=Action [1:5]=iface
// [5]=position (0xFF=first free).
// QUERY/QUERY_CONT: [0]=Action [1:5]=iface [5]=position. The flow table
// is already dense-positioned by REGISTER/DEREGISTER, so enumeration is
// an explicit per-call position into qos.Manager.PolicerFlows rather
// than a server-held cursor: the caller supplies position+1 on the next
// QUERY_CONT call.
func handleQoSPolicerFlow(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) < 6 {
		return nil, RetWrongCommandParam, nil
	}
	iface := wire.GetU32(payload, 1)
	pos := payload[5]

	switch Action(payload[0]) {
	case ActionRegister:
		flow := flowEntry(iface, pos)
		if err := e.qosMgr.RegisterPolicerFlow(&flow); err != nil {
			return nil, RetQoSPolicerFlowTableFull, nil
		}
		return nil, RetOK, nil
	case ActionDeregister:
		if err := e.qosMgr.DeregisterPolicerFlow(iface, pos); err != nil {
			return nil, RetQoSPolicerFlowNotFound, nil
		}
		return nil, RetOK, nil
	case ActionQuery, ActionQueryCont:
		flows := e.qosMgr.PolicerFlows(iface)
		if int(pos) >= len(flows) {
			return nil, RetQoSPolicerFlowNotFound, nil
		}
		return nil, RetOK, encodePolicerFlow(flows[pos])
	default:
		return nil, RetUnknownAction, nil
	}
}

func flowEntry(iface uint32, pos uint8) qos.PolicerFlow {
	return qos.PolicerFlow{Iface: iface, Position: pos}
}

func encodePolicerFlow(f *qos.PolicerFlow) []byte {
	out := make([]byte, 5)
	wire.PutU32(out, 0, f.Iface)
	out[4] = f.Position
	return out
}

// QOS_POLICER_WRED UPDATE: [0]=Action [1:5]=iface [5]=queue(DMEM/LMEM/RXF).
func handleQoSPolicerWRED(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) < 6 || Action(payload[0]) != ActionUpdate {
		return nil, RetUnknownAction, nil
	}
	iface := wire.GetU32(payload, 1)
	queue := qos.PolicerQueue(payload[5])
	e.qosMgr.UpdatePolicerWred(iface, queue, qos.NewWredZones())
	return nil, RetOK, nil
}

// QOS_POLICER_SHP UPDATE: same layout as QOS_SHAPER.
func handleQoSPolicerSHP(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) < 23 || Action(payload[0]) != ActionUpdate {
		return nil, RetUnknownAction, nil
	}
	s := qos.Shaper{
		Iface:     wire.GetU32(payload, 1),
		ID:        wire.GetU32(payload, 5),
		Mode:      qos.ShaperMode(payload[9]),
		MinCredit: int32(wire.GetU32(payload, 10)),
		MaxCredit: int32(wire.GetU32(payload, 14)),
		IdleSlope: wire.GetU32(payload, 18),
		Position:  payload[22],
	}
	e.qosMgr.UpdatePolicerShaper(s)
	return nil, RetOK, nil
}

// --- SPD -------------------------------------------------------------
//
// REGISTER: [0]=Action [1:5]=iface [5]=position(0xFF=append)
// [6]=isV6 [7]=protocol [8]=action [9:13]=sadID [13:17]=spi.
// DEREGISTER: [0]=Action [1:5]=iface [5]=position.
// QUERY/QUERY_CONT: [0]=Action [1:5]=iface [5]=position, a direct
// position lookup via the already dense-positioned spd.DB.Entry.

func handleSPD(e *Endpoint, _ ownership.Sender, payload []byte) (error, RetCode, []byte) {
	if len(payload) < 6 {
		return nil, RetWrongCommandParam, nil
	}
	iface := wire.GetU32(payload, 1)
	pos := int(payload[5])

	switch Action(payload[0]) {
	case ActionRegister:
		if len(payload) < 17 {
			return nil, RetWrongCommandParam, nil
		}
		if payload[5] == 0xFF {
			pos = -1
		}
		ent := spd.Entry{
			IsV6:     payload[6] != 0,
			Protocol: payload[7],
			Action:   spd.Action(payload[8]),
			SADID:    wire.GetU32(payload, 9),
			SPI:      wire.GetU32(payload, 13),
		}
		if err := e.spdDB.Register(iface, pos, ent); err != nil {
			return nil, RetWrongCommandParam, nil
		}
		return nil, RetOK, nil
	case ActionDeregister:
		if err := e.spdDB.Deregister(iface, pos); err != nil {
			return nil, RetWrongCommandParam, nil
		}
		return nil, RetOK, nil
	case ActionQuery, ActionQueryCont:
		ent, ok := e.spdDB.Entry(iface, pos)
		if !ok {
			return nil, RetSPDEntryNotFound, nil
		}
		return nil, RetOK, encodeSPDEntry(ent)
	default:
		return nil, RetUnknownAction, nil
	}
}

func encodeSPDEntry(e spd.Entry) []byte {
	out := make([]byte, 11)
	if e.IsV6 {
		out[0] = 1
	}
	out[1] = e.Protocol
	out[2] = byte(e.Action)
	wire.PutU32(out, 3, e.SADID)
	wire.PutU32(out, 7, e.SPI)
	return out
}
