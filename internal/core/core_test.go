// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fci.dev/endpoint/internal/config"
	"fci.dev/endpoint/internal/driver"
	"fci.dev/endpoint/internal/ifaces"
	"fci.dev/endpoint/internal/ownership"
	"fci.dev/endpoint/internal/transport"
	"fci.dev/endpoint/internal/wire"
)

func newTestEndpoint(t *testing.T) (*Endpoint, *transport.Fake) {
	t.Helper()
	tr := transport.NewFake()
	drv := driver.NewFake(nil)
	cfg := config.Default()
	e := New(cfg, Deps{
		Transport:  tr,
		Routing:    drv,
		Classifier: drv,
		Bridge:     drv,
	})
	require.NoError(t, e.Init())
	return e, tr
}

func cmdRecord(code Code, sender ownership.Sender, action Action, rest []byte) wire.Record {
	payload := append([]byte{byte(action)}, rest...)
	var rec wire.Record
	rec.Tag = wire.TagCmd
	rec.Cmd.Code = uint16(code)
	rec.Cmd.Sender = uint32(sender)
	rec.Cmd.Length = uint32(copy(rec.Cmd.Payload[:], payload))
	return rec
}

func replyCode(t *testing.T, rec wire.Record) RetCode {
	t.Helper()
	require.GreaterOrEqual(t, int(rec.Cmd.Length), 2)
	return RetCode(wire.GetU16(rec.Cmd.Payload[:], 0))
}

func TestDispatchUnknownCommand(t *testing.T) {
	e, _ := newTestEndpoint(t)
	rec := cmdRecord(Code(9999), ownership.HIF0, ActionQuery, nil)
	reply, err := e.Dispatch(rec)
	require.NoError(t, err)
	require.Equal(t, RetUnknownCommand, replyCode(t, reply))
}

func TestOwnershipLockGatesCommandsForOtherSenders(t *testing.T) {
	e, _ := newTestEndpoint(t)

	lockRec := cmdRecord(CodeOwnershipLock, ownership.HIF0, ActionRegister, nil)
	reply, err := e.Dispatch(lockRec)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, reply))

	e.ownership.SetAuthorizedMask(0)

	flush := cmdRecord(CodeL2FlushStatic, ownership.HIF1, ActionUpdate, nil)
	reply, err = e.Dispatch(flush)
	require.NoError(t, err)
	require.Equal(t, RetOwnershipNotAuthorized, replyCode(t, reply))

	flushAsOwner := cmdRecord(CodeL2FlushStatic, ownership.HIF0, ActionUpdate, nil)
	reply, err = e.Dispatch(flushAsOwner)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, reply))
}

func TestOwnershipUnlockByNonOwnerFails(t *testing.T) {
	e, _ := newTestEndpoint(t)

	lockRec := cmdRecord(CodeOwnershipLock, ownership.HIF0, ActionRegister, nil)
	_, err := e.Dispatch(lockRec)
	require.NoError(t, err)

	unlockRec := cmdRecord(CodeOwnershipUnlock, ownership.HIF1, ActionRegister, nil)
	reply, err := e.Dispatch(unlockRec)
	require.NoError(t, err)
	require.Equal(t, RetOwnershipNotOwner, replyCode(t, reply))
}

func TestRegisterFirstClientReplaysHealthEvents(t *testing.T) {
	e, tr := newTestEndpoint(t)
	e.QueuePendingHealthEvent(HealthEvent{Code: 42, Payload: []byte("link-down")})

	rec := wire.Record{Tag: wire.TagClientRegister, PortID: 0x100}
	_, err := e.Dispatch(rec)
	require.NoError(t, err)

	sent := tr.SentTo(0x100)
	require.Len(t, sent, 1)
}

func TestL2BDRejectsReservedVLAN(t *testing.T) {
	e, _ := newTestEndpoint(t)
	rest := make([]byte, 14)
	wire.PutU16(rest, 0, 1)
	rec := cmdRecord(CodeL2BD, ownership.HIF0, ActionRegister, rest)
	reply, err := e.Dispatch(rec)
	require.NoError(t, err)
	require.Equal(t, RetWrongCommandParam, replyCode(t, reply))
}

func TestQoSQueueBudgetEnforcedThroughDispatch(t *testing.T) {
	e, _ := newTestEndpoint(t)
	e.qosMgr.SetBudget(1, 10)

	rest := make([]byte, 13)
	wire.PutU32(rest, 0, 1)  // iface
	wire.PutU32(rest, 4, 1)  // id
	rest[8] = 2              // mode
	wire.PutU32(rest, 9, 20) // max, exceeds the budget of 10

	rec := cmdRecord(CodeQoSQueue, ownership.HIF0, ActionUpdate, rest)
	reply, err := e.Dispatch(rec)
	require.Error(t, err)
	require.Equal(t, RetQoSQueueSumOfLengthsExceeded, replyCode(t, reply))
}

func TestFlexParserTableBindAndMirrorResolve(t *testing.T) {
	e, _ := newTestEndpoint(t)

	tableName := make([]byte, 16)
	copy(tableName, "flow0")
	tableReg := cmdRecord(CodeFPTable, ownership.HIF0, ActionRegister, tableName)
	reply, err := e.Dispatch(tableReg)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, reply))

	mirrorName := make([]byte, 16)
	copy(mirrorName, "mir0")
	regPayload := append(mirrorName, make([]byte, 4)...)
	wire.PutU32(regPayload, 16, 7)
	mirrorReg := cmdRecord(CodeMirror, ownership.HIF0, ActionRegister, regPayload)
	reply, err = e.Dispatch(mirrorReg)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, reply))

	updatePayload := make([]byte, 39)
	copy(updatePayload[0:16], mirrorName)
	wire.PutU32(updatePayload, 16, 7)
	copy(updatePayload[20:36], tableName)
	updatePayload[36] = 0
	wire.PutU16(updatePayload, 37, 0)
	mirrorUpd := cmdRecord(CodeMirror, ownership.HIF0, ActionUpdate, updatePayload)
	reply, err = e.Dispatch(mirrorUpd)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, reply))

	addr, resolvedTable, ok := e.mirrorReg.FilterAddr("mir0")
	require.True(t, ok)
	require.NotZero(t, addr)
	require.Equal(t, "flow0", resolvedTable)
}

func TestRouteRegisterAndQuery(t *testing.T) {
	e, _ := newTestEndpoint(t)

	payload := make([]byte, 55)
	payload[0] = 0 // v4
	wire.PutU32(payload, 1, 55)
	wire.PutU32(payload, 17, 9000)
	wire.PutU16(payload, 53, 1500)

	rec := cmdRecord(CodeIPRoute, ownership.HIF0, ActionRegister, payload)
	reply, err := e.Dispatch(rec)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, reply))

	query := cmdRecord(CodeIPRoute, ownership.HIF0, ActionQuery, nil)
	reply, err = e.Dispatch(query)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, reply))
}

func conntrackTuplePayload(v6 bool, srcPort, dstPort uint16, protocol byte) []byte {
	ipLen := 4
	if v6 {
		ipLen = 16
	}
	out := make([]byte, ipLen*2+5)
	off := ipLen * 2
	wire.PutU16(out, off, srcPort)
	wire.PutU16(out, off+2, dstPort)
	out[off+4] = protocol
	return out
}

func TestConntrackRegisterUpdateDeregister(t *testing.T) {
	e, _ := newTestEndpoint(t)

	orig := conntrackTuplePayload(false, 1000, 2000, 6)
	reply := conntrackTuplePayload(false, 2000, 1000, 6)
	rest := append(append([]byte{}, orig...), reply...)
	rest = append(rest, make([]byte, 4+4+2+2+1)...) // origRoute/replyRoute/origVLAN/replyVLAN/flags

	reg := cmdRecord(CodeIPv4Conntrack, ownership.HIF0, ActionRegister, rest)
	regReply, err := e.Dispatch(reg)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, regReply))

	dup := cmdRecord(CodeIPv4Conntrack, ownership.HIF0, ActionRegister, rest)
	dupReply, err := e.Dispatch(dup)
	require.NoError(t, err)
	require.Equal(t, RetConntrackAlreadyRegistered, replyCode(t, dupReply))

	updateRest := append(append([]byte{}, orig...), make([]byte, 4+4+2+2+1)...)
	wire.PutU32(updateRest, len(orig), 77) // origRoute
	upd := cmdRecord(CodeIPv4Conntrack, ownership.HIF0, ActionUpdate, updateRest)
	updReply, err := e.Dispatch(upd)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, updReply))

	dereg := cmdRecord(CodeIPv4Conntrack, ownership.HIF0, ActionDeregister, orig)
	deregReply, err := e.Dispatch(dereg)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, deregReply))

	derg2 := cmdRecord(CodeIPv4Conntrack, ownership.HIF0, ActionDeregister, orig)
	derg2Reply, err := e.Dispatch(derg2)
	require.NoError(t, err)
	require.Equal(t, RetConntrackNotFound, replyCode(t, derg2Reply))
}

func TestSetTimeoutV4AndV6(t *testing.T) {
	e, _ := newTestEndpoint(t)

	rest := make([]byte, 5)
	rest[0] = 6 // protocol (TCP)
	wire.PutU32(rest, 1, 120)

	v4 := cmdRecord(CodeIPv4SetTimeout, ownership.HIF0, ActionUpdate, rest)
	reply, err := e.Dispatch(v4)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, reply))

	v6 := cmdRecord(CodeIPv6SetTimeout, ownership.HIF0, ActionUpdate, rest)
	reply, err = e.Dispatch(v6)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, reply))
}

func TestLogIfUpdateAndQuery(t *testing.T) {
	e, _ := newTestEndpoint(t)
	require.NoError(t, e.ifaceCat.RegisterPhysical(&ifaces.Physical{ID: 0, Name: "eth0"}))

	rest := make([]byte, 16)
	wire.PutU32(rest, 0, 1) // id
	wire.PutU32(rest, 4, 0) // parent
	reg := cmdRecord(CodeLogIf, ownership.HIF0, ActionRegister, rest)
	reply, err := e.Dispatch(reg)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, reply))

	updRest := make([]byte, 24)
	wire.PutU32(updRest, 0, 1)  // id
	wire.PutU32(updRest, 4, 0)  // parent
	wire.PutU32(updRest, 16, 5) // matchRules
	wire.PutU32(updRest, 20, 1) // flags
	upd := cmdRecord(CodeLogIf, ownership.HIF0, ActionUpdate, updRest)
	reply, err = e.Dispatch(upd)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, reply))

	query := cmdRecord(CodeLogIf, ownership.HIF0, ActionQuery, nil)
	reply, err = e.Dispatch(query)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, reply))
}

func TestMirrorQueryEnumeratesRegisteredRules(t *testing.T) {
	e, _ := newTestEndpoint(t)

	name := make([]byte, 16)
	copy(name, "mir0")
	rest := append(append([]byte{}, name...), make([]byte, 4)...)
	wire.PutU32(rest, 16, 3)
	reg := cmdRecord(CodeMirror, ownership.HIF0, ActionRegister, rest)
	reply, err := e.Dispatch(reg)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, reply))

	query := cmdRecord(CodeMirror, ownership.HIF0, ActionQuery, nil)
	reply, err = e.Dispatch(query)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, reply))

	cont := cmdRecord(CodeMirror, ownership.HIF0, ActionQueryCont, nil)
	reply, err = e.Dispatch(cont)
	require.NoError(t, err)
	require.Equal(t, RetMirrorNotFound, replyCode(t, reply))
}

func TestQoSQueueQueryAfterUpdate(t *testing.T) {
	e, _ := newTestEndpoint(t)
	e.qosMgr.SetBudget(1, 100)

	rest := make([]byte, 13)
	wire.PutU32(rest, 0, 1) // iface
	wire.PutU32(rest, 4, 1) // id
	rest[8] = 2             // mode
	wire.PutU32(rest, 9, 20)

	upd := cmdRecord(CodeQoSQueue, ownership.HIF0, ActionUpdate, rest)
	reply, err := e.Dispatch(upd)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, reply))

	queryRest := make([]byte, 8)
	wire.PutU32(queryRest, 0, 1)
	wire.PutU32(queryRest, 4, 1)
	query := cmdRecord(CodeQoSQueue, ownership.HIF0, ActionQuery, queryRest)
	reply, err = e.Dispatch(query)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, reply))
}

func TestSPDRegisterAndQuery(t *testing.T) {
	e, _ := newTestEndpoint(t)

	rest := make([]byte, 16)
	wire.PutU32(rest, 0, 1) // iface
	rest[4] = 0xFF          // append
	rest[5] = 0             // isV6
	rest[6] = 17            // protocol (UDP)
	rest[7] = 1             // action
	wire.PutU32(rest, 8, 55)
	wire.PutU32(rest, 12, 99)

	reg := cmdRecord(CodeSPD, ownership.HIF0, ActionRegister, rest)
	reply, err := e.Dispatch(reg)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, reply))

	queryRest := make([]byte, 5)
	wire.PutU32(queryRest, 0, 1)
	queryRest[4] = 0
	query := cmdRecord(CodeSPD, ownership.HIF0, ActionQuery, queryRest)
	reply, err = e.Dispatch(query)
	require.NoError(t, err)
	require.Equal(t, RetOK, replyCode(t, reply))
}

func TestFWFeatureQueryByIndex(t *testing.T) {
	e, _ := newTestEndpoint(t)

	rest := make([]byte, 4)
	wire.PutU32(rest, 0, 0)
	query := cmdRecord(CodeFWFeature, ownership.HIF0, ActionQuery, rest)
	reply, err := e.Dispatch(query)
	require.NoError(t, err)
	require.Contains(t, []RetCode{RetOK, RetFWFeatureNotFound}, replyCode(t, reply))
}
