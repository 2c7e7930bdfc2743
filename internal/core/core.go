// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package core is the dispatch core: the per-request state machine that
// wires the client registry, ownership arbiter, and every configuration
// database together and implements the endpoint's message-processing
// pipeline.
package core

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"fci.dev/endpoint/internal/config"
	"fci.dev/endpoint/internal/conntrack"
	"fci.dev/endpoint/internal/errors"
	"fci.dev/endpoint/internal/features"
	"fci.dev/endpoint/internal/flexparser"
	"fci.dev/endpoint/internal/ifaces"
	"fci.dev/endpoint/internal/l2"
	"fci.dev/endpoint/internal/logging"
	"fci.dev/endpoint/internal/metrics"
	"fci.dev/endpoint/internal/mirror"
	"fci.dev/endpoint/internal/ownership"
	"fci.dev/endpoint/internal/qos"
	"fci.dev/endpoint/internal/registry"
	"fci.dev/endpoint/internal/routedb"
	"fci.dev/endpoint/internal/spd"
	"fci.dev/endpoint/internal/transport"
	"fci.dev/endpoint/internal/wire"
)

// Phase is the endpoint's lifecycle phase machine, replacing the
// source's independent "initialized" flag collection with a single
// linear sequence that drives teardown in exact reverse.
type Phase int

const (
	PhaseUninit Phase = iota
	PhaseCoreUp
	PhaseDbUp
	PhaseReady
)

// Endpoint is the process-wide singleton: the dispatch core together
// with every attached database and collaborator.
type Endpoint struct {
	mu    sync.Mutex // guards phase transitions only
	phase Phase

	log *logging.Logger
	cfg config.Config

	transport transport.Transport
	registry  *registry.Registry
	ownership *ownership.Arbiter

	routeDB     *routedb.DB
	conntrackV4 *conntrack.Table
	conntrackV6 *conntrack.Table
	ifaceCat    *ifaces.Catalog
	qosMgr      *qos.Manager
	flexDB      *flexparser.DB
	l2Mgr       *l2.Manager
	featureReg  *features.Registry
	spdDB       *spd.DB
	mirrorReg   *mirror.Registry

	routing RoutingDriver

	replyMode wire.ReplyMode

	metrics *metrics.Collectors

	handlers map[Code]*commandHandler

	pendingHealthEvents []HealthEvent
}

// RoutingDriver is the narrow driver-surface collaborator for route
// commitment, injected so tests can use a fake without a real
// accelerator.
type RoutingDriver interface {
	AddRoute(id uint32) error
	DelRoute(id uint32) error
}

// HealthEvent is a pending accelerator health-monitor notification
// replayed to the first client to register.
type HealthEvent struct {
	Code    uint16
	Payload []byte
}

// Deps bundles the collaborators New needs. Only Log defaults when nil
// (to a package logger); Transport, Routing, Classifier and Bridge are
// used as given and are not replaced when nil.
type Deps struct {
	Log        *logging.Logger
	Transport  transport.Transport
	Routing    RoutingDriver
	Classifier flexparser.Classifier
	Bridge     l2.Bridge
}

// New constructs an Endpoint in PhaseUninit. Call Init to bring it up.
func New(cfg config.Config, deps Deps) *Endpoint {
	log := deps.Log
	if log == nil {
		log = logging.WithComponent("core")
	}
	log = log.WithComponent("core")

	flexDB := flexparser.NewDB(deps.Classifier)

	e := &Endpoint{
		log:         log,
		cfg:         cfg,
		transport:   deps.Transport,
		registry:    registry.New(log, cfg.ClientSlots),
		ownership:   ownership.NewArbiter(cfg.AuthorizedMask),
		routeDB:     routedb.New(),
		conntrackV4: conntrack.NewTable(),
		conntrackV6: conntrack.NewTable(),
		ifaceCat:    ifaces.NewCatalog(),
		qosMgr:      qos.NewManager(),
		flexDB:      flexDB,
		l2Mgr:       l2.NewManager(deps.Bridge),
		featureReg:  features.NewRegistry(),
		spdDB:       spd.NewDB(),
		mirrorReg:   mirror.NewRegistry(flexDB),
		routing:     deps.Routing,
		replyMode:   replyModeOf(cfg.ReplyFraming),
		metrics:     metrics.NewCollectors(),
	}

	for iface, budget := range cfg.QoSBudgets {
		e.qosMgr.SetBudget(iface, budget)
	}
	for proto, d := range cfg.ConntrackTimeoutsV4 {
		e.conntrackV4.Timeouts.Set(conntrack.Protocol(proto), d)
	}
	for proto, d := range cfg.ConntrackTimeoutsV6 {
		e.conntrackV6.Timeouts.Set(conntrack.Protocol(proto), d)
	}

	e.handlers = newHandlerTable(e)
	return e
}

func replyModeOf(m config.ReplyFramingMode) wire.ReplyMode {
	if m == config.ReplyFramingLegacy {
		return wire.ReplyLegacy
	}
	return wire.ReplyStandard
}

// MustRegisterMetrics registers the endpoint's collectors on reg.
func (e *Endpoint) MustRegisterMetrics(reg *prometheus.Registry) {
	e.metrics.MustRegister(reg)
}

// Init transitions Uninit -> CoreUp -> DbUp -> Ready. Double
// initialization is an error.
func (e *Endpoint) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseUninit {
		return errors.New(errors.KindConflict, "core: endpoint already initialized")
	}
	e.phase = PhaseCoreUp
	e.phase = PhaseDbUp
	e.phase = PhaseReady
	e.log.Info("endpoint ready", "namespace", e.cfg.Namespace)
	return nil
}

// Close tears down the endpoint in strict reverse of Init.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == PhaseUninit {
		return errors.New(errors.KindConflict, "core: endpoint not initialized")
	}
	e.phase = PhaseUninit
	return nil
}

// QueuePendingHealthEvent appends a health-monitor event that will be
// replayed to the next client whose registration transitions the
// registry from zero to one connected clients.
func (e *Endpoint) QueuePendingHealthEvent(ev HealthEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingHealthEvents = append(e.pendingHealthEvents, ev)
}

// Dispatch processes one inbound record to completion, synchronously
// with respect to the client it arrived from.
func (e *Endpoint) Dispatch(rec wire.Record) (wire.Record, error) {
	switch rec.Tag {
	case wire.TagClientRegister:
		return e.handleRegister(rec)
	case wire.TagClientUnregister:
		return e.handleUnregister(rec)
	case wire.TagCmd:
		return e.handleCmd(rec)
	case wire.TagCoreClientBroadcast:
		return e.handleBroadcast(rec)
	default:
		return wire.Record{}, errors.New(errors.KindValidation, "core: unknown type_tag")
	}
}

func (e *Endpoint) handleRegister(rec wire.Record) (wire.Record, error) {
	wasFirst, err := e.registry.Register(rec.PortID, rec.PortID)
	if err != nil {
		return errRecord(rec, err), nil
	}
	if wasFirst {
		e.replayPendingHealthEvents(rec.PortID)
	}
	return wire.Record{Tag: wire.TagClientRegister, ReturnSlot: 0, PortID: rec.PortID}, nil
}

func (e *Endpoint) replayPendingHealthEvents(backChannelID uint32) {
	e.mu.Lock()
	events := e.pendingHealthEvents
	e.mu.Unlock()

	for _, ev := range events {
		rec := wire.Record{Tag: wire.TagCoreClientBroadcast}
		rec.Cmd.Code = ev.Code
		rec.Cmd.Length = uint32(copy(rec.Cmd.Payload[:], ev.Payload))
		if err := e.transport.Send(backChannelID, wire.Encode(rec)); err != nil {
			e.log.Warn("pending health event replay failed", "dest", backChannelID, "error", err)
		}
	}
}

func (e *Endpoint) handleUnregister(rec wire.Record) (wire.Record, error) {
	if err := e.registry.Unregister(rec.PortID); err != nil {
		return errRecord(rec, err), nil
	}
	return wire.Record{Tag: wire.TagClientUnregister, PortID: rec.PortID}, nil
}

func (e *Endpoint) handleBroadcast(rec wire.Record) (wire.Record, error) {
	msg := wire.Encode(rec)
	err := e.registry.Broadcast(msg, senderAdapter{e.transport})
	e.metrics.BroadcastsSent.Inc()
	if err != nil {
		return rec, err
	}
	return rec, nil
}

type senderAdapter struct{ t transport.Transport }

func (s senderAdapter) Send(destID uint32, record []byte) error { return s.t.Send(destID, record) }

func errRecord(rec wire.Record, err error) wire.Record {
	out := rec
	out.ReturnSlot = 1
	_ = err
	return out
}

// handleCmd implements the §4.1.1 command-processing sequence: ownership
// arbitration, handler dispatch, reply assembly.
func (e *Endpoint) handleCmd(rec wire.Record) (wire.Record, error) {
	start := time.Now()
	code := Code(rec.Cmd.Code)
	sender := ownership.Sender(rec.Cmd.Sender)

	if code == CodeOwnershipLock || code == CodeOwnershipUnlock {
		return e.handleOwnershipCmd(rec, code, sender), nil
	}

	h, known := e.handlers[code]
	if !known {
		return e.reply(rec, nil, RetUnknownCommand, nil), nil
	}

	e.ownership.Lock()
	mayExecute := e.ownership.Authorize(sender)
	floating := false
	if !mayExecute {
		if e.ownership.AcquireFloating(sender) {
			mayExecute = true
			floating = true
		}
	}
	if !mayExecute {
		e.ownership.Unlock()
		e.recordMetrics(code, RetOwnershipNotAuthorized, start)
		return e.reply(rec, nil, RetOwnershipNotAuthorized, nil), nil
	}
	if !floating {
		e.ownership.Unlock()
	}

	payload := rec.Cmd.Payload[:rec.Cmd.Length]
	err, proto, replyPayload := h.fn(e, sender, payload)

	if floating {
		e.ownership.ClearFloatingLock()
		e.ownership.Unlock()
	}

	e.recordMetrics(code, proto, start)

	if err != nil && h.faultZeroesReply {
		return e.reply(rec, err, proto, nil), err
	}
	return e.reply(rec, err, proto, replyPayload), nil
}

func (e *Endpoint) handleOwnershipCmd(rec wire.Record, code Code, sender ownership.Sender) wire.Record {
	e.ownership.Lock()
	defer e.ownership.Unlock()

	var err error
	var proto RetCode
	if code == CodeOwnershipLock {
		err = e.ownership.AcquirePermanent(sender)
	} else {
		err = e.ownership.ReleasePermanent(sender)
	}

	switch {
	case err == nil:
		proto = RetOK
	case code == CodeOwnershipLock && e.ownership.Owner() != ownership.Invalid && e.ownership.Owner() != sender:
		proto = RetOwnershipAlreadyLocked
	case code == CodeOwnershipUnlock:
		proto = RetOwnershipNotOwner
	default:
		proto = RetOwnershipNotAuthorized
	}
	return e.reply(rec, nil, proto, nil)
}

func (e *Endpoint) recordMetrics(code Code, proto RetCode, start time.Time) {
	e.metrics.RequestsTotal.WithLabelValues(codeLabel(code), retLabel(proto)).Inc()
	e.metrics.RequestDuration.WithLabelValues(codeLabel(code)).Observe(time.Since(start).Seconds())
}

// reply assembles the final CMD reply per the configured framing mode.
func (e *Endpoint) reply(rec wire.Record, transportErr error, proto RetCode, payload []byte) wire.Record {
	out := rec
	framed := wire.BuildReply(e.replyMode, uint16(proto), payload)
	out.Cmd.Length = uint32(copy(out.Cmd.Payload[:], framed))
	if transportErr != nil {
		out.ReturnSlot = 1
	} else {
		out.ReturnSlot = 0
	}
	return out
}
