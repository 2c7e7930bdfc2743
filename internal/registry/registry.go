// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package registry tracks the endpoint's connected clients and fans
// broadcasts out to them. It is a fixed-capacity slot array protected by
// its own mutex, matching the source's client table: single writer (the
// dispatch core, serialized per the lock ordering in the core package),
// multiple readers (broadcast and targeted sends originating from driver
// callbacks).
package registry

import (
	"sync"

	"github.com/google/uuid"

	"fci.dev/endpoint/internal/errors"
	"fci.dev/endpoint/internal/logging"
)

// DefaultCapacity matches the source's N=5 concurrent client slots.
const DefaultCapacity = 5

// Sender abstracts the transport operation the registry needs: a
// best-effort unicast to a destination channel id. internal/transport
// supplies the concrete implementation; tests supply a fake.
type Sender interface {
	Send(destID uint32, record []byte) error
}

// Client is one registered slot.
type Client struct {
	BackChannelID    uint32
	CommandChannelID uint32
	Connected        bool

	// SessionID correlates log lines and diagnostics across a client's
	// lifetime; it carries no wire meaning.
	SessionID uuid.UUID
}

// Registry is the fixed-capacity client slot array.
type Registry struct {
	mu  sync.Mutex
	log *logging.Logger

	slots      []Client
	someClient bool // true iff any slot is connected; updated under mu.
}

// New constructs a registry with the given slot capacity (0 means
// DefaultCapacity).
func New(log *logging.Logger, capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = logging.WithComponent("registry")
	}
	return &Registry{
		log:   log.WithComponent("registry"),
		slots: make([]Client, capacity),
	}
}

// Register implements CLIENT_REGISTER. It returns whether this
// registration was the transition from zero to one connected clients, so
// the caller can schedule a pending-event replay after releasing the
// lock (re-entrant calls into the registry from within Register would
// deadlock otherwise).
func (r *Registry) Register(backChannelID, cmdChannelID uint32) (wasFirstClient bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.slots {
		if r.slots[i].Connected && r.slots[i].BackChannelID == backChannelID {
			return false, errors.New(errors.KindAlreadyExists, "registry: back channel already registered")
		}
	}

	free := -1
	for i := range r.slots {
		if !r.slots[i].Connected {
			free = i
			break
		}
	}
	if free < 0 {
		return false, errors.New(errors.KindCapacity, "registry: no free client slot")
	}

	wasFirstClient = !r.someClient

	r.slots[free] = Client{
		BackChannelID:    backChannelID,
		CommandChannelID: cmdChannelID,
		Connected:        true,
		SessionID:        uuid.New(),
	}
	r.someClient = true

	r.log.Debug("client registered", "back_channel", backChannelID, "cmd_channel", cmdChannelID, "session", r.slots[free].SessionID)
	return wasFirstClient, nil
}

// Unregister implements CLIENT_UNREGISTER, looking the client up by its
// command channel id.
func (r *Registry) Unregister(cmdChannelID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.slots {
		if r.slots[i].Connected && r.slots[i].CommandChannelID == cmdChannelID {
			r.log.Debug("client unregistered", "cmd_channel", cmdChannelID, "session", r.slots[i].SessionID)
			r.slots[i] = Client{}
			r.someClient = r.anyConnectedLocked()
			return nil
		}
	}
	return errors.New(errors.KindNotFound, "registry: client not found")
}

// UnregisterByBackChannel implements the implicit unregister triggered by
// transport_disconnect.
func (r *Registry) UnregisterByBackChannel(backChannelID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.slots {
		if r.slots[i].Connected && r.slots[i].BackChannelID == backChannelID {
			r.slots[i] = Client{}
			r.someClient = r.anyConnectedLocked()
			return nil
		}
	}
	return errors.New(errors.KindNotFound, "registry: client not found")
}

func (r *Registry) anyConnectedLocked() bool {
	for i := range r.slots {
		if r.slots[i].Connected {
			return true
		}
	}
	return false
}

// LookupByCommandChannel returns the connected client sourcing cmdChannelID.
func (r *Registry) LookupByCommandChannel(cmdChannelID uint32) (Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].Connected && r.slots[i].CommandChannelID == cmdChannelID {
			return r.slots[i], true
		}
	}
	return Client{}, false
}

// SomeClient reports whether at least one client is currently connected.
func (r *Registry) SomeClient() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.someClient
}

// SendOne unicasts msg to a specific client's back channel, looking the
// client up by its command channel id under the registry lock so that
// BackChannelID is read safely against concurrent Unregister from a
// different thread.
func (r *Registry) SendOne(client Client, msg []byte, sender Sender) error {
	r.mu.Lock()
	backID, connected := uint32(0), false
	for i := range r.slots {
		if r.slots[i].Connected && r.slots[i].CommandChannelID == client.CommandChannelID {
			backID, connected = r.slots[i].BackChannelID, true
			break
		}
	}
	r.mu.Unlock()

	if !connected {
		return errors.New(errors.KindNotFound, "registry: client no longer connected")
	}
	return sender.Send(backID, msg)
}

// Broadcast implements send_broadcast: under the registry lock it
// collects the back channel of every connected slot, then releases the
// lock and invokes sender.Send for each.
// Individual send failures are logged and do not abort the loop; the
// last error encountered is returned.
func (r *Registry) Broadcast(msg []byte, sender Sender) error {
	r.mu.Lock()
	targets := make([]uint32, 0, len(r.slots))
	for i := range r.slots {
		if r.slots[i].Connected {
			targets = append(targets, r.slots[i].BackChannelID)
		}
	}
	r.mu.Unlock()

	var last error
	for _, dest := range targets {
		if err := sender.Send(dest, msg); err != nil {
			r.log.Warn("broadcast send failed", "dest", dest, "error", err)
			last = err
		}
	}
	return last
}

// Capacity returns the number of client slots.
func (r *Registry) Capacity() int {
	return len(r.slots)
}
