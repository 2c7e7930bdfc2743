// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package transport is the OS glue that carries framed records between
// the endpoint and its clients. The spec names three operations
// (transport_recv, transport_send, transport_disconnect) and leaves the
// underlying channel deployment-defined; this package provides a
// reference Linux implementation over an AF_UNIX datagram socket and an
// in-process Fake for tests.
package transport

import (
	"sync"

	"golang.org/x/sys/unix"

	"fci.dev/endpoint/internal/errors"
)

// Transport is the three-operation contract the dispatch core requires.
type Transport interface {
	// Recv delivers the next framed record along with the transport-level
	// identity of its sender.
	Recv() (senderID uint32, record []byte, err error)
	// Send is a best-effort unicast of record to destID.
	Send(destID uint32, record []byte) error
	// Disconnect tears down any transport-level state for destID; the
	// caller treats it as an implicit CLIENT_UNREGISTER trigger.
	Disconnect(destID uint32) error
}

// UnixDgram is a reference transport over a Linux AF_UNIX datagram
// socket. Channel ids are endpoint-assigned small integers mapped to
// peer socket addresses registered out-of-band (at CLIENT_REGISTER
// time, from the registering message's ancillary address).
type UnixDgram struct {
	fd int

	mu    sync.Mutex
	peers map[uint32]unix.Sockaddr
}

// NewUnixDgram creates and binds an AF_UNIX SOCK_DGRAM socket at path.
func NewUnixDgram(path string) (*UnixDgram, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "transport: socket creation failed")
	}
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrap(err, errors.KindUnavailable, "transport: bind failed")
	}
	return &UnixDgram{fd: fd, peers: make(map[uint32]unix.Sockaddr)}, nil
}

// RegisterPeer associates a channel id with a peer socket address,
// learned out-of-band at registration time.
func (u *UnixDgram) RegisterPeer(channelID uint32, addr unix.Sockaddr) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.peers[channelID] = addr
}

const maxDatagram = 4096

// Recv blocks for the next datagram, returning it along with the
// channel id of whichever registered peer address it matched (0 if
// unrecognized; callers treat a CLIENT_REGISTER body as the means of
// establishing that mapping).
func (u *UnixDgram) Recv() (uint32, []byte, error) {
	buf := make([]byte, maxDatagram)
	n, from, err := unix.Recvfrom(u.fd, buf, 0)
	if err != nil {
		return 0, nil, errors.Wrap(err, errors.KindUnavailable, "transport: recvfrom failed")
	}

	u.mu.Lock()
	senderID := uint32(0)
	for id, addr := range u.peers {
		if sockaddrEqual(addr, from) {
			senderID = id
			break
		}
	}
	u.mu.Unlock()

	return senderID, buf[:n], nil
}

// Send unicasts record to destID's registered peer address.
func (u *UnixDgram) Send(destID uint32, record []byte) error {
	u.mu.Lock()
	addr, ok := u.peers[destID]
	u.mu.Unlock()
	if !ok {
		return errors.New(errors.KindNotFound, "transport: unknown destination channel")
	}
	if err := unix.Sendto(u.fd, record, 0, addr); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "transport: sendto failed")
	}
	return nil
}

// Disconnect forgets a channel id's peer mapping.
func (u *UnixDgram) Disconnect(destID uint32) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.peers, destID)
	return nil
}

// Close releases the underlying socket.
func (u *UnixDgram) Close() error {
	return unix.Close(u.fd)
}

func sockaddrEqual(a, b unix.Sockaddr) bool {
	au, ok1 := a.(*unix.SockaddrUnix)
	bu, ok2 := b.(*unix.SockaddrUnix)
	if ok1 && ok2 {
		return au.Name == bu.Name
	}
	return false
}

// Fake is an in-process Transport for tests: Send appends to an Inbox
// keyed by destination id instead of touching any OS resource.
type Fake struct {
	mu    sync.Mutex
	Inbox map[uint32][][]byte
	fail  map[uint32]bool
}

// NewFake constructs an empty in-process fake transport.
func NewFake() *Fake {
	return &Fake{Inbox: make(map[uint32][][]byte), fail: make(map[uint32]bool)}
}

// FailSendTo makes subsequent Send calls to destID return an error,
// simulating an unreachable peer.
func (f *Fake) FailSendTo(destID uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[destID] = true
}

func (f *Fake) Send(destID uint32, record []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[destID] {
		return errors.New(errors.KindUnavailable, "transport: fake send failure")
	}
	f.Inbox[destID] = append(f.Inbox[destID], record)
	return nil
}

func (f *Fake) Recv() (uint32, []byte, error) {
	return 0, nil, errors.New(errors.KindUnavailable, "transport: fake does not support Recv")
}

func (f *Fake) Disconnect(destID uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Inbox, destID)
	return nil
}

// SentTo returns every record sent to destID, for test assertions.
func (f *Fake) SentTo(destID uint32) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.Inbox[destID]...)
}
