// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package wire implements the framed request/reply record layout carried
// over the transport: a type tag, a return slot, and a type-tagged body.
// All multi-byte scalars inside command payloads are big-endian on the
// wire; this package converts at the boundary so callers above it work in
// host order exclusively.
package wire

import (
	"encoding/binary"

	"fci.dev/endpoint/internal/errors"
)

// MaxPayload is the maximum size of a CMD/CORE_CLIENT_BROADCAST payload.
const MaxPayload = 256

// Tag discriminates the record's body.
type Tag uint32

const (
	TagClientRegister Tag = iota + 1
	TagClientUnregister
	TagCmd
	TagCoreClientBroadcast
)

func (t Tag) String() string {
	switch t {
	case TagClientRegister:
		return "CLIENT_REGISTER"
	case TagClientUnregister:
		return "CLIENT_UNREGISTER"
	case TagCmd:
		return "CMD"
	case TagCoreClientBroadcast:
		return "CORE_CLIENT_BROADCAST"
	default:
		return "UNKNOWN"
	}
}

// recordHeaderLen is the encoded size of type_tag (u32) + return_slot (u16).
const recordHeaderLen = 4 + 2

// Record is the decoded form of one wire message. Exactly one of PortID or
// Cmd is meaningful, selected by Tag.
type Record struct {
	Tag        Tag
	ReturnSlot uint16

	// PortID is valid for TagClientRegister / TagClientUnregister.
	PortID uint32

	// Cmd is valid for TagCmd / TagCoreClientBroadcast.
	Cmd CmdBody
}

// CmdBody is the body of a CMD or CORE_CLIENT_BROADCAST record.
type CmdBody struct {
	Code    uint16
	Length  uint32
	Sender  uint32
	Payload [MaxPayload]byte
}

// Decode parses a raw wire record. It validates the declared length against
// MaxPayload but does not interpret the payload itself.
func Decode(buf []byte) (Record, error) {
	if len(buf) < recordHeaderLen {
		return Record{}, errors.New(errors.KindValidation, "wire: record shorter than header")
	}

	var rec Record
	rec.Tag = Tag(binary.BigEndian.Uint32(buf[0:4]))
	rec.ReturnSlot = binary.BigEndian.Uint16(buf[4:6])
	body := buf[recordHeaderLen:]

	switch rec.Tag {
	case TagClientRegister, TagClientUnregister:
		if len(body) < 4 {
			return Record{}, errors.New(errors.KindValidation, "wire: port_id body truncated")
		}
		rec.PortID = binary.BigEndian.Uint32(body[0:4])
	case TagCmd, TagCoreClientBroadcast:
		cmd, err := decodeCmdBody(body)
		if err != nil {
			return Record{}, err
		}
		rec.Cmd = cmd
	default:
		return Record{}, errors.Errorf(errors.KindValidation, "wire: unknown type_tag %d", rec.Tag)
	}

	return rec, nil
}

func decodeCmdBody(body []byte) (CmdBody, error) {
	const fixed = 4 + 4 + 4 // code (as u32 on wire) + length + sender
	if len(body) < fixed {
		return CmdBody{}, errors.New(errors.KindValidation, "wire: cmd body truncated")
	}

	var cmd CmdBody
	cmd.Code = uint16(binary.BigEndian.Uint32(body[0:4]))
	cmd.Length = binary.BigEndian.Uint32(body[4:8])
	cmd.Sender = binary.BigEndian.Uint32(body[8:12])

	if cmd.Length > MaxPayload {
		return CmdBody{}, errors.Errorf(errors.KindValidation, "wire: declared length %d exceeds payload capacity", cmd.Length)
	}

	payload := body[fixed:]
	n := copy(cmd.Payload[:], payload)
	if uint32(n) < cmd.Length {
		return CmdBody{}, errors.New(errors.KindValidation, "wire: payload shorter than declared length")
	}

	return cmd, nil
}

// Encode serializes rec back to wire form.
func Encode(rec Record) []byte {
	switch rec.Tag {
	case TagClientRegister, TagClientUnregister:
		buf := make([]byte, recordHeaderLen+4)
		encodeHeader(buf, rec)
		binary.BigEndian.PutUint32(buf[recordHeaderLen:], rec.PortID)
		return buf
	default:
		fixed := 4 + 4 + 4
		buf := make([]byte, recordHeaderLen+fixed+MaxPayload)
		encodeHeader(buf, rec)
		off := recordHeaderLen
		binary.BigEndian.PutUint32(buf[off:], uint32(rec.Cmd.Code))
		binary.BigEndian.PutUint32(buf[off+4:], rec.Cmd.Length)
		binary.BigEndian.PutUint32(buf[off+8:], rec.Cmd.Sender)
		copy(buf[off+fixed:], rec.Cmd.Payload[:])
		return buf
	}
}

func encodeHeader(buf []byte, rec Record) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(rec.Tag))
	binary.BigEndian.PutUint16(buf[4:6], rec.ReturnSlot)
}

// ReplyMode selects how a command reply payload is framed. The source
// compiles this in at build time; the endpoint makes it a runtime setting.
type ReplyMode int

const (
	// ReplyStandard frames as [u16 return_code][u16 pad][payload...],
	// with declared length = len(payload) + 4.
	ReplyStandard ReplyMode = iota
	// ReplyLegacy overwrites the first two payload bytes with the return
	// code and declares length = len(payload).
	ReplyLegacy
)

// BuildReply assembles a reply payload for the given mode. payload is the
// handler-produced body (already in wire byte order); retCode is the
// protocol-level 16-bit return code.
func BuildReply(mode ReplyMode, retCode uint16, payload []byte) []byte {
	switch mode {
	case ReplyLegacy:
		out := make([]byte, len(payload))
		copy(out, payload)
		if len(out) < 2 {
			out = append(out, make([]byte, 2-len(out))...)
		}
		binary.BigEndian.PutUint16(out[0:2], retCode)
		return out
	default:
		out := make([]byte, 4+len(payload))
		binary.BigEndian.PutUint16(out[0:2], retCode)
		binary.BigEndian.PutUint16(out[2:4], 0)
		copy(out[4:], payload)
		return out
	}
}

// PutU16 and PutU32 write a host-order value in wire (big-endian) order at
// offset off within dst; GetU16/GetU32 are their inverses. Handlers use
// these at the payload boundary instead of hand-rolled shifts.
func PutU16(dst []byte, off int, v uint16) { binary.BigEndian.PutUint16(dst[off:], v) }
func PutU32(dst []byte, off int, v uint32) { binary.BigEndian.PutUint32(dst[off:], v) }
func GetU16(src []byte, off int) uint16    { return binary.BigEndian.Uint16(src[off:]) }
func GetU32(src []byte, off int) uint32    { return binary.BigEndian.Uint32(src[off:]) }
