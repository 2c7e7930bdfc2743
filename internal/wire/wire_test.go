// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package wire

import "testing"

func TestEncodeDecodeRoundTrip_ClientRegister(t *testing.T) {
	rec := Record{Tag: TagClientRegister, ReturnSlot: 0, PortID: 0x11223344}
	buf := Encode(rec)

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Tag != rec.Tag || got.PortID != rec.PortID {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, rec)
	}
}

func TestEncodeDecodeRoundTrip_Cmd(t *testing.T) {
	var rec Record
	rec.Tag = TagCmd
	rec.Cmd.Code = 0xABCD
	rec.Cmd.Sender = 3
	rec.Cmd.Length = 4
	PutU32(rec.Cmd.Payload[:], 0, 0xDEADBEEF)

	buf := Encode(rec)
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Cmd.Code != rec.Cmd.Code || got.Cmd.Sender != rec.Cmd.Sender {
		t.Fatalf("cmd header mismatch: %+v", got.Cmd)
	}
	if GetU32(got.Cmd.Payload[:], 0) != 0xDEADBEEF {
		t.Fatalf("payload byte order mismatch: got %x", GetU32(got.Cmd.Payload[:], 0))
	}
}

func TestDecode_UnknownTag(t *testing.T) {
	buf := make([]byte, recordHeaderLen)
	PutU32(buf, 0, 0xFF)
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected error for unknown type_tag")
	}
}

func TestDecode_TooShort(t *testing.T) {
	if _, err := Decode([]byte{0, 1, 2}); err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestDecode_LengthExceedsCapacity(t *testing.T) {
	var rec Record
	rec.Tag = TagCmd
	rec.Cmd.Length = MaxPayload + 1
	buf := Encode(rec)
	// Encode doesn't validate, but Decode must reject the declared length.
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected error for oversized declared length")
	}
}

func TestBuildReply_Standard(t *testing.T) {
	payload := []byte{0xAA, 0xBB}
	out := BuildReply(ReplyStandard, 7, payload)
	if len(out) != 4+len(payload) {
		t.Fatalf("unexpected length %d", len(out))
	}
	if GetU16(out, 0) != 7 {
		t.Fatalf("expected return code 7, got %d", GetU16(out, 0))
	}
	if out[4] != 0xAA || out[5] != 0xBB {
		t.Fatal("payload not preserved after reserved prefix")
	}
}

func TestBuildReply_Legacy(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	out := BuildReply(ReplyLegacy, 9, payload)
	if len(out) != len(payload) {
		t.Fatalf("unexpected length %d", len(out))
	}
	if GetU16(out, 0) != 9 {
		t.Fatalf("expected return code 9, got %d", GetU16(out, 0))
	}
	if out[2] != 0xCC {
		t.Fatal("legacy mode must preserve payload bytes beyond the overwritten prefix")
	}
}
