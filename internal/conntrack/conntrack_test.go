// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"net"
	"testing"
	"time"
)

func tuple(src, dst string) Tuple {
	return Tuple{SrcIP: net.ParseIP(src), DstIP: net.ParseIP(dst), SrcPort: 1234, DstPort: 80, Protocol: 6}
}

func TestAddRejectsConflictingDisableFlags(t *testing.T) {
	tbl := NewTable()
	e := &Entry{Orig: tuple("10.0.0.1", "10.0.0.2"), Flags: FlagOrigDisabled | FlagReplyDisabled}
	if err := tbl.Add(e); err == nil {
		t.Fatal("expected rejection of both-disabled flags")
	}
}

func TestAddAndRemove(t *testing.T) {
	tbl := NewTable()
	e := &Entry{Orig: tuple("10.0.0.1", "10.0.0.2")}
	if err := tbl.Add(e); err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", tbl.Len())
	}
	if err := tbl.Remove(e.Orig); err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 0 {
		t.Fatal("expected entry removed")
	}
}

func TestUpdateRestrictedFields(t *testing.T) {
	tbl := NewTable()
	e := &Entry{Orig: tuple("10.0.0.1", "10.0.0.2")}
	if err := tbl.Add(e); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Update(e.Orig, 5, 6, 100, 200, FlagTTLDecrement); err != nil {
		t.Fatal(err)
	}
	if e.OrigRoute != 5 || e.OrigVLAN != 100 {
		t.Fatalf("update did not apply: %+v", e)
	}
}

func TestDefaultTimeouts(t *testing.T) {
	tbl := NewTable()
	tbl.Timeouts.Set(6, 30*time.Second)
	got, ok := tbl.Timeouts.Get(6)
	if !ok || got != 30*time.Second {
		t.Fatalf("expected timeout 30s, got %v ok=%v", got, ok)
	}
	if _, ok := tbl.Timeouts.Get(17); ok {
		t.Fatal("expected no default set for UDP")
	}
}

func TestReset(t *testing.T) {
	tbl := NewTable()
	_ = tbl.Add(&Entry{Orig: tuple("10.0.0.1", "10.0.0.2")})
	tbl.Reset()
	if tbl.Len() != 0 {
		t.Fatal("expected reset to clear all entries")
	}
}
