// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package driver

import (
	"testing"

	"fci.dev/endpoint/internal/flexparser"
)

func TestFakeBindUnbindTable(t *testing.T) {
	f := NewFake(nil)

	addr, err := f.BindTable("t0", []flexparser.Rule{{Name: "r0"}})
	if err != nil {
		t.Fatal(err)
	}
	if addr == 0 {
		t.Fatal("expected non-zero bind address")
	}
	if err := f.UnbindTable(addr); err != nil {
		t.Fatal(err)
	}
	if err := f.UnbindTable(addr); err == nil {
		t.Fatal("expected error unbinding an already-unbound address")
	}
}

func TestFakeFlushCounters(t *testing.T) {
	f := NewFake(nil)
	_ = f.FlushAll()
	_ = f.FlushLearned()
	_ = f.FlushLearned()

	if f.flushedAll != 1 || f.flushedLrn != 2 {
		t.Fatalf("unexpected flush counts: all=%d learned=%d", f.flushedAll, f.flushedLrn)
	}
}

func TestFakeRouteAddDel(t *testing.T) {
	f := NewFake(nil)
	if err := f.AddRoute(7); err != nil {
		t.Fatal(err)
	}
	if !f.routesAdded[7] {
		t.Fatal("expected route 7 recorded")
	}
	if err := f.DelRoute(7); err != nil {
		t.Fatal(err)
	}
	if f.routesAdded[7] {
		t.Fatal("expected route 7 removed")
	}
}
