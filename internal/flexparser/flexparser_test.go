// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flexparser

import "testing"

type fakeClassifier struct {
	nextAddr uint32
}

func (f *fakeClassifier) BindTable(table string, rules []Rule) (uint32, error) {
	f.nextAddr++
	return f.nextAddr, nil
}

func (f *fakeClassifier) UnbindTable(addr uint32) error {
	return nil
}

func TestUseRuleInsertsAtPositionAndShifts(t *testing.T) {
	d := NewDB(&fakeClassifier{})
	_ = d.RegisterTable("t0")
	for _, name := range []string{"r0", "r1", "r2"} {
		_ = d.RegisterRule(Rule{Name: name})
	}

	if err := d.UseRule("t0", "r0", 0); err != nil {
		t.Fatal(err)
	}
	if err := d.UseRule("t0", "r1", 0); err != nil {
		t.Fatal(err)
	}
	if err := d.UseRule("t0", "r2", 1); err != nil {
		t.Fatal(err)
	}

	tbl, _ := d.Table("t0")
	want := []string{"r1", "r2", "r0"}
	for i, w := range want {
		if tbl.Rules[i] != w {
			t.Fatalf("position %d: got %s want %s (full: %v)", i, tbl.Rules[i], w, tbl.Rules)
		}
	}
}

func TestRuleBelongsToAtMostOneTable(t *testing.T) {
	d := NewDB(&fakeClassifier{})
	_ = d.RegisterTable("t0")
	_ = d.RegisterTable("t1")
	_ = d.RegisterRule(Rule{Name: "r0"})

	if err := d.UseRule("t0", "r0", 0); err != nil {
		t.Fatal(err)
	}
	if err := d.UseRule("t1", "r0", 0); err == nil {
		t.Fatal("expected rule already in a table to be rejected")
	}
}

func TestUnuseRuleCompactsPositions(t *testing.T) {
	d := NewDB(&fakeClassifier{})
	_ = d.RegisterTable("t0")
	for _, name := range []string{"r0", "r1", "r2"} {
		_ = d.RegisterRule(Rule{Name: name})
		_ = d.UseRule("t0", name, -1)
	}

	if err := d.UnuseRule("t0", "r1"); err != nil {
		t.Fatal(err)
	}
	tbl, _ := d.Table("t0")
	if len(tbl.Rules) != 2 || tbl.Rules[0] != "r0" || tbl.Rules[1] != "r2" {
		t.Fatalf("unexpected rules after unuse: %v", tbl.Rules)
	}

	if err := d.DeregisterRule("r1"); err != nil {
		t.Fatalf("r1 should be free to deregister after unuse: %v", err)
	}
}

func TestBindUnbindRefCountingAndReverseLookup(t *testing.T) {
	d := NewDB(&fakeClassifier{})
	_ = d.RegisterTable("t0")

	addr1, err := d.Bind("t0")
	if err != nil {
		t.Fatal(err)
	}
	addr2, err := d.Bind("t0")
	if err != nil {
		t.Fatal(err)
	}
	if addr1 != addr2 {
		t.Fatalf("expected same address across ref-counted binds, got %d vs %d", addr1, addr2)
	}

	name, ok := d.TableByAddr(addr1)
	if !ok || name != "t0" {
		t.Fatalf("expected reverse lookup to resolve t0, got %s ok=%v", name, ok)
	}

	if err := d.Unbind("t0"); err != nil {
		t.Fatal(err)
	}
	if _, ok := d.TableByAddr(addr1); !ok {
		t.Fatal("table should still be bound after one of two unbinds")
	}
	if err := d.Unbind("t0"); err != nil {
		t.Fatal(err)
	}
	if _, ok := d.TableByAddr(addr1); ok {
		t.Fatal("table should be unbound after matching unbind count")
	}
}
