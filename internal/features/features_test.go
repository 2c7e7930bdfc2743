// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package features

import "testing"

func TestSetRejectsNonToggleable(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Flag{Name: "l2_bridge", Default: 1, RuntimeToggleable: false})

	if err := r.Set("l2_bridge", 0); err == nil {
		t.Fatal("expected non-toggleable flag to reject Set")
	}
}

func TestSetTogglesValue(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Flag{Name: "qos", Default: 0, RuntimeToggleable: true})

	if err := r.Set("qos", 1); err != nil {
		t.Fatal(err)
	}
	f, ok := r.Get("qos")
	if !ok || f.Value != 1 {
		t.Fatalf("expected value 1, got %+v", f)
	}
}

func TestGroupedElementArray(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Flag{Name: "vlan_filter", RuntimeToggleable: true})

	if err := r.SetElement("vlan_filter", "ports", "mask", 3, 0xAB); err != nil {
		t.Fatal(err)
	}
	v, ok := r.GetElement("vlan_filter", "ports", "mask", 3)
	if !ok || v != 0xAB {
		t.Fatalf("expected 0xAB, got %x ok=%v", v, ok)
	}
	if _, ok := r.GetElement("vlan_filter", "ports", "mask", 4); ok {
		t.Fatal("expected no value at unset index")
	}
}

func TestDefaultValueAppliedOnRegister(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Flag{Name: "x", Default: 7})
	f, _ := r.Get("x")
	if f.Value != 7 {
		t.Fatalf("expected default 7 applied, got %d", f.Value)
	}
}
