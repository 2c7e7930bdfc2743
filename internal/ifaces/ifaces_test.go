// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ifaces

import "testing"

func TestSessionLockContention(t *testing.T) {
	c := NewCatalog()
	id, err := c.LockSession()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.LockSession(); err == nil {
		t.Fatal("expected second lock attempt to fail")
	}
	if err := c.UnlockSession(id + 1); err == nil {
		t.Fatal("expected wrong session id to fail")
	}
	if err := c.UnlockSession(id); err != nil {
		t.Fatal(err)
	}
	if _, err := c.LockSession(); err != nil {
		t.Fatal("expected lock to succeed after unlock")
	}
}

func TestLogicalInterfaceParentAndEgressValidation(t *testing.T) {
	c := NewCatalog()
	if err := c.RegisterPhysical(&Physical{ID: 1, Name: "emac0"}); err != nil {
		t.Fatal(err)
	}

	if err := c.RegisterLogical(&Logical{ID: 10, Parent: 2}); err == nil {
		t.Fatal("expected failure for unknown parent")
	}

	if err := c.RegisterLogical(&Logical{ID: 10, Parent: 1, EgressBits: 1 << 5}); err == nil {
		t.Fatal("expected failure for egress bit referencing unknown physical interface")
	}

	if err := c.RegisterLogical(&Logical{ID: 10, Parent: 1, EgressBits: 1 << 1}); err != nil {
		t.Fatal(err)
	}
}

func TestMACRegisterDeregister(t *testing.T) {
	c := NewCatalog()
	_ = c.RegisterPhysical(&Physical{ID: 1, Name: "emac0"})

	mac := [6]byte{1, 2, 3, 4, 5, 6}
	if err := c.AddMAC("emac0", mac); err != nil {
		t.Fatal(err)
	}
	if err := c.AddMAC("emac0", mac); err == nil {
		t.Fatal("expected duplicate mac rejection")
	}
	if err := c.RemoveMAC("emac0", mac); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveMAC("emac0", mac); err == nil {
		t.Fatal("expected remove of absent mac to fail")
	}
}

func TestMirrorBindAndUnbindByName(t *testing.T) {
	c := NewCatalog()
	_ = c.RegisterPhysical(&Physical{ID: 1, Name: "emac0"})

	if err := c.BindMirror("emac0", false, 0, "m0"); err != nil {
		t.Fatal(err)
	}
	p, _ := c.Physical(1)
	if p.EgressMirrors[0] != "m0" {
		t.Fatal("expected mirror bound")
	}
	c.UnbindMirrorsByName("m0")
	if p.EgressMirrors[0] != "" {
		t.Fatal("expected mirror unbound")
	}
}
