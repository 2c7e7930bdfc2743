// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ownership

import "testing"

func TestMutualExclusion(t *testing.T) {
	a := NewArbiter(0)
	a.Lock()
	if err := a.AcquirePermanent(HIF0); err != nil {
		t.Fatalf("A should lock: %v", err)
	}
	if err := a.AcquirePermanent(HIF1); err == nil {
		t.Fatal("B should fail to lock while A holds it")
	}
	if err := a.ReleasePermanent(HIF0); err != nil {
		t.Fatalf("A should unlock: %v", err)
	}
	if err := a.AcquirePermanent(HIF1); err != nil {
		t.Fatalf("B should lock after A released: %v", err)
	}
	a.Unlock()
}

func TestUnlockByNonOwnerFails(t *testing.T) {
	a := NewArbiter(0)
	a.Lock()
	defer a.Unlock()

	if err := a.AcquirePermanent(HIF0); err != nil {
		t.Fatal(err)
	}
	if err := a.ReleasePermanent(HIF1); err == nil {
		t.Fatal("non-owner unlock should fail")
	}
}

func TestAuthorizedMaskHonored(t *testing.T) {
	mask := uint32(1 << HIF0) // only HIF0 authorized
	a := NewArbiter(mask)
	a.Lock()
	defer a.Unlock()

	if err := a.AcquirePermanent(HIF1); err == nil {
		t.Fatal("unauthorized sender should not be able to lock")
	}
	if a.AcquireFloating(HIF1) {
		t.Fatal("unauthorized sender should not get a floating lock")
	}
}

func TestFloatingLockTransience(t *testing.T) {
	a := NewArbiter(0)
	a.Lock()
	defer a.Unlock()

	if !a.AcquireFloating(HIF2) {
		t.Fatal("expected floating lock grant")
	}
	if a.Owner() != HIF2 {
		t.Fatalf("expected owner HIF2 during command, got %v", a.Owner())
	}
	a.ClearFloatingLock()
	if a.Owner() != Invalid {
		t.Fatalf("expected owner INVALID after clearing floating lock, got %v", a.Owner())
	}
}

func TestAuthorizeMatchesPermanentOwner(t *testing.T) {
	a := NewArbiter(0)
	a.Lock()
	defer a.Unlock()

	_ = a.AcquirePermanent(HIF3)
	if !a.Authorize(HIF3) {
		t.Fatal("expected HIF3 to be authorized as current owner")
	}
	if a.Authorize(HIF0) {
		t.Fatal("HIF0 is not the owner")
	}
}

func TestDefaultMaskAuthorizesAllClasses(t *testing.T) {
	a := NewArbiter(0)
	a.Lock()
	defer a.Unlock()
	for _, s := range []Sender{HIF0, HIF1, HIF2, HIF3, HIFNoCopy} {
		if a.AuthorizedMask()&s.bit() == 0 {
			t.Fatalf("expected %v authorized by default", s)
		}
	}
}
