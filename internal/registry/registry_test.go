// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import (
	"sync"
	"testing"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    []uint32
	failers map[uint32]bool
}

func (f *fakeSender) Send(dest uint32, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, dest)
	if f.failers[dest] {
		return errFake
	}
	return nil
}

var errFake = &fakeErr{}

type fakeErr struct{}

func (*fakeErr) Error() string { return "fake send failure" }

func TestRegisterUnregisterSymmetry(t *testing.T) {
	r := New(nil, 5)

	if _, err := r.Register(0x11, 0x22); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Unregister(0x22); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if err := r.Unregister(0x22); err == nil {
		t.Fatal("second unregister should fail with not found")
	}
}

func TestSlotCapacity(t *testing.T) {
	r := New(nil, 2)

	if _, err := r.Register(1, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(2, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(3, 3); err == nil {
		t.Fatal("third register should fail: no space")
	}

	if err := r.Unregister(1); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(3, 3); err != nil {
		t.Fatalf("register after free should succeed: %v", err)
	}
}

func TestFirstClientTransition(t *testing.T) {
	r := New(nil, 5)

	first, err := r.Register(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !first {
		t.Fatal("expected first registration to report wasFirstClient")
	}

	second, err := r.Register(2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if second {
		t.Fatal("second registration should not report wasFirstClient")
	}
}

func TestDuplicateBackChannelRejected(t *testing.T) {
	r := New(nil, 5)
	if _, err := r.Register(1, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(1, 2); err == nil {
		t.Fatal("duplicate back channel should be rejected")
	}
}

func TestBroadcastFanOut(t *testing.T) {
	r := New(nil, 5)
	for i := uint32(1); i <= 3; i++ {
		if _, err := r.Register(i, i); err != nil {
			t.Fatal(err)
		}
	}

	sender := &fakeSender{failers: map[uint32]bool{2: true}}
	err := r.Broadcast([]byte("x"), sender)
	if len(sender.sent) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(sender.sent))
	}
	if err == nil {
		t.Fatal("expected last error to surface")
	}
}
