// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package transport

import "testing"

func TestFakeSendRecordsInbox(t *testing.T) {
	f := NewFake()
	if err := f.Send(5, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	got := f.SentTo(5)
	if len(got) != 1 || string(got[0]) != "hello" {
		t.Fatalf("unexpected inbox state: %v", got)
	}
}

func TestFakeFailSendTo(t *testing.T) {
	f := NewFake()
	f.FailSendTo(5)
	if err := f.Send(5, []byte("x")); err == nil {
		t.Fatal("expected simulated send failure")
	}
}

func TestFakeDisconnectClearsInbox(t *testing.T) {
	f := NewFake()
	_ = f.Send(5, []byte("x"))
	if err := f.Disconnect(5); err != nil {
		t.Fatal(err)
	}
	if len(f.SentTo(5)) != 0 {
		t.Fatal("expected inbox cleared on disconnect")
	}
}
