// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package qos

import "testing"

func TestQueueLengthBudgetEnforced(t *testing.T) {
	m := NewManager()
	m.SetBudget(1, 255)

	if err := m.UpdateQueue(1, 0, QueueTailDrop, 120, NewWredZones()); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateQueue(1, 1, QueueTailDrop, 120, NewWredZones()); err != nil {
		t.Fatal(err)
	}

	err := m.UpdateQueue(1, 2, QueueWRED, 100, NewWredZones())
	if err == nil {
		t.Fatal("expected sum-of-lengths violation")
	}

	if _, ok := m.Queue(1, 2); ok {
		t.Fatal("queue 2 should not have been created on rejected update")
	}
	q0, _ := m.Queue(1, 0)
	if q0.Max != 120 {
		t.Fatal("existing queue should be unchanged after rejected sibling update")
	}
}

func TestWredZonesDefaultInvalid(t *testing.T) {
	z := NewWredZones()
	for i, zone := range z {
		if !zone.Invalid || zone.Probability != InvalidZone {
			t.Fatalf("zone %d expected invalid sentinel, got %+v", i, zone)
		}
	}
}

func TestSchedulerModeZeroDisablesInputs(t *testing.T) {
	m := NewManager()
	inputs := [32]SchedInput{{Weight: 10, Source: 1}}
	m.UpdateScheduler(1, 0, 0, inputs)

	s, ok := m.Scheduler(1, 0)
	if !ok {
		t.Fatal("expected scheduler")
	}
	for i, in := range s.Inputs {
		if in.Weight != 0 || in.Source != 0 {
			t.Fatalf("input %d should be disabled when mode=0, got %+v", i, in)
		}
	}
}

func TestPolicerFlowInsertAndRemovePositions(t *testing.T) {
	m := NewManager()
	_ = m.RegisterPolicerFlow(&PolicerFlow{Iface: 1, Key: "a", Position: firstFreePosition})
	_ = m.RegisterPolicerFlow(&PolicerFlow{Iface: 1, Key: "b", Position: firstFreePosition})
	if err := m.RegisterPolicerFlow(&PolicerFlow{Iface: 1, Key: "c", Position: 0}); err != nil {
		t.Fatal(err)
	}

	flows := m.PolicerFlows(1)
	if len(flows) != 3 || flows[0].Key != "c" || flows[1].Key != "a" || flows[2].Key != "b" {
		t.Fatalf("unexpected flow order: %+v", flows)
	}
	for i, f := range flows {
		if int(f.Position) != i {
			t.Fatalf("flow %d has position %d", i, f.Position)
		}
	}

	if err := m.DeregisterPolicerFlow(1, 0); err != nil {
		t.Fatal(err)
	}
	flows = m.PolicerFlows(1)
	if len(flows) != 2 || flows[0].Key != "a" || flows[0].Position != 0 {
		t.Fatalf("unexpected flow state after removal: %+v", flows)
	}
}
