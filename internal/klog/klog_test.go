package klog

import "testing"

func TestNoteAndRecentOrdering(t *testing.T) {
	r := NewRecorder(4)
	r.Note("sched", "dispatch %d", 1)
	r.Note("sched", "dispatch %d", 2)
	r.Note("irq", "raise %d", 0)

	recent := r.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("Recent(10) = %d entries, want 3", len(recent))
	}
	if recent[0].Message != "dispatch 1" || recent[2].Message != "raise 0" {
		t.Fatalf("Recent() not oldest-first: %+v", recent)
	}
}

func TestRecentCapsAtAvailableEntries(t *testing.T) {
	r := NewRecorder(4)
	r.Note("x", "one")
	if got := r.Recent(10); len(got) != 1 {
		t.Fatalf("Recent(10) with 1 entry = %d, want 1", len(got))
	}
}

func TestRingBufferEvictsOldestOnOverflow(t *testing.T) {
	r := NewRecorder(3)
	r.Note("x", "a")
	r.Note("x", "b")
	r.Note("x", "c")
	r.Note("x", "d") // evicts "a"

	recent := r.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("Recent(10) = %d entries, want 3 (capacity)", len(recent))
	}
	msgs := []string{recent[0].Message, recent[1].Message, recent[2].Message}
	want := []string{"b", "c", "d"}
	for i := range want {
		if msgs[i] != want[i] {
			t.Fatalf("Recent() = %v, want %v", msgs, want)
		}
	}
}

func TestSourceBindsSubsystemName(t *testing.T) {
	r := NewRecorder(4)
	s := r.Source("diskio")
	s.Notef("read lba=%d", 7)

	recent := r.Recent(1)
	if len(recent) != 1 || recent[0].Source != "diskio" {
		t.Fatalf("Recent() = %+v, want Source=diskio", recent)
	}
}

func TestNewRecorderDefaultsNonPositiveCapacity(t *testing.T) {
	r := NewRecorder(0)
	for i := 0; i < 100; i++ {
		r.Note("x", "note %d", i)
	}
	if got := r.Recent(1000); len(got) != 64 {
		t.Fatalf("Recent() = %d entries, want default capacity 64", len(got))
	}
}
