package sched

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAddAndRun(t *testing.T) {
	s := NewService()
	defer s.Stop()

	var runs atomic.Int64
	if err := s.Add("tick", "@every 50ms", func() { runs.Add(1) }); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("job ran %d times, want at least 2", runs.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestAddRejectsBadSpec(t *testing.T) {
	s := NewService()
	if err := s.Add("bad", "not a schedule", func() {}); err == nil {
		t.Fatal("Add accepted an invalid spec")
	}
	if got := len(s.Jobs()); got != 0 {
		t.Errorf("jobs after rejected Add = %d, want 0", got)
	}
}

func TestAddReplacesJob(t *testing.T) {
	s := NewService()
	defer s.Stop()

	var first, second atomic.Int64
	if err := s.Add("job", "@every 50ms", func() { first.Add(1) }); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("job", "@every 50ms", func() { second.Add(1) }); err != nil {
		t.Fatalf("re-Add: %v", err)
	}
	if got := s.Jobs(); len(got) != 1 || got[0] != "job" {
		t.Fatalf("Jobs = %v, want [job]", got)
	}

	s.Start()
	deadline := time.After(2 * time.Second)
	for second.Load() < 1 {
		select {
		case <-deadline:
			t.Fatal("replacement job never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if first.Load() != 0 {
		t.Errorf("replaced job ran %d times, want 0", first.Load())
	}
}

func TestRemove(t *testing.T) {
	s := NewService()
	if err := s.Add("job", "0 3 * * *", func() {}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !s.Remove("job") {
		t.Error("Remove = false, want true")
	}
	if s.Remove("job") {
		t.Error("second Remove = true, want false")
	}
	if got := len(s.Jobs()); got != 0 {
		t.Errorf("jobs after Remove = %d, want 0", got)
	}
}

func TestJobsSorted(t *testing.T) {
	s := NewService()
	for _, name := range []string{"b-job", "a-job", "c-job"} {
		if err := s.Add(name, "0 3 * * *", func() {}); err != nil {
			t.Fatalf("Add %s: %v", name, err)
		}
	}
	got := s.Jobs()
	want := []string{"a-job", "b-job", "c-job"}
	if len(got) != len(want) {
		t.Fatalf("Jobs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Jobs[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStopIdempotent(t *testing.T) {
	s := NewService()
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}

func TestAddAfterStart(t *testing.T) {
	s := NewService()
	defer s.Stop()
	s.Start()

	var runs atomic.Int64
	if err := s.Add("late", "@every 50ms", func() { runs.Add(1) }); err != nil {
		t.Fatalf("Add: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for runs.Load() < 1 {
		select {
		case <-deadline:
			t.Fatal("job added after Start never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
