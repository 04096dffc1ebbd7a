package idset

import "testing"

func TestAddRemoveRoundTrip(t *testing.T) {
	s := New[int]()

	if !s.Add(1) {
		t.Fatalf("expected first add of 1 to report newly inserted")
	}
	if s.Add(1) {
		t.Fatalf("expected second add of 1 to report already present")
	}
	if s.Len() != 1 {
		t.Fatalf("expected len 1, got %d", s.Len())
	}

	if !s.Remove(1) {
		t.Fatalf("expected remove of 1 to report present")
	}
	if s.Len() != 0 {
		t.Fatalf("expected len 0 after remove, got %d", s.Len())
	}
	if s.Remove(1) {
		t.Fatalf("expected second remove of 1 to report absent")
	}
}

func TestAddThenRemoveIsNoop(t *testing.T) {
	s := New[string]()
	s.Add("a")
	s.Add("b")
	s.Remove("a")

	if s.Contains("a") {
		t.Fatalf("expected a to be gone")
	}
	if !s.Contains("b") {
		t.Fatalf("expected b to remain")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := New[int]()
	s.Add(1)
	s.Add(2)

	clone := s.Clone()
	clone.Add(3)

	if s.Contains(3) {
		t.Fatalf("mutating the clone must not affect the original")
	}
	if !clone.Contains(1) || !clone.Contains(2) {
		t.Fatalf("clone must carry over original members")
	}
}

func TestEachStopsEarly(t *testing.T) {
	s := New[int]()
	for i := 0; i < 10; i++ {
		s.Add(i)
	}

	seen := 0
	s.Each(func(int) bool {
		seen++
		return seen < 3
	})

	if seen != 3 {
		t.Fatalf("expected Each to stop after 3 calls, stopped after %d", seen)
	}
}
