package txnstate

import "testing"

func TestNeutralToCached(t *testing.T) {
	var s State
	if !s.EnterCached() {
		t.Fatal("expected NEUTRAL->CACHED to succeed")
	}
	if s.Current() != Cached {
		t.Fatalf("got %v", s.Current())
	}
	if !s.EnterCached() {
		t.Fatal("re-entering CACHED from CACHED should succeed")
	}
}

func TestMutatedBlocksCaching(t *testing.T) {
	var s State
	ok, downgraded := s.EnterMutated()
	if !ok || downgraded {
		t.Fatalf("expected NEUTRAL->MUTATED clean transition, got ok=%v downgraded=%v", ok, downgraded)
	}
	if s.EnterCached() {
		t.Fatal("expected caching to be refused once MUTATED")
	}
}

func TestCachedDowngradesOnMutation(t *testing.T) {
	var s State
	if !s.EnterCached() {
		t.Fatal("expected NEUTRAL->CACHED")
	}
	ok, downgraded := s.EnterMutated()
	if !ok {
		t.Fatal("expected CACHED->MUTATED to be permitted (downgrade policy)")
	}
	if !downgraded {
		t.Fatal("expected downgraded=true when transitioning from CACHED")
	}
	if s.Current() != Mutated {
		t.Fatalf("got %v", s.Current())
	}
}

func TestDeadRejectsAllTransitions(t *testing.T) {
	var s State
	s.MarkDead()
	if s.EnterCached() {
		t.Fatal("DEAD must refuse EnterCached")
	}
	if ok, _ := s.EnterMutated(); ok {
		t.Fatal("DEAD must refuse EnterMutated")
	}
	if !s.IsDead() {
		t.Fatal("expected IsDead true")
	}
}
