package circuitbreaker

import "testing"

func TestRegistryIsPerProject(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, HalfOpenMaxCalls: 1})

	a := r.For("p1")
	a.Allow()
	a.RecordFailure()
	if a.State() != Open {
		t.Fatal("expected p1's breaker to be open")
	}

	b := r.For("p2")
	if b.State() != Closed {
		t.Fatal("expected p2's breaker to be independently closed")
	}

	if r.For("p1") != a {
		t.Fatal("expected repeated lookups of the same project to return the same breaker")
	}
}
