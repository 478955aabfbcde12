package packages

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(3, time.Hour)

	for i := 0; i < 2; i++ {
		if ok, _ := b.Allow(); !ok {
			t.Fatalf("call %d: breaker must be closed", i)
		}
		b.RecordFailure()
	}
	if b.State() != "closed" {
		t.Fatalf("state = %s before threshold", b.State())
	}

	if ok, _ := b.Allow(); !ok {
		t.Fatal("third call must be allowed")
	}
	b.RecordFailure()
	if b.State() != "open" {
		t.Fatalf("state = %s after threshold", b.State())
	}

	if ok, err := b.Allow(); ok || err == nil {
		t.Error("open breaker must reject")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Hour)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if b.State() != "closed" {
		t.Errorf("state = %s, success must reset the consecutive count", b.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker(1, 20*time.Millisecond)

	b.Allow()
	b.RecordFailure()
	if b.State() != "open" {
		t.Fatalf("state = %s", b.State())
	}

	time.Sleep(30 * time.Millisecond)

	ok, _ := b.Allow()
	if !ok {
		t.Fatal("cooldown elapsed: probe must be admitted")
	}
	if b.State() != "half_open" {
		t.Fatalf("state = %s", b.State())
	}

	// Only one probe may be in flight.
	if ok, _ := b.Allow(); ok {
		t.Error("second concurrent probe must be rejected")
	}

	b.RecordSuccess()
	if b.State() != "closed" {
		t.Errorf("state = %s after successful probe", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(1, 20*time.Millisecond)

	b.Allow()
	b.RecordFailure()
	time.Sleep(30 * time.Millisecond)

	if ok, _ := b.Allow(); !ok {
		t.Fatal("probe must be admitted")
	}
	b.RecordFailure()

	if b.State() != "open" {
		t.Errorf("state = %s, failed probe must reopen", b.State())
	}
	if ok, _ := b.Allow(); ok {
		t.Error("reopened breaker must reject until the next cooldown")
	}
}

func TestBreakerSetSharedInstances(t *testing.T) {
	set := NewBreakerSet(5, time.Minute)

	a := set.Get("nuget#pkg-a")
	if set.Get("nuget#pkg-a") != a {
		t.Error("same key must yield the same breaker")
	}
	if set.Get("nuget#pkg-b") == a {
		t.Error("distinct keys must get distinct breakers")
	}

	a.RecordFailure()
	states := set.States()
	if len(states) != 2 {
		t.Fatalf("States() = %v", states)
	}
	if states["nuget#pkg-a"] != "closed" {
		t.Errorf("state = %s", states["nuget#pkg-a"])
	}
}
