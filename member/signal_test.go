package member

import (
	"testing"
	"time"
)

func TestSignal_FireReleasesWaiters(t *testing.T) {
	s := NewSignal()

	done := make(chan bool, 1)
	go func() {
		done <- s.Wait(time.Second)
	}()

	s.Fire()

	if !<-done {
		t.Fatal("Wait() returned false after Fire()")
	}
	if !s.Fired() {
		t.Fatal("Fired() = false after Fire()")
	}
}

func TestSignal_WaitAfterFireReturnsImmediately(t *testing.T) {
	s := NewSignal()
	s.Fire()

	start := time.Now()
	if !s.Wait(10 * time.Second) {
		t.Fatal("Wait() returned false on a fired signal")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Wait() on a fired signal took %v", elapsed)
	}
}

func TestSignal_WaitTimesOut(t *testing.T) {
	s := NewSignal()

	if s.Wait(10 * time.Millisecond) {
		t.Fatal("Wait() returned true without Fire()")
	}
	if s.Fired() {
		t.Fatal("Fired() = true without Fire()")
	}
}

func TestSignal_FireIsIdempotent(t *testing.T) {
	s := NewSignal()

	// A second Fire must not panic on the closed channel.
	s.Fire()
	s.Fire()

	if !s.Fired() {
		t.Fatal("Fired() = false after Fire()")
	}
}
