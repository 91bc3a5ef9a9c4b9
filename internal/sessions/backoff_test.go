package sessions

import (
	"testing"
	"time"
)

func TestBackoffDelaySeries(t *testing.T) {
	base := 5 * time.Second
	max := 60 * time.Second

	centers := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}

	for attempt, want := range centers {
		got := backoffDelay(attempt+1, base, max)
		lo := want - want/10
		hi := want + want/10
		if got < lo || got > hi {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", attempt+1, got, lo, hi)
		}
	}
}

func TestBackoffDelayClampsAttempt(t *testing.T) {
	base := 2 * time.Second
	for _, attempt := range []int{0, -3} {
		got := backoffDelay(attempt, base, time.Minute)
		if got < base-base/10 || got > base+base/10 {
			t.Errorf("attempt %d: delay %v not clamped to first-attempt range", attempt, got)
		}
	}
}

func TestBackoffDelayNeverExceedsCapPlusJitter(t *testing.T) {
	max := 30 * time.Second
	for i := 0; i < 200; i++ {
		got := backoffDelay(50, time.Second, max)
		if got > max+max/10 {
			t.Fatalf("delay %v exceeds cap %v plus jitter", got, max)
		}
		if got < max-max/10 {
			t.Fatalf("delay %v below capped center %v minus jitter", got, max)
		}
	}
}
