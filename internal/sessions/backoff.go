package sessions

import (
	"math/rand"
	"time"
)

// backoffDelay returns the wait before reconnect attempt n (1-based):
// base doubling per attempt, capped, with ±10% jitter so a fleet of
// connectors does not reconnect in lockstep.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5+1)) - d/10
	return d + jitter
}
