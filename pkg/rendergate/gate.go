// Package rendergate implements the wait/notify primitive that couples
// parser mutations to renderers: a monotonic update counter, a blink
// phase toggled on a 400ms cadence, and a global stop flag.
package rendergate

import (
	"sync"
	"time"
)

const (
	pollInterval = 500 * time.Millisecond
	blinkPeriod  = 400 * time.Millisecond
)

// Gate is constructed once at startup and lives until shutdown.
type Gate struct {
	mu   sync.Mutex
	cond *sync.Cond

	latestUpdate int64 // monotonic ms, never decreases
	blinkPhase   bool
	blinkSwitch  time.Time
	stopped      bool
}

func New() *Gate {
	g := &Gate{blinkSwitch: time.Now()}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Bump is called by the parser once per Consume call that mutated the
// buffer, after the buffer lock is released; it advances latest_update
// and wakes waiters.
func (g *Gate) Bump() {
	g.mu.Lock()
	now := time.Now().UnixMilli()
	if now <= g.latestUpdate {
		now = g.latestUpdate + 1
	}
	g.latestUpdate = now
	g.mu.Unlock()
	g.cond.Broadcast()
}

// LatestUpdate returns the current monotonic update counter.
func (g *Gate) LatestUpdate() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.latestUpdate
}

// Render blocks until latest_update > afterTS, the stop flag is set, or
// maxWaitMs elapses (0 means block indefinitely, subject only to stop),
// returning the observed update timestamp. It wakes at least every
// 500ms so Stop is responsive even with maxWaitMs == 0.
func (g *Gate) Render(afterTS int64, maxWaitMs int64) int64 {
	deadline := time.Time{}
	if maxWaitMs > 0 {
		deadline = time.Now().Add(time.Duration(maxWaitMs) * time.Millisecond)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		if g.stopped || g.latestUpdate > afterTS {
			return g.latestUpdate
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return g.latestUpdate
		}

		wait := pollInterval
		if !deadline.IsZero() {
			if remain := time.Until(deadline); remain < wait {
				wait = remain
			}
		}
		g.waitWithTimeout(wait)
	}
}

// waitWithTimeout releases the lock, blocks on cond or the timer,
// whichever first, and re-acquires the lock. Must be called with g.mu
// held.
func (g *Gate) waitWithTimeout(d time.Duration) {
	woken := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		g.mu.Lock()
		close(woken)
		g.cond.Broadcast()
		g.mu.Unlock()
	})
	defer timer.Stop()
	g.cond.Wait()
	select {
	case <-woken:
	default:
	}
}

// BlinkPhase returns the current blink phase, toggling it first if at
// least blinkPeriod has elapsed since the last toggle (~150/min).
func (g *Gate) BlinkPhase() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if time.Since(g.blinkSwitch) >= blinkPeriod {
		g.blinkPhase = !g.blinkPhase
		g.blinkSwitch = time.Now()
	}
	return g.blinkPhase
}

// Stop sets the stop flag and wakes every waiter.
func (g *Gate) Stop() {
	g.mu.Lock()
	g.stopped = true
	g.mu.Unlock()
	g.cond.Broadcast()
}

func (g *Gate) Stopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}
