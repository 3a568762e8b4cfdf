package connection

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chainsafe/elements-duel/internal/metrics"
)

// connectGuard rate limits connect attempts: a cooldown between attempts and
// a breaker that opens after consecutive failures. Each Manager owns one.
type connectGuard struct {
	mu        sync.Mutex
	cooldown  *rate.Limiter
	interval  time.Duration
	threshold int
	lockout   time.Duration
	now       func() time.Time

	failures  int
	openUntil time.Time
}

func newConnectGuard(cooldown time.Duration, threshold int, lockout time.Duration, now func() time.Time) *connectGuard {
	return &connectGuard{
		cooldown:  newCooldown(cooldown),
		interval:  cooldown,
		threshold: threshold,
		lockout:   lockout,
		now:       now,
	}
}

// newCooldown admits one attempt per interval. The limiter is always driven
// with explicit times so the Manager clock applies.
func newCooldown(interval time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(interval), 1)
}

// admit records an attempt or rejects it with the time left to wait
func (g *connectGuard) admit() *Error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if wait := g.openUntil.Sub(now); wait > 0 {
		metrics.ConnectRejections.WithLabelValues("breaker").Inc()
		return &Error{
			Class:      ClassOverloaded,
			Message:    fmt.Sprintf("Too many failed connection attempts. Wait %s before trying again.", wait.Round(time.Second)),
			RetryAfter: wait,
			Err:        ErrBreakerOpen,
			lockout:    true,
		}
	}

	r := g.cooldown.ReserveN(now, 1)
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		metrics.ConnectRejections.WithLabelValues("cooldown").Inc()
		return &Error{
			Class:      ClassRateLimited,
			Message:    "Connection attempted too soon. Wait a moment and try again.",
			RetryAfter: wait,
			Err:        ErrTooSoon,
		}
	}
	return nil
}

// done reports the outcome of an admitted attempt. A rejection by the
// operator does not count towards the breaker.
func (g *connectGuard) done(err *Error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err == nil || err.Class == ClassUserRejected {
		g.failures = 0
		return
	}
	g.failures++
	if g.failures >= g.threshold {
		g.failures = 0
		g.openUntil = g.now().Add(g.lockout)
	}
}

func (g *connectGuard) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooldown = newCooldown(g.interval)
	g.failures = 0
	g.openUntil = time.Time{}
}
