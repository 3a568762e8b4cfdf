package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chainsafe/elements-duel/internal/metrics"
	"github.com/chainsafe/elements-duel/pkg/config"
)

// Policy is the number of attempts granted to one provider call
type Policy int

const (
	// PolicySubmit is used for transaction submission, which is never resent
	PolicySubmit Policy = 1
)

// Retrier runs provider calls under the retry policy. It is shared by every
// call of a manager so that the overload counter and the rate limiter see the
// whole traffic.
type Retrier struct {
	cfg     config.RetryConfig
	limiter *rate.Limiter
	logger  *zap.Logger

	now      func() time.Time
	newTimer func() backoff.Timer

	mu          sync.Mutex
	overloads   int
	lockedUntil time.Time
}

// NewRetrier creates a retrier from the connection settings
func NewRetrier(cfg *config.ConnectionConfig, logger *zap.Logger) *Retrier {
	return &Retrier{
		cfg:      cfg.Retry,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:   logger,
		now:      time.Now,
		newTimer: func() backoff.Timer { return nil },
	}
}

// Read returns the policy for idempotent reads
func (r *Retrier) Read() Policy {
	return Policy(r.cfg.ReadAttempts)
}

// Estimate returns the policy for gas estimation
func (r *Retrier) Estimate() Policy {
	return Policy(r.cfg.EstimateAttempts)
}

func (r *Retrier) backOff(ctx context.Context, attempts Policy, last **Error) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.cfg.BaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = r.cfg.Jitter
	exp.MaxInterval = r.cfg.MaxDelay
	exp.MaxElapsedTime = 0
	exp.Reset()

	n := int(attempts) - 1
	if n < 0 {
		n = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(&cooldownBackOff{base: exp, last: last}, uint64(n)), ctx)
}

// cooldownBackOff stretches the wait after an overload signal to the
// cooldown computed for it
type cooldownBackOff struct {
	base backoff.BackOff
	last **Error
}

func (b *cooldownBackOff) NextBackOff() time.Duration {
	d := b.base.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if last := *b.last; last != nil && last.Class == ClassOverloaded && last.RetryAfter > d {
		return last.RetryAfter
	}
	return d
}

func (b *cooldownBackOff) Reset() {
	b.base.Reset()
}

// Do runs fn until it succeeds, fails with a non retriable error, or the
// attempts of policy are used up. The returned error is always a *Error.
func (r *Retrier) Do(ctx context.Context, method string, policy Policy, fn func(context.Context) error) error {
	var last *Error

	operation := func() error {
		if err := r.checkLockout(); err != nil {
			return backoff.Permanent(err)
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(Classify(err))
		}

		err := fn(ctx)
		if err == nil {
			r.recordSuccess()
			return nil
		}

		classified := Classify(err)
		if classified.Class == ClassOverloaded {
			classified = r.recordOverload(classified)
		}
		last = classified
		if !classified.Retriable() {
			return backoff.Permanent(classified)
		}
		return classified
	}

	notify := func(err error, wait time.Duration) {
		class := ClassUnknown
		var e *Error
		if errors.As(err, &e) {
			class = e.Class
		}
		metrics.Retries.WithLabelValues(class.String()).Inc()
		r.logger.Debug("Retrying provider call",
			zap.String("method", method),
			zap.String("class", class.String()),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotifyWithTimer(operation, r.backOff(ctx, policy, &last), notify, r.newTimer())
	if err == nil {
		metrics.ProviderCalls.WithLabelValues(method, "success").Inc()
		return nil
	}

	classified := Classify(err)
	metrics.ProviderCalls.WithLabelValues(method, classified.Class.String()).Inc()
	return classified
}

func (r *Retrier) checkLockout() *Error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if wait := r.lockedUntil.Sub(r.now()); wait > 0 {
		return &Error{
			Class:      ClassOverloaded,
			Message:    classMessages[ClassOverloaded],
			RetryAfter: wait,
			lockout:    true,
		}
	}
	return nil
}

func (r *Retrier) recordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overloads = 0
}

// recordOverload bumps the consecutive overload counter. Past the ceiling
// the retrier locks out all calls for the lockout period and the error
// becomes permanent.
func (r *Retrier) recordOverload(e *Error) *Error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.overloads++
	out := *e
	if r.overloads > r.cfg.OverloadCeiling {
		r.overloads = 0
		r.lockedUntil = r.now().Add(r.cfg.OverloadLockout)
		metrics.OverloadLockouts.Inc()
		r.logger.Warn("Provider overloaded, locking out calls",
			zap.Duration("lockout", r.cfg.OverloadLockout))
		out.RetryAfter = r.cfg.OverloadLockout
		out.lockout = true
		return &out
	}
	out.RetryAfter = r.cfg.OverloadCooldown * time.Duration(r.overloads)
	return &out
}
