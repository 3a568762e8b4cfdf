package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/elements-duel/internal/metrics"
	"github.com/chainsafe/elements-duel/pkg/connection"
	"github.com/chainsafe/elements-duel/pkg/ethereum"
)

// Run keeps the view current until ctx is done. It refreshes when a session
// becomes usable, on every ledger lifecycle event, after local writes and on
// the configured interval.
func (e *Engine) Run(ctx context.Context) error {
	states, unsubscribe := e.sessions.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(e.cfg.RefreshInterval)
	defer ticker.Stop()

	events := make(chan ethereum.GameEvent, 16)
	sessionErr := make(chan error, 1)
	var watching string
	stopWatch := func() {}
	defer func() { stopWatch() }()

	onState := func(st connection.State) {
		if !st.Usable() {
			if watching != "" {
				e.logger.Debug("Session not usable, stopping event watch", zap.Stringer("status", st.Status))
				stopWatch()
				stopWatch, watching = func() {}, ""
			}
			return
		}
		if st.SessionID == watching {
			return
		}
		stopWatch()
		stopWatch = e.watch(ctx, events, sessionErr)
		watching = st.SessionID
		e.refresh(ctx, "session")
	}
	onState(e.sessions.State())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case st := <-states:
			onState(st)

		case err := <-sessionErr:
			e.logger.Warn("Ledger event watch stopped", zap.Error(err))
			stopWatch()
			stopWatch, watching = func() {}, ""

		case ev := <-events:
			metrics.LedgerEvents.WithLabelValues(ev.Kind).Inc()
			e.logger.Debug("Ledger event",
				zap.String("event", ev.Kind),
				zap.Uint64("game_id", ev.GameID),
				zap.Uint64("block", ev.BlockNumber))
			e.refresh(ctx, "event")

		case <-e.dirty:
			e.refresh(ctx, "write")

		case <-ticker.C:
			e.refresh(ctx, "interval")
		}
	}
}

// watch streams the current session's events into out until the returned
// stop func is called
func (e *Engine) watch(ctx context.Context, out chan<- ethereum.GameEvent, errs chan<- error) func() {
	sess, err := e.session()
	if err != nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		err := sess.WatchEvents(ctx, out)
		if err == nil || ctx.Err() != nil || !sess.Alive() {
			return
		}
		select {
		case errs <- err:
		default:
		}
	}()
	return cancel
}

func (e *Engine) refresh(ctx context.Context, reason string) {
	err := e.RefreshData(ctx)
	switch {
	case err == nil:
	case connection.IsSessionGone(err):
		e.logger.Debug("Skipping refresh without a session", zap.String("reason", reason))
	default:
		e.logger.Warn("Failed to refresh games", zap.String("reason", reason), zap.Error(err))
	}
}
