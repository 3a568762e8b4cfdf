package engine

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chainsafe/elements-duel/internal/metrics"
	"github.com/chainsafe/elements-duel/pkg/connection"
	"github.com/chainsafe/elements-duel/pkg/game"
)

// FetchGames reads the trailing window of game ids below the counter in
// concurrent batches and replaces the view with the result. Records that
// fail to load are skipped; ids never created are dropped.
func (e *Engine) FetchGames(ctx context.Context) ([]*game.Record, error) {
	start := time.Now()
	defer func() { metrics.FetchDuration.Observe(time.Since(start).Seconds()) }()

	sess, err := e.session()
	if err != nil {
		return nil, err
	}

	var counter uint64
	err = sess.Read(ctx, "game_counter", func(ctx context.Context, l connection.Ledger) error {
		var err error
		counter, err = l.GameCounter(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	ids := window(counter, e.cfg.FetchWindow)
	records := make([]*game.Record, 0, len(ids))
	for lo := 0; lo < len(ids); lo += e.cfg.BatchSize {
		hi := min(lo+e.cfg.BatchSize, len(ids))
		batch, err := e.fetchBatch(ctx, sess, ids[lo:hi])
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)
	}
	game.Sort(records, e.defaultSort())

	e.mu.Lock()
	e.view.Games = records
	e.view.Counter = counter
	e.view.UpdatedAt = e.now()
	e.mu.Unlock()
	metrics.GamesInView.Set(float64(len(records)))

	return append([]*game.Record(nil), records...), nil
}

// window returns up to size ids ending at counter, newest first
func window(counter uint64, size int) []uint64 {
	if counter == 0 || size <= 0 {
		return nil
	}
	n := uint64(size)
	if n > counter {
		n = counter
	}
	ids := make([]uint64, 0, n)
	for id := counter; id > counter-n; id-- {
		ids = append(ids, id)
	}
	return ids
}

// fetchBatch loads one batch concurrently. Only the end of the session or of
// ctx fails the batch.
func (e *Engine) fetchBatch(ctx context.Context, sess *connection.Session, ids []uint64) ([]*game.Record, error) {
	out := make([]*game.Record, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		if rec, ok := e.terminal.Get(id); ok {
			out[i] = rec
			continue
		}
		g.Go(func() error {
			rec, err := e.readGame(gctx, sess, id)
			if err != nil {
				if !sess.Alive() || ctx.Err() != nil {
					return err
				}
				metrics.FetchFailures.Inc()
				e.logger.Debug("Skipping game that failed to load", zap.Uint64("game_id", id), zap.Error(err))
				return nil
			}
			if rec.Status.Terminal() {
				e.terminal.Add(id, rec)
			}
			out[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	records := out[:0]
	for _, rec := range out {
		if rec != nil {
			records = append(records, rec)
		}
	}
	return records, nil
}

// Game returns one record, from the terminal cache when possible
func (e *Engine) Game(ctx context.Context, id uint64) (*game.Record, error) {
	if rec, ok := e.terminal.Get(id); ok {
		return rec, nil
	}
	sess, err := e.session()
	if err != nil {
		return nil, err
	}
	rec, err := e.readGame(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	e.upsert(rec)
	return rec, nil
}

// FetchPlayerStats reads the stats of player and derives win rate and profit
func (e *Engine) FetchPlayerStats(ctx context.Context, player common.Address) (*game.PlayerStats, error) {
	sess, err := e.session()
	if err != nil {
		return nil, err
	}

	var stats *game.PlayerStats
	err = sess.Read(ctx, "player_stats", func(ctx context.Context, l connection.Ledger) error {
		var err error
		stats, err = l.GetPlayerStats(ctx, player)
		return err
	})
	if err != nil {
		return nil, err
	}
	stats.Derive()
	return stats, nil
}

// Leaderboard returns the monthly ranking
func (e *Engine) Leaderboard(ctx context.Context) ([]game.LeaderboardEntry, error) {
	sess, err := e.session()
	if err != nil {
		return nil, err
	}

	var entries []game.LeaderboardEntry
	err = sess.Read(ctx, "top_players", func(ctx context.Context, l connection.Ledger) error {
		var err error
		entries, err = l.TopMonthlyPlayers(ctx)
		return err
	})
	return entries, err
}

// RewardPool returns the ledger's reward pool balance
func (e *Engine) RewardPool(ctx context.Context) (*big.Int, error) {
	sess, err := e.session()
	if err != nil {
		return nil, err
	}

	var balance *big.Int
	err = sess.Read(ctx, "reward_pool", func(ctx context.Context, l connection.Ledger) error {
		var err error
		balance, err = l.RewardPoolBalance(ctx)
		return err
	})
	return balance, err
}

// RefreshData reloads the game window and the session account's stats
func (e *Engine) RefreshData(ctx context.Context) error {
	sess, err := e.session()
	if err != nil {
		return err
	}
	if _, err := e.FetchGames(ctx); err != nil {
		return err
	}

	stats, err := e.FetchPlayerStats(ctx, sess.Account)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.view.Stats = stats
	e.mu.Unlock()
	return nil
}
