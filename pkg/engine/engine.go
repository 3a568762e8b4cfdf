// Package engine drives the commit-reveal wagering protocol on top of a
// connection session and keeps the sorted, filtered view of games and stats.
package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/chainsafe/elements-duel/pkg/config"
	"github.com/chainsafe/elements-duel/pkg/connection"
	"github.com/chainsafe/elements-duel/pkg/ethereum"
	"github.com/chainsafe/elements-duel/pkg/game"
	"github.com/chainsafe/elements-duel/pkg/vault"
)

// Service is the operation set exposed to collaborators
type Service interface {
	CreateGame(ctx context.Context, req *CreateGameRequest) (*CreateGameResult, error)
	JoinGame(ctx context.Context, req *JoinGameRequest) (*TxResult, error)
	RevealMove(ctx context.Context, req *RevealRequest) (*TxResult, error)
	AutoRevealMove(ctx context.Context, id uint64) (bool, error)
	CancelGame(ctx context.Context, id uint64) (*TxResult, error)
	ClaimTimeout(ctx context.Context, id uint64) (*TxResult, error)

	FetchGames(ctx context.Context) ([]*game.Record, error)
	Game(ctx context.Context, id uint64) (*game.Record, error)
	Games(filter game.Filter, mode game.SortMode) []*game.Record
	FetchPlayerStats(ctx context.Context, player common.Address) (*game.PlayerStats, error)
	Leaderboard(ctx context.Context) ([]game.LeaderboardEntry, error)
	RewardPool(ctx context.Context) (*big.Int, error)
	RefreshData(ctx context.Context) error
	Snapshot() View
}

// SessionProvider hands out the current connection session
type SessionProvider interface {
	State() connection.State
	Session() (*connection.Session, error)
	Subscribe() (<-chan connection.State, func())
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces the clock used for reveal deadline checks
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine implements Service
type Engine struct {
	cfg       *config.EngineConfig
	sessions  SessionProvider
	vault     *vault.Vault
	gasMargin *big.Int
	logger    *zap.Logger
	now       func() time.Time

	// terminal records never change and are not refetched
	terminal *lru.Cache[uint64, *game.Record]

	mu    sync.RWMutex
	view  View
	dirty chan struct{}
}

// View is the locally held snapshot of games and the session's own stats
type View struct {
	Games     []*game.Record    `json:"games"`
	Stats     *game.PlayerStats `json:"stats,omitempty"`
	Counter   uint64            `json:"counter"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// New creates an engine. decimals is the precision of the native token, used
// to parse the configured gas margin.
func New(
	cfg *config.EngineConfig,
	ledgerCfg *config.LedgerConfig,
	decimals int32,
	sessions SessionProvider,
	v *vault.Vault,
	logger *zap.Logger,
	opts ...Option,
) (*Engine, error) {
	margin, err := ethereum.ParseUnits(ledgerCfg.GasMargin, decimals)
	if err != nil {
		return nil, fmt.Errorf("invalid gas margin: %w", err)
	}
	cache, err := lru.New[uint64, *game.Record](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create record cache: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		sessions:  sessions,
		vault:     v,
		gasMargin: margin,
		logger:    logger,
		now:       time.Now,
		terminal:  cache,
		dirty:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Snapshot returns the current view
func (e *Engine) Snapshot() View {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v := e.view
	v.Games = append([]*game.Record(nil), e.view.Games...)
	return v
}

// Games returns the records of the current view matching filter, in mode order
func (e *Engine) Games(filter game.Filter, mode game.SortMode) []*game.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return game.Apply(e.view.Games, filter, mode)
}

// markDirty asks the run loop for a refresh; repeated requests coalesce
func (e *Engine) markDirty() {
	select {
	case e.dirty <- struct{}{}:
	default:
	}
}

func (e *Engine) session() (*connection.Session, error) {
	return e.sessions.Session()
}

func (e *Engine) defaultSort() game.SortMode {
	mode, err := game.ParseSortMode(e.cfg.DefaultSort)
	if err != nil {
		return game.SortNewest
	}
	return mode
}
