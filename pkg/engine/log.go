package engine

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainsafe/elements-duel/pkg/game"
)

const serviceName = "GameEngine"

// logService wraps Service and logs every protocol write. Reads are passed
// through at debug level only. Secrets are never logged.
type logService struct {
	svc    Service
	logger *zap.Logger
}

// NewLog creates a logging decorator for the engine Service
func NewLog(svc Service, logger *zap.Logger) Service {
	return &logService{
		svc:    svc,
		logger: logger.With(zap.String("service", serviceName)),
	}
}

// track logs the start of method and returns a func logging its outcome
func (ls *logService) track(method string, fields ...zap.Field) func(err error, done ...zap.Field) {
	start := time.Now()
	ls.logger.Info(method+" started", append([]zap.Field{zap.String("method", method)}, fields...)...)

	return func(err error, done ...zap.Field) {
		base := []zap.Field{
			zap.String("method", method),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			ls.logger.Error(method+" failed", append(append(base, fields...), zap.Error(err))...)
			return
		}
		ls.logger.Info(method+" completed", append(append(base, fields...), done...)...)
	}
}

func (ls *logService) CreateGame(ctx context.Context, req *CreateGameRequest) (res *CreateGameResult, err error) {
	finish := ls.track("CreateGame",
		zap.Stringer("bet", req.Bet),
		zap.Stringer("referrer", req.Referrer),
		zap.Bool("generated_secret", req.Secret == ""))
	defer func() {
		if res == nil {
			finish(err)
			return
		}
		// a failed vault write still carries the created game
		finish(err,
			zap.Uint64("game_id", res.GameID),
			zap.String("tx_hash", res.TxHash.Hex()),
			zap.Bool("id_from_counter", res.IDFromCounter))
	}()
	return ls.svc.CreateGame(ctx, req)
}

func (ls *logService) JoinGame(ctx context.Context, req *JoinGameRequest) (res *TxResult, err error) {
	finish := ls.track("JoinGame", zap.Uint64("game_id", req.ID), zap.Stringer("bet", req.Bet))
	defer func() { finish(err, txFields(res)...) }()
	return ls.svc.JoinGame(ctx, req)
}

func (ls *logService) RevealMove(ctx context.Context, req *RevealRequest) (res *TxResult, err error) {
	finish := ls.track("RevealMove",
		zap.Uint64("game_id", req.ID),
		zap.Bool("from_vault", req.Move == game.None || req.Secret == ""))
	defer func() { finish(err, txFields(res)...) }()
	return ls.svc.RevealMove(ctx, req)
}

func (ls *logService) AutoRevealMove(ctx context.Context, id uint64) (attempted bool, err error) {
	finish := ls.track("AutoRevealMove", zap.Uint64("game_id", id))
	defer func() { finish(err, zap.Bool("attempted", attempted)) }()
	return ls.svc.AutoRevealMove(ctx, id)
}

func (ls *logService) CancelGame(ctx context.Context, id uint64) (res *TxResult, err error) {
	finish := ls.track("CancelGame", zap.Uint64("game_id", id))
	defer func() { finish(err, txFields(res)...) }()
	return ls.svc.CancelGame(ctx, id)
}

func (ls *logService) ClaimTimeout(ctx context.Context, id uint64) (res *TxResult, err error) {
	finish := ls.track("ClaimTimeout", zap.Uint64("game_id", id))
	defer func() { finish(err, txFields(res)...) }()
	return ls.svc.ClaimTimeout(ctx, id)
}

func (ls *logService) FetchGames(ctx context.Context) (records []*game.Record, err error) {
	start := time.Now()
	defer func() {
		ls.logger.Debug("FetchGames",
			zap.Int("games", len(records)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
	}()
	return ls.svc.FetchGames(ctx)
}

func (ls *logService) Game(ctx context.Context, id uint64) (*game.Record, error) {
	return ls.svc.Game(ctx, id)
}

func (ls *logService) Games(filter game.Filter, mode game.SortMode) []*game.Record {
	return ls.svc.Games(filter, mode)
}

func (ls *logService) FetchPlayerStats(ctx context.Context, player common.Address) (*game.PlayerStats, error) {
	return ls.svc.FetchPlayerStats(ctx, player)
}

func (ls *logService) Leaderboard(ctx context.Context) ([]game.LeaderboardEntry, error) {
	return ls.svc.Leaderboard(ctx)
}

func (ls *logService) RewardPool(ctx context.Context) (*big.Int, error) {
	return ls.svc.RewardPool(ctx)
}

func (ls *logService) RefreshData(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		ls.logger.Debug("RefreshData", zap.Duration("duration", time.Since(start)), zap.Error(err))
	}()
	return ls.svc.RefreshData(ctx)
}

func (ls *logService) Snapshot() View {
	return ls.svc.Snapshot()
}

func txFields(res *TxResult) []zap.Field {
	if res == nil {
		return nil
	}
	fields := []zap.Field{zap.String("tx_hash", res.TxHash.Hex())}
	if res.Record != nil {
		fields = append(fields, zap.Stringer("status", res.Record.Status))
	}
	return fields
}
