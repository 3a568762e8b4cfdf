package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/chainsafe/elements-duel/internal/metrics"
	"github.com/chainsafe/elements-duel/pkg/commitment"
	"github.com/chainsafe/elements-duel/pkg/connection"
	"github.com/chainsafe/elements-duel/pkg/ethereum"
	"github.com/chainsafe/elements-duel/pkg/game"
)

func observe(op string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.GameOperations.WithLabelValues(op, outcome).Inc()
}

// CreateGame commits a move and stores its pre-image under the assigned id
func (e *Engine) CreateGame(ctx context.Context, req *CreateGameRequest) (res *CreateGameResult, err error) {
	defer func() { observe("create", err) }()

	if req.Bet == nil || req.Bet.Sign() <= 0 {
		return nil, ErrInvalidBet
	}
	if !req.Move.Valid() {
		return nil, ErrInvalidMove
	}

	secret := req.Secret
	generated := secret == ""
	if generated {
		if secret, err = commitment.NewSecret(); err != nil {
			return nil, err
		}
	}
	hash, err := commitment.Compute(req.Move, secret)
	if err != nil {
		return nil, err
	}

	sess, err := e.session()
	if err != nil {
		return nil, err
	}
	if err := e.ensureFunds(ctx, sess, req.Bet); err != nil {
		return nil, err
	}

	receipt, err := sess.Transact(ctx, ethereum.CreateGameCall(hash, req.Referrer, req.Bet))
	if err != nil {
		var pending *connection.PendingError
		if errors.As(err, &pending) {
			// the game may exist without an id; only the caller can still reveal it
			e.logger.Error("Created game outcome unknown",
				zap.String("tx_hash", pending.TxHash.Hex()),
				zap.String("commitment", hash.Hex()),
				zap.Error(err))
			return &CreateGameResult{TxHash: pending.TxHash, CommitmentHash: hash, Secret: secret}, err
		}
		return nil, err
	}

	// the game is on the ledger; resolving its id and storing the secret must
	// not depend on the caller waiting
	ctx = context.WithoutCancel(ctx)

	res = &CreateGameResult{
		TxHash:         receipt.TxHash,
		CommitmentHash: hash,
	}
	if generated {
		res.Secret = secret
	}

	res.GameID, err = sess.CreatedGameID(receipt)
	if err != nil {
		// TODO: drop the counter fallback once the ledger returns the id from createGame
		e.logger.Warn("Created game id not found in receipt, using game counter",
			zap.String("tx_hash", receipt.TxHash.Hex()),
			zap.Error(err))
		if err := sess.Read(ctx, "game_counter", func(ctx context.Context, l connection.Ledger) error {
			var err error
			res.GameID, err = l.GameCounter(ctx)
			return err
		}); err != nil {
			res.Secret = secret
			return res, fmt.Errorf("game created in %s but its id is unknown: %w", receipt.TxHash.Hex(), err)
		}
		res.IDFromCounter = true
	}

	if err := e.vault.Save(ctx, res.GameID, req.Move, secret, hash); err != nil {
		// the game exists; the caller still needs the secret to reveal by hand
		res.Secret = secret
		return res, fmt.Errorf("game %d created but its secret was not stored: %w", res.GameID, err)
	}

	e.afterWrite(ctx, sess, res.GameID)
	return res, nil
}

// JoinGame joins an open game. Every precondition is checked before anything
// is sent to the ledger.
func (e *Engine) JoinGame(ctx context.Context, req *JoinGameRequest) (res *TxResult, err error) {
	defer func() { observe("join", err) }()

	if !req.Move.Valid() {
		return nil, ErrInvalidMove
	}
	sess, err := e.session()
	if err != nil {
		return nil, err
	}

	rec, err := e.readGame(ctx, sess, req.ID)
	if err != nil {
		return nil, err
	}
	switch {
	case rec.Creator == sess.Account:
		return nil, ErrOwnGame
	case !game.Allowed(rec.Status, game.OpJoin):
		return nil, fmt.Errorf("game %d: %w", req.ID, game.ErrIllegalTransition)
	case rec.Opponent.IsSet():
		return nil, ErrAlreadyJoined
	}

	bet := req.Bet
	if bet == nil {
		bet = rec.BetAmount
	}
	if bet.Cmp(rec.BetAmount) != 0 {
		return nil, ErrBetMismatch
	}
	if err := e.ensureFunds(ctx, sess, bet); err != nil {
		return nil, err
	}

	receipt, err := sess.Transact(ctx, ethereum.JoinGameCall(req.ID, req.Move, bet))
	if err != nil {
		return nil, err
	}
	return e.result(ctx, sess, req.ID, receipt), nil
}

// RevealMove opens the creator's commitment. A missing move or secret is
// taken from the vault; the vault entry is removed once the reveal is mined.
func (e *Engine) RevealMove(ctx context.Context, req *RevealRequest) (res *TxResult, err error) {
	defer func() { observe("reveal", err) }()

	move, secret := req.Move, req.Secret
	if move == game.None || secret == "" {
		entry, ok, err := e.vault.Get(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrMissingCommitment
		}
		if move == game.None {
			move = entry.Move
		}
		if secret == "" {
			secret = entry.Secret
		}
	}
	if !move.Valid() {
		return nil, ErrInvalidMove
	}

	sess, err := e.session()
	if err != nil {
		return nil, err
	}
	rec, err := e.readGame(ctx, sess, req.ID)
	if err != nil {
		return nil, err
	}
	switch {
	case rec.Creator != sess.Account:
		return nil, ErrNotCreator
	case !game.Allowed(rec.Status, game.OpReveal):
		return nil, fmt.Errorf("game %d: %w", req.ID, game.ErrIllegalTransition)
	}

	receipt, err := sess.Transact(ctx, ethereum.RevealMoveCall(req.ID, move, secret))
	if err != nil {
		if errors.Is(err, connection.ErrTransactionFailed) && !commitment.Verify(rec.CommitmentHash, move, secret) {
			return nil, fmt.Errorf("%w: %w", ErrCommitmentMismatch, err)
		}
		return nil, err
	}

	if err := e.vault.Remove(ctx, req.ID); err != nil {
		e.logger.Warn("Failed to remove revealed secret", zap.Uint64("game_id", req.ID), zap.Error(err))
	}
	return e.result(ctx, sess, req.ID, receipt), nil
}

// AutoRevealMove reveals from the vault. It reports false without touching
// the ledger when no secret is stored for id.
func (e *Engine) AutoRevealMove(ctx context.Context, id uint64) (bool, error) {
	entry, ok, err := e.vault.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	_, err = e.RevealMove(ctx, &RevealRequest{ID: id, Move: entry.Move, Secret: entry.Secret})
	return true, err
}

// CancelGame cancels an open, unjoined game of the session account
func (e *Engine) CancelGame(ctx context.Context, id uint64) (res *TxResult, err error) {
	defer func() { observe("cancel", err) }()

	sess, err := e.session()
	if err != nil {
		return nil, err
	}
	rec, err := e.readGame(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	switch {
	case rec.Creator != sess.Account:
		return nil, ErrNotCreator
	case !game.Allowed(rec.Status, game.OpCancel):
		return nil, fmt.Errorf("game %d: %w", id, game.ErrIllegalTransition)
	case rec.Opponent.IsSet():
		return nil, ErrAlreadyJoined
	}

	receipt, err := sess.Transact(ctx, ethereum.CancelGameCall(id))
	if err != nil {
		return nil, err
	}
	if err := e.vault.Remove(ctx, id); err != nil {
		e.logger.Warn("Failed to remove canceled game secret", zap.Uint64("game_id", id), zap.Error(err))
	}
	return e.result(ctx, sess, id, receipt), nil
}

// ClaimTimeout settles a game whose creator missed the reveal deadline
func (e *Engine) ClaimTimeout(ctx context.Context, id uint64) (res *TxResult, err error) {
	defer func() { observe("claim_timeout", err) }()

	sess, err := e.session()
	if err != nil {
		return nil, err
	}
	rec, err := e.readGame(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	switch {
	case !game.Allowed(rec.Status, game.OpClaimTimeout):
		return nil, fmt.Errorf("game %d: %w", id, game.ErrIllegalTransition)
	case !rec.Opponent.Is(sess.Account):
		return nil, ErrNotOpponent
	case !rec.DeadlinePassed(e.now()):
		return nil, ErrDeadlineNotReached
	}

	receipt, err := sess.Transact(ctx, ethereum.ClaimTimeoutCall(id))
	if err != nil {
		return nil, err
	}
	return e.result(ctx, sess, id, receipt), nil
}

// ensureFunds checks the account can pay amount plus the gas margin
func (e *Engine) ensureFunds(ctx context.Context, sess *connection.Session, amount *big.Int) error {
	var balance *big.Int
	err := sess.Read(ctx, "balance", func(ctx context.Context, l connection.Ledger) error {
		var err error
		balance, err = l.BalanceAt(ctx, sess.Account)
		return err
	})
	if err != nil {
		return err
	}

	need := new(big.Int).Add(amount, e.gasMargin)
	if balance.Cmp(need) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance, need)
	}
	return nil
}

// readGame reads a record fresh from the ledger
func (e *Engine) readGame(ctx context.Context, sess *connection.Session, id uint64) (*game.Record, error) {
	var rec *game.Record
	err := sess.Read(ctx, "get_game", func(ctx context.Context, l connection.Ledger) error {
		var err error
		rec, err = l.GetGame(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !rec.Exists() {
		return nil, fmt.Errorf("game %d: %w", id, ErrGameNotFound)
	}
	return rec, nil
}

func (e *Engine) result(ctx context.Context, sess *connection.Session, id uint64, receipt *types.Receipt) *TxResult {
	return &TxResult{
		GameID: id,
		TxHash: receipt.TxHash,
		Record: e.afterWrite(ctx, sess, id),
	}
}

// afterWrite re-reads the touched record into the view and schedules a full
// refresh. A failed re-read is left to that refresh.
func (e *Engine) afterWrite(ctx context.Context, sess *connection.Session, id uint64) *game.Record {
	defer e.markDirty()

	rec, err := e.readGame(ctx, sess, id)
	if err != nil {
		e.logger.Debug("Failed to re-read game after write", zap.Uint64("game_id", id), zap.Error(err))
		return nil
	}
	e.upsert(rec)
	return rec
}

func (e *Engine) upsert(rec *game.Record) {
	if rec.Status.Terminal() {
		e.terminal.Add(rec.ID, rec)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, g := range e.view.Games {
		if g.ID == rec.ID {
			e.view.Games[i] = rec
			game.Sort(e.view.Games, e.defaultSort())
			return
		}
	}
	e.view.Games = append(e.view.Games, rec)
	game.Sort(e.view.Games, e.defaultSort())
}
