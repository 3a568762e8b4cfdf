package connection

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/chainsafe/elements-duel/pkg/ethereum"
	"github.com/chainsafe/elements-duel/pkg/game"
	"github.com/chainsafe/elements-duel/pkg/wallet"
)

// Ledger is the ledger binding a session works through
type Ledger interface {
	Owner(ctx context.Context) (common.Address, error)
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	GameCounter(ctx context.Context) (uint64, error)
	GetGame(ctx context.Context, id uint64) (*game.Record, error)
	GetPlayerStats(ctx context.Context, player common.Address) (*game.PlayerStats, error)
	TopMonthlyPlayers(ctx context.Context) ([]game.LeaderboardEntry, error)
	RewardPoolBalance(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, from common.Address, call ethereum.Call) (uint64, error)
	Submit(ctx context.Context, opts *bind.TransactOpts, call ethereum.Call, gasLimit uint64) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	CreatedGameID(receipt *types.Receipt) (uint64, error)
	LatestBlock(ctx context.Context) (uint64, error)
	WatchEvents(ctx context.Context, fromBlock uint64, out chan<- ethereum.GameEvent) error
}

// LedgerFactory binds the ledger over the wallet's provider
type LedgerFactory func(provider *rpc.Client) (Ledger, error)

// Session is one connected, network-checked wallet session. It becomes
// unusable once the manager disconnects or replaces it; results of calls that
// outlive it are discarded.
type Session struct {
	ID      string
	Account common.Address
	ChainID int64

	ctx           context.Context
	cancel        context.CancelFunc
	ledger        Ledger
	wallet        wallet.Wallet
	retrier       *Retrier
	gasMultiplier float64
	eventLookback uint64
	logger        *zap.Logger
}

// Done is closed when the session ends
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Alive reports whether the session is still current
func (s *Session) Alive() bool {
	return s.ctx.Err() == nil
}

// bind derives a context canceled when either ctx or the session ends
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(s.ctx, func() { cancel(ErrSessionEnded) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

// Read runs fn under the read retry policy
func (s *Session) Read(ctx context.Context, method string, fn func(context.Context, Ledger) error) error {
	ctx, cancel := s.bind(ctx)
	defer cancel()

	err := s.retrier.Do(ctx, method, s.retrier.Read(), func(ctx context.Context) error {
		return fn(ctx, s.ledger)
	})
	if !s.Alive() {
		return ErrSessionEnded
	}
	return err
}

// Transact estimates, submits and waits for one ledger write. The estimate is
// retried; the submission is not. A mined but reverted transaction yields
// ErrTransactionFailed, and a submitted one without a receipt a *PendingError.
func (s *Session) Transact(ctx context.Context, call ethereum.Call) (*types.Receipt, error) {
	ctx, cancel := s.bind(ctx)
	defer cancel()

	opts, err := s.wallet.Transactor(ctx, s.Account, s.ChainID)
	if err != nil {
		return nil, Classify(err)
	}

	var gas uint64
	err = s.retrier.Do(ctx, "estimate_"+call.Method, s.retrier.Estimate(), func(ctx context.Context) error {
		var err error
		gas, err = s.ledger.EstimateGas(ctx, s.Account, call)
		return err
	})
	if err != nil {
		if !s.Alive() {
			return nil, ErrSessionEnded
		}
		return nil, rejection(err)
	}
	gasLimit := ethereum.ApplyMultiplier(gas, s.gasMultiplier)

	var tx *types.Transaction
	err = s.retrier.Do(ctx, call.Method, PolicySubmit, func(ctx context.Context) error {
		var err error
		tx, err = s.ledger.Submit(ctx, opts, call, gasLimit)
		return err
	})
	if err != nil {
		if !s.Alive() {
			return nil, ErrSessionEnded
		}
		return nil, rejection(err)
	}

	// once submitted, only the session end or the receipt timeout stops the wait
	waitCtx, stop := s.bind(context.WithoutCancel(ctx))
	defer stop()

	receipt, err := s.ledger.WaitMined(waitCtx, tx)
	if !s.Alive() {
		s.logger.Warn("Session ended while waiting for transaction",
			zap.String("method", call.Method),
			zap.String("tx_hash", tx.Hash().Hex()))
		return nil, &PendingError{TxHash: tx.Hash(), Err: ErrSessionEnded}
	}
	if err != nil {
		return nil, &PendingError{TxHash: tx.Hash(), Err: Classify(err)}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s reverted in %s", ErrTransactionFailed, call.Method, tx.Hash().Hex())
	}
	return receipt, nil
}

// rejection marks ledger refusals, which surface as non-transient unknown
// errors, as failed transactions
func rejection(err error) error {
	var e *Error
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.As(err, &e) && e.Class == ClassUnknown && !e.Transient {
		return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}
	return err
}

// CreatedGameID decodes the game id assigned by a createGame receipt
func (s *Session) CreatedGameID(receipt *types.Receipt) (uint64, error) {
	return s.ledger.CreatedGameID(receipt)
}

// WatchEvents streams ledger lifecycle events until ctx or the session ends.
// It starts eventLookback blocks behind the head so events mined while no
// session was watching still arrive.
func (s *Session) WatchEvents(ctx context.Context, out chan<- ethereum.GameEvent) error {
	ctx, cancel := s.bind(ctx)
	defer cancel()

	var head uint64
	err := s.retrier.Do(ctx, "latest_block", s.retrier.Read(), func(ctx context.Context) error {
		var err error
		head, err = s.ledger.LatestBlock(ctx)
		return err
	})
	if err != nil {
		return err
	}
	from := uint64(0)
	if head > s.eventLookback {
		from = head - s.eventLookback
	}
	return s.ledger.WatchEvents(ctx, from, out)
}
