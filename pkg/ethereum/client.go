package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/chainsafe/elements-duel/pkg/config"
	"github.com/chainsafe/elements-duel/pkg/ethereum/contracts"
	"github.com/chainsafe/elements-duel/pkg/game"
)

// ErrNoCreatedEvent is returned when a receipt carries no GameCreated log
var ErrNoCreatedEvent = errors.New("receipt carries no game created event")

// Client talks to the ElementsDuel ledger over the wallet's provider
type Client struct {
	config *config.LedgerConfig
	client *ethclient.Client
	duel   *contracts.ElementsDuel
	logger *zap.Logger
}

// NewClient binds the ledger program through an already established provider
// connection. The provider stays owned by the caller.
func NewClient(provider *rpc.Client, cfg *config.LedgerConfig, logger *zap.Logger) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("no provider")
	}
	client := ethclient.NewClient(provider)

	duel, err := contracts.NewElementsDuel(common.HexToAddress(cfg.ContractAddress), client)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger contract: %w", err)
	}

	return &Client{
		config: cfg,
		client: client,
		duel:   duel,
		logger: logger,
	}, nil
}

func callOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{Context: ctx}
}

// Owner returns the administrator address of the ledger
func (c *Client) Owner(ctx context.Context) (common.Address, error) {
	return c.duel.Owner(callOpts(ctx))
}

// BalanceAt returns the latest native balance of addr
func (c *Client) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.client.BalanceAt(ctx, addr, nil)
}

// GameCounter returns the highest assigned game id
func (c *Client) GameCounter(ctx context.Context) (uint64, error) {
	n, err := c.duel.GameCounter(callOpts(ctx))
	if err != nil {
		return 0, err
	}
	return n.Uint64(), nil
}

// GetGame reads one record. Ids never created come back with a zero creator.
func (c *Client) GetGame(ctx context.Context, id uint64) (*game.Record, error) {
	data, err := c.duel.GetGame(callOpts(ctx), new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	return toRecord(id, data)
}

// GetPlayerStats reads the aggregate of player and derives its win rate and profit
func (c *Client) GetPlayerStats(ctx context.Context, player common.Address) (*game.PlayerStats, error) {
	data, err := c.duel.GetPlayerStats(callOpts(ctx), player)
	if err != nil {
		return nil, err
	}
	return toPlayerStats(player, data), nil
}

// TopMonthlyPlayers returns the monthly ranking in ledger order
func (c *Client) TopMonthlyPlayers(ctx context.Context) ([]game.LeaderboardEntry, error) {
	players, scores, err := c.duel.GetTopMonthlyPlayers(callOpts(ctx))
	if err != nil {
		return nil, err
	}
	if len(players) != len(scores) {
		return nil, fmt.Errorf("leaderboard: %d players but %d scores", len(players), len(scores))
	}
	out := make([]game.LeaderboardEntry, 0, len(players))
	for i, p := range players {
		if p == (common.Address{}) {
			continue
		}
		out = append(out, game.LeaderboardEntry{Player: p, Score: scores[i]})
	}
	return out, nil
}

// RewardPoolBalance returns the reward pool balance
func (c *Client) RewardPoolBalance(ctx context.Context) (*big.Int, error) {
	return c.duel.GetRewardPoolBalance(callOpts(ctx))
}

// EstimateGas estimates the gas a write would consume when sent from from.
// A call the ledger would reject fails here, before anything is signed.
func (c *Client) EstimateGas(ctx context.Context, from common.Address, call Call) (uint64, error) {
	data, err := c.duel.Pack(call.Method, call.Args...)
	if err != nil {
		return 0, fmt.Errorf("failed to pack %s: %w", call.Method, err)
	}
	to := c.duel.Address()
	return c.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: call.Value,
		Data:  data,
	})
}

// Submit signs and sends a write with an explicit gas limit
func (c *Client) Submit(ctx context.Context, opts *bind.TransactOpts, call Call, gasLimit uint64) (*types.Transaction, error) {
	txOpts := *opts
	txOpts.Context = ctx
	txOpts.GasLimit = gasLimit
	txOpts.Value = call.Value

	tx, err := c.duel.Transact(&txOpts, call.Method, call.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to submit %s: %w", call.Method, err)
	}

	c.logger.Info("Ledger transaction submitted",
		zap.String("method", call.Method),
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.Uint64("gas_limit", gasLimit))
	return tx, nil
}

// WaitMined blocks until tx is included or the receipt timeout elapses
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ReceiptTimeout)
	defer cancel()
	return bind.WaitMined(ctx, c.client, tx)
}

// CreatedGameID decodes the id assigned by the ledger from the GameCreated
// log of a createGame receipt.
func (c *Client) CreatedGameID(receipt *types.Receipt) (uint64, error) {
	for _, l := range receipt.Logs {
		if l == nil || l.Address != c.duel.Address() {
			continue
		}
		ev, err := c.duel.ParseLog(*l)
		if err != nil {
			continue
		}
		if ev.Name == contracts.EventGameCreated {
			return ev.GameID.Uint64(), nil
		}
	}
	return 0, ErrNoCreatedEvent
}

// LatestBlock returns the current head block number
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	return header.Number.Uint64(), nil
}

// WatchEvents polls for lifecycle events from fromBlock onwards and sends them
// on out until ctx is done. Polling keeps it usable over plain HTTP providers.
func (c *Client) WatchEvents(ctx context.Context, fromBlock uint64, out chan<- GameEvent) error {
	c.logger.Info("Starting ledger event poller", zap.Uint64("from_block", fromBlock))

	currentBlock := fromBlock
	ticker := time.NewTicker(c.config.EventPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			latestBlock, err := c.LatestBlock(ctx)
			if err != nil {
				c.logger.Warn("Failed to get latest block", zap.Error(err))
				continue
			}
			if latestBlock <= currentBlock {
				continue
			}

			logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(currentBlock + 1),
				ToBlock:   new(big.Int).SetUint64(latestBlock),
				Addresses: []common.Address{c.duel.Address()},
				Topics:    [][]common.Hash{c.duel.EventTopics()},
			})
			if err != nil {
				c.logger.Warn("Failed to filter ledger events", zap.Error(err))
				continue
			}

			for _, l := range logs {
				ev, err := c.duel.ParseLog(l)
				if err != nil {
					c.logger.Warn("Failed to decode ledger event",
						zap.Error(err),
						zap.String("tx_hash", l.TxHash.Hex()))
					continue
				}
				select {
				case out <- toGameEvent(ev):
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			currentBlock = latestBlock
		}
	}
}
