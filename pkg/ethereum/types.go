package ethereum

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsafe/elements-duel/pkg/ethereum/contracts"
	"github.com/chainsafe/elements-duel/pkg/game"
)

// Call describes one ledger write: the method, its arguments and the
// native amount attached to it.
type Call struct {
	Method string
	Args   []interface{}
	Value  *big.Int
}

// GameEvent is a lifecycle event observed on the ledger
type GameEvent struct {
	Kind        string
	GameID      uint64
	Player      common.Address
	BlockNumber uint64
	TxHash      common.Hash
}

func toGameEvent(ev *contracts.Event) GameEvent {
	return GameEvent{
		Kind:        ev.Name,
		GameID:      ev.GameID.Uint64(),
		Player:      ev.Player,
		BlockNumber: ev.Raw.BlockNumber,
		TxHash:      ev.Raw.TxHash,
	}
}

// toRecord converts the raw getGame tuple. A completed game with a zero
// winner is a tie.
func toRecord(id uint64, data *contracts.GameData) (*game.Record, error) {
	if data.Status > uint8(game.Canceled) {
		return nil, fmt.Errorf("game %d: unknown status code %d", id, data.Status)
	}
	status := game.Status(data.Status)

	rec := &game.Record{
		ID:             id,
		Creator:        data.Creator,
		Opponent:       game.SlotOf(data.Opponent),
		CommitmentHash: common.Hash(data.CommitmentHash),
		CreatorMove:    game.Move(data.CreatorMove),
		OpponentMove:   game.Move(data.OpponentMove),
		BetAmount:      bigOrZero(data.BetAmount),
		Status:         status,
		CreatedAt:      unixTime(data.CreatedAt),
		RevealDeadline: unixTime(data.RevealDeadline),
		Referrer:       game.SlotOf(data.Referrer),
	}

	switch {
	case data.Winner != (common.Address{}):
		rec.Result = game.Decided(data.Winner)
	case status == game.Completed:
		rec.Result = game.Result{Outcome: game.Tie}
	}
	return rec, nil
}

func toPlayerStats(player common.Address, data *contracts.StatsData) *game.PlayerStats {
	stats := &game.PlayerStats{
		Address:      player,
		Wins:         bigOrZero(data.Wins).Uint64(),
		Losses:       bigOrZero(data.Losses).Uint64(),
		Ties:         bigOrZero(data.Ties).Uint64(),
		GamesPlayed:  bigOrZero(data.GamesPlayed).Uint64(),
		TotalWagered: bigOrZero(data.TotalWagered),
		TotalWon:     bigOrZero(data.TotalWon),
		MonthlyScore: bigOrZero(data.MonthlyScore),
		LastPlayed:   unixTime(data.LastPlayed),
	}
	stats.Derive()
	return stats
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func unixTime(v *big.Int) time.Time {
	if v == nil || v.Sign() == 0 {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}
