package engine

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsafe/elements-duel/pkg/game"
)

var (
	ErrGameNotFound        = errors.New("game not found")
	ErrInvalidBet          = errors.New("bet must be positive")
	ErrInvalidMove         = errors.New("move must be fire, water or plant")
	ErrOwnGame             = errors.New("cannot join own game")
	ErrBetMismatch         = errors.New("bet does not match the game's bet")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMissingCommitment   = errors.New("missing commitment data")
	ErrCommitmentMismatch  = errors.New("move and secret do not match the commitment")
	ErrNotCreator          = errors.New("only the creator may do this")
	ErrNotOpponent         = errors.New("only the joined opponent may claim a timeout")
	ErrDeadlineNotReached  = errors.New("reveal deadline has not passed")
	ErrAlreadyJoined       = errors.New("game already has an opponent")
)

// CreateGameRequest commits Move with a secret. An empty Secret is replaced
// by a generated one, returned in the result.
type CreateGameRequest struct {
	Bet      *big.Int
	Move     game.Move
	Secret   string
	Referrer game.Slot
}

// CreateGameResult reports the created game. IDFromCounter is set when the
// id was not found in the receipt and was taken from the game counter
// instead, which can be wrong if other games were created concurrently.
type CreateGameResult struct {
	GameID         uint64      `json:"gameId"`
	TxHash         common.Hash `json:"txHash"`
	CommitmentHash common.Hash `json:"commitmentHash"`
	Secret         string      `json:"secret,omitempty"`
	IDFromCounter  bool        `json:"idFromCounter,omitempty"`
}

// JoinGameRequest joins game ID. A nil Bet uses the game's bet.
type JoinGameRequest struct {
	ID   uint64
	Move game.Move
	Bet  *big.Int
}

// RevealRequest reveals game ID. Move None or an empty Secret are filled
// from the vault.
type RevealRequest struct {
	ID     uint64
	Move   game.Move
	Secret string
}

// TxResult reports a mined write
type TxResult struct {
	GameID uint64       `json:"gameId"`
	TxHash common.Hash  `json:"txHash"`
	Record *game.Record `json:"game,omitempty"`
}
