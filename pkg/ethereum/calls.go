package ethereum

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsafe/elements-duel/pkg/ethereum/contracts"
	"github.com/chainsafe/elements-duel/pkg/game"
)

// CreateGameCall commits hash with bet attached. An unset referrer is sent
// as the zero address.
func CreateGameCall(hash common.Hash, referrer game.Slot, bet *big.Int) Call {
	return Call{
		Method: contracts.MethodCreateGame,
		Args:   []interface{}{[32]byte(hash), referrer.OrZero()},
		Value:  bet,
	}
}

func JoinGameCall(id uint64, move game.Move, bet *big.Int) Call {
	return Call{
		Method: contracts.MethodJoinGame,
		Args:   []interface{}{new(big.Int).SetUint64(id), uint8(move)},
		Value:  bet,
	}
}

func RevealMoveCall(id uint64, move game.Move, secret string) Call {
	return Call{
		Method: contracts.MethodRevealMove,
		Args:   []interface{}{new(big.Int).SetUint64(id), uint8(move), secret},
	}
}

func CancelGameCall(id uint64) Call {
	return Call{
		Method: contracts.MethodCancelGame,
		Args:   []interface{}{new(big.Int).SetUint64(id)},
	}
}

func ClaimTimeoutCall(id uint64) Call {
	return Call{
		Method: contracts.MethodClaimTimeout,
		Args:   []interface{}{new(big.Int).SetUint64(id)},
	}
}

// GameID returns the game id argument of a call built by this package
func (c Call) GameID() (uint64, error) {
	if len(c.Args) == 0 {
		return 0, fmt.Errorf("%s carries no game id", c.Method)
	}
	id, ok := c.Args[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("%s carries no game id", c.Method)
	}
	return id.Uint64(), nil
}

// Move returns the move argument of a join or reveal call
func (c Call) Move() (game.Move, error) {
	if len(c.Args) < 2 {
		return game.None, fmt.Errorf("%s carries no move", c.Method)
	}
	m, ok := c.Args[1].(uint8)
	if !ok {
		return game.None, fmt.Errorf("%s carries no move", c.Method)
	}
	return game.Move(m), nil
}
