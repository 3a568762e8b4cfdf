// Package contracts binds the ElementsDuel ledger program.
package contracts

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ElementsDuelABI is the input ABI used to bind the ledger program.
const ElementsDuelABI = `[
{"type":"function","name":"createGame","stateMutability":"payable","inputs":[{"name":"commitmentHash","type":"bytes32"},{"name":"referrer","type":"address"}],"outputs":[{"name":"gameId","type":"uint256"}]},
{"type":"function","name":"joinGame","stateMutability":"payable","inputs":[{"name":"gameId","type":"uint256"},{"name":"move","type":"uint8"}],"outputs":[]},
{"type":"function","name":"revealMove","stateMutability":"nonpayable","inputs":[{"name":"gameId","type":"uint256"},{"name":"move","type":"uint8"},{"name":"secret","type":"string"}],"outputs":[]},
{"type":"function","name":"cancelGame","stateMutability":"nonpayable","inputs":[{"name":"gameId","type":"uint256"}],"outputs":[]},
{"type":"function","name":"claimTimeout","stateMutability":"nonpayable","inputs":[{"name":"gameId","type":"uint256"}],"outputs":[]},
{"type":"function","name":"getGame","stateMutability":"view","inputs":[{"name":"gameId","type":"uint256"}],"outputs":[
	{"name":"id","type":"uint256"},
	{"name":"creator","type":"address"},
	{"name":"opponent","type":"address"},
	{"name":"commitmentHash","type":"bytes32"},
	{"name":"creatorMove","type":"uint8"},
	{"name":"opponentMove","type":"uint8"},
	{"name":"betAmount","type":"uint256"},
	{"name":"status","type":"uint8"},
	{"name":"winner","type":"address"},
	{"name":"createdAt","type":"uint256"},
	{"name":"revealDeadline","type":"uint256"},
	{"name":"referrer","type":"address"}]},
{"type":"function","name":"getPlayerStats","stateMutability":"view","inputs":[{"name":"player","type":"address"}],"outputs":[
	{"name":"wins","type":"uint256"},
	{"name":"losses","type":"uint256"},
	{"name":"ties","type":"uint256"},
	{"name":"gamesPlayed","type":"uint256"},
	{"name":"totalWagered","type":"uint256"},
	{"name":"totalWon","type":"uint256"},
	{"name":"monthlyScore","type":"uint256"},
	{"name":"lastPlayed","type":"uint256"}]},
{"type":"function","name":"gameCounter","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getTopMonthlyPlayers","stateMutability":"view","inputs":[],"outputs":[{"name":"players","type":"address[]"},{"name":"scores","type":"uint256[]"}]},
{"type":"function","name":"getRewardPoolBalance","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"event","name":"GameCreated","anonymous":false,"inputs":[{"name":"gameId","type":"uint256","indexed":true},{"name":"creator","type":"address","indexed":true},{"name":"betAmount","type":"uint256","indexed":false},{"name":"commitmentHash","type":"bytes32","indexed":false},{"name":"referrer","type":"address","indexed":false}]},
{"type":"event","name":"GameJoined","anonymous":false,"inputs":[{"name":"gameId","type":"uint256","indexed":true},{"name":"opponent","type":"address","indexed":true},{"name":"move","type":"uint8","indexed":false},{"name":"revealDeadline","type":"uint256","indexed":false}]},
{"type":"event","name":"GameCompleted","anonymous":false,"inputs":[{"name":"gameId","type":"uint256","indexed":true},{"name":"winner","type":"address","indexed":true},{"name":"creatorMove","type":"uint8","indexed":false},{"name":"opponentMove","type":"uint8","indexed":false}]},
{"type":"event","name":"GameCanceled","anonymous":false,"inputs":[{"name":"gameId","type":"uint256","indexed":true},{"name":"creator","type":"address","indexed":true}]}
]`

// Method names of the ledger program
const (
	MethodCreateGame           = "createGame"
	MethodJoinGame             = "joinGame"
	MethodRevealMove           = "revealMove"
	MethodCancelGame           = "cancelGame"
	MethodClaimTimeout         = "claimTimeout"
	MethodGetGame              = "getGame"
	MethodGetPlayerStats       = "getPlayerStats"
	MethodGameCounter          = "gameCounter"
	MethodGetTopMonthlyPlayers = "getTopMonthlyPlayers"
	MethodGetRewardPoolBalance = "getRewardPoolBalance"
	MethodOwner                = "owner"
)

// Lifecycle event names
const (
	EventGameCreated   = "GameCreated"
	EventGameJoined    = "GameJoined"
	EventGameCompleted = "GameCompleted"
	EventGameCanceled  = "GameCanceled"
)

// ErrUnknownEvent is returned by ParseLog for logs that are not lifecycle events
var ErrUnknownEvent = errors.New("unknown ledger event")

// ElementsDuel is a binding around a deployed ElementsDuel ledger program.
type ElementsDuel struct {
	abi      abi.ABI
	address  common.Address
	contract *bind.BoundContract
}

// ParsedABI returns the parsed ElementsDuel ABI
func ParsedABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(ElementsDuelABI))
}

// NewElementsDuel binds a deployed ledger program at addr.
func NewElementsDuel(addr common.Address, backend bind.ContractBackend) (*ElementsDuel, error) {
	parsed, err := ParsedABI()
	if err != nil {
		return nil, err
	}
	return &ElementsDuel{
		abi:      parsed,
		address:  addr,
		contract: bind.NewBoundContract(addr, parsed, backend, backend, backend),
	}, nil
}

// Address returns the bound program address
func (d *ElementsDuel) Address() common.Address {
	return d.address
}

// ABI returns the parsed ABI
func (d *ElementsDuel) ABI() abi.ABI {
	return d.abi
}

// Pack encodes call data for method
func (d *ElementsDuel) Pack(method string, args ...interface{}) ([]byte, error) {
	return d.abi.Pack(method, args...)
}

// Transact invokes a write method with the given options
func (d *ElementsDuel) Transact(opts *bind.TransactOpts, method string, args ...interface{}) (*types.Transaction, error) {
	return d.contract.Transact(opts, method, args...)
}

// GameData is the raw tuple returned by getGame
type GameData struct {
	ID             *big.Int
	Creator        common.Address
	Opponent       common.Address
	CommitmentHash [32]byte
	CreatorMove    uint8
	OpponentMove   uint8
	BetAmount      *big.Int
	Status         uint8
	Winner         common.Address
	CreatedAt      *big.Int
	RevealDeadline *big.Int
	Referrer       common.Address
}

// GetGame reads one game record.
func (d *ElementsDuel) GetGame(opts *bind.CallOpts, gameID *big.Int) (*GameData, error) {
	var out []interface{}
	if err := d.contract.Call(opts, &out, MethodGetGame, gameID); err != nil {
		return nil, err
	}
	if len(out) != 12 {
		return nil, fmt.Errorf("getGame: unexpected output length %d", len(out))
	}
	return &GameData{
		ID:             out[0].(*big.Int),
		Creator:        out[1].(common.Address),
		Opponent:       out[2].(common.Address),
		CommitmentHash: out[3].([32]byte),
		CreatorMove:    out[4].(uint8),
		OpponentMove:   out[5].(uint8),
		BetAmount:      out[6].(*big.Int),
		Status:         out[7].(uint8),
		Winner:         out[8].(common.Address),
		CreatedAt:      out[9].(*big.Int),
		RevealDeadline: out[10].(*big.Int),
		Referrer:       out[11].(common.Address),
	}, nil
}

// StatsData is the raw tuple returned by getPlayerStats
type StatsData struct {
	Wins         *big.Int
	Losses       *big.Int
	Ties         *big.Int
	GamesPlayed  *big.Int
	TotalWagered *big.Int
	TotalWon     *big.Int
	MonthlyScore *big.Int
	LastPlayed   *big.Int
}

// GetPlayerStats reads the aggregate counters of player.
func (d *ElementsDuel) GetPlayerStats(opts *bind.CallOpts, player common.Address) (*StatsData, error) {
	var out []interface{}
	if err := d.contract.Call(opts, &out, MethodGetPlayerStats, player); err != nil {
		return nil, err
	}
	if len(out) != 8 {
		return nil, fmt.Errorf("getPlayerStats: unexpected output length %d", len(out))
	}
	return &StatsData{
		Wins:         out[0].(*big.Int),
		Losses:       out[1].(*big.Int),
		Ties:         out[2].(*big.Int),
		GamesPlayed:  out[3].(*big.Int),
		TotalWagered: out[4].(*big.Int),
		TotalWon:     out[5].(*big.Int),
		MonthlyScore: out[6].(*big.Int),
		LastPlayed:   out[7].(*big.Int),
	}, nil
}

// GameCounter returns the id of the most recently created game.
func (d *ElementsDuel) GameCounter(opts *bind.CallOpts) (*big.Int, error) {
	var out []interface{}
	if err := d.contract.Call(opts, &out, MethodGameCounter); err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// GetTopMonthlyPlayers returns the monthly ranking as parallel slices.
func (d *ElementsDuel) GetTopMonthlyPlayers(opts *bind.CallOpts) ([]common.Address, []*big.Int, error) {
	var out []interface{}
	if err := d.contract.Call(opts, &out, MethodGetTopMonthlyPlayers); err != nil {
		return nil, nil, err
	}
	return out[0].([]common.Address), out[1].([]*big.Int), nil
}

// GetRewardPoolBalance returns the reward pool balance in wei.
func (d *ElementsDuel) GetRewardPoolBalance(opts *bind.CallOpts) (*big.Int, error) {
	var out []interface{}
	if err := d.contract.Call(opts, &out, MethodGetRewardPoolBalance); err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// Owner returns the administrator address.
func (d *ElementsDuel) Owner(opts *bind.CallOpts) (common.Address, error) {
	var out []interface{}
	if err := d.contract.Call(opts, &out, MethodOwner); err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// Event is a decoded lifecycle log. Fields not carried by the event are zero.
type Event struct {
	Name           string
	GameID         *big.Int
	Player         common.Address
	BetAmount      *big.Int
	CommitmentHash [32]byte
	Referrer       common.Address
	Move           uint8
	OpponentMove   uint8
	RevealDeadline *big.Int
	Raw            types.Log
}

// EventTopics returns the topic ids of the four lifecycle events, for use as
// the first topic position of a log filter.
func (d *ElementsDuel) EventTopics() []common.Hash {
	names := []string{EventGameCreated, EventGameJoined, EventGameCompleted, EventGameCanceled}
	topics := make([]common.Hash, 0, len(names))
	for _, name := range names {
		topics = append(topics, d.abi.Events[name].ID)
	}
	return topics
}

// ParseLog decodes a lifecycle log emitted by the bound program.
func (d *ElementsDuel) ParseLog(log types.Log) (*Event, error) {
	if len(log.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	ev, err := d.abi.EventByID(log.Topics[0])
	if err != nil {
		return nil, ErrUnknownEvent
	}

	fields := make(map[string]interface{})
	if err := d.contract.UnpackLogIntoMap(fields, ev.Name, log); err != nil {
		return nil, fmt.Errorf("unpack %s: %w", ev.Name, err)
	}

	out := &Event{Name: ev.Name, Raw: log}
	out.GameID, _ = fields["gameId"].(*big.Int)
	if out.GameID == nil {
		return nil, fmt.Errorf("unpack %s: missing game id", ev.Name)
	}

	switch ev.Name {
	case EventGameCreated:
		out.Player, _ = fields["creator"].(common.Address)
		out.BetAmount, _ = fields["betAmount"].(*big.Int)
		out.CommitmentHash, _ = fields["commitmentHash"].([32]byte)
		out.Referrer, _ = fields["referrer"].(common.Address)
	case EventGameJoined:
		out.Player, _ = fields["opponent"].(common.Address)
		out.Move, _ = fields["move"].(uint8)
		out.RevealDeadline, _ = fields["revealDeadline"].(*big.Int)
	case EventGameCompleted:
		out.Player, _ = fields["winner"].(common.Address)
		out.Move, _ = fields["creatorMove"].(uint8)
		out.OpponentMove, _ = fields["opponentMove"].(uint8)
	case EventGameCanceled:
		out.Player, _ = fields["creator"].(common.Address)
	default:
		return nil, ErrUnknownEvent
	}
	return out, nil
}
