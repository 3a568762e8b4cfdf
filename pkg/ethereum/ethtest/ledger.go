// Package ethtest provides an in-memory ElementsDuel ledger for tests. It
// enforces the protocol rules the way the deployed program does: rejected
// writes fail gas estimation, and writes sent anyway are mined as reverted.
package ethtest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainsafe/elements-duel/pkg/commitment"
	"github.com/chainsafe/elements-duel/pkg/ethereum"
	"github.com/chainsafe/elements-duel/pkg/ethereum/contracts"
	"github.com/chainsafe/elements-duel/pkg/game"
)

// Address is where the fake program pretends to live
var Address = common.HexToAddress("0x00000000000000000000000000000000000d0e11")

const (
	// DefaultRevealWindow is the time a creator has to reveal after a join
	DefaultRevealWindow = 24 * time.Hour
	estimatedGas        = 90_000
	winPoints           = 3
	tiePoints           = 1
)

// Ledger is an in-memory ledger program. Errors queued with Inject are
// returned by the named method, one per call, before it behaves normally.
type Ledger struct {
	mu           sync.Mutex
	owner        common.Address
	now          time.Time
	revealWindow time.Duration

	counter  uint64
	games    map[uint64]*game.Record
	stats    map[common.Address]*game.PlayerStats
	balances map[common.Address]*big.Int
	pool     *big.Int

	block    uint64
	nonce    uint64
	receipts map[common.Hash]*types.Receipt
	created  map[common.Hash]uint64
	events   []ethereum.GameEvent
	notify   chan struct{}

	injected map[string][]error
	calls    map[string]int

	// DropCreatedEvent makes CreatedGameID fail as if the receipt carried no log
	DropCreatedEvent bool
}

// NewLedger creates an empty ledger administered by owner
func NewLedger(owner common.Address) *Ledger {
	return &Ledger{
		owner:        owner,
		now:          time.Unix(1_700_000_000, 0).UTC(),
		revealWindow: DefaultRevealWindow,
		games:        make(map[uint64]*game.Record),
		stats:        make(map[common.Address]*game.PlayerStats),
		balances:     make(map[common.Address]*big.Int),
		pool:         new(big.Int),
		receipts:     make(map[common.Hash]*types.Receipt),
		created:      make(map[common.Hash]uint64),
		notify:       make(chan struct{}),
		injected:     make(map[string][]error),
		calls:        make(map[string]int),
	}
}

// Fund sets the native balance of addr
func (l *Ledger) Fund(addr common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[addr] = new(big.Int).Set(amount)
}

// Now returns the ledger clock
func (l *Ledger) Now() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now
}

// Advance moves the ledger clock forward
func (l *Ledger) Advance(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = l.now.Add(d)
}

// Inject queues errors for method
func (l *Ledger) Inject(method string, errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.injected[method] = append(l.injected[method], errs...)
}

// Calls returns how often method was invoked
func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

// TotalCalls returns the number of calls across every method
func (l *Ledger) TotalCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, n := range l.calls {
		total += n
	}
	return total
}

// Game returns a copy of the stored record
func (l *Ledger) Game(id uint64) *game.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.record(id)
}

// CreateDirect creates a game from creator without a wallet round trip
func (l *Ledger) CreateDirect(creator common.Address, hash common.Hash, bet *big.Int) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.block++
	return l.create(creator, hash, common.Address{}, bet)
}

func (l *Ledger) begin(method string) error {
	l.calls[method]++
	if q := l.injected[method]; len(q) > 0 {
		l.injected[method] = q[1:]
		return q[0]
	}
	return nil
}

func (l *Ledger) record(id uint64) *game.Record {
	g, ok := l.games[id]
	if !ok {
		return &game.Record{ID: id, BetAmount: new(big.Int)}
	}
	cp := *g
	cp.BetAmount = new(big.Int).Set(g.BetAmount)
	return &cp
}

func (l *Ledger) balance(addr common.Address) *big.Int {
	b, ok := l.balances[addr]
	if !ok {
		b = new(big.Int)
		l.balances[addr] = b
	}
	return b
}

func (l *Ledger) Owner(_ context.Context) (common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin("owner"); err != nil {
		return common.Address{}, err
	}
	return l.owner, nil
}

func (l *Ledger) BalanceAt(_ context.Context, addr common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin("balance"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(l.balance(addr)), nil
}

func (l *Ledger) GameCounter(_ context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin("game_counter"); err != nil {
		return 0, err
	}
	return l.counter, nil
}

func (l *Ledger) GetGame(_ context.Context, id uint64) (*game.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin("get_game"); err != nil {
		return nil, err
	}
	return l.record(id), nil
}

func (l *Ledger) GetPlayerStats(_ context.Context, player common.Address) (*game.PlayerStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin("player_stats"); err != nil {
		return nil, err
	}
	s, ok := l.stats[player]
	if !ok {
		s = newStats(player)
	}
	cp := *s
	cp.TotalWagered = new(big.Int).Set(s.TotalWagered)
	cp.TotalWon = new(big.Int).Set(s.TotalWon)
	cp.MonthlyScore = new(big.Int).Set(s.MonthlyScore)
	cp.Derive()
	return &cp, nil
}

func (l *Ledger) TopMonthlyPlayers(_ context.Context) ([]game.LeaderboardEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin("top_players"); err != nil {
		return nil, err
	}
	out := make([]game.LeaderboardEntry, 0, len(l.stats))
	for addr, s := range l.stats {
		if s.MonthlyScore.Sign() == 0 {
			continue
		}
		out = append(out, game.LeaderboardEntry{Player: addr, Score: new(big.Int).Set(s.MonthlyScore)})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Score.Cmp(out[j].Score); c != 0 {
			return c > 0
		}
		return out[i].Player.Cmp(out[j].Player) < 0
	})
	return out, nil
}

func (l *Ledger) RewardPoolBalance(_ context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin("reward_pool"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(l.pool), nil
}

func (l *Ledger) EstimateGas(_ context.Context, from common.Address, call ethereum.Call) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin("estimate_gas"); err != nil {
		return 0, err
	}
	if err := l.check(from, call); err != nil {
		return 0, err
	}
	return estimatedGas, nil
}

func (l *Ledger) Submit(_ context.Context, opts *bind.TransactOpts, call ethereum.Call, gasLimit uint64) (*types.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin("submit"); err != nil {
		return nil, err
	}

	l.nonce++
	to := Address
	tx := types.NewTx(&types.LegacyTx{
		Nonce: l.nonce,
		To:    &to,
		Value: call.Value,
		Gas:   gasLimit,
		Data:  []byte(call.Method),
	})

	l.block++
	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(l.block),
		GasUsed:     estimatedGas,
	}
	if err := l.check(opts.From, call); err != nil {
		receipt.Status = types.ReceiptStatusFailed
	} else {
		id := l.apply(opts.From, call)
		if call.Method == contracts.MethodCreateGame {
			l.created[tx.Hash()] = id
		}
	}
	l.receipts[tx.Hash()] = receipt
	return tx, nil
}

func (l *Ledger) WaitMined(_ context.Context, tx *types.Transaction) (*types.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin("wait_mined"); err != nil {
		return nil, err
	}
	r, ok := l.receipts[tx.Hash()]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found", tx.Hash().Hex())
	}
	return r, nil
}

func (l *Ledger) CreatedGameID(receipt *types.Receipt) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.created[receipt.TxHash]
	if !ok || l.DropCreatedEvent {
		return 0, ethereum.ErrNoCreatedEvent
	}
	return id, nil
}

func (l *Ledger) LatestBlock(_ context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin("latest_block"); err != nil {
		return 0, err
	}
	return l.block, nil
}

// WatchEvents sends every event mined after fromBlock, then waits for more
func (l *Ledger) WatchEvents(ctx context.Context, fromBlock uint64, out chan<- ethereum.GameEvent) error {
	next := fromBlock
	for {
		l.mu.Lock()
		var pending []ethereum.GameEvent
		for _, ev := range l.events {
			if ev.BlockNumber > next {
				pending = append(pending, ev)
			}
		}
		wait := l.notify
		l.mu.Unlock()

		for _, ev := range pending {
			select {
			case out <- ev:
				next = ev.BlockNumber
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func revert(reason string) error {
	return fmt.Errorf("execution reverted: %s", reason)
}

var errNoGameID = errors.New("execution reverted: missing game id")

// check applies the program's require statements
func (l *Ledger) check(from common.Address, call ethereum.Call) error {
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	if value.Cmp(l.balance(from)) > 0 {
		return errors.New("insufficient funds for gas * price + value")
	}

	if call.Method == contracts.MethodCreateGame {
		if value.Sign() <= 0 {
			return revert("bet must be positive")
		}
		if len(call.Args) == 0 {
			return revert("missing commitment")
		}
		if hash, ok := call.Args[0].([32]byte); !ok || hash == [32]byte{} {
			return revert("missing commitment")
		}
		return nil
	}

	id, err := call.GameID()
	if err != nil {
		return errNoGameID
	}
	g, ok := l.games[id]
	if !ok {
		return revert("game does not exist")
	}

	switch call.Method {
	case contracts.MethodJoinGame:
		move, err := call.Move()
		switch {
		case g.Status != game.Open:
			return revert("game not open")
		case g.Creator == from:
			return revert("cannot join own game")
		case err != nil || !move.Valid():
			return revert("invalid move")
		case value.Cmp(g.BetAmount) != 0:
			return revert("bet mismatch")
		}
	case contracts.MethodRevealMove:
		move, err := call.Move()
		if err != nil || len(call.Args) < 3 {
			return revert("invalid move")
		}
		secret, _ := call.Args[2].(string)
		switch {
		case g.Status != game.RevealPhase:
			return revert("game not in reveal phase")
		case g.Creator != from:
			return revert("only creator can reveal")
		case !commitment.Verify(g.CommitmentHash, move, secret):
			return revert("invalid commitment")
		}
	case contracts.MethodCancelGame:
		switch {
		case g.Status != game.Open:
			return revert("game not open")
		case g.Creator != from:
			return revert("only creator can cancel")
		}
	case contracts.MethodClaimTimeout:
		switch {
		case g.Status != game.RevealPhase:
			return revert("game not in reveal phase")
		case !g.Opponent.Is(from):
			return revert("only opponent can claim")
		case !g.DeadlinePassed(l.now):
			return revert("reveal deadline not reached")
		}
	default:
		return revert("unknown method " + call.Method)
	}
	return nil
}

// apply performs a checked write and returns the game id it touched
func (l *Ledger) apply(from common.Address, call ethereum.Call) uint64 {
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	l.balance(from).Sub(l.balance(from), value)

	if call.Method == contracts.MethodCreateGame {
		hash := call.Args[0].([32]byte)
		var referrer common.Address
		if len(call.Args) > 1 {
			referrer, _ = call.Args[1].(common.Address)
		}
		return l.create(from, hash, referrer, value)
	}

	id, _ := call.GameID()
	g := l.games[id]
	switch call.Method {
	case contracts.MethodJoinGame:
		move, _ := call.Move()
		g.Opponent = game.At(from)
		g.OpponentMove = move
		g.Status = game.RevealPhase
		g.RevealDeadline = l.now.Add(l.revealWindow)
		l.emit(contracts.EventGameJoined, id, from)
	case contracts.MethodRevealMove:
		move, _ := call.Move()
		g.CreatorMove = move
		g.Status = game.Completed
		g.Result = game.Settle(game.At(g.Creator), g.Opponent, g.CreatorMove, g.OpponentMove)
		l.settle(g)
		l.emit(contracts.EventGameCompleted, id, g.Result.Winner)
	case contracts.MethodCancelGame:
		g.Status = game.Canceled
		l.balance(g.Creator).Add(l.balance(g.Creator), g.BetAmount)
		l.emit(contracts.EventGameCanceled, id, g.Creator)
	case contracts.MethodClaimTimeout:
		g.Status = game.Completed
		g.Result = game.Decided(from)
		l.settle(g)
		l.emit(contracts.EventGameCompleted, id, from)
	}
	return id
}

func (l *Ledger) create(creator common.Address, hash common.Hash, referrer common.Address, bet *big.Int) uint64 {
	l.counter++
	id := l.counter
	l.games[id] = &game.Record{
		ID:             id,
		Creator:        creator,
		Opponent:       game.Unset(),
		CommitmentHash: hash,
		BetAmount:      new(big.Int).Set(bet),
		Status:         game.Open,
		CreatedAt:      l.now,
		Referrer:       game.SlotOf(referrer),
	}
	l.emit(contracts.EventGameCreated, id, creator)
	return id
}

// settle pays out the pot and updates both players' stats
func (l *Ledger) settle(g *game.Record) {
	opponent := g.Opponent.OrZero()
	pot := new(big.Int).Mul(g.BetAmount, big.NewInt(2))
	now := l.now

	for _, p := range []common.Address{g.Creator, opponent} {
		s, ok := l.stats[p]
		if !ok {
			s = newStats(p)
			l.stats[p] = s
		}
		s.GamesPlayed++
		s.TotalWagered.Add(s.TotalWagered, g.BetAmount)
		s.LastPlayed = now

		switch {
		case g.Result.Outcome == game.Tie:
			s.Ties++
			s.TotalWon.Add(s.TotalWon, g.BetAmount)
			s.MonthlyScore.Add(s.MonthlyScore, big.NewInt(tiePoints))
			l.balance(p).Add(l.balance(p), g.BetAmount)
		case g.Result.Winner == p:
			s.Wins++
			s.TotalWon.Add(s.TotalWon, pot)
			s.MonthlyScore.Add(s.MonthlyScore, big.NewInt(winPoints))
			l.balance(p).Add(l.balance(p), pot)
		default:
			s.Losses++
		}
	}
}

func (l *Ledger) emit(kind string, id uint64, player common.Address) {
	l.events = append(l.events, ethereum.GameEvent{
		Kind:        kind,
		GameID:      id,
		Player:      player,
		BlockNumber: l.block,
	})
	close(l.notify)
	l.notify = make(chan struct{})
}

func newStats(player common.Address) *game.PlayerStats {
	return &game.PlayerStats{
		Address:      player,
		TotalWagered: new(big.Int),
		TotalWon:     new(big.Int),
		MonthlyScore: new(big.Int),
	}
}
