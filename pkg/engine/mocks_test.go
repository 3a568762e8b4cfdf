package engine

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsafe/elements-duel/pkg/config"
	"github.com/chainsafe/elements-duel/pkg/connection"
	"github.com/chainsafe/elements-duel/pkg/ethereum"
	"github.com/chainsafe/elements-duel/pkg/ethereum/ethtest"
	"github.com/chainsafe/elements-duel/pkg/vault"
	"github.com/chainsafe/elements-duel/pkg/wallet/wallettest"
)

const testChainID = 1337

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

func ether(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), big.NewInt(1e18))
}

type instantTimer struct {
	c chan time.Time
}

func (t *instantTimer) Start(time.Duration) {
	select {
	case t.c <- time.Now():
	default:
	}
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

// failingStore refuses every write
type failingStore struct {
	*vault.MemoryStore
}

func (failingStore) Put(context.Context, *vault.Secret) error {
	return errors.New("disk full")
}

// slowMining holds receipts back for delay, or until ctx ends
type slowMining struct {
	*ethtest.Ledger
	delay time.Duration
}

func (l *slowMining) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	select {
	case <-time.After(l.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return l.Ledger.WaitMined(ctx, tx)
}

// flakyWatch fails the first event watch
type flakyWatch struct {
	*ethtest.Ledger
	watches atomic.Int32
}

func (l *flakyWatch) WatchEvents(ctx context.Context, fromBlock uint64, out chan<- ethereum.GameEvent) error {
	if l.watches.Add(1) == 1 {
		return errors.New("the method eth_getLogs does not exist")
	}
	return l.Ledger.WatchEvents(ctx, fromBlock, out)
}

// player is one connected participant on a shared ledger
type player struct {
	addr    common.Address
	wallet  *wallettest.Wallet
	manager *connection.Manager
	vault   *vault.Vault
	engine  *Engine
}

func testEngineConfig() *config.EngineConfig {
	return &config.EngineConfig{
		RefreshInterval: time.Hour,
		FetchWindow:     60,
		BatchSize:       10,
		CacheSize:       64,
		DefaultSort:     "newest",
	}
}

func testConnectionConfig() *config.ConnectionConfig {
	return &config.ConnectionConfig{
		BreakerThreshold:       3,
		BreakerLockout:         30 * time.Second,
		BalanceRefreshInterval: time.Hour,
		RateLimit:              1000,
		RateBurst:              1000,
		Retry: config.RetryConfig{
			ReadAttempts:     5,
			EstimateAttempts: 3,
			BaseDelay:        time.Millisecond,
			MaxDelay:         5 * time.Millisecond,
			OverloadCooldown: time.Millisecond,
			OverloadCeiling:  3,
			OverloadLockout:  time.Minute,
		},
	}
}

func testNetworkConfig() *config.NetworkConfig {
	return &config.NetworkConfig{
		ChainID:   testChainID,
		ChainName: "Elements Dev",
		RPCURLs:   []string{"http://127.0.0.1:8545"},
		Currency:  config.CurrencyConfig{Name: "Ether", Symbol: "ETH", Decimals: 18},
	}
}

func testLedgerConfig() *config.LedgerConfig {
	return &config.LedgerConfig{GasMultiplier: 1.2, GasMargin: "0.01"}
}

// newPlayer connects addr to l with a memory vault unless store is given
func newPlayer(t *testing.T, l connection.Ledger, addr common.Address, store vault.Store) *player {
	t.Helper()

	clock := time.Now
	if fake, ok := l.(*ethtest.Ledger); ok {
		clock = fake.Now
	}

	w := wallettest.New(testChainID, []common.Address{addr})
	factory := func(*rpc.Client) (connection.Ledger, error) { return l, nil }
	m := connection.NewManager(testConnectionConfig(), testNetworkConfig(), testLedgerConfig(), w, factory, zap.NewNop(),
		connection.WithRetryTimer(func() backoff.Timer { return &instantTimer{c: make(chan time.Time, 1)} }))
	t.Cleanup(m.Disconnect)
	require.NoError(t, m.Connect(context.Background()))

	if store == nil {
		store = vault.NewMemoryStore()
	}
	v := vault.New(store, zap.NewNop(), vault.WithClock(clock))

	e, err := New(testEngineConfig(), testLedgerConfig(), 18, m, v, zap.NewNop(), WithClock(clock))
	require.NoError(t, err)

	return &player{addr: addr, wallet: w, manager: m, vault: v, engine: e}
}

// newTable funds alice and bob on a fresh ledger and connects both
func newTable(t *testing.T) (*ethtest.Ledger, *player, *player) {
	t.Helper()
	l := ethtest.NewLedger(carol)
	l.Fund(alice, ether(10))
	l.Fund(bob, ether(10))
	return l, newPlayer(t, l, alice, nil), newPlayer(t, l, bob, nil)
}

func mustBalance(t *testing.T, l *ethtest.Ledger, addr common.Address) *big.Int {
	t.Helper()
	b, err := l.BalanceAt(context.Background(), addr)
	require.NoError(t, err)
	return b
}
