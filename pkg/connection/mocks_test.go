package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/chainsafe/elements-duel/pkg/config"
	"github.com/chainsafe/elements-duel/pkg/ethereum/ethtest"
	"github.com/chainsafe/elements-duel/pkg/wallet/wallettest"
)

const testChainID = 1337

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

// instantTimer fires as soon as it is started
type instantTimer struct {
	c chan time.Time
}

func newInstantTimer() backoff.Timer {
	return &instantTimer{c: make(chan time.Time, 1)}
}

func (t *instantTimer) Start(time.Duration) {
	select {
	case t.c <- time.Now():
	default:
	}
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time {
	return t.c
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// blockingLedger parks Owner until released
type blockingLedger struct {
	*ethtest.Ledger
	entered chan struct{}
	release chan struct{}
}

func (l *blockingLedger) Owner(ctx context.Context) (common.Address, error) {
	close(l.entered)
	<-l.release
	return l.Ledger.Owner(ctx)
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

func newTestManager(t *testing.T, cfg *config.ConnectionConfig, w *wallettest.Wallet, ledger Ledger, opts ...Option) *Manager {
	t.Helper()
	factory := func(*rpc.Client) (Ledger, error) {
		return ledger, nil
	}
	opts = append([]Option{WithRetryTimer(newInstantTimer)}, opts...)
	m := NewManager(cfg, testNetworkConfig(), testLedgerConfig(), w, factory, zap.NewNop(), opts...)
	t.Cleanup(m.Disconnect)
	return m
}

// newLookbackManager is newTestManager with an event lookback window
func newLookbackManager(t *testing.T, w *wallettest.Wallet, ledger Ledger, lookback uint64) *Manager {
	t.Helper()
	factory := func(*rpc.Client) (Ledger, error) {
		return ledger, nil
	}
	ledgerCfg := testLedgerConfig()
	ledgerCfg.EventLookback = lookback
	m := NewManager(testConnectionConfig(), testNetworkConfig(), ledgerCfg, w, factory, zap.NewNop(), WithRetryTimer(newInstantTimer))
	t.Cleanup(m.Disconnect)
	return m
}
