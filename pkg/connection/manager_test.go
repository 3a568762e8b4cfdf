package connection

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsafe/elements-duel/pkg/commitment"
	"github.com/chainsafe/elements-duel/pkg/ethereum"
	"github.com/chainsafe/elements-duel/pkg/ethereum/ethtest"
	"github.com/chainsafe/elements-duel/pkg/game"
	"github.com/chainsafe/elements-duel/pkg/wallet"
	"github.com/chainsafe/elements-duel/pkg/wallet/wallettest"
)

func ether(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), big.NewInt(1e18))
}

// nextEvent drains wallet notifications until one of kind arrives
func nextEvent(t *testing.T, w *wallettest.Wallet, kind wallet.EventKind) wallet.Event {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s notification", kind)
		}
	}
}

func TestManager_Connect(t *testing.T) {
	w := wallettest.New(testChainID, []common.Address{alice})
	l := ethtest.NewLedger(alice)
	l.Fund(alice, new(big.Int).Add(ether(1), big.NewInt(5e17)))
	m := newTestManager(t, testConnectionConfig(), w, l)

	require.NoError(t, m.Connect(context.Background()))

	st := m.State()
	assert.Equal(t, Connected, st.Status)
	assert.True(t, st.Account.Is(alice))
	require.NotNil(t, st.ChainID)
	assert.Equal(t, int64(testChainID), *st.ChainID)
	assert.True(t, st.IsExpectedNetwork)
	assert.True(t, st.IsOwner)
	assert.Equal(t, "1.5000", st.Balance)
	assert.Nil(t, st.LastError)
	assert.NotEmpty(t, st.SessionID)

	sess, err := m.Session()
	require.NoError(t, err)
	assert.Equal(t, alice, sess.Account)
	assert.Equal(t, st.SessionID, sess.ID)
	assert.True(t, sess.Alive())
}

func TestManager_ConnectNotOwner(t *testing.T) {
	w := wallettest.New(testChainID, []common.Address{alice})
	m := newTestManager(t, testConnectionConfig(), w, ethtest.NewLedger(bob))

	require.NoError(t, m.Connect(context.Background()))
	assert.False(t, m.State().IsOwner)
}

func TestManager_BalanceFailureIsNotFatal(t *testing.T) {
	w := wallettest.New(testChainID, []common.Address{alice})
	l := ethtest.NewLedger(alice)
	l.Inject("balance", errors.New("execution reverted"))
	m := newTestManager(t, testConnectionConfig(), w, l)

	require.NoError(t, m.Connect(context.Background()))
	st := m.State()
	assert.Equal(t, Connected, st.Status)
	assert.Equal(t, "0.0000", st.Balance)
}

func TestManager_ConnectSwitchesNetwork(t *testing.T) {
	w := wallettest.New(5, []common.Address{alice}, testChainID)
	m := newTestManager(t, testConnectionConfig(), w, ethtest.NewLedger(alice))

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, Connecting, m.State().Status)
	assert.Equal(t, 1, w.Calls("switch_chain"))
	assert.Equal(t, 0, w.Calls("request_accounts"))

	// the chain change completes the connection
	ev := nextEvent(t, w, wallet.ChainChanged)
	assert.Equal(t, int64(testChainID), ev.ChainID)
	m.handleEvent(context.Background(), ev)

	st := m.State()
	assert.Equal(t, Connected, st.Status)
	assert.True(t, st.IsExpectedNetwork)
	assert.Equal(t, 1, w.Calls("request_accounts"))
}

func TestManager_SwitchNetworkAddsUnknownChain(t *testing.T) {
	w := wallettest.New(5, []common.Address{alice})
	m := newTestManager(t, testConnectionConfig(), w, ethtest.NewLedger(alice))

	require.NoError(t, m.SwitchNetwork(context.Background()))
	assert.Equal(t, 1, w.Calls("add_chain"))
	assert.Equal(t, 2, w.Calls("switch_chain"))

	chainID, err := w.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(testChainID), chainID)
}

func TestManager_SwitchRejected(t *testing.T) {
	w := wallettest.New(5, []common.Address{alice}, testChainID)
	w.Reject = true
	m := newTestManager(t, testConnectionConfig(), w, ethtest.NewLedger(alice))

	err := m.Connect(context.Background())
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ClassUserRejected, e.Class)
	assert.Equal(t, 1, w.Calls("switch_chain"))

	st := m.State()
	assert.Equal(t, Failed, st.Status)
	require.NotNil(t, st.LastError)
	assert.Equal(t, ClassUserRejected, st.LastError.Class)
}

func TestManager_ConnectLocked(t *testing.T) {
	w := wallettest.New(testChainID, []common.Address{alice})
	w.Locked = true
	m := newTestManager(t, testConnectionConfig(), w, ethtest.NewLedger(alice))

	err := m.Connect(context.Background())
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ClassWalletLocked, e.Class)
	assert.Equal(t, 1, w.Calls("request_accounts"))
	assert.Equal(t, Failed, m.State().Status)

	_, err = m.Session()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManager_ReconnectWithoutAccess(t *testing.T) {
	w := wallettest.New(testChainID, []common.Address{alice})
	m := newTestManager(t, testConnectionConfig(), w, ethtest.NewLedger(alice))

	require.NoError(t, m.Reconnect(context.Background()))

	st := m.State()
	assert.Equal(t, Idle, st.Status)
	assert.True(t, st.WalletLocked)
	assert.False(t, st.Account.IsSet())
	assert.Nil(t, st.LastError)
	assert.Equal(t, 0, w.Calls("request_accounts"))
}

func TestManager_ReconnectSilently(t *testing.T) {
	w := wallettest.New(testChainID, []common.Address{alice})
	w.Authorize()
	m := newTestManager(t, testConnectionConfig(), w, ethtest.NewLedger(alice))

	require.NoError(t, m.Reconnect(context.Background()))
	assert.Equal(t, Connected, m.State().Status)
	assert.Equal(t, 0, w.Calls("request_accounts"))
}

func TestManager_ReconnectOnWrongNetwork(t *testing.T) {
	w := wallettest.New(5, []common.Address{alice})
	w.Authorize()
	m := newTestManager(t, testConnectionConfig(), w, ethtest.NewLedger(alice))

	require.NoError(t, m.Reconnect(context.Background()))

	st := m.State()
	assert.Equal(t, Failed, st.Status)
	assert.False(t, st.IsExpectedNetwork)
	assert.True(t, st.Account.Is(alice))
	require.NotNil(t, st.LastError)
	assert.Equal(t, ClassWrongNetwork, st.LastError.Class)
	assert.Equal(t, 0, w.Calls("switch_chain"))
	assert.Equal(t, 0, w.Calls("add_chain"))
	assert.Equal(t, 0, w.Calls("request_accounts"))

	_, err := m.Session()
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ClassWrongNetwork, e.Class)
}

func TestManager_ConnectCooldown(t *testing.T) {
	cfg := testConnectionConfig()
	cfg.ConnectCooldown = 2 * time.Second
	clock := newFakeClock()
	w := wallettest.New(testChainID, []common.Address{alice})
	m := newTestManager(t, cfg, w, ethtest.NewLedger(alice), WithClock(clock.Now))

	require.NoError(t, m.Connect(context.Background()))

	clock.Advance(time.Second)
	err := m.Connect(context.Background())
	require.ErrorIs(t, err, ErrTooSoon)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ClassRateLimited, e.Class)
	assert.Equal(t, time.Second, e.RetryAfter)

	// rejected attempts leave the session alone
	assert.Equal(t, Connected, m.State().Status)

	clock.Advance(time.Second)
	require.NoError(t, m.Connect(context.Background()))
}

func TestManager_CircuitBreaker(t *testing.T) {
	clock := newFakeClock()
	w := wallettest.New(testChainID, []common.Address{alice})
	m := newTestManager(t, testConnectionConfig(), w, ethtest.NewLedger(alice), WithClock(clock.Now))

	boom := errors.New("wallet exploded")
	w.Inject("chain_id", boom, boom, boom)
	for i := 0; i < 3; i++ {
		require.Error(t, m.Connect(context.Background()))
	}

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, ErrBreakerOpen)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 30*time.Second, e.RetryAfter)
	assert.Contains(t, e.Message, "30s")
	assert.Equal(t, 3, w.Calls("chain_id"))

	clock.Advance(31 * time.Second)
	require.NoError(t, m.Connect(context.Background()))
}

func TestManager_RejectionsDoNotOpenBreaker(t *testing.T) {
	w := wallettest.New(testChainID, []common.Address{alice})
	w.Reject = true
	m := newTestManager(t, testConnectionConfig(), w, ethtest.NewLedger(alice))

	for i := 0; i < 4; i++ {
		err := m.Connect(context.Background())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrBreakerOpen)
	}
}

func TestManager_DisconnectDiscardsInFlightConnect(t *testing.T) {
	w := wallettest.New(testChainID, []common.Address{alice})
	l := &blockingLedger{
		Ledger:  ethtest.NewLedger(alice),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	m := newTestManager(t, testConnectionConfig(), w, l)

	done := make(chan error, 1)
	go func() {
		done <- m.Connect(context.Background())
	}()

	<-l.entered
	assert.Equal(t, Connecting, m.State().Status)
	m.Disconnect()
	close(l.release)

	err := <-done
	assert.ErrorIs(t, err, ErrSessionEnded)

	st := m.State()
	assert.Equal(t, Idle, st.Status)
	assert.False(t, st.Account.IsSet())
	assert.Empty(t, st.SessionID)
	_, err = m.Session()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManager_DisconnectResets(t *testing.T) {
	cfg := testConnectionConfig()
	cfg.ConnectCooldown = time.Hour
	w := wallettest.New(testChainID, []common.Address{alice})
	m := newTestManager(t, cfg, w, ethtest.NewLedger(alice))

	require.NoError(t, m.Connect(context.Background()))
	sess, err := m.Session()
	require.NoError(t, err)

	calls := w.Calls("chain_id")
	m.Disconnect()

	assert.False(t, sess.Alive())
	st := m.State()
	assert.Equal(t, Idle, st.Status)
	assert.Equal(t, "0.0000", st.Balance)
	assert.False(t, st.IsOwner)
	assert.Nil(t, st.ChainID)
	assert.Equal(t, calls, w.Calls("chain_id"))

	// the cooldown was reset with everything else
	require.NoError(t, m.Connect(context.Background()))
}

func TestManager_Notifications(t *testing.T) {
	w := wallettest.New(testChainID, []common.Address{alice, bob}, 5)
	l := ethtest.NewLedger(bob)
	m := newTestManager(t, testConnectionConfig(), w, l)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx))
	assert.False(t, m.State().IsOwner)
	first, err := m.Session()
	require.NoError(t, err)

	t.Run("account change re-derives owner", func(t *testing.T) {
		w.SetAccounts(bob)
		m.handleEvent(ctx, nextEvent(t, w, wallet.AccountsChanged))

		st := m.State()
		assert.Equal(t, Connected, st.Status)
		assert.True(t, st.Account.Is(bob))
		assert.True(t, st.IsOwner)
		assert.False(t, first.Alive())
	})

	t.Run("chain change to another network", func(t *testing.T) {
		w.SetChain(5)
		m.handleEvent(ctx, nextEvent(t, w, wallet.ChainChanged))

		st := m.State()
		assert.Equal(t, Failed, st.Status)
		assert.False(t, st.IsExpectedNetwork)
		_, err := m.Session()
		require.Error(t, err)
	})

	t.Run("chain change back", func(t *testing.T) {
		w.SetChain(testChainID)
		m.handleEvent(ctx, nextEvent(t, w, wallet.ChainChanged))
		assert.Equal(t, Connected, m.State().Status)
	})

	t.Run("transport disconnect", func(t *testing.T) {
		m.handleEvent(ctx, wallet.Event{Kind: wallet.Disconnected, Err: wallet.ErrDisconnected})

		st := m.State()
		assert.Equal(t, Failed, st.Status)
		require.NotNil(t, st.LastError)
		assert.True(t, st.LastError.Transient)
		_, err := m.Session()
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("zero accounts tears down", func(t *testing.T) {
		require.NoError(t, m.Retry(ctx))
		require.Equal(t, Connected, m.State().Status)

		m.handleEvent(ctx, wallet.Event{Kind: wallet.AccountsChanged, Accounts: []common.Address{}})
		st := m.State()
		assert.Equal(t, Idle, st.Status)
		assert.True(t, st.WalletLocked)
	})
}

func TestManager_RunDrainsNotifications(t *testing.T) {
	w := wallettest.New(testChainID, []common.Address{alice})
	m := newTestManager(t, testConnectionConfig(), w, ethtest.NewLedger(alice))

	updates, cancelSub := m.Subscribe()
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx)
	}()

	require.NoError(t, m.Connect(ctx))
	w.SetAccounts()

	require.Eventually(t, func() bool {
		select {
		case st := <-updates:
			return st.Status == Idle && st.WalletLocked
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestManager_RefreshBalance(t *testing.T) {
	w := wallettest.New(testChainID, []common.Address{alice})
	l := ethtest.NewLedger(alice)
	l.Fund(alice, ether(2))
	m := newTestManager(t, testConnectionConfig(), w, l)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, "2.0000", m.State().Balance)

	l.Fund(alice, ether(3))
	m.RefreshBalance(context.Background())
	assert.Equal(t, "3.0000", m.State().Balance)
}

func TestSession_Transact(t *testing.T) {
	w := wallettest.New(testChainID, []common.Address{alice})
	l := ethtest.NewLedger(alice)
	l.Fund(alice, ether(10))
	m := newTestManager(t, testConnectionConfig(), w, l)
	require.NoError(t, m.Connect(context.Background()))
	sess, err := m.Session()
	require.NoError(t, err)

	hash, err := commitment.Compute(game.Fire, "abc")
	require.NoError(t, err)

	t.Run("estimate is retried", func(t *testing.T) {
		l.Inject("estimate_gas", errors.New("read tcp: connection reset by peer"))
		receipt, err := sess.Transact(context.Background(), ethereum.CreateGameCall(hash, game.Unset(), ether(1)))
		require.NoError(t, err)

		id, err := sess.CreatedGameID(receipt)
		require.NoError(t, err)
		assert.Equal(t, game.Open, l.Game(id).Status)
		assert.Equal(t, 2, l.Calls("estimate_gas"))
	})

	t.Run("submission is not retried", func(t *testing.T) {
		before := l.Calls("submit")
		l.Inject("submit", errors.New("read tcp: connection reset by peer"))
		_, err := sess.Transact(context.Background(), ethereum.CreateGameCall(hash, game.Unset(), ether(1)))
		require.Error(t, err)
		assert.Equal(t, before+1, l.Calls("submit"))
	})

	t.Run("ledger rejection", func(t *testing.T) {
		_, err := sess.Transact(context.Background(), ethereum.CancelGameCall(99))
		require.ErrorIs(t, err, ErrTransactionFailed)
		assert.Contains(t, err.Error(), "game does not exist")
	})

	t.Run("ended session", func(t *testing.T) {
		m.Disconnect()
		_, err := sess.Transact(context.Background(), ethereum.CreateGameCall(hash, game.Unset(), ether(1)))
		require.Error(t, err)
	})
}

func TestSession_WatchEventsLookback(t *testing.T) {
	l := ethtest.NewLedger(alice)
	l.Fund(alice, ether(10))
	hash, err := commitment.Compute(game.Fire, "abc")
	require.NoError(t, err)

	// mined before any watcher exists
	id := l.CreateDirect(alice, hash, ether(1))

	tests := []struct {
		name     string
		lookback uint64
		replayed bool
	}{
		{"from head", 0, false},
		{"within lookback", 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newLookbackManager(t, wallettest.New(testChainID, []common.Address{alice}), l, tt.lookback)
			require.NoError(t, m.Connect(context.Background()))
			sess, err := m.Session()
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			out := make(chan ethereum.GameEvent, 4)
			go func() { _ = sess.WatchEvents(ctx, out) }()

			select {
			case ev := <-out:
				require.True(t, tt.replayed, "unexpected event %+v", ev)
				assert.Equal(t, id, ev.GameID)
			case <-time.After(100 * time.Millisecond):
				require.False(t, tt.replayed, "event inside the lookback window was not replayed")
			}
		})
	}
}
