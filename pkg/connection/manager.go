// Package connection keeps the wallet session: account, chain, balance and
// a typed connection state, with every provider call run under a retry,
// rate limit and overload policy.
package connection

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainsafe/elements-duel/internal/metrics"
	"github.com/chainsafe/elements-duel/pkg/config"
	"github.com/chainsafe/elements-duel/pkg/ethereum"
	"github.com/chainsafe/elements-duel/pkg/game"
	"github.com/chainsafe/elements-duel/pkg/wallet"
)

const balancePlaces = 4

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces the clock used by the connect guard and the retrier
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithRetryTimer replaces the timer the retrier waits on between attempts
func WithRetryTimer(newTimer func() backoff.Timer) Option {
	return func(m *Manager) {
		m.retrier.newTimer = newTimer
	}
}

// Manager owns the single logical wallet session.
//
// State transitions happen only through its operations and the wallet
// notifications drained by Run. Every attempt carries an epoch; Disconnect
// bumps it so that results of attempts still in flight are dropped.
type Manager struct {
	cfg       *config.ConnectionConfig
	network   *config.NetworkConfig
	ledgerCfg *config.LedgerConfig
	wallet    wallet.Wallet
	newLedger LedgerFactory
	retrier   *Retrier
	guard     *connectGuard
	logger    *zap.Logger
	now       func() time.Time

	// serializes connect, reconnect and notification handling
	opMu sync.Mutex

	mu            sync.RWMutex
	state         State
	session       *Session
	epoch         uint64
	pendingSwitch bool

	subMu   sync.Mutex
	subs    map[int]chan State
	nextSub int
}

// NewManager creates a manager in Idle
func NewManager(
	cfg *config.ConnectionConfig,
	network *config.NetworkConfig,
	ledgerCfg *config.LedgerConfig,
	w wallet.Wallet,
	newLedger LedgerFactory,
	logger *zap.Logger,
	opts ...Option,
) *Manager {
	m := &Manager{
		cfg:       cfg,
		network:   network,
		ledgerCfg: ledgerCfg,
		wallet:    w,
		newLedger: newLedger,
		retrier:   NewRetrier(cfg, logger),
		logger:    logger,
		now:       time.Now,
		subs:      make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.retrier.now = m.now
	m.guard = newConnectGuard(cfg.ConnectCooldown, cfg.BreakerThreshold, cfg.BreakerLockout, m.now)
	m.state = idleState(m.now())
	return m
}

// Retrier returns the retry wrapper shared by all provider calls
func (m *Manager) Retrier() *Retrier {
	return m.retrier
}

// State returns a snapshot of the connection state
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Session returns the current session when it may be used for ledger calls
func (m *Manager) Session() (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.session == nil {
		if m.state.ChainID != nil && !m.state.IsExpectedNetwork && m.state.Account.IsSet() {
			return nil, newError(ClassWrongNetwork, ErrWrongNetwork)
		}
		return nil, ErrNotConnected
	}
	return m.session, nil
}

// Subscribe returns a channel receiving every new state. Only the latest
// undelivered state is kept for a slow reader.
func (m *Manager) Subscribe() (<-chan State, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan State, 1)
	m.subs[id] = ch

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

func (m *Manager) publish(s State) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

// update applies fn to the state when epoch is still current
func (m *Manager) update(epoch uint64, fn func(*State)) bool {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return false
	}
	fn(&m.state)
	m.state.UpdatedAt = m.now()
	s := m.state
	m.mu.Unlock()

	metrics.ConnectionState.Set(float64(s.Status))
	if s.IsExpectedNetwork {
		metrics.ExpectedNetwork.Set(1)
	} else {
		metrics.ExpectedNetwork.Set(0)
	}
	m.publish(s)
	return true
}

func (m *Manager) currentEpoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

// Connect establishes the session, prompting the operator for account access.
// When the wallet is on another network a switch is requested and Connect
// returns with the state left in Connecting; the chain change notification
// completes the connection.
func (m *Manager) Connect(ctx context.Context) error {
	return m.guarded(ctx, true)
}

// Reconnect restores a session without prompting. Zero accounts settle the
// state in Idle with the wallet marked locked; a mismatched chain settles it
// in Failed without requesting a switch.
func (m *Manager) Reconnect(ctx context.Context) error {
	return m.guarded(ctx, false)
}

// Retry re-enters Connecting from Error
func (m *Manager) Retry(ctx context.Context) error {
	return m.guarded(ctx, true)
}

func (m *Manager) guarded(ctx context.Context, prompt bool) error {
	if rejected := m.guard.admit(); rejected != nil {
		m.logger.Info("Connect attempt rejected", zap.Error(rejected))
		return rejected
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	// only a prompting connect may ask the wallet to switch networks
	err := m.connect(ctx, m.currentEpoch(), prompt, prompt)
	m.guard.done(Classify(err))
	return err
}

// connect runs one connect sequence for epoch. allowSwitch lets it request a
// network switch instead of failing on a mismatched chain.
func (m *Manager) connect(ctx context.Context, epoch uint64, prompt, allowSwitch bool) error {
	m.update(epoch, func(s *State) {
		s.Status = Connecting
		s.LastError = nil
	})

	err := m.establish(ctx, epoch, prompt, allowSwitch)
	if err == nil {
		return nil
	}

	classified := Classify(err)
	if m.update(epoch, func(s *State) {
		s.Status = Failed
		s.LastError = classified
	}) {
		m.logger.Warn("Connect failed",
			zap.String("class", classified.Class.String()),
			zap.Error(err))
	}
	return classified
}

func (m *Manager) establish(ctx context.Context, epoch uint64, prompt, allowSwitch bool) error {
	retrier := m.retrier

	chainID, err := m.readChainID(ctx)
	if err != nil {
		return err
	}

	if !m.network.IsAccepted(chainID) && allowSwitch {
		m.update(epoch, func(s *State) {
			s.ChainID = int64Ptr(chainID)
			s.IsExpectedNetwork = false
		})
		if err := m.switchNetwork(ctx); err != nil {
			return err
		}
		m.mu.Lock()
		if epoch == m.epoch {
			m.pendingSwitch = true
		}
		m.mu.Unlock()
		m.logger.Info("Network switch requested",
			zap.Int64("from_chain_id", chainID),
			zap.Int64("to_chain_id", m.network.ChainID))
		return nil
	}

	var accounts []common.Address
	if prompt {
		err = retrier.Do(ctx, "request_accounts", PolicySubmit, func(ctx context.Context) error {
			var err error
			accounts, err = m.wallet.RequestAccounts(ctx)
			return err
		})
	} else {
		err = retrier.Do(ctx, "accounts", retrier.Read(), func(ctx context.Context) error {
			var err error
			accounts, err = m.wallet.Accounts(ctx)
			return err
		})
	}
	if err != nil {
		return err
	}

	if len(accounts) == 0 {
		if prompt {
			return newError(ClassWalletLocked, wallet.ErrLocked)
		}
		m.teardown(epoch, true)
		return nil
	}
	account := accounts[0]

	chainID, err = m.readChainID(ctx)
	if err != nil {
		return err
	}
	expected := m.network.IsAccepted(chainID)

	if !expected {
		// transport is up but ledger calls stay blocked
		wrong := newError(ClassWrongNetwork, ErrWrongNetwork)
		m.replaceSession(epoch, nil, func(s *State) {
			s.Status = Failed
			s.Account = game.At(account)
			s.ChainID = int64Ptr(chainID)
			s.IsExpectedNetwork = false
			s.IsOwner = false
			s.WalletLocked = false
			s.LastError = wrong
			s.SessionID = ""
		})
		return nil
	}

	provider, err := m.wallet.Provider()
	if err != nil {
		return err
	}
	ledger, err := m.newLedger(provider)
	if err != nil {
		return fmt.Errorf("failed to bind ledger: %w", err)
	}

	var owner common.Address
	err = retrier.Do(ctx, "owner", retrier.Read(), func(ctx context.Context) error {
		var err error
		owner, err = ledger.Owner(ctx)
		return err
	})
	if err != nil {
		return err
	}

	balance := m.readBalance(ctx, ledger, account)

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:            uuid.NewString(),
		Account:       account,
		ChainID:       chainID,
		ctx:           sessCtx,
		cancel:        cancel,
		ledger:        ledger,
		wallet:        m.wallet,
		retrier:       retrier,
		gasMultiplier: m.ledgerCfg.GasMultiplier,
		eventLookback: m.ledgerCfg.EventLookback,
		logger:        m.logger.With(zap.String("account", account.Hex())),
	}

	if !m.replaceSession(epoch, sess, func(s *State) {
		s.Status = Connected
		s.Account = game.At(account)
		s.ChainID = int64Ptr(chainID)
		s.IsExpectedNetwork = true
		s.Balance = balance
		s.IsOwner = owner == account
		s.WalletLocked = false
		s.LastError = nil
		s.SessionID = sess.ID
	}) {
		cancel()
		return ErrSessionEnded
	}

	m.logger.Info("Wallet connected",
		zap.String("account", account.Hex()),
		zap.Int64("chain_id", chainID),
		zap.String("session_id", sess.ID),
		zap.Bool("is_owner", owner == account))
	return nil
}

func (m *Manager) readChainID(ctx context.Context) (int64, error) {
	var chainID int64
	err := m.retrier.Do(ctx, "chain_id", m.retrier.Read(), func(ctx context.Context) error {
		var err error
		chainID, err = m.wallet.ChainID(ctx)
		return err
	})
	return chainID, err
}

// readBalance never fails; an unreadable balance shows as zero
func (m *Manager) readBalance(ctx context.Context, ledger Ledger, account common.Address) string {
	var wei *big.Int
	err := m.retrier.Do(ctx, "balance", m.retrier.Read(), func(ctx context.Context) error {
		var err error
		wei, err = ledger.BalanceAt(ctx, account)
		return err
	})
	if err != nil {
		m.logger.Warn("Failed to read balance", zap.Error(err))
		wei = new(big.Int)
	}
	return ethereum.FormatUnits(wei, m.network.Currency.Decimals, balancePlaces)
}

// replaceSession installs sess (nil for none) and applies fn when epoch is
// still current. The previous session is ended.
func (m *Manager) replaceSession(epoch uint64, sess *Session, fn func(*State)) bool {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return false
	}
	old := m.session
	m.session = sess
	m.pendingSwitch = false
	m.mu.Unlock()

	if old != nil && old != sess {
		old.cancel()
	}
	return m.update(epoch, fn)
}

// teardown ends the session and resets the state to Idle
func (m *Manager) teardown(epoch uint64, locked bool) {
	m.replaceSession(epoch, nil, func(s *State) {
		*s = idleState(m.now())
		s.WalletLocked = locked
	})
}

// SwitchNetwork asks the wallet to select the expected network, adding it
// first when the wallet does not know it. A rejection by the operator is
// final for this call.
func (m *Manager) SwitchNetwork(ctx context.Context) error {
	if err := m.switchNetwork(ctx); err != nil {
		return Classify(err)
	}
	m.mu.Lock()
	m.pendingSwitch = m.state.Status != Idle
	m.mu.Unlock()
	return nil
}

func (m *Manager) switchNetwork(ctx context.Context) error {
	target := m.network.ChainID
	err := m.retrier.Do(ctx, "switch_chain", PolicySubmit, func(ctx context.Context) error {
		return m.wallet.SwitchChain(ctx, target)
	})
	if err == nil || !errors.Is(err, wallet.ErrUnknownChain) {
		return err
	}

	m.logger.Info("Wallet does not know the network, adding it", zap.Int64("chain_id", target))
	err = m.retrier.Do(ctx, "add_chain", PolicySubmit, func(ctx context.Context) error {
		return m.wallet.AddChain(ctx, wallet.ParamsFromConfig(m.network))
	})
	if err != nil {
		return err
	}
	return m.retrier.Do(ctx, "switch_chain", PolicySubmit, func(ctx context.Context) error {
		return m.wallet.SwitchChain(ctx, target)
	})
}

// Disconnect resets everything synchronously without calling the wallet.
// Attempts in flight finish against a stale epoch and are discarded.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.epoch++
	epoch := m.epoch
	old := m.session
	m.session = nil
	m.pendingSwitch = false
	m.mu.Unlock()

	if old != nil {
		old.cancel()
	}
	m.guard.reset()
	m.update(epoch, func(s *State) {
		*s = idleState(m.now())
	})
	m.logger.Info("Wallet disconnected")
}

// Run drains wallet notifications and refreshes the balance until ctx is
// done or the wallet closes its notification channel.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.BalanceRefreshInterval)
	defer ticker.Stop()

	events := m.wallet.Events()
	for {
		select {
		case <-ctx.Done():
			m.Disconnect()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				m.logger.Info("Wallet notification channel closed")
				return nil
			}
			m.handleEvent(ctx, ev)
		case <-ticker.C:
			m.RefreshBalance(ctx)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev wallet.Event) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	status := m.state.Status
	pending := m.pendingSwitch
	epoch := m.epoch
	m.mu.RUnlock()

	m.logger.Debug("Wallet notification",
		zap.String("kind", ev.Kind.String()),
		zap.Int64("chain_id", ev.ChainID),
		zap.Int("accounts", len(ev.Accounts)))

	switch ev.Kind {
	case wallet.AccountsChanged:
		if status == Idle {
			return
		}
		if len(ev.Accounts) == 0 {
			m.teardown(epoch, true)
			return
		}
		_ = m.connect(ctx, epoch, false, false)

	case wallet.ChainChanged:
		switch {
		case pending:
			_ = m.connect(ctx, epoch, true, false)
		case status != Idle:
			_ = m.connect(ctx, epoch, false, false)
		}

	case wallet.Disconnected:
		if status == Idle {
			return
		}
		cause := ev.Err
		if cause == nil {
			cause = wallet.ErrDisconnected
		}
		classified := Classify(cause)
		m.replaceSession(epoch, nil, func(s *State) {
			s.Status = Failed
			s.LastError = classified
			s.SessionID = ""
		})
		m.logger.Warn("Wallet transport disconnected", zap.Error(cause))
	}
}

// RefreshBalance re-reads the balance of a connected session
func (m *Manager) RefreshBalance(ctx context.Context) {
	m.mu.RLock()
	sess := m.session
	epoch := m.epoch
	m.mu.RUnlock()
	if sess == nil {
		return
	}

	ctx, cancel := sess.bind(ctx)
	defer cancel()
	balance := m.readBalance(ctx, sess.ledger, sess.Account)
	if !sess.Alive() {
		return
	}
	m.update(epoch, func(s *State) {
		if s.SessionID == sess.ID {
			s.Balance = balance
		}
	})
}
