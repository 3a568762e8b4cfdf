// Package wallettest provides a scriptable in-memory wallet for tests
package wallettest

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/chainsafe/elements-duel/pkg/wallet"
)

// Wallet is an in-memory wallet.Wallet. Account access is granted on the
// first RequestAccounts unless Reject or Locked is set. Errors queued with
// Inject are returned by the named method, one per call, before it behaves
// normally again.
type Wallet struct {
	mu         sync.Mutex
	accounts   []common.Address
	authorized bool
	chainID    int64
	known      map[int64]bool
	injected   map[string][]error
	calls      map[string]int
	events     chan wallet.Event
	closed     bool

	// Reject makes prompting calls fail as refused by the operator
	Reject bool
	// Locked makes RequestAccounts fail with the unauthorized code
	Locked bool
}

// New creates a wallet holding accounts on chainID. knownChains are the
// chains SwitchChain accepts without AddChain.
func New(chainID int64, accounts []common.Address, knownChains ...int64) *Wallet {
	known := map[int64]bool{chainID: true}
	for _, id := range knownChains {
		known[id] = true
	}
	return &Wallet{
		accounts: accounts,
		chainID:  chainID,
		known:    known,
		injected: make(map[string][]error),
		calls:    make(map[string]int),
		events:   make(chan wallet.Event, 16),
	}
}

// Inject queues errors for method
func (w *Wallet) Inject(method string, errs ...error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.injected[method] = append(w.injected[method], errs...)
}

// Calls returns how often method was invoked
func (w *Wallet) Calls(method string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[method]
}

// Authorize grants account access without a prompt
func (w *Wallet) Authorize() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.authorized = true
}

// SetAccounts replaces the account list and notifies the change
func (w *Wallet) SetAccounts(accounts ...common.Address) {
	w.mu.Lock()
	w.accounts = accounts
	visible := w.visible()
	w.mu.Unlock()
	w.Emit(wallet.Event{Kind: wallet.AccountsChanged, Accounts: visible})
}

// SetChain changes the selected chain behind the session's back and notifies it
func (w *Wallet) SetChain(chainID int64) {
	w.mu.Lock()
	w.chainID = chainID
	w.known[chainID] = true
	w.mu.Unlock()
	w.Emit(wallet.Event{Kind: wallet.ChainChanged, ChainID: chainID})
}

// Emit delivers ev on the notification channel
func (w *Wallet) Emit(ev wallet.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.events <- ev:
	default:
	}
}

func (w *Wallet) begin(method string) error {
	w.calls[method]++
	if q := w.injected[method]; len(q) > 0 {
		w.injected[method] = q[1:]
		return q[0]
	}
	return nil
}

func (w *Wallet) visible() []common.Address {
	if !w.authorized {
		return []common.Address{}
	}
	return append([]common.Address(nil), w.accounts...)
}

func (w *Wallet) RequestAccounts(_ context.Context) ([]common.Address, error) {
	w.mu.Lock()
	if err := w.begin("request_accounts"); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	switch {
	case w.Reject:
		w.mu.Unlock()
		return nil, &wallet.RPCError{Code: wallet.CodeUserRejected, Message: "user rejected the request"}
	case w.Locked:
		w.mu.Unlock()
		return nil, &wallet.RPCError{Code: wallet.CodeUnauthorized, Message: "wallet locked"}
	case len(w.accounts) == 0:
		w.mu.Unlock()
		return nil, wallet.ErrUnavailable
	}
	granted := !w.authorized
	w.authorized = true
	visible := w.visible()
	w.mu.Unlock()

	if granted {
		w.Emit(wallet.Event{Kind: wallet.AccountsChanged, Accounts: visible})
	}
	return visible, nil
}

func (w *Wallet) Accounts(_ context.Context) ([]common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin("accounts"); err != nil {
		return nil, err
	}
	return w.visible(), nil
}

func (w *Wallet) ChainID(_ context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin("chain_id"); err != nil {
		return 0, err
	}
	return w.chainID, nil
}

func (w *Wallet) SwitchChain(_ context.Context, chainID int64) error {
	w.mu.Lock()
	if err := w.begin("switch_chain"); err != nil {
		w.mu.Unlock()
		return err
	}
	switch {
	case !w.known[chainID]:
		w.mu.Unlock()
		return &wallet.RPCError{Code: wallet.CodeUnknownChain, Message: "unrecognized chain"}
	case w.Reject:
		w.mu.Unlock()
		return &wallet.RPCError{Code: wallet.CodeUserRejected, Message: "user rejected the request"}
	case w.chainID == chainID:
		w.mu.Unlock()
		return nil
	}
	w.chainID = chainID
	w.mu.Unlock()

	w.Emit(wallet.Event{Kind: wallet.ChainChanged, ChainID: chainID})
	return nil
}

func (w *Wallet) AddChain(_ context.Context, params wallet.ChainParams) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin("add_chain"); err != nil {
		return err
	}
	if w.Reject {
		return &wallet.RPCError{Code: wallet.CodeUserRejected, Message: "user rejected the request"}
	}
	w.known[params.ChainID] = true
	return nil
}

// Provider returns no client; ledger factories used with this wallet ignore it
func (w *Wallet) Provider() (*rpc.Client, error) {
	return nil, nil
}

// Transactor returns options whose signer passes transactions through unsigned
func (w *Wallet) Transactor(ctx context.Context, account common.Address, chainID int64) (*bind.TransactOpts, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin("transactor"); err != nil {
		return nil, err
	}
	if !w.authorized {
		return nil, &wallet.RPCError{Code: wallet.CodeUnauthorized, Message: "account not authorized"}
	}
	if chainID != w.chainID {
		return nil, &wallet.RPCError{Code: wallet.CodeChainDisconnected, Message: "chain mismatch"}
	}
	return &bind.TransactOpts{
		From:    account,
		Context: ctx,
		Signer: func(_ common.Address, tx *types.Transaction) (*types.Transaction, error) {
			return tx, nil
		},
	}, nil
}

func (w *Wallet) Events() <-chan wallet.Event {
	return w.events
}

func (w *Wallet) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.events)
	}
	return nil
}
