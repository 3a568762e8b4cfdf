package wallet

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/chainsafe/elements-duel/pkg/config"
)

// Prompter stands in for the human operator of a local wallet
type Prompter interface {
	// Passphrase is asked for when account access is requested and the
	// account is locked.
	Passphrase(ctx context.Context, account accounts.Account) (string, error)
	// Confirm approves a chain switch or addition.
	Confirm(ctx context.Context, action string) error
}

// StaticPrompter answers with a fixed passphrase, or denies everything
type StaticPrompter struct {
	Secret string
	Deny   bool
}

func (p StaticPrompter) Passphrase(_ context.Context, _ accounts.Account) (string, error) {
	if p.Deny {
		return "", ErrUserRejected
	}
	if p.Secret == "" {
		return "", ErrLocked
	}
	return p.Secret, nil
}

func (p StaticPrompter) Confirm(context.Context, string) error {
	if p.Deny {
		return ErrUserRejected
	}
	return nil
}

// KeystoreWallet is a wallet over a go-ethereum encrypted key directory.
// Ledger traffic goes to the RPC endpoint of the selected network.
type KeystoreWallet struct {
	mu         sync.Mutex
	ks         *keystore.KeyStore
	prompter   Prompter
	account    accounts.Account
	authorized bool
	networks   map[int64]ChainParams
	chainID    int64
	providers  map[int64]*rpc.Client
	events     *emitter
	logger     *zap.Logger
}

// NewKeystoreWallet opens the keystore in cfg.KeystoreDir. The wallet starts
// on the expected network with no account access granted.
func NewKeystoreWallet(cfg *config.WalletConfig, network *config.NetworkConfig, prompter Prompter, logger *zap.Logger) (*KeystoreWallet, error) {
	ks := keystore.NewKeyStore(cfg.KeystoreDir, keystore.StandardScryptN, keystore.StandardScryptP)
	return newKeystoreWallet(ks, cfg.Account, ParamsFromConfig(network), prompter, logger)
}

func newKeystoreWallet(ks *keystore.KeyStore, account string, network ChainParams, prompter Prompter, logger *zap.Logger) (*KeystoreWallet, error) {
	w := &KeystoreWallet{
		ks:        ks,
		prompter:  prompter,
		networks:  map[int64]ChainParams{network.ChainID: network},
		chainID:   network.ChainID,
		providers: make(map[int64]*rpc.Client),
		events:    newEmitter(),
		logger:    logger,
	}

	if account != "" {
		if !common.IsHexAddress(account) {
			return nil, fmt.Errorf("invalid wallet account %q", account)
		}
		acc, err := ks.Find(accounts.Account{Address: common.HexToAddress(account)})
		if err != nil {
			return nil, fmt.Errorf("account %s not in keystore: %w", account, err)
		}
		w.account = acc
	} else if accs := ks.Accounts(); len(accs) > 0 {
		w.account = accs[0]
	}

	logger.Info("Keystore wallet opened",
		zap.String("account", w.account.Address.Hex()),
		zap.Int64("chain_id", w.chainID))
	return w, nil
}

// RequestAccounts grants access to the wallet account, asking the prompter
// for the passphrase when the account is locked.
func (w *KeystoreWallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.account.Address == (common.Address{}) {
		return nil, fmt.Errorf("keystore has no accounts: %w", ErrUnavailable)
	}

	if !w.unlockedLocked() {
		pass, err := w.prompter.Passphrase(ctx, w.account)
		if err != nil {
			return nil, err
		}
		if err := w.ks.Unlock(w.account, pass); err != nil {
			return nil, &RPCError{Code: CodeUnauthorized, Message: err.Error()}
		}
	}

	if !w.authorized {
		w.authorized = true
		w.events.emit(Event{Kind: AccountsChanged, Accounts: []common.Address{w.account.Address}})
	}
	return []common.Address{w.account.Address}, nil
}

// Accounts returns the granted account without prompting
func (w *KeystoreWallet) Accounts(context.Context) ([]common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.authorized || !w.unlockedLocked() {
		return []common.Address{}, nil
	}
	return []common.Address{w.account.Address}, nil
}

func (w *KeystoreWallet) unlockedLocked() bool {
	// SignHash fails with ErrLocked for a locked key
	_, err := w.ks.SignHash(w.account, make([]byte, 32))
	return err == nil
}

// Lock drops the unlocked key and revokes account access
func (w *KeystoreWallet) Lock() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ks.Lock(w.account.Address); err != nil {
		return err
	}
	if w.authorized {
		w.authorized = false
		w.events.emit(Event{Kind: AccountsChanged, Accounts: []common.Address{}})
	}
	return nil
}

// ChainID returns the selected network
func (w *KeystoreWallet) ChainID(context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainID, nil
}

// SwitchChain selects a known network
func (w *KeystoreWallet) SwitchChain(ctx context.Context, chainID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.networks[chainID]; !ok {
		return &RPCError{Code: CodeUnknownChain, Message: fmt.Sprintf("unrecognized chain id %d", chainID)}
	}
	if chainID == w.chainID {
		return nil
	}
	if err := w.prompter.Confirm(ctx, fmt.Sprintf("switch to chain %d", chainID)); err != nil {
		return err
	}

	w.chainID = chainID
	w.events.emit(Event{Kind: ChainChanged, ChainID: chainID})
	return nil
}

// AddChain registers a network descriptor
func (w *KeystoreWallet) AddChain(ctx context.Context, params ChainParams) error {
	if len(params.RPCURLs) == 0 {
		return fmt.Errorf("chain %d: no rpc urls", params.ChainID)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.prompter.Confirm(ctx, fmt.Sprintf("add chain %d (%s)", params.ChainID, params.ChainName)); err != nil {
		return err
	}
	w.networks[params.ChainID] = params
	return nil
}

// Provider returns an RPC client for the selected network
func (w *KeystoreWallet) Provider() (*rpc.Client, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if c, ok := w.providers[w.chainID]; ok {
		return c, nil
	}
	params := w.networks[w.chainID]
	if len(params.RPCURLs) == 0 {
		return nil, fmt.Errorf("chain %d: no rpc urls: %w", w.chainID, ErrUnavailable)
	}
	c, err := rpc.Dial(params.RPCURLs[0])
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", params.RPCURLs[0], err)
	}
	w.providers[w.chainID] = c
	return c, nil
}

// Transactor returns signing options for account on chainID
func (w *KeystoreWallet) Transactor(_ context.Context, account common.Address, chainID int64) (*bind.TransactOpts, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.authorized || w.account.Address != account {
		return nil, &RPCError{Code: CodeUnauthorized, Message: "account access not granted"}
	}
	if chainID != w.chainID {
		return nil, &RPCError{Code: CodeChainDisconnected, Message: fmt.Sprintf("wallet is on chain %d", w.chainID)}
	}
	return bind.NewKeyStoreTransactorWithChainID(w.ks, w.account, big.NewInt(chainID))
}

// Events returns the notification channel
func (w *KeystoreWallet) Events() <-chan Event {
	return w.events.ch
}

// Close releases provider connections and ends the notification stream
func (w *KeystoreWallet) Close() error {
	w.mu.Lock()
	for id, c := range w.providers {
		c.Close()
		delete(w.providers, id)
	}
	w.mu.Unlock()

	w.events.emit(Event{Kind: Disconnected, Err: ErrDisconnected})
	w.events.close()
	return nil
}
