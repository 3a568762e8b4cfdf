// Package wallet provides the wallet transports a session is built on:
// account access, chain selection, transaction signing and change
// notifications delivered over a channel.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/chainsafe/elements-duel/pkg/config"
)

// Provider error codes used by wallets (EIP-1193, EIP-3085)
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupported       = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
	CodeUnknownChain      = 4902
)

const eventBufferLength = 16

var (
	ErrUserRejected = errors.New("request rejected by user")
	ErrLocked       = errors.New("wallet is locked")
	ErrUnknownChain = errors.New("chain not known to wallet")
	ErrUnavailable  = errors.New("wallet unavailable")
	ErrDisconnected = errors.New("wallet disconnected")
	ErrUnsupported  = errors.New("method not supported by wallet")
)

// RPCError is a provider error carrying a numeric code
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("wallet error %d: %s", e.Code, e.Message)
}

// ErrorCode returns the provider code
func (e *RPCError) ErrorCode() int {
	return e.Code
}

// Is maps provider codes onto the package sentinels
func (e *RPCError) Is(target error) bool {
	switch e.Code {
	case CodeUserRejected:
		return target == ErrUserRejected
	case CodeUnauthorized:
		return target == ErrLocked
	case CodeUnsupported:
		return target == ErrUnsupported
	case CodeDisconnected, CodeChainDisconnected:
		return target == ErrDisconnected
	case CodeUnknownChain:
		return target == ErrUnknownChain
	}
	return false
}

// EventKind tells which notification an Event carries
type EventKind int

const (
	AccountsChanged EventKind = iota + 1
	ChainChanged
	Disconnected
)

func (k EventKind) String() string {
	switch k {
	case AccountsChanged:
		return "accounts_changed"
	case ChainChanged:
		return "chain_changed"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is a wallet notification
type Event struct {
	Kind     EventKind
	Accounts []common.Address
	ChainID  int64
	Err      error
}

// Currency describes a native token for add-chain requests
type Currency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

// ChainParams is the canonical network descriptor sent with add-chain
type ChainParams struct {
	ChainID           int64
	ChainName         string
	RPCURLs           []string
	BlockExplorerURLs []string
	Currency          Currency
}

// ParamsFromConfig builds the descriptor of the expected network
func ParamsFromConfig(cfg *config.NetworkConfig) ChainParams {
	return ChainParams{
		ChainID:           cfg.ChainID,
		ChainName:         cfg.ChainName,
		RPCURLs:           cfg.RPCURLs,
		BlockExplorerURLs: cfg.BlockExplorerURLs,
		Currency: Currency{
			Name:     cfg.Currency.Name,
			Symbol:   cfg.Currency.Symbol,
			Decimals: cfg.Currency.Decimals,
		},
	}
}

// Wallet is the transport a session talks to.
//
// RequestAccounts may prompt the operator; Accounts never does and returns an
// empty list while the wallet is locked or access was not granted. Events
// delivers notifications until Close; slow readers lose the oldest ones.
type Wallet interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	Accounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (int64, error)
	SwitchChain(ctx context.Context, chainID int64) error
	AddChain(ctx context.Context, params ChainParams) error
	Provider() (*rpc.Client, error)
	Transactor(ctx context.Context, account common.Address, chainID int64) (*bind.TransactOpts, error)
	Events() <-chan Event
	Close() error
}

// New creates the wallet selected by cfg
func New(ctx context.Context, cfg *config.WalletConfig, network *config.NetworkConfig, logger *zap.Logger) (Wallet, error) {
	switch cfg.Type {
	case "keystore":
		w, err := NewKeystoreWallet(cfg, network, StaticPrompter{Secret: cfg.Passphrase}, logger)
		if err != nil {
			return nil, err
		}
		return w, nil
	case "rpc":
		w, err := DialRemote(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unknown wallet type %q", cfg.Type)
	}
}

// emitter fans notifications into a bounded channel, dropping the oldest
// entry when the reader falls behind.
type emitter struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func newEmitter() *emitter {
	return &emitter{ch: make(chan Event, eventBufferLength)}
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	for {
		select {
		case e.ch <- ev:
			return
		default:
		}
		select {
		case <-e.ch:
		default:
		}
	}
}

func (e *emitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
