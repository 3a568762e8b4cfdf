package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/chainsafe/elements-duel/pkg/config"
)

// RemoteWallet is a wallet behind an EIP-1193 style JSON-RPC endpoint. The
// endpoint also serves ledger traffic. Change notifications are derived by
// polling accounts and chain id.
type RemoteWallet struct {
	client *rpc.Client
	events *emitter
	logger *zap.Logger

	mu        sync.Mutex
	accounts  []common.Address
	chainID   int64
	reachable bool

	cancel context.CancelFunc
	done   chan struct{}
}

// DialRemote connects to cfg.RPCURL and starts the notification poller
func DialRemote(ctx context.Context, cfg *config.WalletConfig, logger *zap.Logger) (*RemoteWallet, error) {
	client, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial wallet: %w", err)
	}
	return newRemoteWallet(client, cfg.PollInterval, logger), nil
}

func newRemoteWallet(client *rpc.Client, poll time.Duration, logger *zap.Logger) *RemoteWallet {
	ctx, cancel := context.WithCancel(context.Background())
	w := &RemoteWallet{
		client:    client,
		events:    newEmitter(),
		logger:    logger,
		reachable: true,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	w.pollOnce(ctx)
	go w.poll(ctx, poll)
	return w
}

func (w *RemoteWallet) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if err := w.client.CallContext(ctx, result, method, args...); err != nil {
		return normalize(err)
	}
	return nil
}

// normalize turns coded provider errors into *RPCError so they match the
// package sentinels
func normalize(err error) error {
	var coded rpc.Error
	if errors.As(err, &coded) {
		switch coded.ErrorCode() {
		case CodeUserRejected, CodeUnauthorized, CodeUnsupported, CodeDisconnected, CodeChainDisconnected, CodeUnknownChain:
			return &RPCError{Code: coded.ErrorCode(), Message: coded.Error()}
		}
	}
	return err
}

// RequestAccounts asks the wallet for account access
func (w *RemoteWallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accs []common.Address
	if err := w.call(ctx, &accs, "eth_requestAccounts"); err != nil {
		return nil, err
	}
	w.observeAccounts(accs)
	return accs, nil
}

// Accounts returns the granted accounts without prompting
func (w *RemoteWallet) Accounts(ctx context.Context) ([]common.Address, error) {
	var accs []common.Address
	if err := w.call(ctx, &accs, "eth_accounts"); err != nil {
		return nil, err
	}
	if accs == nil {
		accs = []common.Address{}
	}
	return accs, nil
}

// ChainID returns the wallet's selected chain
func (w *RemoteWallet) ChainID(ctx context.Context) (int64, error) {
	var id hexutil.Big
	if err := w.call(ctx, &id, "eth_chainId"); err != nil {
		return 0, err
	}
	return id.ToInt().Int64(), nil
}

type switchChainParams struct {
	ChainID string `json:"chainId"`
}

type addChainParams struct {
	ChainID           string   `json:"chainId"`
	ChainName         string   `json:"chainName"`
	NativeCurrency    Currency `json:"nativeCurrency"`
	RPCURLs           []string `json:"rpcUrls"`
	BlockExplorerURLs []string `json:"blockExplorerUrls,omitempty"`
}

func hexChainID(id int64) string {
	return hexutil.EncodeBig(big.NewInt(id))
}

// SwitchChain asks the wallet to select chainID
func (w *RemoteWallet) SwitchChain(ctx context.Context, chainID int64) error {
	return w.call(ctx, nil, "wallet_switchEthereumChain", switchChainParams{ChainID: hexChainID(chainID)})
}

// AddChain asks the wallet to register a network
func (w *RemoteWallet) AddChain(ctx context.Context, params ChainParams) error {
	return w.call(ctx, nil, "wallet_addEthereumChain", addChainParams{
		ChainID:           hexChainID(params.ChainID),
		ChainName:         params.ChainName,
		NativeCurrency:    params.Currency,
		RPCURLs:           params.RPCURLs,
		BlockExplorerURLs: params.BlockExplorerURLs,
	})
}

// Provider returns the wallet endpoint
func (w *RemoteWallet) Provider() (*rpc.Client, error) {
	return w.client, nil
}

// Transactor returns options whose signer delegates to eth_signTransaction
func (w *RemoteWallet) Transactor(ctx context.Context, account common.Address, chainID int64) (*bind.TransactOpts, error) {
	signer := types.LatestSignerForChainID(big.NewInt(chainID))
	return &bind.TransactOpts{
		From:    account,
		Context: ctx,
		Signer: func(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if from != account {
				return nil, &RPCError{Code: CodeUnauthorized, Message: "not authorized to sign for " + from.Hex()}
			}
			signed, err := w.signTransaction(ctx, from, chainID, tx)
			if err != nil {
				return nil, err
			}
			sender, err := types.Sender(signer, signed)
			if err != nil {
				return nil, fmt.Errorf("invalid signature from wallet: %w", err)
			}
			if sender != from {
				return nil, fmt.Errorf("wallet signed as %s, expected %s", sender.Hex(), from.Hex())
			}
			return signed, nil
		},
	}, nil
}

func (w *RemoteWallet) signTransaction(ctx context.Context, from common.Address, chainID int64, tx *types.Transaction) (*types.Transaction, error) {
	args := map[string]interface{}{
		"from":    from,
		"gas":     hexutil.Uint64(tx.Gas()),
		"value":   (*hexutil.Big)(tx.Value()),
		"input":   hexutil.Bytes(tx.Data()),
		"nonce":   hexutil.Uint64(tx.Nonce()),
		"chainId": (*hexutil.Big)(big.NewInt(chainID)),
	}
	if to := tx.To(); to != nil {
		args["to"] = to
	}
	if tx.Type() == types.LegacyTxType {
		args["gasPrice"] = (*hexutil.Big)(tx.GasPrice())
	} else {
		args["maxFeePerGas"] = (*hexutil.Big)(tx.GasFeeCap())
		args["maxPriorityFeePerGas"] = (*hexutil.Big)(tx.GasTipCap())
	}

	var raw json.RawMessage
	if err := w.call(ctx, &raw, "eth_signTransaction", args); err != nil {
		return nil, err
	}
	encoded, err := decodeSigned(raw)
	if err != nil {
		return nil, err
	}

	signed := new(types.Transaction)
	if err := signed.UnmarshalBinary(encoded); err != nil {
		return nil, fmt.Errorf("failed to decode signed transaction: %w", err)
	}
	return signed, nil
}

// decodeSigned accepts either the raw hex string or an object with a raw field
func decodeSigned(raw json.RawMessage) ([]byte, error) {
	var asString hexutil.Bytes
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}
	var asObject struct {
		Raw hexutil.Bytes `json:"raw"`
	}
	if err := json.Unmarshal(raw, &asObject); err != nil || len(asObject.Raw) == 0 {
		return nil, fmt.Errorf("unexpected eth_signTransaction result %s", strings.TrimSpace(string(raw)))
	}
	return asObject.Raw, nil
}

// Events returns the notification channel
func (w *RemoteWallet) Events() <-chan Event {
	return w.events.ch
}

// Close stops the poller and closes the endpoint connection
func (w *RemoteWallet) Close() error {
	w.cancel()
	<-w.done
	w.client.Close()
	w.events.close()
	return nil
}

func (w *RemoteWallet) observeAccounts(accs []common.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if slices.Equal(accs, w.accounts) {
		return
	}
	w.accounts = slices.Clone(accs)
	w.events.emit(Event{Kind: AccountsChanged, Accounts: slices.Clone(accs)})
}

func (w *RemoteWallet) poll(ctx context.Context, interval time.Duration) {
	defer close(w.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *RemoteWallet) pollOnce(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	chainID, err := w.ChainID(callCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.mu.Lock()
		wasReachable := w.reachable
		w.reachable = false
		w.mu.Unlock()
		if wasReachable {
			w.logger.Warn("Wallet endpoint unreachable", zap.Error(err))
			w.events.emit(Event{Kind: Disconnected, Err: fmt.Errorf("%w: %v", ErrDisconnected, err)})
		}
		return
	}

	accs, err := w.Accounts(callCtx)
	if err != nil {
		w.logger.Debug("Failed to poll wallet accounts", zap.Error(err))
		return
	}

	w.mu.Lock()
	recovered := !w.reachable
	changed := w.chainID != 0 && w.chainID != chainID
	w.reachable = true
	w.chainID = chainID
	w.mu.Unlock()

	// a recovered endpoint is reported as a chain change so the session re-derives its state
	if changed || recovered {
		w.events.emit(Event{Kind: ChainChanged, ChainID: chainID})
	}
	w.observeAccounts(accs)
}
