package connection

import (
	"encoding/json"
	"time"

	"github.com/chainsafe/elements-duel/pkg/ethereum"
	"github.com/chainsafe/elements-duel/pkg/game"
)

// Status is the session state
type Status int

const (
	Idle Status = iota
	Connecting
	Connected
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// State is a snapshot of the session as exposed to collaborators.
// ChainID is nil while the chain is unknown.
type State struct {
	Status            Status    `json:"status"`
	Account           game.Slot `json:"account"`
	ChainID           *int64    `json:"chainId"`
	IsExpectedNetwork bool      `json:"isExpectedNetwork"`
	Balance           string    `json:"balance"`
	IsOwner           bool      `json:"isOwner"`
	WalletLocked      bool      `json:"walletLocked"`
	LastError         *Error    `json:"lastError"`
	SessionID         string    `json:"sessionId,omitempty"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Usable reports whether ledger calls may be made
func (s State) Usable() bool {
	return s.Status == Connected && s.IsExpectedNetwork
}

func idleState(now time.Time) State {
	return State{Status: Idle, Balance: ethereum.FormatUnits(nil, 0, balancePlaces), UpdatedAt: now}
}

func int64Ptr(v int64) *int64 {
	return &v
}
