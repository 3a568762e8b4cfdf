package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	apperrors "github.com/chainsafe/elements-duel/pkg/app/errors"
	"github.com/chainsafe/elements-duel/pkg/wallet"
)

// JSON-RPC codes some providers use for throttling
const (
	codeLimitExceeded = -32005
	codeTooMany       = 429
)

var (
	ErrNotConnected      = errors.New("wallet not connected")
	ErrWrongNetwork      = errors.New("wallet on wrong network")
	ErrSessionEnded      = errors.New("session ended")
	ErrTooSoon           = errors.New("connect attempted too soon")
	ErrBreakerOpen       = errors.New("connect circuit breaker open")
	ErrTransactionFailed = errors.New("transaction failed")
)

// PendingError reports a write that was submitted but whose receipt was not
// obtained. The transaction may still be mined.
type PendingError struct {
	TxHash common.Hash
	Err    error
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("waiting for %s: %v", e.TxHash.Hex(), e.Err)
}

func (e *PendingError) Unwrap() error {
	return e.Err
}

// Class is the failure taxonomy exposed to callers
type Class int

const (
	ClassUnknown Class = iota
	ClassUserRejected
	ClassWalletLocked
	ClassWrongNetwork
	ClassOverloaded
	ClassRateLimited
)

func (c Class) String() string {
	switch c {
	case ClassUserRejected:
		return "user_rejected"
	case ClassWalletLocked:
		return "wallet_locked"
	case ClassWrongNetwork:
		return "wrong_network"
	case ClassOverloaded:
		return "transport_overloaded"
	case ClassRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

var classMessages = map[Class]string{
	ClassUserRejected: "The request was rejected in the wallet.",
	ClassWalletLocked: "The wallet is locked. Unlock it and connect again.",
	ClassWrongNetwork: "The wallet is on an unsupported network. Switch networks to continue.",
	ClassOverloaded:   "The wallet provider is busy. Try again shortly.",
	ClassRateLimited:  "Too many requests to the wallet provider. Try again shortly.",
}

// Error is a classified provider failure
type Error struct {
	Class      Class
	Message    string
	RetryAfter time.Duration
	// Transient marks unknown-class errors shaped like network failures
	Transient bool
	Err       error

	lockout bool
}

func (e *Error) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry in %s)", e.Message, e.RetryAfter.Round(time.Second))
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retriable reports whether the retry policy may try again
func (e *Error) Retriable() bool {
	switch e.Class {
	case ClassOverloaded:
		return !e.lockout
	case ClassRateLimited:
		return true
	case ClassUnknown:
		return e.Transient
	}
	return false
}

func (e *Error) MarshalJSON() ([]byte, error) {
	type view struct {
		Class      string  `json:"class"`
		Message    string  `json:"message"`
		RetryAfter float64 `json:"retryAfterSeconds,omitempty"`
	}
	return json.Marshal(view{
		Class:      e.Class.String(),
		Message:    e.Message,
		RetryAfter: e.RetryAfter.Seconds(),
	})
}

func newError(class Class, err error) *Error {
	msg, ok := classMessages[class]
	if !ok {
		msg = err.Error()
	}
	return &Error{Class: class, Message: msg, Err: err}
}

var (
	overloadPatterns  = []string{"circuit breaker", "overloaded", "server is busy", "over capacity"}
	rateLimitPatterns = []string{"rate limit", "too many requests", "request limit"}
	networkPatterns   = []string{
		"timeout", "timed out", "connection refused", "connection reset",
		"broken pipe", "eof", "no such host", "network", "unavailable", "disconnected",
	}
)

// Classify maps an arbitrary provider or wallet error onto the taxonomy.
// It returns nil for a nil error and e itself for an already classified one.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	switch {
	case errors.Is(err, wallet.ErrUserRejected):
		return newError(ClassUserRejected, err)
	case errors.Is(err, wallet.ErrLocked):
		return newError(ClassWalletLocked, err)
	case errors.Is(err, ErrWrongNetwork), errors.Is(err, wallet.ErrUnknownChain):
		return newError(ClassWrongNetwork, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrSessionEnded):
		return newError(ClassUnknown, err)
	case errors.Is(err, wallet.ErrDisconnected), errors.Is(err, wallet.ErrUnavailable):
		e := newError(ClassUnknown, err)
		e.Transient = true
		return e
	}

	var coded rpc.Error
	if errors.As(err, &coded) {
		switch coded.ErrorCode() {
		case codeLimitExceeded, codeTooMany:
			return newError(ClassRateLimited, err)
		}
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests:
			return newError(ClassRateLimited, err)
		case http.StatusServiceUnavailable:
			return newError(ClassOverloaded, err)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, overloadPatterns):
		return newError(ClassOverloaded, err)
	case containsAny(msg, rateLimitPatterns):
		return newError(ClassRateLimited, err)
	}

	e := newError(ClassUnknown, err)
	e.Transient = containsAny(msg, networkPatterns)
	return e
}

// IsSessionGone reports whether err means there is no usable session
func IsSessionGone(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrSessionEnded) || errors.Is(err, ErrWrongNetwork)
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// ToServiceError maps connection failures onto API error categories.
// Errors not produced by this package are returned unchanged.
func ToServiceError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotConnected):
		return apperrors.RecoveringError(err, "Wallet not connected")
	case errors.Is(err, ErrSessionEnded):
		return apperrors.ConflictError(err, "Session ended before the call completed")
	case errors.Is(err, ErrTransactionFailed):
		return apperrors.ConflictError(err, "Transaction failed: "+rootMessage(err))
	}

	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	switch e.Class {
	case ClassUserRejected:
		return apperrors.ForbiddenError(err, e.Message)
	case ClassWalletLocked:
		return apperrors.LockedError(err, e.Message)
	case ClassWrongNetwork:
		return apperrors.ConflictError(err, e.Message)
	case ClassOverloaded, ClassRateLimited:
		return apperrors.RecoveringError(err, e.Error())
	default:
		return apperrors.DependencyError(err, e.Message)
	}
}

func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
