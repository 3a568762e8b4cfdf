package game

import (
	"errors"
	"fmt"
)

// Operation names a protocol step a client may request
type Operation string

const (
	OpJoin         Operation = "join"
	OpReveal       Operation = "reveal"
	OpCancel       Operation = "cancel"
	OpClaimTimeout Operation = "claim_timeout"
)

// ErrIllegalTransition is returned for an operation not allowed in the current status
var ErrIllegalTransition = errors.New("operation not allowed in current game status")

// transitions is the complete table of legal protocol edges
var transitions = map[Status]map[Operation]Status{
	Open: {
		OpJoin:   RevealPhase,
		OpCancel: Canceled,
	},
	RevealPhase: {
		OpReveal:       Completed,
		OpClaimTimeout: Completed,
	},
}

// Next returns the status reached by applying op in from, or
// ErrIllegalTransition if the table has no such edge.
func Next(from Status, op Operation) (Status, error) {
	to, ok := transitions[from][op]
	if !ok {
		return from, fmt.Errorf("%w: %s while %s", ErrIllegalTransition, op, from)
	}
	return to, nil
}

// Allowed reports whether op is legal in status s
func Allowed(s Status, op Operation) bool {
	_, err := Next(s, op)
	return err == nil
}

// Operations lists every operation known to the protocol
func Operations() []Operation {
	return []Operation{OpJoin, OpReveal, OpCancel, OpClaimTimeout}
}

// Statuses lists every status known to the protocol
func Statuses() []Status {
	return []Status{Open, RevealPhase, Completed, Expired, Canceled}
}

// Settle returns the result of a reveal between the creator's and the
// opponent's moves.
func Settle(creator, opponent Slot, creatorMove, opponentMove Move) Result {
	switch {
	case creatorMove == opponentMove:
		return Result{Outcome: Tie}
	case creatorMove.Beats(opponentMove):
		return Decided(creator.OrZero())
	default:
		return Decided(opponent.OrZero())
	}
}
