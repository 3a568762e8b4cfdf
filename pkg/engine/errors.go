package engine

import (
	"errors"

	apperrors "github.com/chainsafe/elements-duel/pkg/app/errors"
	"github.com/chainsafe/elements-duel/pkg/commitment"
	"github.com/chainsafe/elements-duel/pkg/connection"
	"github.com/chainsafe/elements-duel/pkg/game"
)

// ToServiceError maps engine failures onto API error categories and defers
// everything else to the connection mapping
func ToServiceError(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *apperrors.ServiceError
	if errors.As(err, &svcErr) {
		return err
	}

	switch {
	case errors.Is(err, ErrGameNotFound):
		return apperrors.ResourceNotFoundError(err, "Game not found")
	case errors.Is(err, ErrMissingCommitment):
		return apperrors.ResourceNotFoundError(err, "No stored move and secret for this game")
	case errors.Is(err, ErrCommitmentMismatch):
		return apperrors.BadRequestError(err, ErrCommitmentMismatch.Error())
	case errors.Is(err, ErrInvalidBet), errors.Is(err, ErrInvalidMove),
		errors.Is(err, commitment.ErrInvalidMove), errors.Is(err, commitment.ErrEmptySecret),
		errors.Is(err, commitment.ErrInvalidSecret):
		return apperrors.BadRequestError(err, err.Error())
	case errors.Is(err, ErrInsufficientBalance):
		return apperrors.BadRequestError(err, ErrInsufficientBalance.Error())
	case errors.Is(err, ErrNotCreator), errors.Is(err, ErrNotOpponent), errors.Is(err, ErrOwnGame):
		return apperrors.ForbiddenError(err, err.Error())
	case errors.Is(err, ErrBetMismatch), errors.Is(err, ErrAlreadyJoined),
		errors.Is(err, ErrDeadlineNotReached), errors.Is(err, game.ErrIllegalTransition):
		return apperrors.ConflictError(err, err.Error())
	}
	return connection.ToServiceError(err)
}
