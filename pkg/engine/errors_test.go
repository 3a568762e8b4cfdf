package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/chainsafe/elements-duel/pkg/app/errors"
	"github.com/chainsafe/elements-duel/pkg/connection"
	"github.com/chainsafe/elements-duel/pkg/game"
)

func TestToServiceError(t *testing.T) {
	tests := []struct {
		err  error
		want apperrors.Category
	}{
		{fmt.Errorf("game 3: %w", ErrGameNotFound), apperrors.CategoryResourceNotFound},
		{ErrMissingCommitment, apperrors.CategoryResourceNotFound},
		{ErrInvalidBet, apperrors.CategoryDataError},
		{fmt.Errorf("%w: %w", ErrCommitmentMismatch, connection.ErrTransactionFailed), apperrors.CategoryDataError},
		{ErrNotOpponent, apperrors.CategoryForbidden},
		{fmt.Errorf("game 3: %w", game.ErrIllegalTransition), apperrors.CategoryDataConflict},
		{ErrDeadlineNotReached, apperrors.CategoryDataConflict},
		{connection.ErrNotConnected, apperrors.CategoryRecovering},
		{fmt.Errorf("wrapped: %w", connection.ErrTransactionFailed), apperrors.CategoryDataConflict},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.True(t, apperrors.Is(ToServiceError(tt.err), tt.want))
		})
	}

	assert.Nil(t, ToServiceError(nil))

	plain := errors.New("boom")
	assert.Equal(t, plain, ToServiceError(plain))
}
