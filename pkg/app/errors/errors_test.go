package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceError_StatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{BadRequestError(nil, "bad"), http.StatusBadRequest},
		{UnAuthorizedError(nil, "who"), http.StatusUnauthorized},
		{ForbiddenError(nil, "no"), http.StatusForbidden},
		{ResourceNotFoundError(nil, "gone"), http.StatusNotFound},
		{ConflictError(nil, "state"), http.StatusConflict},
		{LockedError(nil, "busy"), http.StatusLocked},
		{DependencyError(nil, "ledger"), http.StatusBadGateway},
		{RecoveringError(nil, "later"), http.StatusServiceUnavailable},
		{&ServiceError{Category: CategoryGeneralError}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		var svcErr *ServiceError
		assert.True(t, errors.As(tt.err, &svcErr))
		assert.Equal(t, tt.want, svcErr.StatusCode(), svcErr.Category.String())
	}
}

func TestServiceError_Wrapping(t *testing.T) {
	cause := errors.New("rpc timeout")
	err := fmt.Errorf("join game 4: %w", DependencyError(cause, "Ledger unavailable"))

	assert.True(t, Is(err, CategoryDependencyFailure))
	assert.False(t, Is(err, CategoryRecovering))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "join game 4: rpc timeout", err.Error())

	assert.Equal(t, "bad", BadRequestError(nil, "bad").Error())
	assert.False(t, Is(cause, CategoryDependencyFailure))
}
