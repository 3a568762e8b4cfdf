// Package http provides the chi error handling and JSON helpers shared by the
// HTTP surfaces of the daemon
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/chainsafe/elements-duel/pkg/app/errors"
)

// maxBodySize bounds request bodies read by DecodeJSON
const maxBodySize = 1 << 20

// HandlerFunc is an http handler that returns its error instead of writing it
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// ErrorResponse is the body written for every failed request
type ErrorResponse struct {
	ErrMsg     string `json:"error"`
	ErrMsgCode int    `json:"code"`
}

// HandleError adapts an error-returning handler for chi:
//
//	r.Post("/games", apphttp.HandleError(h.createGame))
func HandleError(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			DefaultErrorHandler(w, err)
		}
	}
}

// DefaultErrorHandler writes err as an ErrorResponse. Errors that are not
// service errors are reported as 500 without their message.
func DefaultErrorHandler(w http.ResponseWriter, err error) {
	var svcErr *apperrors.ServiceError
	if errors.As(err, &svcErr) {
		WriteJSON(w, svcErr.StatusCode(), &ErrorResponse{
			ErrMsg:     svcErr.Message,
			ErrMsgCode: svcErr.StatusCode(),
		})
		return
	}

	WriteJSON(w, http.StatusInternalServerError, &ErrorResponse{
		ErrMsg:     "Unexpected Service Error",
		ErrMsgCode: http.StatusInternalServerError,
	})
}

// WriteJSON writes v with the given status
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON reads a bounded request body into v. An empty body leaves v
// untouched.
func DecodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return apperrors.BadRequestError(err, "failed to read request body")
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperrors.BadRequestError(fmt.Errorf("decode body: %w", err), "invalid JSON")
	}
	return nil
}
