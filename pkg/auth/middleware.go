package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/chainsafe/elements-duel/pkg/app/errors"
	apphttp "github.com/chainsafe/elements-duel/pkg/app/http"
)

// Middleware rejects requests without a valid bearer token and stores the
// token subject in the request context
func Middleware(v *HMACValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r)
			if !ok {
				apphttp.DefaultErrorHandler(w, apperrors.UnAuthorizedError(ErrMissingToken, "bearer token required"))
				return
			}
			claims, err := v.ValidateToken(raw)
			if err != nil {
				logger.Debug("Rejected bearer token", zap.String("path", r.URL.Path), zap.Error(err))
				apphttp.DefaultErrorHandler(w, apperrors.UnAuthorizedError(err, "invalid bearer token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), claims.Subject)))
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
