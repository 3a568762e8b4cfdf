package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHMACValidator(t *testing.T) {
	v := NewHMACValidator("s3cret", "elementsd")

	token, err := v.IssueToken("operator", time.Minute)
	require.NoError(t, err)

	claims, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Subject)

	t.Run("wrong secret", func(t *testing.T) {
		other := NewHMACValidator("other", "elementsd")
		_, err := other.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewHMACValidator("s3cret", "someone-else")
		_, err := other.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		old, err := v.IssueToken("operator", -time.Minute)
		require.NoError(t, err)
		_, err = v.ValidateToken(old)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("no expiry", func(t *testing.T) {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x"}).SignedString([]byte("s3cret"))
		require.NoError(t, err)
		_, err = NewHMACValidator("s3cret", "").ValidateToken(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestMiddleware(t *testing.T) {
	v := NewHMACValidator("s3cret", "")
	var subject string
	h := Middleware(v, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	token, err := v.IssueToken("operator", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + token, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				assert.Equal(t, "operator", subject)
			}
		})
	}
}
