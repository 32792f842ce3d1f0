package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func authTestHandler(t *testing.T, capture *AuthenticatedOperator) http.Handler {
	mw := AuthMiddleware(testSecret, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator, ok := r.Context().Value(AuthenticatedOperatorContextKey).(AuthenticatedOperator)
		require.True(t, ok, "operator present in context")
		*capture = operator
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	var operator AuthenticatedOperator
	handler := authTestHandler(t, &operator)

	token := signToken(t, testSecret, jwt.MapClaims{
		"sub":      "operator-1",
		"is_admin": true,
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "operator-1", operator.ID)
	assert.True(t, operator.IsAdmin)
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
	}{
		{"missing header", ""},
		{"not a bearer token", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
		{
			"wrong signing key",
			"Bearer " + func() string {
				token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "operator-1"})
				signed, _ := token.SignedString([]byte("some-other-secret"))
				return signed
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var operator AuthenticatedOperator
			handler := authTestHandler(t, &operator)

			req := httptest.NewRequest(http.MethodGet, "/messages", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Empty(t, operator.ID, "handler not reached")
		})
	}
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	var operator AuthenticatedOperator
	handler := authTestHandler(t, &operator)

	token := signToken(t, testSecret, jwt.MapClaims{
		"sub": "operator-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthMiddleware_MissingSubjectClaim(t *testing.T) {
	var operator AuthenticatedOperator
	handler := authTestHandler(t, &operator)

	token := signToken(t, testSecret, jwt.MapClaims{
		"is_admin": true,
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
