package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseToken(t *testing.T) {
	svc := NewService("test-secret", 1, false)

	token, err := svc.GenerateToken("user-1", "ops@example.com", "reviewer")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "ops@example.com", claims.Email)
	assert.Equal(t, "reviewer", claims.Role)
}

func TestParseTokenWrongSecret(t *testing.T) {
	token, err := NewService("secret-a", 1, false).GenerateToken("user-1", "a@b.c", "")
	require.NoError(t, err)

	_, err = NewService("secret-b", 1, false).ParseToken(token)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	svc := NewService("test-secret", 1, false)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		if ok {
			w.Header().Set("X-User", claims.Subject)
		}
		w.WriteHeader(http.StatusOK)
	})
	handler := svc.Middleware(next)

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/invoices", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := svc.GenerateToken("user-9", "x@y.z", "admin")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/invoices", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user-9", rec.Header().Get("X-User"))
	})

	t.Run("health stays public", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("disabled auth passes through", func(t *testing.T) {
		open := NewService("", 1, true).Middleware(next)
		rec := httptest.NewRecorder()
		open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/invoices", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)
}
