package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-engine/internal/common/errors"
)

const testSecret = "test-jwt-secret-at-least-32-chars!!"

func TestGenerateAndValidateToken(t *testing.T) {
	a := New(testSecret, time.Hour)

	token, err := a.GenerateToken("user-123")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
	assert.Equal(t, issuer, claims.Issuer)
}

func TestValidateToken_Expired(t *testing.T) {
	a := New(testSecret, time.Hour)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: "user-123",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			Issuer:    issuer,
		},
	})
	tokenString, err := expired.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = a.ValidateToken(tokenString)
	assert.True(t, errors.IsType(err, errors.ErrTypeAuthentication))
}

func TestValidateToken_WrongSecret(t *testing.T) {
	other := New("another-jwt-secret-also-32-chars-long", time.Hour)
	token, err := other.GenerateToken("user-123")
	require.NoError(t, err)

	a := New(testSecret, time.Hour)
	_, err = a.ValidateToken(token)
	assert.True(t, errors.IsType(err, errors.ErrTypeAuthentication))
}

func TestValidateToken_Garbage(t *testing.T) {
	a := New(testSecret, time.Hour)

	_, err := a.ValidateToken("not.a.token")
	assert.True(t, errors.IsType(err, errors.ErrTypeAuthentication))
}

func TestMiddleware(t *testing.T) {
	a := New(testSecret, time.Hour)

	var gotUserID string
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid token", func(t *testing.T) {
		token, err := a.GenerateToken("user-123")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/units", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user-123", gotUserID)
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/units", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/units", nil)
		req.Header.Set("Authorization", "Bearer nonsense")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
