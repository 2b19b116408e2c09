package ledger

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mobiletoly/go-posync/internal/auth"
	"github.com/stretchr/testify/require"
)

func TestJWTAuth_GenerateToken(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret", nil)

	token, err := jwtAuth.GenerateToken("shop-1", "terminal-1", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jwtAuth.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "shop-1", claims.Subject)
	require.Equal(t, "terminal-1", claims.DeviceID)
	require.NotNil(t, claims.ExpiresAt)
	require.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Second)
}

func TestJWTAuth_ValidateToken_Failures(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret", nil)

	t.Run("wrong secret", func(t *testing.T) {
		token, err := NewJWTAuth("other-secret", nil).GenerateToken("shop-1", "terminal-1", time.Hour)
		require.NoError(t, err)
		_, err = jwtAuth.ValidateToken(token)
		require.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := jwtAuth.GenerateToken("shop-1", "terminal-1", -time.Minute)
		require.NoError(t, err)
		_, err = jwtAuth.ValidateToken(token)
		require.Error(t, err)
	})

	t.Run("missing device", func(t *testing.T) {
		claims := &JWTClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "shop-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = jwtAuth.ValidateToken(token)
		require.ErrorContains(t, err, "did")
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := jwtAuth.ValidateToken("not-a-jwt")
		require.Error(t, err)
	})
}

func TestJWTAuth_Middleware(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret", nil)
	var gotShop, gotDevice string
	h := jwtAuth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotShop, _ = auth.GetShopID(r.Context())
		gotDevice, _ = auth.GetDeviceID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/products", nil)
	req.Header.Set("Authorization", "Token abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := jwtAuth.GenerateToken("shop-7", "terminal-3", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/products", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "shop-7", gotShop)
	require.Equal(t, "terminal-3", gotDevice)
}
