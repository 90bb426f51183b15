package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func mustMakeJWT(t *testing.T, secret string, claims jwt.MapClaims, method jwt.SigningMethod) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func newProtected() *echo.Echo {
	e := echo.New()
	e.GET("/protected", func(c echo.Context) error {
		userID, _ := c.Get(CtxUserIDKey).(int64)
		return c.JSON(http.StatusOK, map[string]int64{"user_id": userID})
	}, AuthJWT(testSecret))
	return e
}

func runRequest(e *echo.Echo, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set(echo.HeaderAuthorization, authHeader)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAuthJWT_Unauthorized(t *testing.T) {
	future := time.Now().Add(time.Hour).Unix()
	valid := jwt.MapClaims{"sub": 1, "exp": future}
	cases := map[string]string{
		"no header":     "",
		"bad scheme":    "Token abc.def.ghi",
		"empty token":   "Bearer ",
		"garbage":       "Bearer not-a-jwt",
		"bad signature": "Bearer " + mustMakeJWT(t, "wrong-secret", valid, jwt.SigningMethodHS256),
		"wrong alg":     "Bearer " + mustMakeJWT(t, testSecret, valid, jwt.SigningMethodHS512),
		"expired":       "Bearer " + mustMakeJWT(t, testSecret, jwt.MapClaims{"sub": 1, "exp": 1}, jwt.SigningMethodHS256),
		"no sub":        "Bearer " + mustMakeJWT(t, testSecret, jwt.MapClaims{"exp": future}, jwt.SigningMethodHS256),
		"sub not int":   "Bearer " + mustMakeJWT(t, testSecret, jwt.MapClaims{"sub": "abc"}, jwt.SigningMethodHS256),
		"sub zero":      "Bearer " + mustMakeJWT(t, testSecret, jwt.MapClaims{"sub": 0}, jwt.SigningMethodHS256),
	}
	e := newProtected()
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			rec := runRequest(e, header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			var body errorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, "unauthorized", body.Error)
		})
	}
}

func TestAuthJWT_SetsUserID(t *testing.T) {
	e := newProtected()

	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   int64
	}{
		{"string sub", jwt.MapClaims{"sub": "123", "exp": time.Now().Add(time.Hour).Unix()}, 123},
		{"numeric sub without exp", jwt.MapClaims{"sub": 7}, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := runRequest(e, "bearer "+mustMakeJWT(t, testSecret, tt.claims, jwt.SigningMethodHS256))
			require.Equal(t, http.StatusOK, rec.Code)
			var body map[string]int64
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.want, body["user_id"])
		})
	}
}
