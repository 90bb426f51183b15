package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

const CtxUserIDKey = "user_id" // int64

// subは数値でも文字列でも受ける
type userClaims struct {
	Sub json.Number `json:"sub"`
	jwt.RegisteredClaims
}

// bearer tokenを検証してuser_idをcontextに入れる。
// 発行は認証サービス側で、ここは検証だけ（HS256）
func AuthJWT(secret string) echo.MiddlewareFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	key := func(*jwt.Token) (interface{}, error) { return []byte(secret), nil }

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return unauthorized(c)
			}

			var claims userClaims
			token, err := parser.ParseWithClaims(raw, &claims, key)
			if err != nil || !token.Valid {
				return unauthorized(c)
			}

			userID, err := claims.Sub.Int64()
			if err != nil || userID <= 0 {
				return unauthorized(c)
			}

			c.Set(CtxUserIDKey, userID)
			return next(c)
		}
	}
}

// "Bearer <token>" のtoken部分
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type errorResponse struct {
	Error string `json:"error"`
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
}
