package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/rs-labo46/ec-checkout/internal/middleware"
)

// middleware.AuthJWT が c.Set("user_id", int64) した値を取り出す
func getUserIDFromContext(c echo.Context) (int64, bool) {
	id, ok := c.Get(middleware.CtxUserIDKey).(int64)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}

// ログインユーザーが要るハンドラー
type userHandlerFunc func(c echo.Context, userID int64) error

// user_idが取れなければ401
func authed(fn userHandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := getUserIDFromContext(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		}
		return fn(c, userID)
	}
}

// :id を数値で読む
func pathID(c echo.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}

// 無ければdef
func queryInt(c echo.Context, key string, def int) (int, error) {
	v := c.QueryParam(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
