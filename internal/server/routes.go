package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/rs-labo46/ec-checkout/internal/handler"
	"github.com/rs-labo46/ec-checkout/internal/metrics"
	"github.com/rs-labo46/ec-checkout/internal/middleware"
)

type Handlers struct {
	Product  *handler.ProductHandler
	Address  *handler.AddressHandler
	Cart     *handler.CartHandler
	Checkout *handler.CheckoutHandler
	Order    *handler.OrderHandler
	Webhook  *handler.WebhookHandler
}

// ルーティングをまとめて登録したechoを返す
func NewEcho(jwtSecret string, h Handlers, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(m.Middleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	auth := middleware.AuthJWT(jwtSecret)
	h.Product.RegisterRoutes(e)
	h.Address.RegisterRoutes(e, auth)
	h.Cart.RegisterRoutes(e, auth)
	h.Checkout.RegisterRoutes(e, auth)
	h.Order.RegisterRoutes(e, auth)
	h.Webhook.RegisterRoutes(e)

	return e
}
