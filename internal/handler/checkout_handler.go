package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rs-labo46/ec-checkout/internal/usecase"
)

const IdempotencyHeader = "X-Idempotency-Key"

// /checkoutのHTTP
type CheckoutHandler struct {
	uc *usecase.CheckoutUsecase
}

func NewCheckoutHandler(uc *usecase.CheckoutUsecase) *CheckoutHandler {
	return &CheckoutHandler{uc: uc}
}

type CheckoutRequest struct {
	AddressID     int64  `json:"address_id"`
	PaymentMethod string `json:"payment_method"`
	ContactEmail  string `json:"contact_email"`
}

func (h *CheckoutHandler) RegisterRoutes(e *echo.Echo, auth echo.MiddlewareFunc) {
	g := e.Group("/checkout", auth)

	g.POST("", authed(h.create))
	g.GET("/:id", authed(h.status))
}

func (h *CheckoutHandler) create(c echo.Context, userID int64) error {
	var req CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	//二重送信防止キーはヘッダーから受け取る（bodyには入れない）
	out, err := h.uc.Checkout(c.Request().Context(), userID, usecase.CheckoutInput{
		AddressID:        req.AddressID,
		PaymentMethodRef: req.PaymentMethod,
		IdempotencyKey:   c.Request().Header.Get(IdempotencyHeader),
		ContactEmail:     req.ContactEmail,
	})
	if err != nil {
		return writeError(c, err)
	}

	if out.Accepted() {
		return c.JSON(http.StatusAccepted, out)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *CheckoutHandler) status(c echo.Context, userID int64) error {
	out, err := h.uc.GetCheckout(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
