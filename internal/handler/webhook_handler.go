package handler

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rs-labo46/ec-checkout/internal/infra/gateway"
	"github.com/rs-labo46/ec-checkout/internal/usecase"
)

const maxWebhookBody = 1 << 20

// 決済ゲートウェイからの通知。JWTではなく署名で認証する
type WebhookHandler struct {
	reconciler *usecase.Reconciler
}

func NewWebhookHandler(r *usecase.Reconciler) *WebhookHandler {
	return &WebhookHandler{reconciler: r}
}

func (h *WebhookHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhooks/payments", h.receive)
}

// 2xxを返したものはゲートウェイが再送しない。処理失敗は5xxで再送させる
func (h *WebhookHandler) receive(c echo.Context) error {
	//署名は生のbodyに対して計算されるのでBindしない
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if len(body) > maxWebhookBody {
		return c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "body too large"})
	}

	res, err := h.reconciler.HandleDelivery(c.Request().Context(), body, c.Request().Header.Get(gateway.SignatureHeader))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
