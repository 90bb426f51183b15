package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rs-labo46/ec-checkout/internal/usecase"
)

// /cart のHTTP。レスポンスは毎回カート全体を返す
type CartHandler struct {
	uc *usecase.CartUsecase
}

func NewCartHandler(uc *usecase.CartUsecase) *CartHandler {
	return &CartHandler{uc: uc}
}

type AddCartRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type UpdateCartItemRequest struct {
	Quantity int64 `json:"quantity"`
}

func (h *CartHandler) RegisterRoutes(e *echo.Echo, auth echo.MiddlewareFunc) {
	g := e.Group("/cart", auth)

	g.GET("", authed(h.get))
	g.POST("", authed(h.add))
	g.PATCH("/:id", authed(h.update))
	g.DELETE("/:id", authed(h.remove))
}

func (h *CartHandler) get(c echo.Context, userID int64) error {
	return h.reply(c)(h.uc.GetCart(c.Request().Context(), userID))
}

func (h *CartHandler) add(c echo.Context, userID int64) error {
	var req AddCartRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	return h.reply(c)(h.uc.AddToCart(c.Request().Context(), userID, usecase.AddCartInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	}))
}

func (h *CartHandler) update(c echo.Context, userID int64) error {
	itemID, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}
	var req UpdateCartItemRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	return h.reply(c)(h.uc.UpdateCartItem(c.Request().Context(), userID, itemID, usecase.UpdateCartItemInput{
		Quantity: req.Quantity,
	}))
}

func (h *CartHandler) remove(c echo.Context, userID int64) error {
	itemID, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}
	return h.reply(c)(h.uc.DeleteCartItem(c.Request().Context(), userID, itemID))
}

func (h *CartHandler) reply(c echo.Context) func(usecase.CartResponse, error) error {
	return func(out usecase.CartResponse, err error) error {
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, out)
	}
}
