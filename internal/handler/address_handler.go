package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rs-labo46/ec-checkout/internal/usecase"
)

type AddressHandler struct {
	uc *usecase.AddressUsecase
}

func NewAddressHandler(uc *usecase.AddressUsecase) *AddressHandler {
	return &AddressHandler{uc: uc}
}

func (h *AddressHandler) RegisterRoutes(e *echo.Echo, auth echo.MiddlewareFunc) {
	g := e.Group("/addresses", auth)

	g.GET("", authed(h.list))
	g.POST("", authed(h.create))
}

func (h *AddressHandler) list(c echo.Context, userID int64) error {
	list, err := h.uc.List(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *AddressHandler) create(c echo.Context, userID int64) error {
	var req usecase.AddressCreateInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	created, err := h.uc.Create(c.Request().Context(), userID, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}
