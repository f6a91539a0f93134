package routecache

import (
	"net/http"

	"courier-routing/internal/models"

	"github.com/labstack/echo/v4"
)

// Handler exposes the service-to-service invalidation hook. External order
// services call it whenever the pool changes (new order, cancellation,
// vehicle change) so affected couriers' caches are marked for revalidation.
type Handler struct {
	svc ServiceInterface
}

func NewHandler(svc ServiceInterface) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/invalidate", h.Invalidate)
}

func (h *Handler) Invalidate(c echo.Context) error {
	var req models.InvalidateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	if req.CourierID == "" && len(req.OrderIDs) == 0 {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "courier_id or order_ids is required"})
	}

	ctx := c.Request().Context()
	if req.CourierID != "" {
		if err := h.svc.InvalidateCouriers(ctx, req.CourierID); err != nil {
			c.Logger().Error("Handler.Invalidate: ", err)
			return c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Message: "Failed to invalidate courier cache"})
		}
	}
	if len(req.OrderIDs) > 0 {
		if err := h.svc.InvalidateOrders(ctx, req.OrderIDs); err != nil {
			c.Logger().Error("Handler.Invalidate: ", err)
			return c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Message: "Failed to invalidate order caches"})
		}
	}
	return c.NoContent(http.StatusNoContent)
}
