package routes

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"courier-routing/internal/models"
	"courier-routing/internal/modules/routecache"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var defaultBuckets = []int{60, 120, 180}

// Handler exposes the courier-facing route endpoints: candidate options,
// claiming, and the stop-by-stop lifecycle.
type Handler struct {
	svc      ServiceInterface
	cache    routecache.ServiceInterface
	validate *validator.Validate
}

func NewHandler(svc ServiceInterface, cacheSvc routecache.ServiceInterface) *Handler {
	return &Handler{
		svc:      svc,
		cache:    cacheSvc,
		validate: validator.New(),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/routes/options", h.GetRouteOptions)
	g.POST("/routes/claim", h.ClaimRoute)
	g.GET("/routes", h.ListRoutes)
	g.GET("/routes/:routeId", h.GetRoute)
	g.POST("/routes/:routeId/stops/:stopId/arrive", h.ArriveAtStop)
	g.POST("/routes/:routeId/stops/:stopId/complete", h.CompleteStop)
	g.POST("/routes/:routeId/stops/:stopId/skip", h.SkipStop)
	g.POST("/routes/:routeId/abandon", h.AbandonRoute)
}

// GetRouteOptions serves cached or freshly generated candidate routes, one
// per requested duration bucket.
func (h *Handler) GetRouteOptions(c echo.Context) error {
	courierID := c.Get("courierID").(string)

	var req models.RouteOptionsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid query parameters"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error()})
	}
	buckets, err := parseBuckets(req.Buckets)
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "buckets must be positive minute values"})
	}

	options, err := h.cache.GetOrGenerateRoutes(c.Request().Context(), routecache.RouteQuery{
		CourierID:    courierID,
		Vehicle:      models.VehicleProfile{Type: req.Vehicle},
		Start:        models.Coordinates{Lat: req.Lat, Lng: req.Lng},
		Buckets:      buckets,
		BreakMinutes: req.BreakMinutes,
	})
	if err != nil {
		return h.writeError(c, "Failed to get route options", err)
	}
	return c.JSON(http.StatusOK, options)
}

func (h *Handler) ClaimRoute(c echo.Context) error {
	courierID := c.Get("courierID").(string)

	var req models.ClaimRouteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error()})
	}

	route, err := h.svc.Claim(c.Request().Context(), courierID, req.CandidateRouteID)
	if err != nil {
		if errors.Is(err, models.ErrCandidateExpired) {
			return c.JSON(http.StatusConflict, models.ErrorResponse{Message: "Candidate route expired, refresh your options"})
		}
		if errors.Is(err, models.ErrConflict) {
			return c.JSON(http.StatusConflict, models.ErrorResponse{Message: "An order in this route was claimed by another courier"})
		}
		return h.writeError(c, "Failed to claim route", err)
	}
	return c.JSON(http.StatusCreated, route)
}

func (h *Handler) ListRoutes(c echo.Context) error {
	courierID := c.Get("courierID").(string)

	page := 1
	limit := 10
	if pageStr := c.QueryParam("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	routes, total, err := h.svc.ListRoutes(c.Request().Context(), courierID, page, limit)
	if err != nil {
		return h.writeError(c, "Failed to list routes", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"routes": routes,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

func (h *Handler) GetRoute(c echo.Context) error {
	courierID := c.Get("courierID").(string)
	route, err := h.svc.GetRoute(c.Request().Context(), courierID, c.Param("routeId"))
	if err != nil {
		return h.writeError(c, "Failed to get route", err)
	}
	return c.JSON(http.StatusOK, route)
}

func (h *Handler) ArriveAtStop(c echo.Context) error {
	courierID := c.Get("courierID").(string)
	route, err := h.svc.ArriveAtStop(c.Request().Context(), courierID, c.Param("routeId"), c.Param("stopId"))
	if err != nil {
		return h.writeError(c, "Failed to record arrival", err)
	}
	return c.JSON(http.StatusOK, route)
}

func (h *Handler) CompleteStop(c echo.Context) error {
	courierID := c.Get("courierID").(string)
	route, err := h.svc.CompleteStop(c.Request().Context(), courierID, c.Param("routeId"), c.Param("stopId"))
	if err != nil {
		return h.writeError(c, "Failed to complete stop", err)
	}
	return c.JSON(http.StatusOK, route)
}

func (h *Handler) SkipStop(c echo.Context) error {
	courierID := c.Get("courierID").(string)
	route, err := h.svc.SkipStop(c.Request().Context(), courierID, c.Param("routeId"), c.Param("stopId"))
	if err != nil {
		return h.writeError(c, "Failed to skip stop", err)
	}
	return c.JSON(http.StatusOK, route)
}

func (h *Handler) AbandonRoute(c echo.Context) error {
	courierID := c.Get("courierID").(string)

	var req models.AbandonRouteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error()})
	}

	route, err := h.svc.Abandon(c.Request().Context(), courierID, c.Param("routeId"), req.Reason)
	if err != nil {
		return h.writeError(c, "Failed to abandon route", err)
	}
	return c.JSON(http.StatusOK, route)
}

// writeError maps domain errors onto HTTP statuses. Conflicts are surfaced
// distinctly so the client can tell "refresh and retry" apart from failures.
func (h *Handler) writeError(c echo.Context, msg string, err error) error {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: msg + ": " + models.ErrInvalidInput.Error()})
	case errors.Is(err, models.ErrNotFound):
		return c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Route not found"})
	case errors.Is(err, models.ErrForbidden):
		return c.JSON(http.StatusForbidden, models.ErrorResponse{Message: "Not your route"})
	case errors.Is(err, models.ErrConflict):
		return c.JSON(http.StatusConflict, models.ErrorResponse{Message: "Route state changed, refresh and retry"})
	case errors.Is(err, models.ErrUnavailable):
		return c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Message: "Service temporarily unavailable"})
	default:
		c.Logger().Error(msg+": ", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: msg})
	}
}

func parseBuckets(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultBuckets, nil
	}
	parts := strings.Split(raw, ",")
	buckets := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v <= 0 {
			return nil, models.ErrInvalidInput
		}
		buckets = append(buckets, v)
	}
	return buckets, nil
}
