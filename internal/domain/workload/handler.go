package workload

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/clinicops/clinicops/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleOralSurgeon, auth.RoleProsthodontist))
	g.GET("/workload/advisory", h.Advisory)
}

func (h *Handler) Advisory(c echo.Context) error {
	horizonDays := 0
	if raw := c.QueryParam("horizon_days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid horizon_days")
		}
		horizonDays = v
	}
	advisory, err := h.svc.Advisory(c.Request().Context(), horizonDays)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, advisory)
}
