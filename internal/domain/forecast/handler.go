package forecast

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
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
	g.POST("/forecasts/batch", h.ComputeBatch)
	g.GET("/episodes/:id/forecast", h.GetForecast)
}

type batchRequest struct {
	EpisodeIDs []uuid.UUID `json:"episode_ids"`
}

type batchResponse struct {
	Forecasts map[uuid.UUID]*Forecast `json:"forecasts"`
	Meta      BatchMeta               `json:"meta"`
}

func (h *Handler) ComputeBatch(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	results, meta, err := h.svc.ComputeBatch(c.Request().Context(), req.EpisodeIDs)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, batchResponse{Forecasts: results, Meta: meta})
}

func (h *Handler) GetForecast(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	f, err := h.svc.ComputeEpisodeForecast(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrEpisodeNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "episode not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, f)
}
