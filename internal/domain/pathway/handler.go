package pathway

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicops/clinicops/internal/platform/auth"
	"github.com/clinicops/clinicops/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleOralSurgeon, auth.RoleProsthodontist))
	read.GET("/pathways", h.ListPathways)
	read.GET("/pathways/:id", h.GetPathway)
	read.GET("/pathways/:id/steps", h.ListSteps)

	// Catalog writes are admin only
	write := api.Group("", auth.RequireRole())
	write.POST("/pathways", h.CreatePathway)
	write.PUT("/pathways/:id/steps/:code/label", h.UpdateStepLabel)
	write.DELETE("/pathways/:id", h.DeactivatePathway)
}

type createPathwayRequest struct {
	Code  string         `json:"code"`
	Name  string         `json:"name"`
	Steps []*PathwayStep `json:"steps"`
}

func (h *Handler) CreatePathway(c echo.Context) error {
	var req createPathwayRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p := &CarePathway{Code: req.Code, Name: req.Name}
	if err := h.svc.CreatePathway(c.Request().Context(), p, req.Steps); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPathway(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPathway(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "pathway not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPathways(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPathways(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListSteps(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	steps, err := h.svc.Steps(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, steps)
}

type updateLabelRequest struct {
	Label string `json:"label"`
}

func (h *Handler) UpdateStepLabel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req updateLabelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateStepLabel(c.Request().Context(), id, c.Param("code"), req.Label); err != nil {
		if errors.Is(err, ErrStepNotInCatalog) {
			return echo.NewHTTPError(http.StatusNotFound, "step not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeactivatePathway(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeactivatePathway(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
