package episode

import (
	"errors"
	"net/http"
	"strconv"

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
	g := api.Group("", auth.RequireRole(auth.RoleOralSurgeon, auth.RoleProsthodontist))
	g.POST("/episodes", h.OpenEpisode)
	g.GET("/episodes/:id", h.GetEpisode)
	g.POST("/episodes/:id/close", h.CloseEpisode)
	g.GET("/episodes", h.ListEpisodes)
	g.POST("/episodes/:id/pathways", h.AddPathway)
	g.GET("/episodes/:id/next-step", h.NextStep)
	g.GET("/episodes/:id/pending-steps", h.PendingSteps)
	g.GET("/episodes/:id/steps", h.ListSteps)
	g.POST("/episodes/:id/steps/generate", h.GenerateSteps)
	g.DELETE("/episodes/:id/steps/:seq", h.DeleteStep)
	g.POST("/episodes/:id/steps/:seq/skip", h.SkipStep)
	g.POST("/episodes/:id/steps/:seq/reactivate", h.ReactivateStep)
	g.POST("/episodes/:id/steps/:seq/complete", h.CompleteStep)
}

func errorBody(c echo.Context, status int, code, reason string) error {
	return c.JSON(status, map[string]string{"code": code, "reason": reason})
}

func parseIDSeq(c echo.Context) (uuid.UUID, int, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	seq, err := strconv.Atoi(c.Param("seq"))
	if err != nil || seq < 0 {
		return uuid.Nil, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid seq")
	}
	return id, seq, nil
}

func (h *Handler) OpenEpisode(c echo.Context) error {
	var e Episode
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.OpenEpisode(c.Request().Context(), &e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetEpisode(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.GetEpisode(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "episode not found")
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) CloseEpisode(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.CloseEpisode(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListEpisodes(c echo.Context) error {
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type addPathwayRequest struct {
	PathwayID uuid.UUID `json:"pathway_id"`
}

func (h *Handler) AddPathway(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req addPathwayRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ep, err := h.svc.AddPathway(c.Request().Context(), id, req.PathwayID)
	if err != nil {
		if errors.Is(err, ErrEpisodeNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "episode not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, ep)
}

// nextStepResponse is the tagged Ready | Blocked projection payload.
type nextStepResponse struct {
	Status string          `json:"status"`
	Step   *StepProjection `json:"step,omitempty"`
	Code   string          `json:"code,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

func (h *Handler) NextStep(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	proj, blocked, err := h.svc.NextRequiredStep(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrEpisodeNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "episode not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if blocked != nil {
		return c.JSON(http.StatusOK, nextStepResponse{Status: "blocked", Code: blocked.Code, Reason: blocked.Reason})
	}
	if proj == nil {
		return c.JSON(http.StatusOK, nextStepResponse{Status: "complete"})
	}
	return c.JSON(http.StatusOK, nextStepResponse{Status: "ready", Step: proj})
}

type pendingStepsResponse struct {
	Status string           `json:"status"`
	Steps  []StepProjection `json:"steps,omitempty"`
	Code   string           `json:"code,omitempty"`
	Reason string           `json:"reason,omitempty"`
}

func (h *Handler) PendingSteps(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	steps, blocked, err := h.svc.AllPendingSteps(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrEpisodeNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "episode not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if blocked != nil {
		return c.JSON(http.StatusOK, pendingStepsResponse{Status: "blocked", Code: blocked.Code, Reason: blocked.Reason})
	}
	return c.JSON(http.StatusOK, pendingStepsResponse{Status: "ready", Steps: steps})
}

func (h *Handler) ListSteps(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	steps, err := h.svc.ListSteps(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, steps)
}

type generateStepsRequest struct {
	EpisodePathwayID *uuid.UUID `json:"episode_pathway_id"`
}

func (h *Handler) GenerateSteps(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req generateStepsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	generated, err := h.svc.GenerateSteps(c.Request().Context(), id, req.EpisodePathwayID)
	if err != nil {
		switch {
		case errors.Is(err, ErrEpisodeNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "episode not found")
		case errors.Is(err, ErrPathwayRefNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "pathway reference not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"generated": generated})
}

func (h *Handler) DeleteStep(c echo.Context) error {
	id, seq, err := parseIDSeq(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteStep(c.Request().Context(), id, seq); err != nil {
		switch {
		case errors.Is(err, ErrStepNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "step not found")
		case errors.Is(err, ErrStepNotDeletable):
			return errorBody(c, http.StatusBadRequest, "STEP_NOT_DELETABLE",
				"only pending or skipped steps can be deleted")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SkipStep(c echo.Context) error {
	id, seq, err := parseIDSeq(c)
	if err != nil {
		return err
	}
	if err := h.svc.SkipStep(c.Request().Context(), id, seq); err != nil {
		return stepMutationError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ReactivateStep(c echo.Context) error {
	id, seq, err := parseIDSeq(c)
	if err != nil {
		return err
	}
	if err := h.svc.ReactivateStep(c.Request().Context(), id, seq); err != nil {
		return stepMutationError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CompleteStep(c echo.Context) error {
	id, seq, err := parseIDSeq(c)
	if err != nil {
		return err
	}
	if err := h.svc.CompleteStep(c.Request().Context(), id, seq); err != nil {
		return stepMutationError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func stepMutationError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrStepNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "step not found")
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
