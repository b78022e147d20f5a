package booking

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
	g := api.Group("", auth.RequireRole(auth.RoleOralSurgeon, auth.RoleProsthodontist))
	g.POST("/intents", h.CreateIntent)
	g.GET("/intents/:id", h.GetIntent)
	g.POST("/intents/:id/convert", h.Convert)
	g.GET("/appointments/:id", h.GetAppointment)
	g.GET("/appointments", h.ListAppointments)
	g.POST("/appointments/:id/approve", h.Approve)
	g.POST("/appointments/:id/reject", h.Reject)
	g.POST("/appointments/:id/cancel", h.Cancel)
	g.GET("/episodes/:id/override-audits", h.ListOverrideAudits)

	// Slot administration and tripwires are admin only
	adminGroup := api.Group("", auth.RequireRole())
	adminGroup.POST("/slots", h.CreateSlot)
	adminGroup.GET("/slots", h.ListSlots)
	adminGroup.GET("/slots/:id", h.GetSlot)
	adminGroup.POST("/slots/:id/block", h.BlockSlot)
	adminGroup.GET("/tripwires/one-hard-next", h.OneHardNextTripwire)
	adminGroup.GET("/tripwires/expired-holds", h.ExpiredHoldsTripwire)
}

// conversionError maps domain sentinels to stable machine-readable codes.
// Clients drive their error taxonomy off the code, never the message.
func conversionError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrIntentNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{
			"code": "INTENT_NOT_FOUND", "reason": "intent does not exist"})
	case errors.Is(err, ErrIntentNotOpen):
		return c.JSON(http.StatusConflict, map[string]string{
			"code": "INTENT_NOT_OPEN", "reason": "intent was already converted or expired"})
	case errors.Is(err, ErrOneHardNext):
		return c.JSON(http.StatusConflict, map[string]string{
			"code": "ONE_HARD_NEXT_VIOLATION", "reason": "episode already has an outstanding hard work booking"})
	case errors.Is(err, ErrSlotAlreadyBooked):
		return c.JSON(http.StatusBadRequest, map[string]string{
			"code": "SLOT_ALREADY_BOOKED", "reason": "the requested slot is no longer free"})
	case errors.Is(err, ErrSlotNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{
			"code": "SLOT_NOT_FOUND", "reason": "no free slot matches the intent window"})
	case errors.Is(err, ErrEpisodeNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{
			"code": "EPISODE_NOT_FOUND", "reason": "episode does not exist"})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) CreateIntent(c echo.Context) error {
	var in SlotIntent
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateIntent(c.Request().Context(), &in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, in)
}

func (h *Handler) GetIntent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	in, err := h.svc.GetIntent(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "intent not found")
	}
	return c.JSON(http.StatusOK, in)
}

type convertRequest struct {
	TimeSlotID         *uuid.UUID  `json:"time_slot_id"`
	AlternativeSlotIDs []uuid.UUID `json:"alternative_slot_ids"`
}

func (h *Handler) Convert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req convertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	caller := Caller{
		UserID: auth.UserIDFromContext(ctx),
		Email:  auth.EmailFromContext(ctx),
	}
	appt, err := h.svc.Convert(ctx, id, caller, req.TimeSlotID, req.AlternativeSlotIDs)
	if err != nil {
		return conversionError(c, err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	appt, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	episodeID, err := uuid.Parse(c.QueryParam("episode_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "episode_id is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAppointmentsByEpisode(c.Request().Context(), episodeID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func lifecycleError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrAppointmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	case errors.Is(err, ErrNotPending):
		return c.JSON(http.StatusConflict, map[string]string{
			"code": "NOT_PENDING", "reason": "appointment is not awaiting approval"})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) Approve(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	appt, err := h.svc.Approve(c.Request().Context(), id)
	if err != nil {
		return lifecycleError(c, err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) Reject(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	appt, err := h.svc.Reject(c.Request().Context(), id)
	if err != nil {
		return lifecycleError(c, err)
	}
	return c.JSON(http.StatusOK, appt)
}

type cancelRequest struct {
	By string `json:"by"`
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.svc.Cancel(c.Request().Context(), id, req.By)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) ListOverrideAudits(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	audits, err := h.svc.ListOverrideAudits(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, audits)
}

func (h *Handler) CreateSlot(c echo.Context) error {
	var sl Slot
	if err := c.Bind(&sl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateSlot(c.Request().Context(), &sl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, sl)
}

func (h *Handler) GetSlot(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sl, err := h.svc.GetSlot(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "slot not found")
	}
	return c.JSON(http.StatusOK, sl)
}

func (h *Handler) ListSlots(c echo.Context) error {
	var providerID *uuid.UUID
	if p := c.QueryParam("provider_id"); p != "" {
		pid, err := uuid.Parse(p)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid provider_id")
		}
		providerID = &pid
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSlots(c.Request().Context(), providerID, c.QueryParam("state"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) BlockSlot(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.BlockSlot(c.Request().Context(), id); err != nil {
		switch {
		case errors.Is(err, ErrSlotNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "slot not found")
		case errors.Is(err, ErrSlotAlreadyBooked):
			return c.JSON(http.StatusConflict, map[string]string{
				"code": "SLOT_ALREADY_BOOKED", "reason": "booked slots cannot be blocked"})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) OneHardNextTripwire(c echo.Context) error {
	violations, err := h.svc.OneHardNextViolations(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"violations": violations,
		"count":      len(violations),
	})
}

func (h *Handler) ExpiredHoldsTripwire(c echo.Context) error {
	holds, err := h.svc.ExpiredHolds(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"expired_holds": holds,
		"count":         len(holds),
	})
}
