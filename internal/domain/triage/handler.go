package triage

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/htncare/outreach/internal/platform/audit"
	"github.com/htncare/outreach/internal/platform/auth"
	"github.com/htncare/outreach/pkg/pagination"
)

type Handler struct {
	svc       *Service
	evaluator *Evaluator
	audit     audit.Recorder
}

func NewHandler(svc *Service, evaluator *Evaluator, rec audit.Recorder) *Handler {
	return &Handler{svc: svc, evaluator: evaluator, audit: rec}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("", auth.RequireAdmin())

	admin.POST("/call-list/refresh", h.RefreshCallList)
	admin.GET("/call-list", h.GetCallList)
	admin.GET("/call-list/:id", h.GetItem)
	admin.GET("/call-list/:id/attempts", h.GetItemAttempts)
	admin.POST("/call-list/:id/attempt", h.LogAttempt)
	admin.PUT("/call-list/:id/close", h.CloseItem)
	admin.PUT("/call-list/:id/schedule", h.ScheduleFollowUp)
	admin.POST("/call-list/:id/send-email", h.SendEmail)
	admin.GET("/patients/:id/call-history", h.GetCallHistory)
	admin.GET("/call-reports", h.GetCallReports)
}

func httpError(err error) error {
	switch {
	case err == nil:
		return nil
	case IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, "conflicting write, retry the request")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func itemID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// parseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *Handler) RefreshCallList(c echo.Context) error {
	ctx := c.Request().Context()
	res, err := h.evaluator.RunPass(ctx)
	if err != nil {
		return httpError(err)
	}
	h.audit.Record(ctx, audit.Entry{
		ActorID:  auth.UserIDFromContext(ctx),
		Action:   "CREATE",
		Resource: "call_list_refresh",
		Details:  map[string]interface{}{"items_created": res.ItemsCreated},
	})
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetCallList(c echo.Context) error {
	ctx := c.Request().Context()
	var listType *ListType
	if lt := c.QueryParam("list_type"); lt != "" {
		v := ListType(lt)
		listType = &v
	}

	res, err := h.svc.ListItems(ctx, listType, c.QueryParam("status"))
	if err != nil {
		return httpError(err)
	}
	h.audit.Record(ctx, audit.Entry{
		ActorID:  auth.UserIDFromContext(ctx),
		Action:   "READ",
		Resource: "call_list",
		Details:  map[string]interface{}{"count": res.TotalCount},
	})
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetItem(c echo.Context) error {
	id, err := itemID(c)
	if err != nil {
		return err
	}
	item, err := h.svc.GetItem(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) GetItemAttempts(c echo.Context) error {
	id, err := itemID(c)
	if err != nil {
		return err
	}
	attempts, err := h.svc.ListAttempts(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"attempts": attempts})
}

type attemptRequest struct {
	Outcome        string  `json:"outcome"`
	Notes          string  `json:"notes"`
	FollowUpNeeded bool    `json:"follow_up_needed"`
	FollowUpDate   string  `json:"follow_up_date"`
	FollowUpDays   *int    `json:"follow_up_days"`
	MaterialsSent  bool    `json:"materials_sent"`
	MaterialsDesc  *string `json:"materials_desc"`
	ReferralMade   bool    `json:"referral_made"`
	ReferralTo     *string `json:"referral_to"`
}

func (h *Handler) LogAttempt(c echo.Context) error {
	id, err := itemID(c)
	if err != nil {
		return err
	}
	var req attemptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	followUp, err := parseDate(req.FollowUpDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid follow_up_date format")
	}

	ctx := c.Request().Context()
	res, err := h.svc.LogAttempt(ctx, id, auth.UserIDFromContext(ctx), AttemptInput{
		Outcome:        Outcome(req.Outcome),
		Notes:          req.Notes,
		FollowUpNeeded: req.FollowUpNeeded,
		FollowUpDate:   followUp,
		FollowUpDays:   req.FollowUpDays,
		MaterialsSent:  req.MaterialsSent,
		MaterialsDesc:  req.MaterialsDesc,
		ReferralMade:   req.ReferralMade,
		ReferralTo:     req.ReferralTo,
	})
	if err != nil {
		return httpError(err)
	}
	h.audit.Record(ctx, audit.Entry{
		ActorID:    auth.UserIDFromContext(ctx),
		Action:     "CREATE",
		Resource:   "call_attempt",
		ResourceID: res.Attempt.ID.String(),
		Details: map[string]interface{}{
			"item_id":     id.String(),
			"outcome":     req.Outcome,
			"auto_closed": res.AutoClosed,
		},
	})
	return c.JSON(http.StatusCreated, res)
}

type closeRequest struct {
	Reason string `json:"reason"`
	Note   string `json:"note"`
}

func (h *Handler) CloseItem(c echo.Context) error {
	id, err := itemID(c)
	if err != nil {
		return err
	}
	var req closeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	item, err := h.svc.CloseItem(ctx, id, auth.UserIDFromContext(ctx), CloseReason(req.Reason), req.Note)
	if err != nil {
		return httpError(err)
	}
	h.audit.Record(ctx, audit.Entry{
		ActorID:    auth.UserIDFromContext(ctx),
		Action:     "UPDATE",
		Resource:   "call_list_item",
		ResourceID: id.String(),
		Details:    map[string]interface{}{"action": "manual_close", "reason": req.Reason},
	})
	return c.JSON(http.StatusOK, item)
}

type scheduleRequest struct {
	FollowUpDate string `json:"follow_up_date"`
	FollowUpDays *int   `json:"follow_up_days"`
}

func (h *Handler) ScheduleFollowUp(c echo.Context) error {
	id, err := itemID(c)
	if err != nil {
		return err
	}
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	date, err := parseDate(req.FollowUpDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid follow_up_date format")
	}

	ctx := c.Request().Context()
	item, err := h.svc.ScheduleFollowUp(ctx, id, date, req.FollowUpDays)
	if err != nil {
		return httpError(err)
	}
	h.audit.Record(ctx, audit.Entry{
		ActorID:    auth.UserIDFromContext(ctx),
		Action:     "UPDATE",
		Resource:   "call_list_item",
		ResourceID: id.String(),
		Details:    map[string]interface{}{"action": "schedule_follow_up", "date": item.FollowUpDate},
	})
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) SendEmail(c echo.Context) error {
	id, err := itemID(c)
	if err != nil {
		return err
	}
	var req EmailInput
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	res, err := h.svc.SendEmail(ctx, id, auth.UserIDFromContext(ctx), req)
	if err != nil {
		return httpError(err)
	}
	h.audit.Record(ctx, audit.Entry{
		ActorID:    auth.UserIDFromContext(ctx),
		Action:     "CREATE",
		Resource:   "email_sent",
		ResourceID: res.Attempt.ID.String(),
		Details:    map[string]interface{}{"item_id": id.String(), "sent": res.EmailSent},
	})
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetCallHistory(c echo.Context) error {
	pid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)

	ctx := c.Request().Context()
	attempts, total, err := h.svc.History(ctx, pid, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	h.audit.Record(ctx, audit.Entry{
		ActorID:    auth.UserIDFromContext(ctx),
		Action:     "READ",
		Resource:   "call_history",
		ResourceID: pid.String(),
		Details:    map[string]interface{}{"count": len(attempts)},
	})
	return c.JSON(http.StatusOK, pagination.NewResponse(attempts, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetCallReports(c echo.Context) error {
	var f ReportFilter

	from, err := parseDate(c.QueryParam("date_from"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date_from format, use YYYY-MM-DD")
	}
	f.From = from

	to, err := parseDate(c.QueryParam("date_to"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date_to format, use YYYY-MM-DD")
	}
	if to != nil {
		// Make date_to inclusive of the whole day.
		end := to.AddDate(0, 0, 1)
		f.To = &end
	}

	if v := c.QueryParam("outcome"); v != "" {
		o := Outcome(v)
		f.Outcome = &o
	}
	if v := c.QueryParam("list_type"); v != "" {
		lt := ListType(v)
		f.ListType = &lt
	}
	if v := c.QueryParam("case_worker_id"); v != "" {
		cw, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid case_worker_id")
		}
		f.CaseWorkerID = &cw
	}

	ctx := c.Request().Context()
	res, err := h.svc.Reports(ctx, f)
	if err != nil {
		return httpError(err)
	}
	h.audit.Record(ctx, audit.Entry{
		ActorID:  auth.UserIDFromContext(ctx),
		Action:   "READ",
		Resource: "call_reports",
		Details:  map[string]interface{}{"count": res.TotalCount},
	})
	return c.JSON(http.StatusOK, res)
}
