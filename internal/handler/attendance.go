package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"attendtrack/internal/apperr"
	"attendtrack/internal/attendance"
	"attendtrack/internal/calendar"
)

const defaultStatsWindow = 7

type markRequest struct {
	UserID     string   `json:"userId" binding:"required"`
	Status     string   `json:"status" binding:"omitempty,oneof=Present Absent Late Leave"`
	Method     string   `json:"method" binding:"omitempty,oneof=face-recognition manual"`
	Confidence *float64 `json:"confidence" binding:"omitempty,min=0,max=100"`
	Notes      string   `json:"notes" binding:"max=500"`
}

// image is checked by the reconciler so a disabled gateway is reported
// before a missing image.
type recognizeRequest struct {
	Image     string `json:"image"`
	ImageData string `json:"imageData"`
}

func (r recognizeRequest) image() string {
	if r.Image != "" {
		return r.Image
	}
	return r.ImageData
}

type markAbsentRequest struct {
	UserIDs []string `json:"userIds"`
	Date    string   `json:"date"`
}

type backfillSummary struct {
	Results []attendance.BackfillResult `json:"results"`
	Created int                         `json:"created"`
	Updated int                         `json:"updated"`
	Failed  int                         `json:"failed"`
}

// POST /api/attendance/mark
func (h *Handler) Mark(c *gin.Context) {
	var req markRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err, nil)
		return
	}
	rec, err := h.marks.MarkManual(c.Request.Context(), actorOf(c).ID, attendance.ManualMark{
		UserID:     req.UserID,
		Status:     attendance.Status(req.Status),
		Method:     attendance.Method(req.Method),
		Confidence: req.Confidence,
		Notes:      req.Notes,
	})
	h.respondMark(c, rec, err)
}

// POST /api/attendance/recognize
func (h *Handler) Recognize(c *gin.Context) {
	var req recognizeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.fail(c, apperr.Wrap(apperr.KindValidation, "invalid request body", err), nil)
		return
	}
	rec, err := h.marks.MarkViaRecognition(c.Request.Context(), actorOf(c).ID, req.image())
	h.respondMark(c, rec, err)
}

func (h *Handler) respondMark(c *gin.Context, rec attendance.Record, err error) {
	switch {
	case apperr.Is(err, apperr.KindAlreadyMarked):
		h.fail(c, err, rec)
	case err != nil:
		h.fail(c, err, nil)
	default:
		ok(c, http.StatusCreated, "Attendance marked successfully", rec)
	}
}

// POST /api/attendance/mark-absent
func (h *Handler) MarkAbsent(c *gin.Context) {
	var req markAbsentRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err, nil)
		return
	}
	var forDate *time.Time
	if req.Date != "" {
		d, err := h.cal.Parse(req.Date)
		if err != nil {
			h.fail(c, apperr.Validation("date must be YYYY-MM-DD"), nil)
			return
		}
		forDate = &d
	}
	results, err := h.marks.BackfillAbsences(c.Request.Context(), actorOf(c).ID, req.UserIDs, forDate)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	sum := backfillSummary{Results: results}
	for _, r := range results {
		switch r.Outcome {
		case attendance.OutcomeCreated:
			sum.Created++
		case attendance.OutcomeUpdated:
			sum.Updated++
		default:
			sum.Failed++
		}
	}
	ok(c, http.StatusOK, fmt.Sprintf("Processed %d users", len(results)), sum)
}

// GET /api/attendance/absent-today
func (h *Handler) AbsentToday(c *gin.Context) {
	day, err := h.cal.Parse(c.Query("date"))
	if err != nil {
		h.fail(c, apperr.Validation("date must be YYYY-MM-DD"), nil)
		return
	}
	users, err := h.marks.FindUnrecordedUsers(c.Request.Context(), &day)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, "", gin.H{"date": calendar.Key(day), "count": len(users), "users": users})
}

// GET /api/attendance/today
func (h *Handler) Today(c *gin.Context) {
	snap, err := h.reports.TodaySnapshot(c.Request.Context())
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, "", snap)
}

// GET /api/attendance/my-today
func (h *Handler) MyToday(c *gin.Context) {
	mine, err := h.reports.MyToday(c.Request.Context(), actorOf(c).ID)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, "", mine)
}

// GET /api/attendance/history/:userId
func (h *Handler) History(c *gin.Context) {
	userID := c.Param("userId")
	if actor := actorOf(c); !actor.IsAdmin() && actor.ID != userID {
		h.fail(c, apperr.Forbidden("not authorized to view this history"), nil)
		return
	}
	from, err := h.optionalDate(c.Query("startDate"), "startDate")
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	to, err := h.optionalDate(c.Query("endDate"), "endDate")
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	hist, err := h.reports.HistoryAndStats(c.Request.Context(), userID, attendance.HistoryFilter{
		From:   from,
		To:     to,
		Status: attendance.Status(c.Query("status")),
	})
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, "", hist)
}

// GET /api/attendance/report
func (h *Handler) Report(c *gin.Context) {
	from, err := h.optionalDate(c.Query("startDate"), "startDate")
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	to, err := h.optionalDate(c.Query("endDate"), "endDate")
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	records, err := h.reports.Report(c.Request.Context(), attendance.ReportFilter{
		From:       from,
		To:         to,
		Department: c.Query("department"),
		Status:     attendance.Status(c.Query("status")),
	})
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, "", gin.H{"count": len(records), "attendance": records})
}

// GET /api/attendance/stats
func (h *Handler) Stats(c *gin.Context) {
	days := defaultStatsWindow
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 366 {
			h.fail(c, apperr.Validation("days must be between 1 and 366"), nil)
			return
		}
		days = n
	}
	st, err := h.reports.DailyAndDepartmentStats(c.Request.Context(), days)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, "", st)
}
