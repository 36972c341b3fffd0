// Package handler exposes the attendance and identity services over HTTP.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"attendtrack/internal/apperr"
	"attendtrack/internal/attendance"
	"attendtrack/internal/auth"
	"attendtrack/internal/calendar"
	"attendtrack/internal/identity"
)

// Users is the identity service as seen by the handlers.
type Users interface {
	Register(ctx context.Context, in identity.NewUser, asAdmin bool) (identity.User, error)
	Login(ctx context.Context, email, password string) (identity.Session, error)
	Get(ctx context.Context, id string) (identity.User, error)
	List(ctx context.Context, f identity.UserFilter) ([]identity.User, error)
	Stats(ctx context.Context) (identity.Stats, error)
	Update(ctx context.Context, actor identity.Actor, id string, patch identity.UserPatch) (identity.User, error)
	ChangePassword(ctx context.Context, id, current, next string) error
	Delete(ctx context.Context, id string) error
}

// Marks writes attendance. *attendance.Reconciler implements it.
type Marks interface {
	MarkManual(ctx context.Context, actorID string, in attendance.ManualMark) (attendance.Record, error)
	MarkViaRecognition(ctx context.Context, actorID, image string) (attendance.Record, error)
	BackfillAbsences(ctx context.Context, actorID string, userIDs []string, forDate *time.Time) ([]attendance.BackfillResult, error)
	FindUnrecordedUsers(ctx context.Context, forDate *time.Time) ([]identity.User, error)
}

// Reports reads attendance. *attendance.Reporter implements it.
type Reports interface {
	DailyAndDepartmentStats(ctx context.Context, windowDays int) (attendance.WindowStats, error)
	TodaySnapshot(ctx context.Context) (attendance.Snapshot, error)
	HistoryAndStats(ctx context.Context, userID string, f attendance.HistoryFilter) (attendance.History, error)
	Report(ctx context.Context, f attendance.ReportFilter) ([]attendance.Record, error)
	MyToday(ctx context.Context, userID string) (attendance.MyToday, error)
}

// Pinger reports whether a backing service answers.
type Pinger interface {
	Healthy(ctx context.Context) bool
}

type Config struct {
	SigningKey string
	Issuer     string

	// Development adds internal error text to responses.
	Development bool
}

type Handler struct {
	cfg     Config
	users   Users
	marks   Marks
	reports Reports
	cal     calendar.Calendar
	health  map[string]Pinger
	log     *zap.Logger
}

func New(cfg Config, users Users, marks Marks, reports Reports, cal calendar.Calendar, health map[string]Pinger, log *zap.Logger) *Handler {
	jsonFieldNames.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterTagNameFunc(jsonName)
		}
	})
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{cfg: cfg, users: users, marks: marks, reports: reports, cal: cal, health: health, log: log}
}

type envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func ok(c *gin.Context, status int, msg string, data any) {
	c.JSON(status, envelope{Success: true, Message: msg, Data: data})
}

// fail writes err in the envelope. data is attached when the caller still
// has something useful to return, like the existing record of a duplicate.
func (h *Handler) fail(c *gin.Context, err error, data any) {
	status := apperr.HTTPStatus(err)
	body := envelope{
		Success:   false,
		Message:   apperr.Message(err),
		Data:      data,
		Error:     string(apperr.KindOf(err)),
		Retryable: apperr.Retryable(err),
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		h.log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("kind", body.Error),
			zap.Error(err),
		)
	}
	if h.cfg.Development && status >= http.StatusInternalServerError {
		body.Detail = err.Error()
	}
	c.JSON(status, body)
}

// bind decodes the JSON body into dst and turns binding failures into a
// validation error.
func bind(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, bindMessage(err), err)
	}
	return nil
}

func bindMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "email":
			msgs = append(msgs, field+" must be a valid email")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of %s", field, strings.ReplaceAll(fe.Param(), " ", ", ")))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

var jsonFieldNames sync.Once

// jsonName makes validation errors name fields the way clients send them.
func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" || name == "" {
		return f.Name
	}
	return name
}

func actorOf(c *gin.Context) identity.Actor {
	claims, _ := auth.ClaimsFrom(c)
	return identity.Actor{ID: claims.Subject, Role: claims.Role}
}

// optionalDate parses a YYYY-MM-DD query value. Empty means unbounded.
func (h *Handler) optionalDate(s, name string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	t, err := h.cal.Parse(s)
	if err != nil {
		return time.Time{}, apperr.Validation(name + " must be YYYY-MM-DD")
	}
	return t, nil
}
