package attendance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"attendtrack/internal/apperr"
	"attendtrack/internal/calendar"
	"attendtrack/internal/faceclient"
	"attendtrack/internal/identity"
)

// Ledger stores attendance records. *Repository implements it.
type Ledger interface {
	Insert(ctx context.Context, rec Record) (Record, error)
	FindForDay(ctx context.Context, userID string, day time.Time) (*Record, error)
	Update(ctx context.Context, rec Record) (Record, error)
	ListStatEntries(ctx context.Context, from, to time.Time) ([]StatEntry, error)
	ListPresentOn(ctx context.Context, day time.Time) ([]Record, error)
	ListForUser(ctx context.Context, userID string, f HistoryFilter) ([]Record, error)
	Report(ctx context.Context, f ReportFilter) ([]Record, error)
}

// Directory answers identity questions. *identity.Repository implements it.
type Directory interface {
	Get(ctx context.Context, id string) (*identity.User, error)
	CountActiveMembers(ctx context.Context) (int, error)
	ListUnrecorded(ctx context.Context, day time.Time) ([]identity.User, error)
}

// Recognizer identifies a face. *faceclient.Client implements it.
type Recognizer interface {
	Recognize(ctx context.Context, image string) (faceclient.Match, error)
}

// StatsInvalidator drops cached aggregates after a ledger write. *Reporter
// implements it.
type StatsInvalidator interface {
	Invalidate(ctx context.Context)
}

type ReconcilerConfig struct {
	RecognitionEnabled bool
	RecognitionTimeout time.Duration
	// Stats is told about every successful insert or update. Optional.
	Stats StatsInvalidator
}

// Reconciler decides whether an attendance event creates a record, is a
// duplicate, or overwrites an existing record during backfill.
type Reconciler struct {
	cfg    ReconcilerConfig
	ledger Ledger
	dir    Directory
	rec    Recognizer
	cal    calendar.Calendar
	log    *zap.Logger
}

func NewReconciler(cfg ReconcilerConfig, ledger Ledger, dir Directory, rec Recognizer, cal calendar.Calendar, log *zap.Logger) *Reconciler {
	if cfg.RecognitionTimeout <= 0 {
		cfg.RecognitionTimeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{cfg: cfg, ledger: ledger, dir: dir, rec: rec, cal: cal, log: log}
}

// ManualMark is an admin's explicit attendance entry. Empty fields take
// their defaults.
type ManualMark struct {
	UserID     string
	Status     Status
	Method     Method
	Confidence *float64
	Notes      string
}

// MarkManual records attendance for today. A second mark on the same day
// returns the existing record with an AlreadyMarked error.
func (s *Reconciler) MarkManual(ctx context.Context, actorID string, in ManualMark) (Record, error) {
	if in.UserID == "" {
		return Record{}, apperr.Validation("userId is required")
	}
	if in.Status == "" {
		in.Status = StatusPresent
	}
	if !in.Status.Valid() {
		return Record{}, apperr.Validation("status must be one of Present, Absent, Late, Leave")
	}
	if in.Method == "" {
		in.Method = MethodManual
	}
	if !in.Method.Valid() {
		return Record{}, apperr.Validation("method must be face-recognition or manual")
	}
	confidence := 0.0
	if in.Confidence != nil {
		confidence = *in.Confidence
		if confidence < 0 || confidence > 100 {
			return Record{}, apperr.Validation("confidence must be between 0 and 100")
		}
	}

	user, err := s.dir.Get(ctx, in.UserID)
	if err != nil {
		return Record{}, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return Record{}, apperr.NotFound("user not found")
	}

	now := s.cal.Clock()
	rec, err := s.markOnce(ctx, user, actorID, Record{
		UserID:      user.ID,
		Day:         s.cal.Day(now),
		RecordedAt:  now,
		Status:      in.Status,
		Method:      in.Method,
		CheckInTime: &now,
		Confidence:  confidence,
		Notes:       in.Notes,
		RecordedBy:  actorID,
	})
	marksTotal.WithLabelValues(string(in.Method), outcomeOf(err)).Inc()
	return rec, err
}

// MarkViaRecognition asks the gateway who is in image and marks them
// Present. The gateway's answer is checked against the directory before
// anything is written.
func (s *Reconciler) MarkViaRecognition(ctx context.Context, actorID, image string) (Record, error) {
	if !s.cfg.RecognitionEnabled {
		return Record{}, apperr.ServiceDisabled("face recognition service is disabled")
	}
	if image == "" {
		return Record{}, apperr.Validation("image is required")
	}

	match, err := s.recognize(ctx, image)
	if err != nil {
		marksTotal.WithLabelValues(string(MethodFaceRecognition), outcomeOf(err)).Inc()
		return Record{}, err
	}

	user, err := s.dir.Get(ctx, match.UserID)
	if err != nil {
		return Record{}, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		s.log.Warn("recognized subject unknown", zap.String("user_id", match.UserID))
		err := apperr.UnknownSubject("recognized user not found")
		marksTotal.WithLabelValues(string(MethodFaceRecognition), outcomeOf(err)).Inc()
		return Record{}, err
	}

	now := s.cal.Clock()
	rec, err := s.markOnce(ctx, user, actorID, Record{
		UserID:      user.ID,
		Day:         s.cal.Day(now),
		RecordedAt:  now,
		Status:      StatusPresent,
		Method:      MethodFaceRecognition,
		CheckInTime: &now,
		Confidence:  clampConfidence(match.Confidence),
		RecordedBy:  actorID,
	})
	marksTotal.WithLabelValues(string(MethodFaceRecognition), outcomeOf(err)).Inc()
	return rec, err
}

func (s *Reconciler) recognize(ctx context.Context, image string) (faceclient.Match, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RecognitionTimeout)
	defer cancel()

	start := time.Now()
	match, err := s.rec.Recognize(ctx, image)
	switch {
	case err == nil:
		recognitionLatency.WithLabelValues("match").Observe(time.Since(start).Seconds())
		return match, nil
	case errors.Is(err, faceclient.ErrNoMatch):
		recognitionLatency.WithLabelValues("no_match").Observe(time.Since(start).Seconds())
		return faceclient.Match{}, apperr.NotRecognized("face not recognized")
	case errors.Is(err, faceclient.ErrRejected):
		recognitionLatency.WithLabelValues("rejected").Observe(time.Since(start).Seconds())
		return faceclient.Match{}, apperr.Wrap(apperr.KindValidation, "image rejected by recognition service", err)
	default:
		recognitionLatency.WithLabelValues("error").Observe(time.Since(start).Seconds())
		s.log.Warn("recognition gateway failed", zap.Error(err))
		return faceclient.Match{}, apperr.GatewayUnavailable(err)
	}
}

// markOnce inserts rec unless the user already has a record that day. The
// lookup is a fast path; the ledger's uniqueness decides races.
func (s *Reconciler) markOnce(ctx context.Context, user *identity.User, actorID string, rec Record) (Record, error) {
	existing, err := s.ledger.FindForDay(ctx, rec.UserID, rec.Day)
	if err != nil {
		return Record{}, fmt.Errorf("find record: %w", err)
	}
	if existing != nil {
		return *existing, apperr.AlreadyMarked("attendance already marked for today")
	}

	created, err := s.ledger.Insert(ctx, rec)
	if errors.Is(err, ErrDuplicateDay) {
		winner, ferr := s.ledger.FindForDay(ctx, rec.UserID, rec.Day)
		if ferr != nil {
			return Record{}, fmt.Errorf("find record: %w", ferr)
		}
		if winner == nil {
			return Record{}, fmt.Errorf("record for %s on %s vanished after conflict", rec.UserID, calendar.Key(rec.Day))
		}
		return *winner, apperr.AlreadyMarked("attendance already marked for today")
	}
	if err != nil {
		return Record{}, fmt.Errorf("insert record: %w", err)
	}

	s.ledgerChanged(ctx)
	created.User = personOf(user)
	created.Recorder = s.recorder(ctx, actorID)
	s.log.Info("attendance marked",
		zap.String("user_id", created.UserID),
		zap.String("day", calendar.Key(created.Day)),
		zap.String("method", string(created.Method)),
		zap.String("status", string(created.Status)),
	)
	return created, nil
}

func (s *Reconciler) ledgerChanged(ctx context.Context) {
	if s.cfg.Stats != nil {
		s.cfg.Stats.Invalidate(context.WithoutCancel(ctx))
	}
}

func (s *Reconciler) recorder(ctx context.Context, actorID string) *Person {
	if actorID == "" {
		return nil
	}
	u, err := s.dir.Get(ctx, actorID)
	if err != nil || u == nil {
		return nil
	}
	return &Person{ID: u.ID, Name: u.Name, Email: u.Email}
}

// Backfill outcomes.
const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeError   = "error"
)

// BackfillResult is the per-user result of BackfillAbsences.
type BackfillResult struct {
	UserID  string  `json:"userId"`
	Outcome string  `json:"status"`
	Record  *Record `json:"attendance,omitempty"`
	Reason  string  `json:"message,omitempty"`
}

// BackfillAbsences marks every user in userIDs Absent on forDate (today
// when nil), overwriting whatever they already had. Items fail
// independently; the batch itself only fails on empty input.
func (s *Reconciler) BackfillAbsences(ctx context.Context, actorID string, userIDs []string, forDate *time.Time) ([]BackfillResult, error) {
	if len(userIDs) == 0 {
		return nil, apperr.Validation("please provide user IDs to mark as absent")
	}
	day := s.cal.Today()
	if forDate != nil {
		day = s.cal.Day(*forDate)
	}

	seen := make(map[string]struct{}, len(userIDs))
	results := make([]BackfillResult, 0, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		res := s.backfillOne(ctx, actorID, id, day)
		backfillTotal.WithLabelValues(res.Outcome).Inc()
		results = append(results, res)
	}
	s.log.Info("absences backfilled",
		zap.String("day", calendar.Key(day)),
		zap.Int("targets", len(results)),
		zap.String("actor", actorID),
	)
	return results, nil
}

func (s *Reconciler) backfillOne(ctx context.Context, actorID, userID string, day time.Time) BackfillResult {
	fail := func(reason string) BackfillResult {
		return BackfillResult{UserID: userID, Outcome: OutcomeError, Reason: reason}
	}
	if userID == "" {
		return fail("user id is empty")
	}

	existing, err := s.ledger.FindForDay(ctx, userID, day)
	if err != nil {
		s.log.Warn("backfill lookup failed", zap.String("user_id", userID), zap.Error(err))
		return fail("failed to read attendance")
	}
	if existing != nil {
		return s.overwriteAbsent(ctx, actorID, *existing)
	}

	user, err := s.dir.Get(ctx, userID)
	if err != nil {
		s.log.Warn("backfill user lookup failed", zap.String("user_id", userID), zap.Error(err))
		return fail("failed to read user")
	}
	if user == nil {
		return fail("User not found")
	}

	created, err := s.ledger.Insert(ctx, Record{
		UserID:     userID,
		Day:        day,
		RecordedAt: day,
		Status:     StatusAbsent,
		Method:     MethodManual,
		Notes:      absentByAdminNote,
		RecordedBy: actorID,
	})
	if errors.Is(err, ErrDuplicateDay) {
		winner, ferr := s.ledger.FindForDay(ctx, userID, day)
		if ferr != nil || winner == nil {
			return fail("failed to read attendance after conflict")
		}
		return s.overwriteAbsent(ctx, actorID, *winner)
	}
	if err != nil {
		s.log.Warn("backfill insert failed", zap.String("user_id", userID), zap.Error(err))
		return fail("failed to create attendance")
	}
	s.ledgerChanged(ctx)
	created.User = personOf(user)
	return BackfillResult{UserID: userID, Outcome: OutcomeCreated, Record: &created}
}

func (s *Reconciler) overwriteAbsent(ctx context.Context, actorID string, rec Record) BackfillResult {
	rec.Status = StatusAbsent
	rec.RecordedBy = actorID
	rec.Notes = absentByAdminNote
	updated, err := s.ledger.Update(ctx, rec)
	if err != nil {
		s.log.Warn("backfill update failed", zap.String("user_id", rec.UserID), zap.Error(err))
		return BackfillResult{UserID: rec.UserID, Outcome: OutcomeError, Reason: "failed to update attendance"}
	}
	s.ledgerChanged(ctx)
	return BackfillResult{UserID: rec.UserID, Outcome: OutcomeUpdated, Record: &updated}
}

// FindUnrecordedUsers lists active members with no record on forDate
// (today when nil).
func (s *Reconciler) FindUnrecordedUsers(ctx context.Context, forDate *time.Time) ([]identity.User, error) {
	day := s.cal.Today()
	if forDate != nil {
		day = s.cal.Day(*forDate)
	}
	users, err := s.dir.ListUnrecorded(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("list unrecorded users: %w", err)
	}
	return users, nil
}

func personOf(u *identity.User) *Person {
	if u == nil {
		return nil
	}
	return &Person{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Department: u.Department,
		EmployeeID: u.EmployeeID,
		ImageURL:   u.ImageURL,
	}
}

func clampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 100:
		return 100
	}
	return c
}

func outcomeOf(err error) string {
	if err == nil {
		return "created"
	}
	return string(apperr.KindOf(err))
}
