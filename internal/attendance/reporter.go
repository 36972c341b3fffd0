package attendance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"attendtrack/internal/apperr"
	"attendtrack/internal/cache"
	"attendtrack/internal/calendar"
)

const (
	unknownDepartment = "Unknown"

	// statsGenerationKey versions the cached window aggregates. Every ledger
	// write bumps it.
	statsGenerationKey = "attendance:stats:gen"
)

// Reporter answers read-only questions over the ledger. Every operation
// either returns a complete result or an error.
type Reporter struct {
	ledger   Ledger
	dir      Directory
	cal      calendar.Calendar
	cache    *cache.Cache
	cacheTTL time.Duration
	log      *zap.Logger
}

// NewReporter wires a reporter. A nil cache or zero ttl disables caching of
// window statistics.
func NewReporter(ledger Ledger, dir Directory, cal calendar.Calendar, c *cache.Cache, cacheTTL time.Duration, log *zap.Logger) *Reporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reporter{ledger: ledger, dir: dir, cal: cal, cache: c, cacheTTL: cacheTTL, log: log}
}

type DayStats struct {
	Date    string `json:"date"`
	Present int    `json:"present"`
	Absent  int    `json:"absent"`
	Total   int    `json:"total"`
}

type DepartmentStats struct {
	Present int `json:"present"`
	Total   int `json:"total"`
}

// WindowStats is the result of DailyAndDepartmentStats. Days run oldest
// first and cover the whole window, including days without records.
type WindowStats struct {
	Days        []DayStats                 `json:"dailyStats"`
	Departments map[string]DepartmentStats `json:"departmentStats"`
}

// DailyAndDepartmentStats aggregates the last windowDays days plus today.
// Anything other than Present counts as absent in the day buckets.
func (s *Reporter) DailyAndDepartmentStats(ctx context.Context, windowDays int) (WindowStats, error) {
	if windowDays < 1 {
		return WindowStats{}, apperr.Validation("days must be a positive integer")
	}
	today := s.cal.Today()
	ttl := s.cacheTTL
	gen, err := s.cache.Generation(ctx, statsGenerationKey)
	if err != nil {
		// Without the generation a cached entry may predate the last write.
		s.log.Warn("stats cache generation unavailable", zap.Error(err))
		ttl = 0
	}
	key := fmt.Sprintf("attendance:stats:%d:%s:%d", gen, calendar.Key(today), windowDays)

	stats, err := cache.GetOrLoadJSON(s.cache, ctx, key, ttl, func(ctx context.Context) (WindowStats, error) {
		return s.computeWindow(ctx, today, windowDays)
	})
	if err != nil {
		return WindowStats{}, fmt.Errorf("window stats: %w", err)
	}
	return stats, nil
}

// Invalidate retires every cached window aggregate. A failed bump is logged;
// stale entries then live until their ttl.
func (s *Reporter) Invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx, statsGenerationKey); err != nil {
		s.log.Warn("stats cache invalidation failed", zap.Error(err))
	}
}

func (s *Reporter) computeWindow(ctx context.Context, today time.Time, windowDays int) (WindowStats, error) {
	days := calendar.Window(today, windowDays)
	entries, err := s.ledger.ListStatEntries(ctx, days[0], today)
	if err != nil {
		return WindowStats{}, err
	}

	out := WindowStats{
		Days:        make([]DayStats, len(days)),
		Departments: map[string]DepartmentStats{},
	}
	index := make(map[string]int, len(days))
	for i, d := range days {
		k := calendar.Key(d)
		out.Days[i] = DayStats{Date: k}
		index[k] = i
	}

	for _, e := range entries {
		anchor := e.Day
		if anchor.IsZero() {
			if e.CheckInTime == nil {
				continue
			}
			anchor = s.cal.Day(*e.CheckInTime)
		}
		i, ok := index[calendar.Key(anchor)]
		if !ok {
			continue
		}
		present := e.Status == StatusPresent

		b := &out.Days[i]
		b.Total++
		if present {
			b.Present++
		} else {
			b.Absent++
		}

		dept := e.Department
		if dept == "" {
			dept = unknownDepartment
		}
		ds := out.Departments[dept]
		ds.Total++
		if present {
			ds.Present++
		}
		out.Departments[dept] = ds
	}
	return out, nil
}

// Snapshot is today's attendance at a glance.
type Snapshot struct {
	Date             string   `json:"date"`
	Records          []Record `json:"attendance"`
	TotalActiveUsers int      `json:"totalUsers"`
	PresentToday     int      `json:"presentToday"`
	AbsentToday      int      `json:"absentToday"`
	Percentage       string   `json:"percentage"`
}

// TodaySnapshot lists today's Present records against the active roster.
func (s *Reporter) TodaySnapshot(ctx context.Context) (Snapshot, error) {
	today := s.cal.Today()
	records, err := s.ledger.ListPresentOn(ctx, today)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list present: %w", err)
	}
	total, err := s.dir.CountActiveMembers(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("count active users: %w", err)
	}
	present := len(records)
	return Snapshot{
		Date:             calendar.Key(today),
		Records:          records,
		TotalActiveUsers: total,
		PresentToday:     present,
		AbsentToday:      total - present,
		Percentage:       percentage(present, total),
	}, nil
}

type HistoryStats struct {
	TotalDays   int    `json:"totalDays"`
	PresentDays int    `json:"presentDays"`
	AbsentDays  int    `json:"absentDays"`
	Percentage  string `json:"percentage"`
}

type History struct {
	Records []Record     `json:"attendance"`
	Stats   HistoryStats `json:"stats"`
}

// HistoryAndStats returns a user's records, newest first, with stats
// computed over exactly the returned records.
func (s *Reporter) HistoryAndStats(ctx context.Context, userID string, f HistoryFilter) (History, error) {
	if userID == "" {
		return History{}, apperr.Validation("userId is required")
	}
	if f.Status != "" && !f.Status.Valid() {
		return History{}, apperr.Validation("status must be one of Present, Absent, Late, Leave")
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return History{}, apperr.Validation("endDate must not be before startDate")
	}
	records, err := s.ledger.ListForUser(ctx, userID, f)
	if err != nil {
		return History{}, fmt.Errorf("list history: %w", err)
	}

	st := HistoryStats{TotalDays: len(records)}
	for _, r := range records {
		switch r.Status {
		case StatusPresent:
			st.PresentDays++
		case StatusAbsent:
			st.AbsentDays++
		}
	}
	st.Percentage = percentage(st.PresentDays, st.TotalDays)
	return History{Records: records, Stats: st}, nil
}

// Report lists records across all users for the admin report.
func (s *Reporter) Report(ctx context.Context, f ReportFilter) ([]Record, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("status must be one of Present, Absent, Late, Leave")
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, apperr.Validation("endDate must not be before startDate")
	}
	records, err := s.ledger.Report(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	return records, nil
}

// MyToday is the caller's own record for today, if any.
type MyToday struct {
	Present bool    `json:"present"`
	Record  *Record `json:"attendance,omitempty"`
}

func (s *Reporter) MyToday(ctx context.Context, userID string) (MyToday, error) {
	rec, err := s.ledger.FindForDay(ctx, userID, s.cal.Today())
	if err != nil {
		return MyToday{}, fmt.Errorf("find today: %w", err)
	}
	if rec == nil {
		return MyToday{Present: false}, nil
	}
	return MyToday{Present: true, Record: rec}, nil
}

// percentage formats part/whole*100 with two decimals, "0.00" when whole
// is zero.
func percentage(part, whole int) string {
	if whole <= 0 {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", float64(part)/float64(whole)*100)
}
