package attendance

import (
	"encoding/json"
	"errors"
	"time"

	"attendtrack/internal/calendar"
)

type Status string

const (
	StatusPresent Status = "Present"
	StatusAbsent  Status = "Absent"
	StatusLate    Status = "Late"
	StatusLeave   Status = "Leave"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusLeave:
		return true
	}
	return false
}

type Method string

const (
	MethodFaceRecognition Method = "face-recognition"
	MethodManual          Method = "manual"
)

func (m Method) Valid() bool {
	return m == MethodFaceRecognition || m == MethodManual
}

const absentByAdminNote = "Marked absent by admin"

// ErrDuplicateDay is returned by a Ledger when the user already has a
// record on that day.
var ErrDuplicateDay = errors.New("attendance already recorded for this day")

// Person is the display subset of a user attached to a record.
type Person struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Department string `json:"department,omitempty"`
	EmployeeID string `json:"employeeId,omitempty"`
	ImageURL   string `json:"imageUrl,omitempty"`
}

// Record is one entry of the ledger. There is at most one per user per
// calendar day.
type Record struct {
	ID           string
	UserID       string
	Day          time.Time
	RecordedAt   time.Time
	Status       Status
	Method       Method
	CheckInTime  *time.Time
	CheckOutTime *time.Time
	Confidence   float64
	Notes        string
	RecordedBy   string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	User     *Person
	Recorder *Person
}

// MarshalJSON renders Day as YYYY-MM-DD.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID           string     `json:"id"`
		UserID       string     `json:"userId"`
		Day          string     `json:"day"`
		Date         time.Time  `json:"date"`
		Status       Status     `json:"status"`
		Method       Method     `json:"method"`
		CheckInTime  *time.Time `json:"checkInTime,omitempty"`
		CheckOutTime *time.Time `json:"checkOutTime,omitempty"`
		Confidence   float64    `json:"confidence"`
		Notes        string     `json:"notes"`
		RecordedBy   string     `json:"markedBy,omitempty"`
		CreatedAt    time.Time  `json:"createdAt"`
		UpdatedAt    time.Time  `json:"updatedAt"`
		User         *Person    `json:"user,omitempty"`
		Recorder     *Person    `json:"recorder,omitempty"`
	}{
		ID: r.ID, UserID: r.UserID, Day: calendar.Key(r.Day), Date: r.RecordedAt,
		Status: r.Status, Method: r.Method, CheckInTime: r.CheckInTime, CheckOutTime: r.CheckOutTime,
		Confidence: r.Confidence, Notes: r.Notes, RecordedBy: r.RecordedBy,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, User: r.User, Recorder: r.Recorder,
	})
}

// StatEntry is the slice of a record the daily statistics need.
type StatEntry struct {
	Day         time.Time
	CheckInTime *time.Time
	Status      Status
	Department  string
}

// HistoryFilter narrows a user's history. Zero values mean unbounded.
type HistoryFilter struct {
	From   time.Time
	To     time.Time
	Status Status
}

// ReportFilter narrows the admin report.
type ReportFilter struct {
	From       time.Time
	To         time.Time
	Department string
	Status     Status
}
