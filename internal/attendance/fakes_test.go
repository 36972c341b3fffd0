package attendance

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"attendtrack/internal/calendar"
	"attendtrack/internal/faceclient"
	"attendtrack/internal/identity"
)

var testNow = time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)

func testCalendar() calendar.Calendar {
	return calendar.Calendar{Location: time.UTC, Now: func() time.Time { return testNow }}
}

type fakeLedger struct {
	mu      sync.Mutex
	records map[string]Record
	nextID  int
	inserts int
	updates int

	// beforeInsert runs without the lock held, just before an insert is
	// applied. Tests use it to slip in a competing write.
	beforeInsert func(rec Record)
	findErr      error
	insertErr    error
	updateErr    error
	listErr      error
	entries      []StatEntry

	// statsFromRecords also reports stored records as stat entries.
	statsFromRecords bool
}

var _ Ledger = (*fakeLedger)(nil)

func newFakeLedger() *fakeLedger { return &fakeLedger{records: map[string]Record{}} }

func ledgerKey(userID string, day time.Time) string { return userID + "|" + calendar.Key(day) }

func (f *fakeLedger) put(rec Record) Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if rec.ID == "" {
		rec.ID = "r" + strconv.Itoa(f.nextID)
	}
	f.records[ledgerKey(rec.UserID, rec.Day)] = rec
	return rec
}

func (f *fakeLedger) Insert(_ context.Context, rec Record) (Record, error) {
	f.mu.Lock()
	hook := f.beforeInsert
	f.beforeInsert = nil
	f.mu.Unlock()
	if hook != nil {
		hook(rec)
	}
	if f.insertErr != nil {
		return Record{}, f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := ledgerKey(rec.UserID, rec.Day)
	if _, ok := f.records[k]; ok {
		return Record{}, ErrDuplicateDay
	}
	f.nextID++
	rec.ID = "r" + strconv.Itoa(f.nextID)
	f.records[k] = rec
	f.inserts++
	return rec, nil
}

func (f *fakeLedger) FindForDay(_ context.Context, userID string, day time.Time) (*Record, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[ledgerKey(userID, day)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeLedger) Update(_ context.Context, rec Record) (Record, error) {
	if f.updateErr != nil {
		return Record{}, f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := ledgerKey(rec.UserID, rec.Day)
	if _, ok := f.records[k]; !ok {
		return Record{}, errors.New("no such record")
	}
	f.records[k] = rec
	f.updates++
	return rec, nil
}

func (f *fakeLedger) ListStatEntries(_ context.Context, from, to time.Time) ([]StatEntry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []StatEntry
	for _, e := range f.entries {
		if !e.Day.IsZero() && (e.Day.Before(from) || e.Day.After(to)) {
			continue
		}
		out = append(out, e)
	}
	if f.statsFromRecords {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, r := range f.records {
			if r.Day.Before(from) || r.Day.After(to) {
				continue
			}
			out = append(out, StatEntry{Day: r.Day, Status: r.Status})
		}
	}
	return out, nil
}

func (f *fakeLedger) ListPresentOn(_ context.Context, day time.Time) ([]Record, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []Record{}
	for _, r := range f.records {
		if r.Day.Equal(day) && r.Status == StatusPresent {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeLedger) ListForUser(_ context.Context, userID string, flt HistoryFilter) ([]Record, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []Record{}
	for _, r := range f.records {
		if r.UserID != userID || (flt.Status != "" && r.Status != flt.Status) {
			continue
		}
		if (!flt.From.IsZero() && r.Day.Before(flt.From)) || (!flt.To.IsZero() && r.Day.After(flt.To)) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.After(out[j].Day) })
	return out, nil
}

func (f *fakeLedger) Report(_ context.Context, flt ReportFilter) ([]Record, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []Record{}
	for _, r := range f.records {
		if flt.Status != "" && r.Status != flt.Status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeLedger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeDirectory struct {
	users    map[string]identity.User
	getErr   error
	countErr error

	unrecorded []identity.User
	askedDay   time.Time
}

var _ Directory = (*fakeDirectory)(nil)

func newFakeDirectory(users ...identity.User) *fakeDirectory {
	d := &fakeDirectory{users: map[string]identity.User{}}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *fakeDirectory) Get(_ context.Context, id string) (*identity.User, error) {
	if d.getErr != nil {
		return nil, d.getErr
	}
	u, ok := d.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (d *fakeDirectory) CountActiveMembers(context.Context) (int, error) {
	if d.countErr != nil {
		return 0, d.countErr
	}
	n := 0
	for _, u := range d.users {
		if u.Role == "user" && u.IsActive {
			n++
		}
	}
	return n, nil
}

func (d *fakeDirectory) ListUnrecorded(_ context.Context, day time.Time) ([]identity.User, error) {
	d.askedDay = day
	if d.getErr != nil {
		return nil, d.getErr
	}
	return d.unrecorded, nil
}

type fakeRecognizer struct {
	match faceclient.Match
	err   error
	block bool
	calls int
}

func (r *fakeRecognizer) Recognize(ctx context.Context, _ string) (faceclient.Match, error) {
	r.calls++
	if r.block {
		<-ctx.Done()
		return faceclient.Match{}, ctx.Err()
	}
	return r.match, r.err
}

func member(id, dept string) identity.User {
	return identity.User{ID: id, Name: "Name " + id, Email: id + "@example.com", Role: "user", Department: dept, IsActive: true}
}

func admin(id string) identity.User {
	return identity.User{ID: id, Name: "Admin " + id, Email: id + "@example.com", Role: "admin", IsActive: true}
}
