package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"attendtrack/internal/cache"
)

func TestWindowStats_CacheFollowsLedgerWrites(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l := newFakeLedger()
	l.statsFromRecords = true
	d := newFakeDirectory(member("u1", "Eng"), member("u2", "Ops"), admin("admin"))
	reports := NewReporter(l, d, testCalendar(), cache.New(rdb), 30*time.Second, nil)
	marks := NewReconciler(ReconcilerConfig{Stats: reports}, l, d, &fakeRecognizer{}, testCalendar(), nil)
	ctx := context.Background()

	today := func() DayStats {
		t.Helper()
		got, err := reports.DailyAndDepartmentStats(ctx, 7)
		if err != nil {
			t.Fatal(err)
		}
		return got.Days[len(got.Days)-1]
	}

	if got := today(); got.Total != 0 {
		t.Fatalf("empty ledger today = %+v", got)
	}

	// a write that bypasses the reconciler is not seen until the next bump
	l.put(Record{UserID: "u2", Day: day(4), Status: StatusPresent, Method: MethodManual})
	if got := today(); got.Total != 0 {
		t.Fatalf("expected cached aggregate, got %+v", got)
	}

	if _, err := marks.MarkManual(ctx, "admin", ManualMark{UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	if got := today(); got.Present != 2 || got.Total != 2 {
		t.Fatalf("after mark today = %+v, want 2 present", got)
	}

	res, err := marks.BackfillAbsences(ctx, "admin", []string{"u2"}, nil)
	if err != nil || res[0].Outcome != OutcomeUpdated {
		t.Fatalf("backfill = %+v, %v", res, err)
	}
	if got := today(); got.Present != 1 || got.Absent != 1 {
		t.Fatalf("after backfill today = %+v, want 1 present 1 absent", got)
	}

	mr.Close()
	if got := today(); got.Present != 1 || got.Absent != 1 {
		t.Fatalf("redis down today = %+v, want direct read", got)
	}
}
