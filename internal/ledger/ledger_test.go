package ledger

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func ist(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return time.FixedZone("IST", 5*3600+1800)
	}
	return loc
}

func TestRecordEntryAndCount(t *testing.T) {
	loc := ist(t)
	l := New(loc, quietLogger())
	now := time.Date(2025, 9, 1, 10, 30, 0, 0, loc)

	if got := l.CountToday(now); got != 0 {
		t.Errorf("CountToday on empty ledger = %d, want 0", got)
	}

	l.RecordEntry("NIFTY25SEP24500CE", now)
	l.RecordEntry("NIFTY25SEP24400PE", now.Add(time.Hour))

	if got := l.CountToday(now.Add(2 * time.Hour)); got != 2 {
		t.Errorf("CountToday = %d, want 2", got)
	}
}

func TestHasEntryToday(t *testing.T) {
	loc := ist(t)
	l := New(loc, quietLogger())
	now := time.Date(2025, 9, 1, 10, 30, 0, 0, loc)

	l.RecordEntry("NIFTY25SEP24500CE", now)

	if !l.HasEntryToday("NIFTY25SEP24500CE", now.Add(time.Hour)) {
		t.Error("HasEntryToday = false for a recorded symbol, want true")
	}
	if l.HasEntryToday("NIFTY25SEP24400PE", now) {
		t.Error("HasEntryToday = true for an unrecorded symbol, want false")
	}

	tomorrow := time.Date(2025, 9, 2, 9, 20, 0, 0, loc)
	if l.HasEntryToday("NIFTY25SEP24500CE", tomorrow) {
		t.Error("HasEntryToday = true after the day rolled over, want false")
	}
}

func TestRolloverOnNewDay(t *testing.T) {
	loc := ist(t)
	l := New(loc, quietLogger())
	day1 := time.Date(2025, 9, 1, 14, 0, 0, 0, loc)

	l.RecordEntry("NIFTY25SEP24500CE", day1)

	day2 := time.Date(2025, 9, 2, 9, 20, 0, 0, loc)
	l.ResetIfNewDay(day2)
	if got := l.CountToday(day2); got != 0 {
		t.Errorf("CountToday after rollover = %d, want 0", got)
	}
}

func TestRolloverUsesMarketTimezone(t *testing.T) {
	loc := ist(t)
	l := New(loc, quietLogger())

	// 20:00 UTC on Sep 1 is already 01:30 IST Sep 2.
	l.RecordEntry("NIFTY25SEP24500CE", time.Date(2025, 9, 1, 10, 0, 0, 0, loc))
	utcEvening := time.Date(2025, 9, 1, 20, 0, 0, 0, time.UTC)

	if got := l.CountToday(utcEvening); got != 0 {
		t.Errorf("CountToday across IST midnight = %d, want 0", got)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	loc := ist(t)
	now := time.Date(2025, 9, 1, 11, 0, 0, 0, loc)

	l := New(loc, quietLogger())
	l.RecordEntry("NIFTY25SEP24500CE", now)
	state := l.Snapshot()

	restored := New(loc, quietLogger())
	restored.Restore(state, now.Add(30*time.Minute))
	if got := restored.CountToday(now.Add(30 * time.Minute)); got != 1 {
		t.Errorf("CountToday after restore = %d, want 1", got)
	}
	if !restored.HasEntryToday("NIFTY25SEP24500CE", now.Add(30*time.Minute)) {
		t.Error("restored ledger lost the recorded symbol")
	}
}

func TestRestoreDropsStaleDay(t *testing.T) {
	loc := ist(t)
	l := New(loc, quietLogger())
	yesterday := time.Date(2025, 8, 29, 11, 0, 0, 0, loc)
	l.RecordEntry("NIFTY25SEP24500CE", yesterday)
	state := l.Snapshot()

	restored := New(loc, quietLogger())
	today := time.Date(2025, 9, 1, 9, 30, 0, 0, loc)
	restored.Restore(state, today)
	if got := restored.CountToday(today); got != 0 {
		t.Errorf("CountToday after restoring stale state = %d, want 0", got)
	}
}
