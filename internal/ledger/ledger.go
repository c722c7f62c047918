// Package ledger counts entry fills per trading day. The count gates
// new entries upstream and annotates exit decisions; exits are never
// counted and the count never triggers an exit.
package ledger

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Entry records one confirmed entry fill.
type Entry struct {
	Symbol string    `json:"symbol"`
	At     time.Time `json:"at"`
}

// State is the persistable form of the ledger.
type State struct {
	Day     string  `json:"day"` // YYYY-MM-DD in the market timezone
	Entries []Entry `json:"entries"`
}

// Ledger tracks entry fills for the current trading day and rolls over
// automatically at the first observation of a new day.
type Ledger struct {
	mu      sync.Mutex
	loc     *time.Location
	day     string
	entries []Entry
	logger  *logrus.Logger
}

// New creates an empty ledger keyed to the market timezone.
func New(loc *time.Location, logger *logrus.Logger) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Ledger{loc: loc, logger: logger}
}

func (l *Ledger) dayKey(at time.Time) string {
	return at.In(l.loc).Format("2006-01-02")
}

// rollover discards entries when at falls on a different trading day.
// Caller must hold the lock.
func (l *Ledger) rollover(at time.Time) {
	key := l.dayKey(at)
	if l.day == key {
		return
	}
	if l.day != "" && len(l.entries) > 0 {
		l.logger.WithFields(logrus.Fields{
			"previous_day": l.day,
			"entries":      len(l.entries),
		}).Info("ledger rolled over to new trading day")
	}
	l.day = key
	l.entries = nil
}

// RecordEntry appends a confirmed entry fill for the day containing at.
func (l *Ledger) RecordEntry(symbol string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover(at)
	l.entries = append(l.entries, Entry{Symbol: symbol, At: at})
}

// CountToday returns the number of entries recorded for the day
// containing now, rolling over first if the day changed.
func (l *Ledger) CountToday(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover(now)
	return len(l.entries)
}

// HasEntryToday reports whether symbol already has an entry recorded
// for the day containing now. Recovery uses this to avoid double
// counting positions that were persisted as well as broker-reported.
func (l *Ledger) HasEntryToday(symbol string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover(now)
	for _, e := range l.entries {
		if e.Symbol == symbol {
			return true
		}
	}
	return false
}

// ResetIfNewDay forces the rollover check without reading the count.
func (l *Ledger) ResetIfNewDay(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover(now)
}

// Snapshot returns a copy of the current state for persistence.
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	return State{Day: l.day, Entries: entries}
}

// Restore loads persisted state. Entries from a previous trading day
// are dropped so a restart never inherits yesterday's count.
func (l *Ledger) Restore(state State, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if state.Day != l.dayKey(now) {
		l.day = l.dayKey(now)
		l.entries = nil
		return
	}
	l.day = state.Day
	l.entries = make([]Entry, len(state.Entries))
	copy(l.entries, state.Entries)
}
