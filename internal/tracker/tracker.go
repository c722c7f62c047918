// Package tracker is the in-memory registry of open positions. It owns
// the position lifecycle: positions enter on fill or recovery and leave
// only when an exit order is confirmed filled.
package tracker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/astrarise/nifty-options-bot/internal/models"
)

// Tracker holds all live positions keyed by ID. All methods are safe for
// concurrent use; returned positions are copies, so callers never mutate
// tracked state directly.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]*models.Position
	logger    *logrus.Logger
}

// New creates an empty tracker.
func New(logger *logrus.Logger) *Tracker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Tracker{
		positions: make(map[string]*models.Position),
		logger:    logger,
	}
}

// Add registers a position after validating its invariants.
func (t *Tracker) Add(pos *models.Position) error {
	if err := pos.Validate(); err != nil {
		return fmt.Errorf("adding position: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.positions[pos.ID]; exists {
		return fmt.Errorf("adding position: duplicate id %s", pos.ID)
	}
	cp := *pos
	t.positions[pos.ID] = &cp
	t.logger.WithFields(logrus.Fields{
		"id":     pos.ID,
		"symbol": pos.Symbol,
		"lots":   pos.Quantity,
	}).Info("position tracked")
	return nil
}

// Get returns a copy of the position with the given ID.
func (t *Tracker) Get(id string) (models.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.positions[id]
	if !ok {
		return models.Position{}, false
	}
	return *pos, true
}

// ListOpen returns copies of all positions in the open state, sorted by
// entry time so evaluation order is stable across ticks.
func (t *Tracker) ListOpen() []models.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.Position, 0, len(t.positions))
	for _, pos := range t.positions {
		if pos.State == models.StateOpen {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

// Count returns the number of tracked positions in any non-closed state.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.positions)
}

// HasSymbol reports whether any tracked position carries the symbol.
func (t *Tracker) HasSymbol(symbol string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, pos := range t.positions {
		if pos.Symbol == symbol {
			return true
		}
	}
	return false
}

// ObservePremium records a fresh premium against the position's
// best/worst extremes and stamps the check time.
func (t *Tracker) ObservePremium(id string, premium float64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[id]
	if !ok {
		return
	}
	pos.ObservePrice(premium)
	pos.LastChecked = at
}

// ForEachTick applies one trend reading to every open position: an
// unfavourable reading increments its reversal confirmation counter, a
// favourable one resets it to zero. An invalid snapshot leaves all
// counters untouched. Only the tracker mutates these counters.
func (t *Tracker) ForEachTick(snap models.TrendSnapshot) {
	if !snap.Valid() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pos := range t.positions {
		if pos.State != models.StateOpen {
			continue
		}
		if snap.UnfavourableFor(pos.OptionType) {
			pos.ConfirmationCount++
		} else {
			pos.ConfirmationCount = 0
		}
	}
}

// BeginExit moves a position to exit_pending with the triggering reason.
func (t *Tracker) BeginExit(id string, reason models.ExitReason) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[id]
	if !ok {
		return fmt.Errorf("begin exit: unknown position %s", id)
	}
	if err := pos.TransitionState(models.StateExitPending, string(reason)); err != nil {
		return err
	}
	pos.ExitReason = string(reason)
	return nil
}

// AbortExit returns an exit_pending position to open after a failed or
// unfilled exit order, so the next tick re-evaluates it.
func (t *Tracker) AbortExit(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[id]
	if !ok {
		return fmt.Errorf("abort exit: unknown position %s", id)
	}
	if err := pos.TransitionState(models.StateOpen, "exit order not filled"); err != nil {
		return err
	}
	t.logger.WithField("id", id).Warn("exit aborted, position back to open")
	return nil
}

// CompleteExit closes a position on fill confirmation and removes it
// from tracking. The closed position copy is returned for recording.
func (t *Tracker) CompleteExit(id string, exitTime time.Time) (models.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[id]
	if !ok {
		return models.Position{}, fmt.Errorf("complete exit: unknown position %s", id)
	}
	pos.ExitTime = exitTime
	if err := pos.TransitionState(models.StateClosed, "exit filled"); err != nil {
		return models.Position{}, err
	}
	closed := *pos
	delete(t.positions, id)
	t.logger.WithFields(logrus.Fields{
		"id":     id,
		"symbol": closed.Symbol,
		"reason": closed.ExitReason,
	}).Info("position closed")
	return closed, nil
}

// FlagForReview marks a position that cannot be evaluated safely, such
// as one recovered with a non-positive entry premium. Flagged positions
// stay tracked but are skipped by the evaluator.
func (t *Tracker) FlagForReview(id, why string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[id]
	if !ok {
		return
	}
	pos.NeedsReview = true
	t.logger.WithFields(logrus.Fields{"id": id, "why": why}).
		Error("position flagged for manual review")
}

// SnapshotAll returns copies of every tracked position for persistence,
// sorted by entry time.
func (t *Tracker) SnapshotAll() []models.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Position, 0, len(t.positions))
	for _, pos := range t.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

// Restore loads persisted positions, skipping any that fail validation.
// Exit-pending positions are returned to open so the next tick
// re-evaluates them rather than assuming a fill happened while down.
func (t *Tracker) Restore(positions []models.Position) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	restored := 0
	for i := range positions {
		pos := positions[i]
		if pos.State == models.StateClosed {
			continue
		}
		if err := pos.Validate(); err != nil {
			t.logger.WithError(err).Warn("skipping invalid persisted position")
			continue
		}
		if pos.State == models.StateExitPending {
			pos.State = models.StateOpen
			pos.ExitReason = ""
		}
		cp := pos
		t.positions[pos.ID] = &cp
		restored++
	}
	return restored
}
