// Package quotes maintains a shared snapshot of option chain premiums so
// that every position evaluated in a tick reads the same batched fetch.
package quotes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/astrarise/nifty-options-bot/internal/broker"
	"github.com/astrarise/nifty-options-bot/internal/models"
)

// ChainFetcher is the slice of the broker the cache depends on.
type ChainFetcher interface {
	FetchOptionChain(ctx context.Context) (map[int]broker.ChainStrike, error)
}

// Snapshot is one immutable chain fetch.
type Snapshot struct {
	FetchedAt time.Time
	Strikes   map[int]broker.ChainStrike
}

// Cache holds the latest chain snapshot. Refresh is driven by the
// scheduler once per tick; reads never trigger network calls, so the
// evaluator stays deterministic within a tick.
type Cache struct {
	fetcher      ChainFetcher
	ttl          time.Duration
	staleCeiling time.Duration
	timeout      time.Duration
	logger       *logrus.Logger
	nowFn        func() time.Time

	mu   sync.RWMutex
	snap *Snapshot
}

// NewCache creates a cache. The stale ceiling caps how long an
// unrefreshed snapshot keeps serving reads during a broker outage.
func NewCache(fetcher ChainFetcher, ttl time.Duration, staleCeilingMultiple int,
	refreshTimeout time.Duration, logger *logrus.Logger) *Cache {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	if staleCeilingMultiple < 1 {
		staleCeilingMultiple = 5
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Cache{
		fetcher:      fetcher,
		ttl:          ttl,
		staleCeiling: time.Duration(staleCeilingMultiple) * ttl,
		timeout:      refreshTimeout,
		logger:       logger,
		nowFn:        time.Now,
	}
}

// Refresh fetches a new chain snapshot if the current one has outlived
// its TTL. A failed fetch keeps the previous snapshot in place and is
// reported to the caller.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	now := c.nowFn()
	if snap != nil && now.Sub(snap.FetchedAt) < c.ttl {
		return nil
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	strikes, err := c.fetcher.FetchOptionChain(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("chain refresh failed, keeping previous snapshot")
		return fmt.Errorf("refreshing option chain: %w", err)
	}

	c.mu.Lock()
	c.snap = &Snapshot{FetchedAt: c.nowFn(), Strikes: strikes}
	c.mu.Unlock()
	return nil
}

// GetPremium returns the cached premium for a contract. ok is false when
// no snapshot exists, the snapshot is past the stale ceiling, the strike
// is outside the fetched window, or the premium is non-positive.
func (c *Cache) GetPremium(strike int, optType models.OptionType) (float64, bool) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if snap == nil {
		return 0, false
	}

	age := c.nowFn().Sub(snap.FetchedAt)
	if age > c.staleCeiling {
		return 0, false
	}
	if age > c.ttl {
		c.logger.WithFields(logrus.Fields{
			"age_seconds": int(age.Seconds()),
			"strike":      strike,
		}).Warn("serving premium from stale snapshot")
	}

	row, ok := snap.Strikes[strike]
	if !ok {
		return 0, false
	}
	premium := row.Premium(optType)
	if premium <= 0 {
		return 0, false
	}
	return premium, true
}

// Age returns how old the current snapshot is, or a negative duration
// when no snapshot has been taken yet.
func (c *Cache) Age() time.Duration {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()
	if snap == nil {
		return -1
	}
	return c.nowFn().Sub(snap.FetchedAt)
}

// StrikeCount returns the number of strikes in the current snapshot.
func (c *Cache) StrikeCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return 0
	}
	return len(c.snap.Strikes)
}
