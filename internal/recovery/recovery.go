// Package recovery rebuilds tracker state from the broker's position
// list after a restart, so a crash never orphans live option positions.
package recovery

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/astrarise/nifty-options-bot/internal/broker"
	"github.com/astrarise/nifty-options-bot/internal/ledger"
	"github.com/astrarise/nifty-options-bot/internal/models"
	"github.com/astrarise/nifty-options-bot/internal/tracker"
)

// optionSymbolRe extracts the strike (last five digits) and side suffix
// from an NFO option trading symbol, e.g. NIFTY25SEP24500CE.
var optionSymbolRe = regexp.MustCompile(`(\d{5})(CE|PE)$`)

// PositionSource is the slice of the broker recovery depends on.
type PositionSource interface {
	FetchPositions(ctx context.Context) ([]broker.RawPosition, error)
}

// Loader reconciles broker positions into the tracker.
type Loader struct {
	source     PositionSource
	tracker    *tracker.Tracker
	ledger     *ledger.Ledger
	underlying string // symbol prefix filter, e.g. "NIFTY"
	lotSize    int
	logger     *logrus.Logger
}

// NewLoader creates a recovery loader. The ledger may be nil; when set,
// recovered intraday positions are counted as today's entries.
func NewLoader(source PositionSource, tr *tracker.Tracker, lg *ledger.Ledger,
	underlying string, lotSize int, logger *logrus.Logger) *Loader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Loader{
		source:     source,
		tracker:    tr,
		ledger:     lg,
		underlying: underlying,
		lotSize:    lotSize,
		logger:     logger,
	}
}

// ParseOptionSymbol extracts the strike and option side from a trading
// symbol. Returns ok=false for anything that is not a recognizable
// option contract.
func ParseOptionSymbol(symbol string) (strike int, optType models.OptionType, ok bool) {
	m := optionSymbolRe.FindStringSubmatch(symbol)
	if m == nil {
		return 0, "", false
	}
	strike, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return strike, models.OptionType(m[2]), true
}

// Recover fetches the broker's net positions and tracks every long
// option on the configured underlying that is not already tracked.
// Recovered entries use the recovery time as an approximate entry time.
// It returns the number of positions recovered.
//
// Recovery is idempotent: running it again with the same broker state
// adds nothing, because symbols already tracked are skipped.
func (l *Loader) Recover(ctx context.Context, now time.Time) (int, error) {
	raw, err := l.source.FetchPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("recovering positions: %w", err)
	}

	recovered := 0
	for _, rp := range raw {
		pos, reason := l.convert(rp, now)
		if pos == nil {
			if reason != "" {
				l.logger.WithFields(logrus.Fields{
					"symbol": rp.TradingSymbol,
					"why":    reason,
				}).Debug("skipping broker position")
			}
			continue
		}
		if l.tracker.HasSymbol(pos.Symbol) {
			continue
		}
		if err := l.tracker.Add(pos); err != nil {
			l.logger.WithError(err).WithField("symbol", pos.Symbol).
				Warn("could not track recovered position")
			continue
		}
		if pos.NeedsReview {
			l.tracker.FlagForReview(pos.ID, "recovered without a usable entry premium")
		}
		// Intraday positions were necessarily entered today, so they
		// count against today's entry budget unless already recorded.
		if l.ledger != nil && !l.ledger.HasEntryToday(pos.Symbol, now) {
			l.ledger.RecordEntry(pos.Symbol, now)
		}
		recovered++
		l.logger.WithFields(logrus.Fields{
			"symbol":        pos.Symbol,
			"strike":        pos.StrikePrice,
			"lots":          pos.Quantity,
			"entry_premium": pos.EntryPremium,
		}).Info("position recovered from broker")
	}
	return recovered, nil
}

// convert maps one raw broker position onto a tracked position, or
// returns nil with the skip reason.
func (l *Loader) convert(rp broker.RawPosition, now time.Time) (*models.Position, string) {
	if rp.Quantity <= 0 {
		return nil, "" // flat or short, not ours to manage
	}
	if !strings.HasPrefix(rp.TradingSymbol, l.underlying) {
		return nil, "different underlying"
	}

	strike, optType, ok := ParseOptionSymbol(rp.TradingSymbol)
	if !ok {
		return nil, "unparseable trading symbol"
	}

	lots := rp.Quantity / l.lotSize
	if lots <= 0 || rp.Quantity%l.lotSize != 0 {
		return nil, fmt.Sprintf("quantity %d is not a whole number of %d-share lots",
			rp.Quantity, l.lotSize)
	}

	pos := models.NewPosition(uuid.NewString(), rp.TradingSymbol, strike,
		optType, lots, l.lotSize, rp.AveragePrice, now)
	pos.Recovered = true
	if rp.AveragePrice <= 0 {
		pos.NeedsReview = true
	}
	return pos, ""
}
