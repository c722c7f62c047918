// Package broker abstracts the brokerage APIs the engine reads from and
// trades through. Implementations exist for Upstox, Zerodha and an
// in-process mock for paper trading.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/astrarise/nifty-options-bot/internal/models"
)

// ErrUnavailable wraps every transport-level failure (network error,
// non-2xx response, broker outage). Callers treat it as "no fresh data
// this tick" rather than a fatal condition.
var ErrUnavailable = errors.New("broker unavailable")

// ChainStrike holds the last traded premiums for one strike of the chain.
type ChainStrike struct {
	Strike  int     `json:"strike"`
	CallLTP float64 `json:"call_ltp"`
	PutLTP  float64 `json:"put_ltp"`
}

// Premium returns the LTP for the requested side, or 0 when absent.
func (s ChainStrike) Premium(optType models.OptionType) float64 {
	switch optType {
	case models.OptionTypeCall:
		return s.CallLTP
	case models.OptionTypePut:
		return s.PutLTP
	default:
		return 0
	}
}

// RawPosition is a net open position as reported by the broker, before
// any parsing of the trading symbol.
type RawPosition struct {
	TradingSymbol string  `json:"trading_symbol"`
	Exchange      string  `json:"exchange"`
	Quantity      int     `json:"quantity"` // net shares, positive = long
	AveragePrice  float64 `json:"average_price"`
	LastPrice     float64 `json:"last_price"`
}

// OrderStatus describes the broker-side state of a placed order.
type OrderStatus struct {
	OrderID        string  `json:"order_id"`
	Status         string  `json:"status"` // open | complete | rejected | cancelled
	FilledQuantity int     `json:"filled_quantity"`
	AveragePrice   float64 `json:"average_price"`
}

// Filled reports whether the order completed.
func (o OrderStatus) Filled() bool { return o.Status == "complete" }

// Terminal reports whether the order can no longer fill.
func (o OrderStatus) Terminal() bool {
	return o.Status == "complete" || o.Status == "rejected" || o.Status == "cancelled"
}

// Broker defines the brokerage operations the engine depends on.
// All calls honor context cancellation; transport failures are wrapped
// in ErrUnavailable.
type Broker interface {
	// FetchOptionChain returns premiums for strikes around the ATM level
	// in a single batched request.
	FetchOptionChain(ctx context.Context) (map[int]ChainStrike, error)

	// FetchUnderlyingPrice returns the spot level of the underlying index.
	FetchUnderlyingPrice(ctx context.Context) (float64, error)

	// FetchUnderlyingCandles returns the most recent intraday candles,
	// oldest first.
	FetchUnderlyingCandles(ctx context.Context, count int) ([]models.Candle, error)

	// FetchPositions returns the broker's current net position list.
	FetchPositions(ctx context.Context) ([]RawPosition, error)

	// PlaceSellOrder submits a limit sell and returns the broker order ID.
	PlaceSellOrder(ctx context.Context, symbol string, quantity int, limitPrice float64) (string, error)

	// GetOrderStatus reports the fill state of a previously placed order.
	GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error)
}

// Compile-time checks that all implementations satisfy the interface.
var (
	_ Broker = (*CircuitBreakerBroker)(nil)
)

// CircuitBreakerBroker wraps a Broker so that a flapping brokerage API
// stops being hammered and the engine degrades to stale-cache behavior.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker wraps broker with defaults tuned for a 30s
// evaluation loop.
func NewCircuitBreakerBroker(broker Broker, logger *logrus.Logger) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, logger, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings wraps broker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, logger *logrus.Logger,
	settings CircuitBreakerSettings) *CircuitBreakerBroker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// FetchOptionChain wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) FetchOptionChain(ctx context.Context) (map[int]ChainStrike, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (map[int]ChainStrike, error) {
		return b.FetchOptionChain(ctx)
	})
}

// FetchUnderlyingPrice wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) FetchUnderlyingPrice(ctx context.Context) (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) {
		return b.FetchUnderlyingPrice(ctx)
	})
}

// FetchUnderlyingCandles wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) FetchUnderlyingCandles(ctx context.Context, count int) ([]models.Candle, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]models.Candle, error) {
		return b.FetchUnderlyingCandles(ctx, count)
	})
}

// FetchPositions wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) FetchPositions(ctx context.Context) ([]RawPosition, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]RawPosition, error) {
		return b.FetchPositions(ctx)
	})
}

// PlaceSellOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) PlaceSellOrder(ctx context.Context, symbol string,
	quantity int, limitPrice float64) (string, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (string, error) {
		return b.PlaceSellOrder(ctx, symbol, quantity, limitPrice)
	})
}

// GetOrderStatus wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (OrderStatus, error) {
		return b.GetOrderStatus(ctx, orderID)
	})
}
