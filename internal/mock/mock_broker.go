// Package mock provides a synthetic Broker implementation for paper
// trading and local development without broker credentials.
package mock

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/astrarise/nifty-options-bot/internal/broker"
	"github.com/astrarise/nifty-options-bot/internal/models"
)

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// MockBroker simulates a brokerage with a random-walking NIFTY level and
// synthetic option premiums. Orders fill on the next status poll.
type MockBroker struct {
	mu         sync.Mutex
	spot       float64
	strikeStep int
	window     int
	symbol     string
	expiryCode string
	nextOrder  int
	orders     map[string]broker.OrderStatus
}

var _ broker.Broker = (*MockBroker)(nil)

// NewMockBroker creates a mock with the spot near 24500.
func NewMockBroker(symbol, expiryCode string, strikeStep, window int) *MockBroker {
	return &MockBroker{
		spot:       24450.0 + secureFloat64()*100, // NIFTY around 24450-24550
		strikeStep: strikeStep,
		window:     window,
		symbol:     symbol,
		expiryCode: expiryCode,
		orders:     make(map[string]broker.OrderStatus),
	}
}

// drift advances the random walk a little.
func (m *MockBroker) drift() {
	m.spot += (secureFloat64() - 0.5) * 20
}

// syntheticPremium approximates an option premium from moneyness. It is
// not a pricing model, just shaped plausibly for exercising exit rules.
func (m *MockBroker) syntheticPremium(strike int, optType models.OptionType) float64 {
	intrinsic := 0.0
	switch optType {
	case models.OptionTypeCall:
		intrinsic = m.spot - float64(strike)
	case models.OptionTypePut:
		intrinsic = float64(strike) - m.spot
	}
	if intrinsic < 0 {
		intrinsic = 0
	}
	distance := math.Abs(m.spot - float64(strike))
	timeValue := 120 * math.Exp(-distance/300)
	premium := intrinsic + timeValue + (secureFloat64()-0.5)*4
	if premium < 0.05 {
		premium = 0.05
	}
	return math.Round(premium/0.05) * 0.05
}

// FetchOptionChain returns synthetic premiums for the window around ATM.
func (m *MockBroker) FetchOptionChain(_ context.Context) (map[int]broker.ChainStrike, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drift()

	atm := int(m.spot/float64(m.strikeStep)+0.5) * m.strikeStep
	chain := make(map[int]broker.ChainStrike, 2*m.window+1)
	for s := atm - m.window*m.strikeStep; s <= atm+m.window*m.strikeStep; s += m.strikeStep {
		chain[s] = broker.ChainStrike{
			Strike:  s,
			CallLTP: m.syntheticPremium(s, models.OptionTypeCall),
			PutLTP:  m.syntheticPremium(s, models.OptionTypePut),
		}
	}
	return chain, nil
}

// FetchUnderlyingPrice returns the simulated spot.
func (m *MockBroker) FetchUnderlyingPrice(_ context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spot, nil
}

// FetchUnderlyingCandles fabricates a minute series ending at the spot.
func (m *MockBroker) FetchUnderlyingCandles(_ context.Context, count int) ([]models.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candles := make([]models.Candle, 0, count)
	now := time.Now().Truncate(time.Minute)
	level := m.spot - float64(count)*0.5
	for i := 0; i < count; i++ {
		open := level
		level += (secureFloat64() - 0.45) * 8
		closePx := level
		high := math.Max(open, closePx) + secureFloat64()*3
		low := math.Min(open, closePx) - secureFloat64()*3
		candles = append(candles, models.Candle{
			Timestamp: now.Add(-time.Duration(count-i) * time.Minute),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    50000 + secureFloat64()*250000,
		})
	}
	return candles, nil
}

// FetchPositions returns an empty list; the mock holds no broker-side state.
func (m *MockBroker) FetchPositions(_ context.Context) ([]broker.RawPosition, error) {
	return []broker.RawPosition{}, nil
}

// PlaceSellOrder accepts any order and queues an immediate fill.
func (m *MockBroker) PlaceSellOrder(_ context.Context, _ string,
	quantity int, limitPrice float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextOrder++
	id := fmt.Sprintf("MOCK-%06d", m.nextOrder)
	m.orders[id] = broker.OrderStatus{
		OrderID:        id,
		Status:         "complete",
		FilledQuantity: quantity,
		AveragePrice:   limitPrice,
	}
	return id, nil
}

// GetOrderStatus reports the queued fill.
func (m *MockBroker) GetOrderStatus(_ context.Context, orderID string) (broker.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.orders[orderID]
	if !ok {
		return broker.OrderStatus{}, fmt.Errorf("mock: unknown order %s", orderID)
	}
	return status, nil
}

// SetSpot pins the simulated underlying level, for tests.
func (m *MockBroker) SetSpot(level float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spot = level
}
