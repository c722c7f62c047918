package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/astrarise/nifty-options-bot/internal/models"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// flakyBroker fails every call until healed.
type flakyBroker struct {
	healthy bool
	calls   int
}

func (f *flakyBroker) fail() error {
	f.calls++
	if f.healthy {
		return nil
	}
	return errors.New("connection reset")
}

func (f *flakyBroker) FetchOptionChain(_ context.Context) (map[int]ChainStrike, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return map[int]ChainStrike{24500: {Strike: 24500, CallLTP: 20, PutLTP: 30}}, nil
}

func (f *flakyBroker) FetchUnderlyingPrice(_ context.Context) (float64, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	return 24500, nil
}

func (f *flakyBroker) FetchUnderlyingCandles(_ context.Context, _ int) ([]models.Candle, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *flakyBroker) FetchPositions(_ context.Context) ([]RawPosition, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return []RawPosition{}, nil
}

func (f *flakyBroker) PlaceSellOrder(_ context.Context, _ string, _ int, _ float64) (string, error) {
	if err := f.fail(); err != nil {
		return "", err
	}
	return "ORD-1", nil
}

func (f *flakyBroker) GetOrderStatus(_ context.Context, _ string) (OrderStatus, error) {
	if err := f.fail(); err != nil {
		return OrderStatus{}, err
	}
	return OrderStatus{OrderID: "ORD-1", Status: "complete"}, nil
}

func TestChainStrikePremium(t *testing.T) {
	s := ChainStrike{Strike: 24500, CallLTP: 21.4, PutLTP: 33.2}
	if got := s.Premium(models.OptionTypeCall); got != 21.4 {
		t.Errorf("Premium(CE) = %v, want 21.4", got)
	}
	if got := s.Premium(models.OptionTypePut); got != 33.2 {
		t.Errorf("Premium(PE) = %v, want 33.2", got)
	}
	if got := s.Premium("XX"); got != 0 {
		t.Errorf("Premium(invalid) = %v, want 0", got)
	}
}

func TestOrderStatusPredicates(t *testing.T) {
	tests := []struct {
		status   string
		filled   bool
		terminal bool
	}{
		{"complete", true, true},
		{"rejected", false, true},
		{"cancelled", false, true},
		{"open", false, false},
	}
	for _, tt := range tests {
		o := OrderStatus{Status: tt.status}
		if o.Filled() != tt.filled || o.Terminal() != tt.terminal {
			t.Errorf("status %q: Filled()=%v Terminal()=%v, want %v/%v",
				tt.status, o.Filled(), o.Terminal(), tt.filled, tt.terminal)
		}
	}
}

func TestCircuitBreakerPassesThroughWhenHealthy(t *testing.T) {
	fb := &flakyBroker{healthy: true}
	cb := NewCircuitBreakerBroker(fb, quietLogger())

	chain, err := cb.FetchOptionChain(context.Background())
	if err != nil {
		t.Fatalf("FetchOptionChain() error = %v", err)
	}
	if len(chain) != 1 {
		t.Errorf("chain len = %d, want 1", len(chain))
	}
}

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	fb := &flakyBroker{}
	cb := NewCircuitBreakerBrokerWithSettings(fb, quietLogger(), CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  5,
		FailureRatio: 0.6,
	})

	for i := 0; i < 8; i++ {
		_, _ = cb.FetchUnderlyingPrice(context.Background())
	}

	if cb.breaker.State() != gobreaker.StateOpen {
		t.Fatalf("breaker state = %s, want open", cb.breaker.State())
	}

	// While open, calls fail fast without hitting the broker.
	before := fb.calls
	_, err := cb.FetchUnderlyingPrice(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable while open", err)
	}
	if fb.calls != before {
		t.Error("open breaker must not call the underlying broker")
	}
}

func TestCircuitBreakerRecovers(t *testing.T) {
	fb := &flakyBroker{}
	cb := NewCircuitBreakerBrokerWithSettings(fb, quietLogger(), CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     10 * time.Millisecond,
		Timeout:      10 * time.Millisecond,
		MinRequests:  3,
		FailureRatio: 0.5,
	})

	for i := 0; i < 5; i++ {
		_, _ = cb.FetchUnderlyingPrice(context.Background())
	}
	if cb.breaker.State() != gobreaker.StateOpen {
		t.Fatalf("breaker state = %s, want open", cb.breaker.State())
	}

	fb.healthy = true
	deadline := time.After(time.Second)
	for cb.breaker.State() != gobreaker.StateClosed {
		select {
		case <-deadline:
			t.Fatal("breaker did not close after recovery")
		default:
		}
		_, _ = cb.FetchUnderlyingPrice(context.Background())
		time.Sleep(2 * time.Millisecond)
	}

	if _, err := cb.FetchUnderlyingPrice(context.Background()); err != nil {
		t.Errorf("call after recovery error = %v", err)
	}
}
