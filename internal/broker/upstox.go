package broker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/astrarise/nifty-options-bot/internal/models"
)

const upstoxBaseURL = "https://api.upstox.com"

// UpstoxOptions configures an UpstoxBroker.
type UpstoxOptions struct {
	BaseURL       string // override for tests; defaults to the production API
	AccessToken   string
	InstrumentKey string // e.g. "NSE_INDEX|Nifty 50"
	ExpiryDate    string // "YYYY-MM-DD"
	Symbol        string // e.g. "NIFTY", used when building order symbols
	ExpiryCode    string // e.g. "25SEP", used when building order symbols
	StrikeStep    int
	StrikeWindow  int // strikes each side of ATM to keep
	Timeout       time.Duration
}

// UpstoxBroker implements Broker against the Upstox v2 REST API.
type UpstoxBroker struct {
	client *resty.Client
	opts   UpstoxOptions
	logger *logrus.Logger
}

var _ Broker = (*UpstoxBroker)(nil)

// NewUpstoxBroker creates a broker client for the Upstox v2 API.
func NewUpstoxBroker(opts UpstoxOptions, logger *logrus.Logger) *UpstoxBroker {
	if opts.BaseURL == "" {
		opts.BaseURL = upstoxBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetAuthToken(opts.AccessToken)

	return &UpstoxBroker{client: client, opts: opts, logger: logger}
}

type upstoxChainResponse struct {
	Status string `json:"status"`
	Data   []struct {
		StrikePrice     float64 `json:"strike_price"`
		UnderlyingPrice float64 `json:"underlying_spot_price"`
		CallOptions     struct {
			MarketData struct {
				LTP float64 `json:"ltp"`
			} `json:"market_data"`
		} `json:"call_options"`
		PutOptions struct {
			MarketData struct {
				LTP float64 `json:"ltp"`
			} `json:"market_data"`
		} `json:"put_options"`
	} `json:"data"`
}

// FetchOptionChain retrieves the full chain for the configured expiry in a
// single request and trims it to the configured window around the ATM strike.
func (u *UpstoxBroker) FetchOptionChain(ctx context.Context) (map[int]ChainStrike, error) {
	var out upstoxChainResponse
	resp, err := u.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"instrument_key": u.opts.InstrumentKey,
			"expiry_date":    u.opts.ExpiryDate,
		}).
		SetResult(&out).
		Get("/v2/option/chain")
	if err != nil {
		return nil, fmt.Errorf("%w: option chain request: %w", ErrUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: option chain returned %s", ErrUnavailable, resp.Status())
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("%w: option chain empty for %s", ErrUnavailable, u.opts.ExpiryDate)
	}

	spot := out.Data[0].UnderlyingPrice
	chain := make(map[int]ChainStrike, len(out.Data))
	for _, row := range out.Data {
		strike := int(row.StrikePrice)
		chain[strike] = ChainStrike{
			Strike:  strike,
			CallLTP: row.CallOptions.MarketData.LTP,
			PutLTP:  row.PutOptions.MarketData.LTP,
		}
	}
	return trimToWindow(chain, spot, u.opts.StrikeStep, u.opts.StrikeWindow), nil
}

// trimToWindow keeps only strikes within window steps of the ATM strike.
// A zero window or unknown spot returns the chain unmodified.
func trimToWindow(chain map[int]ChainStrike, spot float64, step, window int) map[int]ChainStrike {
	if window <= 0 || step <= 0 || spot <= 0 {
		return chain
	}
	atm := int(spot/float64(step)+0.5) * step
	span := window * step
	trimmed := make(map[int]ChainStrike, 2*window+1)
	for strike, row := range chain {
		if strike >= atm-span && strike <= atm+span {
			trimmed[strike] = row
		}
	}
	if len(trimmed) == 0 {
		return chain
	}
	return trimmed
}

type upstoxLTPResponse struct {
	Status string `json:"status"`
	Data   map[string]struct {
		LastPrice float64 `json:"last_price"`
	} `json:"data"`
}

// FetchUnderlyingPrice returns the spot level of the configured index.
func (u *UpstoxBroker) FetchUnderlyingPrice(ctx context.Context) (float64, error) {
	var out upstoxLTPResponse
	resp, err := u.client.R().
		SetContext(ctx).
		SetQueryParam("instrument_key", u.opts.InstrumentKey).
		SetResult(&out).
		Get("/v2/market-quote/ltp")
	if err != nil {
		return 0, fmt.Errorf("%w: ltp request: %w", ErrUnavailable, err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("%w: ltp returned %s", ErrUnavailable, resp.Status())
	}
	for _, q := range out.Data {
		if q.LastPrice > 0 {
			return q.LastPrice, nil
		}
	}
	return 0, fmt.Errorf("%w: ltp response missing price", ErrUnavailable)
}

type upstoxCandleResponse struct {
	Status string `json:"status"`
	Data   struct {
		// Each candle is [timestamp, open, high, low, close, volume, oi].
		Candles [][]interface{} `json:"candles"`
	} `json:"data"`
}

// FetchUnderlyingCandles returns the most recent intraday candles, oldest
// first. Upstox returns newest first, so the slice is reversed.
func (u *UpstoxBroker) FetchUnderlyingCandles(ctx context.Context, count int) ([]models.Candle, error) {
	var out upstoxCandleResponse
	path := fmt.Sprintf("/v2/historical-candle/intraday/%s/1minute", u.opts.InstrumentKey)
	resp, err := u.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("%w: candle request: %w", ErrUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: candles returned %s", ErrUnavailable, resp.Status())
	}

	candles := make([]models.Candle, 0, count)
	for _, raw := range out.Data.Candles {
		c, ok := parseUpstoxCandle(raw)
		if !ok {
			u.logger.WithField("candle", raw).Debug("skipping malformed candle row")
			continue
		}
		candles = append(candles, c)
		if len(candles) == count {
			break
		}
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	return candles, nil
}

func parseUpstoxCandle(raw []interface{}) (models.Candle, bool) {
	if len(raw) < 6 {
		return models.Candle{}, false
	}
	ts, ok := raw[0].(string)
	if !ok {
		return models.Candle{}, false
	}
	at, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return models.Candle{}, false
	}
	nums := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, ok := raw[i+1].(float64)
		if !ok {
			return models.Candle{}, false
		}
		nums[i] = v
	}
	return models.Candle{
		Timestamp: at,
		Open:      nums[0],
		High:      nums[1],
		Low:       nums[2],
		Close:     nums[3],
		Volume:    nums[4],
	}, true
}

type upstoxPositionsResponse struct {
	Status string `json:"status"`
	Data   []struct {
		TradingSymbol string  `json:"trading_symbol"`
		Exchange      string  `json:"exchange"`
		Quantity      int     `json:"quantity"`
		AveragePrice  float64 `json:"average_price"`
		LastPrice     float64 `json:"last_price"`
	} `json:"data"`
}

// FetchPositions returns the current short-term position list.
func (u *UpstoxBroker) FetchPositions(ctx context.Context) ([]RawPosition, error) {
	var out upstoxPositionsResponse
	resp, err := u.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v2/portfolio/short-term-positions")
	if err != nil {
		return nil, fmt.Errorf("%w: positions request: %w", ErrUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: positions returned %s", ErrUnavailable, resp.Status())
	}

	positions := make([]RawPosition, 0, len(out.Data))
	for _, p := range out.Data {
		positions = append(positions, RawPosition{
			TradingSymbol: p.TradingSymbol,
			Exchange:      p.Exchange,
			Quantity:      p.Quantity,
			AveragePrice:  p.AveragePrice,
			LastPrice:     p.LastPrice,
		})
	}
	return positions, nil
}

type upstoxOrderResponse struct {
	Status string `json:"status"`
	Data   struct {
		OrderID string `json:"order_id"`
	} `json:"data"`
}

// PlaceSellOrder submits an intraday limit sell order.
func (u *UpstoxBroker) PlaceSellOrder(ctx context.Context, symbol string,
	quantity int, limitPrice float64) (string, error) {
	var out upstoxOrderResponse
	resp, err := u.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"instrument_token":  symbol,
			"quantity":          quantity,
			"price":             limitPrice,
			"order_type":        "LIMIT",
			"transaction_type":  "SELL",
			"product":           "I",
			"validity":          "DAY",
			"disclosed_quantity": 0,
			"trigger_price":     0,
			"is_amo":            false,
		}).
		SetResult(&out).
		Post("/v2/order/place")
	if err != nil {
		return "", fmt.Errorf("%w: order place request: %w", ErrUnavailable, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: order place returned %s", ErrUnavailable, resp.Status())
	}
	if out.Data.OrderID == "" {
		return "", fmt.Errorf("%w: order place response missing order id", ErrUnavailable)
	}
	return out.Data.OrderID, nil
}

type upstoxOrderDetailsResponse struct {
	Status string `json:"status"`
	Data   struct {
		OrderID        string  `json:"order_id"`
		Status         string  `json:"status"`
		FilledQuantity int     `json:"filled_quantity"`
		AveragePrice   float64 `json:"average_price"`
	} `json:"data"`
}

// GetOrderStatus reports the fill state of a previously placed order.
func (u *UpstoxBroker) GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	var out upstoxOrderDetailsResponse
	resp, err := u.client.R().
		SetContext(ctx).
		SetQueryParam("order_id", orderID).
		SetResult(&out).
		Get("/v2/order/details")
	if err != nil {
		return OrderStatus{}, fmt.Errorf("%w: order details request: %w", ErrUnavailable, err)
	}
	if resp.IsError() {
		return OrderStatus{}, fmt.Errorf("%w: order details returned %s", ErrUnavailable, resp.Status())
	}
	return OrderStatus{
		OrderID:        out.Data.OrderID,
		Status:         normalizeOrderStatus(out.Data.Status),
		FilledQuantity: out.Data.FilledQuantity,
		AveragePrice:   out.Data.AveragePrice,
	}, nil
}

// normalizeOrderStatus maps broker status strings onto the small set the
// engine understands.
func normalizeOrderStatus(s string) string {
	switch s {
	case "complete", "COMPLETE":
		return "complete"
	case "rejected", "REJECTED":
		return "rejected"
	case "cancelled", "CANCELLED", "cancelled after market order", "canceled":
		return "cancelled"
	default:
		return "open"
	}
}
