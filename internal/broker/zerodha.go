package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"github.com/astrarise/nifty-options-bot/internal/models"
)

// niftyInstrumentToken is Kite's instrument token for the NIFTY 50 index.
const niftyInstrumentToken = 256265

// ZerodhaOptions configures a ZerodhaBroker.
type ZerodhaOptions struct {
	APIKey      string
	AccessToken string
	// UnderlyingQuote is the Kite quote key for the index, e.g. "NSE:NIFTY 50".
	UnderlyingQuote string
	Symbol          string // e.g. "NIFTY"
	ExpiryCode      string // e.g. "25SEP"
	StrikeStep      int
	StrikeWindow    int
}

// ZerodhaBroker implements Broker against the Kite Connect API. Kite has
// no single-shot chain endpoint, so the chain is assembled from one
// batched LTP call over symbols built around the ATM strike.
type ZerodhaBroker struct {
	kc     *kiteconnect.Client
	opts   ZerodhaOptions
	logger *logrus.Logger
}

var _ Broker = (*ZerodhaBroker)(nil)

// NewZerodhaBroker creates a broker client for the Kite Connect API.
func NewZerodhaBroker(opts ZerodhaOptions, logger *logrus.Logger) *ZerodhaBroker {
	if opts.UnderlyingQuote == "" {
		opts.UnderlyingQuote = "NSE:NIFTY 50"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	kc := kiteconnect.New(opts.APIKey)
	kc.SetAccessToken(opts.AccessToken)
	return &ZerodhaBroker{kc: kc, opts: opts, logger: logger}
}

// OptionSymbol builds the NFO trading symbol for one contract,
// e.g. NIFTY25SEP24500CE.
func OptionSymbol(symbol, expiryCode string, strike int, optType models.OptionType) string {
	return fmt.Sprintf("%s%s%d%s", symbol, expiryCode, strike, optType)
}

// FetchOptionChain batches LTP lookups for all strikes in the configured
// window into one request.
func (z *ZerodhaBroker) FetchOptionChain(ctx context.Context) (map[int]ChainStrike, error) {
	spot, err := z.FetchUnderlyingPrice(ctx)
	if err != nil {
		return nil, err
	}

	step, window := z.opts.StrikeStep, z.opts.StrikeWindow
	atm := int(spot/float64(step)+0.5) * step

	instruments := make([]string, 0, 2*(2*window+1))
	strikes := make([]int, 0, 2*window+1)
	for s := atm - window*step; s <= atm+window*step; s += step {
		strikes = append(strikes, s)
		instruments = append(instruments,
			"NFO:"+OptionSymbol(z.opts.Symbol, z.opts.ExpiryCode, s, models.OptionTypeCall),
			"NFO:"+OptionSymbol(z.opts.Symbol, z.opts.ExpiryCode, s, models.OptionTypePut))
	}

	quotes, err := z.kc.GetLTP(instruments...)
	if err != nil {
		return nil, fmt.Errorf("%w: batched ltp: %w", ErrUnavailable, err)
	}

	chain := make(map[int]ChainStrike, len(strikes))
	for _, s := range strikes {
		ce := quotes["NFO:"+OptionSymbol(z.opts.Symbol, z.opts.ExpiryCode, s, models.OptionTypeCall)]
		pe := quotes["NFO:"+OptionSymbol(z.opts.Symbol, z.opts.ExpiryCode, s, models.OptionTypePut)]
		chain[s] = ChainStrike{Strike: s, CallLTP: ce.LastPrice, PutLTP: pe.LastPrice}
	}
	return chain, nil
}

// FetchUnderlyingPrice returns the NIFTY spot level.
func (z *ZerodhaBroker) FetchUnderlyingPrice(_ context.Context) (float64, error) {
	quotes, err := z.kc.GetLTP(z.opts.UnderlyingQuote)
	if err != nil {
		return 0, fmt.Errorf("%w: underlying ltp: %w", ErrUnavailable, err)
	}
	q, ok := quotes[z.opts.UnderlyingQuote]
	if !ok || q.LastPrice <= 0 {
		return 0, fmt.Errorf("%w: underlying ltp missing for %s", ErrUnavailable, z.opts.UnderlyingQuote)
	}
	return q.LastPrice, nil
}

// FetchUnderlyingCandles returns the latest minute candles for the index,
// oldest first.
func (z *ZerodhaBroker) FetchUnderlyingCandles(_ context.Context, count int) ([]models.Candle, error) {
	to := time.Now()
	from := to.Add(-time.Duration(count+5) * time.Minute)
	data, err := z.kc.GetHistoricalData(niftyInstrumentToken, "minute", from, to, false, false)
	if err != nil {
		return nil, fmt.Errorf("%w: historical data: %w", ErrUnavailable, err)
	}

	candles := make([]models.Candle, 0, len(data))
	for _, d := range data {
		candles = append(candles, models.Candle{
			Timestamp: d.Date.Time,
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    float64(d.Volume),
		})
	}
	if len(candles) > count {
		candles = candles[len(candles)-count:]
	}
	return candles, nil
}

// FetchPositions returns the day's net positions.
func (z *ZerodhaBroker) FetchPositions(_ context.Context) ([]RawPosition, error) {
	positions, err := z.kc.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("%w: positions: %w", ErrUnavailable, err)
	}

	out := make([]RawPosition, 0, len(positions.Net))
	for _, p := range positions.Net {
		out = append(out, RawPosition{
			TradingSymbol: p.Tradingsymbol,
			Exchange:      p.Exchange,
			Quantity:      p.Quantity,
			AveragePrice:  p.AveragePrice,
			LastPrice:     p.LastPrice,
		})
	}
	return out, nil
}

// PlaceSellOrder submits an intraday (MIS) limit sell on NFO.
func (z *ZerodhaBroker) PlaceSellOrder(_ context.Context, symbol string,
	quantity int, limitPrice float64) (string, error) {
	resp, err := z.kc.PlaceOrder(kiteconnect.VarietyRegular, kiteconnect.OrderParams{
		Exchange:        "NFO",
		Tradingsymbol:   symbol,
		Product:         kiteconnect.ProductMIS,
		OrderType:       kiteconnect.OrderTypeLimit,
		TransactionType: kiteconnect.TransactionTypeSell,
		Quantity:        quantity,
		Price:           limitPrice,
		Validity:        "DAY",
	})
	if err != nil {
		return "", fmt.Errorf("%w: place order: %w", ErrUnavailable, err)
	}
	return resp.OrderID, nil
}

// GetOrderStatus reports the latest state of the order from its history.
func (z *ZerodhaBroker) GetOrderStatus(_ context.Context, orderID string) (OrderStatus, error) {
	history, err := z.kc.GetOrderHistory(orderID)
	if err != nil {
		return OrderStatus{}, fmt.Errorf("%w: order history: %w", ErrUnavailable, err)
	}
	if len(history) == 0 {
		return OrderStatus{}, fmt.Errorf("%w: no history for order %s", ErrUnavailable, orderID)
	}

	latest := history[len(history)-1]
	return OrderStatus{
		OrderID:        latest.OrderID,
		Status:         normalizeOrderStatus(latest.Status),
		FilledQuantity: int(latest.FilledQuantity),
		AveragePrice:   latest.AveragePrice,
	}, nil
}
