// Package config provides configuration management for the trading bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Exit rule defaults, applied when the corresponding field is unset.
const (
	defaultStopLossPct           = 30.0
	defaultProfitTargetPct       = 50.0
	defaultMaxHoldHours          = 6.0
	defaultSoftHoldHours         = 4.0
	defaultSoftProfitFloorPct    = 10.0
	defaultRequiredConfirmations = 3
	defaultMinTrendBreakPct      = 2.0
	defaultMinHoldMinutes        = 15.0
	defaultMinViablePremium      = 2.0
	defaultQuoteTTL              = "90s"
	defaultStaleCeilingMultiple  = 5
	defaultRefreshTimeout        = "5s"
	defaultTickInterval          = "30s"
	defaultTrendPeriod           = 9
	defaultCandleCount           = 30
	defaultLotSize               = 75
	defaultStrikeStep            = 50
	defaultStrikeWindow          = 10
	defaultTimezone              = "Asia/Kolkata"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Underlying  UnderlyingConfig  `yaml:"underlying"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Exit        ExitConfig        `yaml:"exit"`
	Quotes      QuotesConfig      `yaml:"quotes"`
	Trend       TrendConfig       `yaml:"trend"`
	Risk        RiskConfig        `yaml:"risk"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	Provider    string `yaml:"provider"` // upstox | zerodha | mock
	APIKey      string `yaml:"api_key"`
	AccessToken string `yaml:"access_token"`
	// InstrumentKey is the broker's key for the underlying index,
	// e.g. "NSE_INDEX|Nifty 50" for Upstox.
	InstrumentKey string `yaml:"instrument_key"`
	// ExpiryCode is the contract expiry fragment used when building option
	// trading symbols for quote lookups, e.g. "25SEP".
	ExpiryCode string `yaml:"expiry_code"`
	// ExpiryDate is the contract expiry in YYYY-MM-DD form, used by APIs
	// that key the option chain by date.
	ExpiryDate string `yaml:"expiry_date"`
}

// UnderlyingConfig describes the traded underlying and its contract terms.
type UnderlyingConfig struct {
	Symbol       string `yaml:"symbol"`
	LotSize      int    `yaml:"lot_size"`
	StrikeStep   int    `yaml:"strike_step"`
	StrikeWindow int    `yaml:"strike_window"` // strikes each side of ATM to fetch
}

// ScheduleConfig defines the evaluation schedule and market hours.
type ScheduleConfig struct {
	Timezone     string `yaml:"timezone"`      // e.g. "Asia/Kolkata"
	TickInterval string `yaml:"tick_interval"` // evaluation loop period
	TradingStart string `yaml:"trading_start"` // "HH:MM"
	TradingEnd   string `yaml:"trading_end"`   // "HH:MM"
	SquareOff    string `yaml:"square_off"`    // "HH:MM" mandatory intraday close
}

// ExitConfig holds the tunable exit rule thresholds. The reversal
// confirmation parameters are deliberately configurable rather than
// hard-coded; representative defaults are applied when unset.
type ExitConfig struct {
	StopLossPct           float64 `yaml:"stop_loss_pct"`
	ProfitTargetPct       float64 `yaml:"profit_target_pct"`
	MaxHoldHours          float64 `yaml:"max_hold_hours"`
	SoftHoldHours         float64 `yaml:"soft_hold_hours"`
	SoftProfitFloorPct    float64 `yaml:"soft_profit_floor_pct"`
	RequiredConfirmations int     `yaml:"required_confirmations"`
	MinTrendBreakPct      float64 `yaml:"min_trend_break_pct"`
	MinHoldMinutes        float64 `yaml:"min_hold_minutes"`
	MinViablePremium      float64 `yaml:"min_viable_premium"`
}

// QuotesConfig defines option chain cache behavior.
type QuotesConfig struct {
	TTL string `yaml:"ttl"`
	// StaleCeilingMultiple caps how long an unrefreshed snapshot stays
	// usable, as a multiple of the TTL.
	StaleCeilingMultiple int    `yaml:"stale_ceiling_multiple"`
	RefreshTimeout       string `yaml:"refresh_timeout"`
}

// TrendConfig defines trend reference computation parameters.
type TrendConfig struct {
	Period      int `yaml:"period"`
	CandleCount int `yaml:"candle_count"`
}

// RiskConfig defines risk limits.
type RiskConfig struct {
	MaxDailyTrades int `yaml:"max_daily_trades"`
}

// StorageConfig defines storage settings for position data.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the status dashboard settings.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Environment.Mode == "" {
		c.Environment.Mode = "paper"
	}
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Underlying.Symbol == "" {
		c.Underlying.Symbol = "NIFTY"
	}
	if c.Underlying.LotSize == 0 {
		c.Underlying.LotSize = defaultLotSize
	}
	if c.Underlying.StrikeStep == 0 {
		c.Underlying.StrikeStep = defaultStrikeStep
	}
	if c.Underlying.StrikeWindow == 0 {
		c.Underlying.StrikeWindow = defaultStrikeWindow
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = defaultTimezone
	}
	if c.Schedule.TickInterval == "" {
		c.Schedule.TickInterval = defaultTickInterval
	}
	if c.Schedule.TradingStart == "" {
		c.Schedule.TradingStart = "09:15"
	}
	if c.Schedule.TradingEnd == "" {
		c.Schedule.TradingEnd = "15:30"
	}
	if c.Schedule.SquareOff == "" {
		c.Schedule.SquareOff = "15:20"
	}
	if c.Exit.StopLossPct == 0 {
		c.Exit.StopLossPct = defaultStopLossPct
	}
	if c.Exit.ProfitTargetPct == 0 {
		c.Exit.ProfitTargetPct = defaultProfitTargetPct
	}
	if c.Exit.MaxHoldHours == 0 {
		c.Exit.MaxHoldHours = defaultMaxHoldHours
	}
	if c.Exit.SoftHoldHours == 0 {
		c.Exit.SoftHoldHours = defaultSoftHoldHours
	}
	if c.Exit.SoftProfitFloorPct == 0 {
		c.Exit.SoftProfitFloorPct = defaultSoftProfitFloorPct
	}
	if c.Exit.RequiredConfirmations == 0 {
		c.Exit.RequiredConfirmations = defaultRequiredConfirmations
	}
	if c.Exit.MinTrendBreakPct == 0 {
		c.Exit.MinTrendBreakPct = defaultMinTrendBreakPct
	}
	if c.Exit.MinHoldMinutes == 0 {
		c.Exit.MinHoldMinutes = defaultMinHoldMinutes
	}
	if c.Exit.MinViablePremium == 0 {
		c.Exit.MinViablePremium = defaultMinViablePremium
	}
	if c.Quotes.TTL == "" {
		c.Quotes.TTL = defaultQuoteTTL
	}
	if c.Quotes.StaleCeilingMultiple == 0 {
		c.Quotes.StaleCeilingMultiple = defaultStaleCeilingMultiple
	}
	if c.Quotes.RefreshTimeout == "" {
		c.Quotes.RefreshTimeout = defaultRefreshTimeout
	}
	if c.Trend.Period == 0 {
		c.Trend.Period = defaultTrendPeriod
	}
	if c.Trend.CandleCount == 0 {
		c.Trend.CandleCount = defaultCandleCount
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/positions.json"
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	switch c.Broker.Provider {
	case "upstox", "zerodha":
		if c.Broker.AccessToken == "" {
			return fmt.Errorf("broker.access_token is required for provider %q", c.Broker.Provider)
		}
	case "mock":
		// No credentials needed.
	default:
		return fmt.Errorf("broker.provider must be 'upstox', 'zerodha' or 'mock'")
	}
	if c.Broker.Provider == "zerodha" && c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required for provider 'zerodha'")
	}

	if c.Underlying.LotSize <= 0 {
		return fmt.Errorf("underlying.lot_size must be > 0")
	}
	if c.Underlying.StrikeStep <= 0 {
		return fmt.Errorf("underlying.strike_step must be > 0")
	}

	if c.Exit.StopLossPct <= 0 {
		return fmt.Errorf("exit.stop_loss_pct must be > 0")
	}
	if c.Exit.ProfitTargetPct <= 0 {
		return fmt.Errorf("exit.profit_target_pct must be > 0")
	}
	if c.Exit.SoftHoldHours >= c.Exit.MaxHoldHours {
		return fmt.Errorf("exit.soft_hold_hours (%.1f) must be < exit.max_hold_hours (%.1f)",
			c.Exit.SoftHoldHours, c.Exit.MaxHoldHours)
	}
	if c.Exit.RequiredConfirmations <= 0 {
		return fmt.Errorf("exit.required_confirmations must be > 0")
	}

	if c.Quotes.StaleCeilingMultiple < 1 {
		return fmt.Errorf("quotes.stale_ceiling_multiple must be >= 1")
	}
	if _, err := time.ParseDuration(c.Quotes.TTL); err != nil {
		return fmt.Errorf("quotes.ttl invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Quotes.RefreshTimeout); err != nil {
		return fmt.Errorf("quotes.refresh_timeout invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Schedule.TickInterval); err != nil {
		return fmt.Errorf("schedule.tick_interval invalid: %w", err)
	}

	if c.Risk.MaxDailyTrades < 0 {
		return fmt.Errorf("risk.max_daily_trades must be >= 0")
	}

	loc := c.Location()
	for name, v := range map[string]string{
		"schedule.trading_start": c.Schedule.TradingStart,
		"schedule.trading_end":   c.Schedule.TradingEnd,
		"schedule.square_off":    c.Schedule.SquareOff,
	} {
		if _, err := time.ParseInLocation("15:04", v, loc); err != nil {
			return fmt.Errorf("%s invalid: %w", name, err)
		}
	}
	start, _ := time.ParseInLocation("15:04", c.Schedule.TradingStart, loc)
	end, _ := time.ParseInLocation("15:04", c.Schedule.TradingEnd, loc)
	if !start.Before(end) {
		return fmt.Errorf("schedule trading window invalid: start must be before end")
	}

	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be in (0, 65535]")
	}

	return nil
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// Location returns the configured market timezone, falling back to a fixed
// IST offset for minimal containers without tzdata.
func (c *Config) Location() *time.Location {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.FixedZone("IST", 5*60*60+30*60)
	}
	return loc
}

// TickInterval returns the configured evaluation interval.
func (c *Config) TickInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.TickInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// QuoteTTL returns the configured quote cache TTL.
func (c *Config) QuoteTTL() time.Duration {
	d, err := time.ParseDuration(c.Quotes.TTL)
	if err != nil {
		return 90 * time.Second
	}
	return d
}

// QuoteRefreshTimeout returns the upper bound for a single chain refresh.
func (c *Config) QuoteRefreshTimeout() time.Duration {
	d, err := time.ParseDuration(c.Quotes.RefreshTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// SquareOffAt returns today's square-off instant in the market timezone.
func (c *Config) SquareOffAt(now time.Time) time.Time {
	loc := c.Location()
	today := now.In(loc)
	clock, err := time.ParseInLocation("15:04", c.Schedule.SquareOff, loc)
	if err != nil {
		clock = time.Date(0, 1, 1, 15, 20, 0, 0, loc)
	}
	return time.Date(today.Year(), today.Month(), today.Day(),
		clock.Hour(), clock.Minute(), 0, 0, loc)
}

// IsWithinTradingHours checks if the given time falls within configured
// market hours on a weekday.
func (c *Config) IsWithinTradingHours(now time.Time) bool {
	loc := c.Location()
	today := now.In(loc)

	if today.Weekday() == time.Saturday || today.Weekday() == time.Sunday {
		return false
	}

	startClock, err1 := time.ParseInLocation("15:04", c.Schedule.TradingStart, loc)
	endClock, err2 := time.ParseInLocation("15:04", c.Schedule.TradingEnd, loc)
	if err1 != nil || err2 != nil {
		// Safe defaults if misconfigured
		startClock = time.Date(0, 1, 1, 9, 15, 0, 0, loc)
		endClock = time.Date(0, 1, 1, 15, 30, 0, 0, loc)
	}
	start := time.Date(today.Year(), today.Month(), today.Day(),
		startClock.Hour(), startClock.Minute(), 0, 0, loc)
	end := time.Date(today.Year(), today.Month(), today.Day(),
		endClock.Hour(), endClock.Minute(), 0, 0, loc)

	// Inclusive start, exclusive end
	return !today.Before(start) && today.Before(end)
}
