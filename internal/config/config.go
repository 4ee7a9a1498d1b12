// Package config defines all configuration for the arbitrage bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with a
// few operational fields overridable via ARB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	// EvalIntervalMs is the evaluation cadence of the multiplexer.
	// Overridable via ARB_EVAL_INTERVAL_MS; clamped to ≥ 1 ms.
	EvalIntervalMs int64 `mapstructure:"eval_interval_ms"`

	Logging  LoggingConfig   `mapstructure:"logging"`
	Feeds    FeedsConfig     `mapstructure:"feeds"`
	Profiles []ProfileConfig `mapstructure:"profiles"`
}

// LoggingConfig controls the stdout handler and the run-directory sinks.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"

	// RunDirBase is where run, run2, run3, … directories are created.
	RunDirBase string `mapstructure:"run_dir_base"`

	// MaxSinkLines bounds each sink's in-memory ring (dashboard log panel).
	MaxSinkLines int `mapstructure:"max_sink_lines"`
}

// FeedsConfig holds the two venue suppliers plus the shared spot poller.
type FeedsConfig struct {
	P    PFeedConfig    `mapstructure:"p"`
	K    KFeedConfig    `mapstructure:"k"`
	Spot SpotFeedConfig `mapstructure:"spot"`
}

// PFeedConfig points at the venue-P CLOB (Polymarket-style).
type PFeedConfig struct {
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`

	// RefreshInterval is how often market discovery re-resolves the current
	// expiry slug per coin.
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`

	// StaleAfter downgrades DataStatus to stale when no update arrived.
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// KFeedConfig points at the venue-K event exchange (Kalshi-style).
type KFeedConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	WSMarketURL string        `mapstructure:"ws_market_url"`
	// TickerPrefixes maps coin → market ticker prefix, e.g. BTC → KXBTC15M.
	TickerPrefixes  map[string]string `mapstructure:"ticker_prefixes"`
	RefreshInterval time.Duration     `mapstructure:"refresh_interval"`
	StaleAfter      time.Duration     `mapstructure:"stale_after"`
}

// SpotFeedConfig is the underlying spot price poller both suppliers share.
type SpotFeedConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// CoinParams tunes the entry gate and sizing for one (profile, coin) pair.
//
//   - TradeAllowedTimeLeft: entries only when timeLeftSec ≤ this (seconds).
//   - TradeStopTimeLeft: entries blocked when timeLeftSec ≤ this; 0 disables.
//   - MinGap: minimum 1 − combinedCost required to enter, in (0, 1).
//   - MaxSpendTotal / MinSpendTotal: combined-notional bounds per pair.
//   - MaxSpread: optional cap on per-venue bid/ask spread at entry.
//   - MinDepthValue: optional minimum resting ask value on each walked book.
//   - MaxPriceStalenessSec: optional cap on spot print age at entry.
//   - FillUSD: target notional per leg for fill estimation.
//   - CooldownMs: minimum gap between an open and the next entry decision.
type CoinParams struct {
	TradeAllowedTimeLeft float64 `mapstructure:"trade_allowed_time_left"`
	TradeStopTimeLeft    float64 `mapstructure:"trade_stop_time_left"`
	MinGap               float64 `mapstructure:"min_gap"`
	MaxSpendTotal        float64 `mapstructure:"max_spend_total"`
	MinSpendTotal        float64 `mapstructure:"min_spend_total"`
	MaxSpread            float64 `mapstructure:"max_spread"`
	MinDepthValue        float64 `mapstructure:"min_depth_value"`
	MaxPriceStalenessSec float64 `mapstructure:"max_price_staleness_sec"`
	FillUSD              float64 `mapstructure:"fill_usd"`
	CooldownMs           int64   `mapstructure:"cooldown_ms"`
}

// ProfileConfig is one engine's worth of configuration. Params applies to
// every coin in the profile; CoinOverrides replaces it wholesale for
// individual coins.
type ProfileConfig struct {
	Name              string                `mapstructure:"name"`
	Coins             []string              `mapstructure:"coins"`
	DecisionLatencyMs int64                 `mapstructure:"decision_latency_ms"`
	Params            CoinParams            `mapstructure:"params"`
	CoinOverrides     map[string]CoinParams `mapstructure:"coin_overrides"`
}

// ParamsFor returns the effective parameters for a coin.
func (p ProfileConfig) ParamsFor(coin string) CoinParams {
	if cp, ok := p.CoinOverrides[coin]; ok {
		return cp
	}
	return p.Params
}

// DefaultCoinParams are the fallback values for an unconfigured coin.
func DefaultCoinParams() CoinParams {
	return CoinParams{
		TradeAllowedTimeLeft: 900,
		MinGap:               0.04,
		MaxSpendTotal:        1000,
		FillUSD:              500,
		CooldownMs:           5000,
	}
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if raw := os.Getenv("ARB_EVAL_INTERVAL_MS"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 1 {
			return nil, fmt.Errorf("ARB_EVAL_INTERVAL_MS must be an integer ≥ 1, got %q", raw)
		}
		cfg.EvalIntervalMs = ms
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.EvalIntervalMs == 0 {
		c.EvalIntervalMs = 10
	}
	if c.EvalIntervalMs < 1 {
		c.EvalIntervalMs = 1
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.RunDirBase == "" {
		c.Logging.RunDirBase = "."
	}
	if c.Logging.MaxSinkLines == 0 {
		c.Logging.MaxSinkLines = 500
	}
	if c.Feeds.P.RefreshInterval == 0 {
		c.Feeds.P.RefreshInterval = 15 * time.Second
	}
	if c.Feeds.P.StaleAfter == 0 {
		c.Feeds.P.StaleAfter = 10 * time.Second
	}
	if c.Feeds.K.RefreshInterval == 0 {
		c.Feeds.K.RefreshInterval = 15 * time.Second
	}
	if c.Feeds.K.StaleAfter == 0 {
		c.Feeds.K.StaleAfter = 10 * time.Second
	}
	if c.Feeds.Spot.PollInterval == 0 {
		c.Feeds.Spot.PollInterval = 2 * time.Second
	}

	for i := range c.Profiles {
		p := &c.Profiles[i]
		if isZero(p.Params) {
			p.Params = DefaultCoinParams()
		}
	}
}

func isZero(cp CoinParams) bool {
	return cp == CoinParams{}
}

// Validate checks all required fields and value ranges. Invalid combinations
// are rejected with an error naming the profile and coin involved.
func (c *Config) Validate() error {
	if len(c.Profiles) == 0 {
		return fmt.Errorf("at least one profile is required")
	}
	if c.EvalIntervalMs < 1 {
		return fmt.Errorf("eval_interval_ms must be ≥ 1, got %d", c.EvalIntervalMs)
	}

	seen := make(map[string]bool)
	for _, p := range c.Profiles {
		if p.Name == "" {
			return fmt.Errorf("profile name is required")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate profile name %q", p.Name)
		}
		seen[p.Name] = true
		if len(p.Coins) == 0 {
			return fmt.Errorf("profile %q: at least one coin is required", p.Name)
		}
		if p.DecisionLatencyMs < 0 {
			return fmt.Errorf("profile %q: decision_latency_ms must be ≥ 0", p.Name)
		}
		for _, coin := range p.Coins {
			if err := validateParams(p.ParamsFor(coin)); err != nil {
				return fmt.Errorf("profile %q, coin %s: %w", p.Name, coin, err)
			}
		}
	}
	return nil
}

func validateParams(cp CoinParams) error {
	if cp.TradeAllowedTimeLeft <= 0 {
		return fmt.Errorf("trade_allowed_time_left must be > 0")
	}
	if cp.TradeStopTimeLeft != 0 &&
		(cp.TradeStopTimeLeft <= 0 || cp.TradeStopTimeLeft >= cp.TradeAllowedTimeLeft) {
		return fmt.Errorf("trade_stop_time_left must be in (0, trade_allowed_time_left)")
	}
	if cp.MinGap <= 0 || cp.MinGap >= 1 {
		return fmt.Errorf("min_gap must be in (0, 1)")
	}
	if cp.MaxSpendTotal <= 0 {
		return fmt.Errorf("max_spend_total must be > 0")
	}
	if cp.MinSpendTotal < 0 || cp.MinSpendTotal > cp.MaxSpendTotal {
		return fmt.Errorf("min_spend_total must be in [0, max_spend_total]")
	}
	if cp.MaxSpread < 0 {
		return fmt.Errorf("max_spread must be ≥ 0")
	}
	if cp.MinDepthValue < 0 {
		return fmt.Errorf("min_depth_value must be ≥ 0")
	}
	if cp.MaxPriceStalenessSec < 0 {
		return fmt.Errorf("max_price_staleness_sec must be ≥ 0")
	}
	if cp.FillUSD < 0 || cp.FillUSD > cp.MaxSpendTotal {
		return fmt.Errorf("fill_usd must be in [0, max_spend_total] (0 means unset)")
	}
	if cp.CooldownMs < 0 {
		return fmt.Errorf("cooldown_ms must be ≥ 0")
	}
	return nil
}

// FilterProfiles keeps only the named profiles (all when names is empty).
// Unknown names are an error so a typo on the command line fails loudly.
func (c *Config) FilterProfiles(names []string) error {
	if len(names) == 0 {
		return nil
	}
	byName := make(map[string]ProfileConfig, len(c.Profiles))
	for _, p := range c.Profiles {
		byName[p.Name] = p
	}
	filtered := make([]ProfileConfig, 0, len(names))
	for _, n := range names {
		p, ok := byName[n]
		if !ok {
			return fmt.Errorf("unknown profile %q", n)
		}
		filtered = append(filtered, p)
	}
	c.Profiles = filtered
	return nil
}

// FilterCoins restricts every profile to the named coins (no-op when empty).
// A profile left with no coins is dropped.
func (c *Config) FilterCoins(coins []string) {
	if len(coins) == 0 {
		return
	}
	allowed := make(map[string]bool, len(coins))
	for _, coin := range coins {
		allowed[strings.ToUpper(strings.TrimSpace(coin))] = true
	}
	var kept []ProfileConfig
	for _, p := range c.Profiles {
		var pc []string
		for _, coin := range p.Coins {
			if allowed[strings.ToUpper(coin)] {
				pc = append(pc, coin)
			}
		}
		if len(pc) > 0 {
			p.Coins = pc
			kept = append(kept, p)
		}
	}
	c.Profiles = kept
}

// AllCoins returns the union of coins across profiles, in first-seen order.
func (c *Config) AllCoins() []string {
	seen := make(map[string]bool)
	var coins []string
	for _, p := range c.Profiles {
		for _, coin := range p.Coins {
			if !seen[coin] {
				seen[coin] = true
				coins = append(coins, coin)
			}
		}
	}
	return coins
}
