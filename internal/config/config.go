// Package config defines all configuration for the arbitrage bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via POLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun      bool              `mapstructure:"dry_run"`
	Mode        string            `mapstructure:"mode"` // "dry_run", "paper", "live"
	Wallet      WalletConfig      `mapstructure:"wallet"`
	API         APIConfig         `mapstructure:"api"`
	Reference   ReferenceConfig   `mapstructure:"reference"`
	Markets     []MarketConfig    `mapstructure:"markets"`
	Strategy    StrategyConfig    `mapstructure:"strategy"`
	Execution   ExecutionConfig   `mapstructure:"execution"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Exposure    ExposureConfig    `mapstructure:"exposure"`
	Killswitch  KillswitchConfig  `mapstructure:"killswitch"`
	Degradation DegradationConfig `mapstructure:"degradation"`
	Health      HealthConfig      `mapstructure:"health"`
	State       StateConfig       `mapstructure:"state"`
	Reconcile   ReconcileConfig   `mapstructure:"reconcile"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds venue API endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty, the bot derives them via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL string `mapstructure:"clob_base_url"`
	WSMarketURL string `mapstructure:"ws_market_url"`
	WSUserURL   string `mapstructure:"ws_user_url"`
	ApiKey      string `mapstructure:"api_key"`
	Secret      string `mapstructure:"secret"`
	Passphrase  string `mapstructure:"passphrase"`
}

// ReferenceConfig configures the external spot reference-price feed the
// strategies compare implied probability against.
type ReferenceConfig struct {
	WSURL   string `mapstructure:"ws_url"`
	Symbol  string `mapstructure:"symbol"` // e.g. "BTCUSDT"
}

// MarketConfig names one binary market the bot should trade, resolving
// tokens explicitly rather than auto-discovering them.
type MarketConfig struct {
	ConditionID string `mapstructure:"condition_id"`
	YesTokenID  string `mapstructure:"yes_token_id"`
	NoTokenID   string `mapstructure:"no_token_id"`
	TickSize    string `mapstructure:"tick_size"`
	FeeRateBps  int    `mapstructure:"fee_rate_bps"`
	EndDate     string `mapstructure:"end_date"` // RFC3339; empty if unknown
}

// StrategyConfig tunes the three arbitrage strategies.
type StrategyConfig struct {
	Underpricing UnderpricingConfig `mapstructure:"underpricing"`
	StaleOdds    StaleOddsConfig    `mapstructure:"stale_odds"`
	Volatility   VolatilityConfig  `mapstructure:"volatility"`
}

// UnderpricingConfig tunes the "yes_ask + no_ask < 1 - fee" detector.
type UnderpricingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	MinEdge      float64 `mapstructure:"min_edge"`       // minimum probability-cents edge required
	FeeRateBps   int     `mapstructure:"fee_rate_bps"`   // venue taker fee, in bps
	MaxSize      float64 `mapstructure:"max_size"`       // cap per paired signal
	MaxSpreadBps float64 `mapstructure:"max_spread_bps"` // skip if either leg's spread exceeds this; 0 disables the check
}

// StaleOddsConfig tunes the reference-price staleness detector.
type StaleOddsConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	HistoryWindow    time.Duration `mapstructure:"history_window"`
	MoveWindow       time.Duration `mapstructure:"move_window"`       // window the bps move is measured over (e.g. 1s, 5s)
	StaleBpsMove     float64       `mapstructure:"stale_bps_move"`
	StaleWindow      time.Duration `mapstructure:"stale_window"`       // book last-update age past which it's considered stale
	MinProbabilityGap float64      `mapstructure:"min_probability_gap"` // min implied-prob gap to trade
	KellyFraction    float64       `mapstructure:"kelly_fraction"`
	MaxSize          float64       `mapstructure:"max_size"`
}

// VolatilityConfig tunes the Black-Scholes digital-call fair-value
// strategy.
type VolatilityConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	LookbackPeriods      int           `mapstructure:"lookback_periods"`
	SampleInterval       time.Duration `mapstructure:"sample_interval"`
	DefaultAnnualizedVol float64       `mapstructure:"default_annualized_vol"`
	MinProbabilityEdge   float64       `mapstructure:"min_probability_edge"`
	MinCentsEdge         float64       `mapstructure:"min_cents_edge"`
	MaxProbability       float64       `mapstructure:"max_probability"`
	MinProbability       float64       `mapstructure:"min_probability"`
	MaxSpreadPercent     float64       `mapstructure:"max_spread_percent"`
	MinLiquidityUSD      float64       `mapstructure:"min_liquidity_usd"`
	KellyFraction        float64       `mapstructure:"kelly_fraction"`
	MaxEdgeToSizeRatio   float64       `mapstructure:"max_edge_to_size_ratio"`
}

// ExecutionConfig tunes order submission and the paired executor.
type ExecutionConfig struct {
	Mode                   string        `mapstructure:"mode"` // dry_run, paper, live
	OrderTimeout           time.Duration `mapstructure:"order_timeout"`
	Leg1Timeout            time.Duration `mapstructure:"leg1_timeout"`
	Leg2Timeout            time.Duration `mapstructure:"leg2_timeout"`
	UnwindTimeout          time.Duration `mapstructure:"unwind_timeout"`
	Leg1FillThresholdPct   float64       `mapstructure:"leg1_fill_threshold_pct"`   // e.g. 0.99
	UnwindFillThresholdPct float64       `mapstructure:"unwind_fill_threshold_pct"` // e.g. 0.95
	RetryBpsPerAttempt     float64       `mapstructure:"retry_bps_per_attempt"`
	MaxRetries             int           `mapstructure:"max_retries"`
	MaxPriceAdjustmentBps  float64       `mapstructure:"max_price_adjustment_bps"`
	MinEdgeAfterAdjustment float64       `mapstructure:"min_edge_after_adjustment"` // cents
	AutoUnwind             bool          `mapstructure:"auto_unwind"`
	UnwindWorsenBps        float64       `mapstructure:"unwind_worsen_bps"`

	// PaperFillProbability is the chance ([0,1]) a paper order fills in
	// full; otherwise it is rejected as a simulated miss (partial fills are
	// not simulated, and values <= 0 use 0.9). PaperSimulatedFeeBps is the
	// fixed simulated fee applied to paper fills.
	PaperFillProbability float64 `mapstructure:"paper_fill_probability"`
	PaperSimulatedFeeBps float64 `mapstructure:"paper_simulated_fee_bps"`
	PaperFillDelay       time.Duration `mapstructure:"paper_fill_delay"`
}

// RiskConfig sets portfolio-wide trading constraints.
type RiskConfig struct {
	MaxPositionPerMarket  float64       `mapstructure:"max_position_per_market"`
	MaxGlobalExposure     float64       `mapstructure:"max_global_exposure"`
	MaxMarketsActive      int           `mapstructure:"max_markets_active"`
	MaxDailyLoss          float64       `mapstructure:"max_daily_loss"`
	MaxConnectivityIssues int           `mapstructure:"max_connectivity_issues"`
	MaxOrdersPerWindow    int           `mapstructure:"max_orders_per_window"`
	OrderRateWindowSec    int           `mapstructure:"order_rate_window_sec"`
	CooldownAfterKill     time.Duration `mapstructure:"cooldown_after_kill"`
}

// ExposureConfig sets the configurable soft exposure limits (always
// clamped to the package's hard constants).
type ExposureConfig struct {
	MaxTotalExposure      float64 `mapstructure:"max_total_exposure"`
	MaxMarketExposure     float64 `mapstructure:"max_market_exposure"`
	MaxPositionSize       float64 `mapstructure:"max_position_size"`
	MaxOpenPositions      int     `mapstructure:"max_open_positions"`
	MaxPositionsPerMarket int     `mapstructure:"max_positions_per_market"`
	MaxNotionalPerTrade   float64 `mapstructure:"max_notional_per_trade"` // per-signal notional cap shared by all strategies
}

// KillswitchConfig carries only the kill switch's audit-history size, no
// trip thresholds; the hard triggers are unconditional and unconfigurable.
type KillswitchConfig struct {
	MaxHistorySize int `mapstructure:"max_history_size"`
}

// DegradationConfig tunes the operating-mode state machine's thresholds.
type DegradationConfig struct {
	UnhealthyConnectionsForMinimal int           `mapstructure:"unhealthy_connections_for_minimal"`
	LossPercentForReduced          float64       `mapstructure:"loss_percent_for_reduced"`
	LossPercentForMinimal          float64       `mapstructure:"loss_percent_for_minimal"`
	VolatilityForReduced           float64       `mapstructure:"volatility_for_reduced"`
	ErrorCountForReduced           int           `mapstructure:"error_count_for_reduced"`
	UpgradeCooldown                time.Duration `mapstructure:"upgrade_cooldown"`
	ConsecutiveHealthyForUpgrade   int           `mapstructure:"consecutive_healthy_for_upgrade"`
}

// HealthConfig tunes the connection-health monitor.
type HealthConfig struct {
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout    time.Duration `mapstructure:"heartbeat_timeout"`
	MaxMissedHeartbeats int           `mapstructure:"max_missed_heartbeats"`
	DegradedErrorRate   float64       `mapstructure:"degraded_error_rate"`
	UnhealthyErrorRate  float64       `mapstructure:"unhealthy_error_rate"`
	DegradedLatency     time.Duration `mapstructure:"degraded_latency"`
	UnhealthyLatency    time.Duration `mapstructure:"unhealthy_latency"`
	MetricsWindow       time.Duration `mapstructure:"metrics_window"`
}

// StateConfig sets where system state snapshots are persisted.
type StateConfig struct {
	DataDir        string        `mapstructure:"data_dir"`
	SaveInterval   time.Duration `mapstructure:"save_interval"`
	BackupCount    int           `mapstructure:"backup_count"`
}

// ReconcileConfig tunes the startup reconciler.
type ReconcileConfig struct {
	Enabled                  bool    `mapstructure:"enabled"`
	DefaultStrategy          string  `mapstructure:"default_strategy"` // trust_exchange, trust_local, manual, cancel_orphans
	PositionTolerance        float64 `mapstructure:"position_tolerance"`
	BalanceTolerance         float64 `mapstructure:"balance_tolerance"`
	RequireApprovalForCritical bool  `mapstructure:"require_approval_for_critical"`
	FailOnCritical           bool    `mapstructure:"fail_on_critical"`
}

// LedgerConfig tunes the append-only trade ledger.
type LedgerConfig struct {
	DataDir         string `mapstructure:"data_dir"`
	MaxFileSizeMB   int    `mapstructure:"max_file_size_mb"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: POLY_PRIVATE_KEY, POLYMARKET_API_KEY, POLYMARKET_API_SECRET, POLYMARKET_API_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("POLY_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("POLYMARKET_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLYMARKET_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLYMARKET_API_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if os.Getenv("POLY_DRY_RUN") == "true" || os.Getenv("POLY_DRY_RUN") == "1" {
		cfg.DryRun = true
		cfg.Mode = "dry_run"
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set POLY_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if len(c.Markets) == 0 {
		return fmt.Errorf("at least one entry in markets is required")
	}
	for i, m := range c.Markets {
		if m.ConditionID == "" || m.YesTokenID == "" || m.NoTokenID == "" {
			return fmt.Errorf("markets[%d]: condition_id, yes_token_id, and no_token_id are all required", i)
		}
	}
	if c.Risk.MaxPositionPerMarket <= 0 {
		return fmt.Errorf("risk.max_position_per_market must be > 0")
	}
	if c.Risk.MaxGlobalExposure <= 0 {
		return fmt.Errorf("risk.max_global_exposure must be > 0")
	}
	if c.Risk.MaxMarketsActive <= 0 {
		return fmt.Errorf("risk.max_markets_active must be > 0")
	}
	switch c.Mode {
	case "", "dry_run", "paper", "live":
	default:
		return fmt.Errorf("mode must be one of: dry_run, paper, live")
	}
	return nil
}
