// Package config loads and validates the risk daemon's configuration:
// per-rule thresholds and actions, tick economics, session hours, and
// daily-reset scheduling.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/kellandavies/riskd/internal/domain"
)

// Config is the complete daemon configuration.
type Config struct {
	Environment EnvironmentConfig    `yaml:"environment"`
	Storage     StorageConfig        `yaml:"storage"`
	SDK         SDKConfig            `yaml:"sdk"`
	TickValues  map[string]TickEntry `yaml:"tick_values"`
	Aliases     map[string]string    `yaml:"symbol_aliases"`
	SessionHours SessionHoursConfig  `yaml:"session_hours"`
	DailyReset  DailyResetConfig     `yaml:"daily_reset"`
	Lockouts    LockoutDurations     `yaml:"lockout_durations"`
	Rules       RulesConfig          `yaml:"rules"`
}

// EnvironmentConfig controls logging and run mode.
type EnvironmentConfig struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
	LogJSON  bool   `yaml:"log_json"`
}

// StorageConfig points at the durable sqlite store.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// SDKConfig configures the outbound command port's circuit breaker.
type SDKConfig struct {
	AccountID               string        `yaml:"account_id"`
	CircuitBreakerThreshold uint32        `yaml:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `yaml:"circuit_breaker_timeout"`
}

// TickEntry is one symbol root's configured tick economics.
type TickEntry struct {
	TickSize  string `yaml:"tick_size"`
	TickValue string `yaml:"tick_value"`
}

// SessionHoursConfig defines the trading window R009 enforces outside of.
type SessionHoursConfig struct {
	Start        string   `yaml:"start"` // "HH:MM"
	End          string   `yaml:"end"`   // "HH:MM"
	Timezone     string   `yaml:"timezone"`
	AllowedDays  []string `yaml:"allowed_days"` // e.g. ["mon","tue","wed","thu","fri"]
}

// DailyResetConfig defines when the P&L ledger and daily-rule lockouts
// clear.
type DailyResetConfig struct {
	Time     string `yaml:"time"` // "HH:MM:SS"
	Timezone string `yaml:"timezone"`
}

// LockoutDurations maps a cooldown-producing rule id to its tiered
// durations, keyed by tier name (e.g. "default", or a frequency-tier
// label for R006).
type LockoutDurations map[string]time.Duration

// RulesConfig holds the per-rule blocks for all 13 rules.
type RulesConfig struct {
	MaxContracts          RuleMaxContracts          `yaml:"max_contracts"`
	MaxContractsPerSymbol  RuleMaxContractsPerSymbol `yaml:"max_contracts_per_symbol"`
	DailyRealizedLoss      RuleDailyRealizedLoss     `yaml:"daily_realized_loss"`
	DailyUnrealizedLoss    RuleDailyUnrealizedLoss   `yaml:"daily_unrealized_loss"`
	MaxUnrealizedProfit    RuleMaxUnrealizedProfit   `yaml:"max_unrealized_profit"`
	TradeFrequency         RuleTradeFrequency        `yaml:"trade_frequency"`
	CooldownAfterLoss      RuleCooldownAfterLoss     `yaml:"cooldown_after_loss"`
	NoStopLossGrace        RuleNoStopLossGrace       `yaml:"no_stop_loss_grace"`
	SessionBlock           RuleSessionBlock          `yaml:"session_block"`
	AuthLossGuard          RuleAuthLossGuard         `yaml:"auth_loss_guard"`
	SymbolBlocks           RuleSymbolBlocks          `yaml:"symbol_blocks"`
	TradeManagement        RuleTradeManagement       `yaml:"trade_management"`
	DailyRealizedProfit    RuleDailyRealizedProfit   `yaml:"daily_realized_profit_target"`
}

// RuleBase is embedded by every rule block: common enabled+action fields.
type RuleBase struct {
	Enabled bool   `yaml:"enabled"`
	Action  string `yaml:"action"`
}

// RuleMaxContracts is R001.
type RuleMaxContracts struct {
	RuleBase  `yaml:",inline"`
	MaxTotal  int `yaml:"max_total"`
}

// RuleMaxContractsPerSymbol is R002.
type RuleMaxContractsPerSymbol struct {
	RuleBase `yaml:",inline"`
	Limits   map[string]int `yaml:"limits"` // symbol root -> max
	Default  int            `yaml:"default"`
}

// RuleDailyRealizedLoss is R003.
type RuleDailyRealizedLoss struct {
	RuleBase `yaml:",inline"`
	Limit    string `yaml:"limit"` // negative Money string
}

// RuleDailyUnrealizedLoss is R004, including composite enforcement.
type RuleDailyUnrealizedLoss struct {
	RuleBase             `yaml:",inline"`
	Limit                string                     `yaml:"limit"` // negative Money string
	CompositeEnforcement CompositeEnforcementConfig `yaml:"composite_enforcement"`
}

// CompositeEnforcementConfig ties R004's effective threshold to R003's
// remaining budget.
type CompositeEnforcementConfig struct {
	Enabled             bool `yaml:"enabled"`
	RespectRealizedLimit bool `yaml:"respect_realized_limit"`
}

// RuleMaxUnrealizedProfit is R005.
type RuleMaxUnrealizedProfit struct {
	RuleBase `yaml:",inline"`
	Target   string `yaml:"target"` // positive Money string
}

// RuleTradeFrequency is R006.
type RuleTradeFrequency struct {
	RuleBase        `yaml:",inline"`
	PerMinute       int           `yaml:"per_minute"`
	PerHour         int           `yaml:"per_hour"`
	PerSession      int           `yaml:"per_session"`
	BreachCooldown  time.Duration `yaml:"breach_cooldown"`
}

// RuleCooldownAfterLoss is R007.
type RuleCooldownAfterLoss struct {
	RuleBase `yaml:",inline"`
	Tiers    []LossCooldownTier `yaml:"tiers"`
}

// LossCooldownTier is one (loss threshold, cooldown duration) pair,
// ordered from smallest to largest loss by convention.
type LossCooldownTier struct {
	LossAtOrBelow string        `yaml:"loss_at_or_below"` // negative Money string
	Cooldown      time.Duration `yaml:"cooldown"`
}

// RuleNoStopLossGrace is R008.
type RuleNoStopLossGrace struct {
	RuleBase   `yaml:",inline"`
	GraceSeconds int `yaml:"grace_seconds"`
}

// RuleSessionBlock is R009; session hours come from SessionHoursConfig.
type RuleSessionBlock struct {
	RuleBase `yaml:",inline"`
}

// RuleAuthLossGuard is R010.
type RuleAuthLossGuard struct {
	RuleBase `yaml:",inline"`
}

// RuleSymbolBlocks is R011; patterns support a trailing "*" wildcard.
type RuleSymbolBlocks struct {
	RuleBase `yaml:",inline"`
	Patterns []string `yaml:"patterns"`
}

// RuleTradeManagement is R012.
type RuleTradeManagement struct {
	RuleBase          `yaml:",inline"`
	BreakevenTrigger  string `yaml:"breakeven_trigger"` // Money string; move stop to entry past this
	TrailingStopTicks int    `yaml:"trailing_stop_ticks"`
}

// RuleDailyRealizedProfit is R013.
type RuleDailyRealizedProfit struct {
	RuleBase `yaml:",inline"`
	Target   string `yaml:"target"` // positive Money string
}

// Load reads, expands environment variables in, parses, normalizes, and
// validates the configuration at path. Unknown keys are a fail-loud
// error (KnownFields), matching the rest of this daemon's refusal to
// silently default risk-relevant values.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path) // #nosec G304 -- configPath is an operator-supplied config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, &domain.ConfigError{Detail: fmt.Sprintf("parsing config %q: %v", path, err)}
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, &domain.ConfigError{Detail: fmt.Sprintf("invalid config: %v", err)}
	}
	return &cfg, nil
}

// Normalize fills in defaults that are safe to default (non-risk
// values only — no rule threshold is ever defaulted).
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Environment.LogLevel) == "" {
		c.Environment.LogLevel = "info"
	}
	if strings.TrimSpace(c.DailyReset.Timezone) == "" {
		c.DailyReset.Timezone = "America/Chicago"
	}
	if strings.TrimSpace(c.SessionHours.Timezone) == "" {
		c.SessionHours.Timezone = c.DailyReset.Timezone
	}
	if c.SDK.CircuitBreakerThreshold == 0 {
		c.SDK.CircuitBreakerThreshold = 5
	}
	if c.SDK.CircuitBreakerTimeout == 0 {
		c.SDK.CircuitBreakerTimeout = 30 * time.Second
	}
}

// Validate checks the loaded configuration for internal consistency.
// It never defaults a risk threshold; missing values are errors.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Environment.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of: debug, info, warn, error")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if strings.TrimSpace(c.SDK.AccountID) == "" {
		return fmt.Errorf("sdk.account_id is required")
	}
	if len(c.TickValues) == 0 {
		return fmt.Errorf("tick_values must configure at least one symbol root")
	}
	for root, entry := range c.TickValues {
		if strings.TrimSpace(entry.TickSize) == "" || strings.TrimSpace(entry.TickValue) == "" {
			return fmt.Errorf("tick_values.%s requires both tick_size and tick_value", root)
		}
	}
	for alias, target := range c.Aliases {
		if _, ok := c.TickValues[strings.ToUpper(target)]; !ok {
			return fmt.Errorf("symbol_aliases.%s points at unconfigured root %q", alias, target)
		}
	}

	if _, err := time.LoadLocation(c.SessionHours.Timezone); err != nil {
		return fmt.Errorf("session_hours.timezone invalid: %w", err)
	}
	if _, err := time.Parse("15:04", c.SessionHours.Start); err != nil {
		return fmt.Errorf("session_hours.start invalid: %w", err)
	}
	if _, err := time.Parse("15:04", c.SessionHours.End); err != nil {
		return fmt.Errorf("session_hours.end invalid: %w", err)
	}
	if len(c.SessionHours.AllowedDays) == 0 {
		return fmt.Errorf("session_hours.allowed_days must name at least one weekday")
	}

	if _, err := time.LoadLocation(c.DailyReset.Timezone); err != nil {
		return fmt.Errorf("daily_reset.timezone invalid: %w", err)
	}
	if _, err := time.Parse("15:04:05", c.DailyReset.Time); err != nil {
		return fmt.Errorf("daily_reset.time invalid: %w", err)
	}

	if err := c.validateRuleThresholds(); err != nil {
		return err
	}
	return nil
}

// ResetOffset returns the configured daily_reset.time as a duration
// since local midnight, for computing trading-day boundaries.
func (c *Config) ResetOffset() (time.Duration, error) {
	t, err := time.Parse("15:04:05", c.DailyReset.Time)
	if err != nil {
		return 0, fmt.Errorf("daily_reset.time invalid: %w", err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
}

func (c *Config) validateRuleThresholds() error {
	r := c.Rules
	if r.MaxContracts.Enabled && r.MaxContracts.MaxTotal <= 0 {
		return fmt.Errorf("rules.max_contracts.max_total must be > 0 when enabled")
	}
	if r.MaxContractsPerSymbol.Enabled && r.MaxContractsPerSymbol.Default <= 0 && len(r.MaxContractsPerSymbol.Limits) == 0 {
		return fmt.Errorf("rules.max_contracts_per_symbol requires a default or at least one per-symbol limit when enabled")
	}
	if r.TradeFrequency.Enabled && r.TradeFrequency.BreachCooldown <= 0 {
		return fmt.Errorf("rules.trade_frequency.breach_cooldown must be > 0 when enabled")
	}
	if r.NoStopLossGrace.Enabled && r.NoStopLossGrace.GraceSeconds <= 0 {
		return fmt.Errorf("rules.no_stop_loss_grace.grace_seconds must be > 0 when enabled")
	}
	if r.SymbolBlocks.Enabled && len(r.SymbolBlocks.Patterns) == 0 {
		return fmt.Errorf("rules.symbol_blocks.patterns must be non-empty when enabled")
	}

	// Cross-rule constraint (spec §4.8 composite note): R004's configured
	// threshold must not be looser than R003's unless composite
	// enforcement will tighten it dynamically.
	if r.DailyRealizedLoss.Enabled && r.DailyUnrealizedLoss.Enabled && !r.DailyUnrealizedLoss.CompositeEnforcement.Enabled {
		realized, err := parseMoneyLimit(r.DailyRealizedLoss.Limit)
		if err != nil {
			return fmt.Errorf("rules.daily_realized_loss.limit: %w", err)
		}
		unrealized, err := parseMoneyLimit(r.DailyUnrealizedLoss.Limit)
		if err != nil {
			return fmt.Errorf("rules.daily_unrealized_loss.limit: %w", err)
		}
		if unrealized.Cmp(realized) < 0 {
			return fmt.Errorf(
				"rules.daily_unrealized_loss.limit (%s) is looser than rules.daily_realized_loss.limit (%s); enable composite_enforcement or tighten the unrealized limit",
				unrealized, realized)
		}
	}
	return nil
}
