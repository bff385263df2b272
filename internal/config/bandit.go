package config

import (
	"fmt"
	"time"

	"github.com/banshee-data/selfeval/internal/bandit"
	"github.com/banshee-data/selfeval/internal/timeutil"
)

// BanditConfig holds the evaluation tuning knobs. Fields omitted from the
// file keep their defaults through the Get* methods, so partial configs
// are safe.
type BanditConfig struct {
	Epsilon *float64 `json:"epsilon,omitempty" yaml:"epsilon,omitempty"`
	Delta   *float64 `json:"delta,omitempty" yaml:"delta,omitempty"`
	Beta    *float64 `json:"beta,omitempty" yaml:"beta,omitempty"`

	// Worker pool
	Concurrency   *int    `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	ArmTimeout    *string `json:"arm_timeout,omitempty" yaml:"arm_timeout,omitempty"` // duration string like "2m"
	FailurePolicy *string `json:"failure_policy,omitempty" yaml:"failure_policy,omitempty"`

	// Oracle calls
	OracleAttempts  *int     `json:"oracle_attempts,omitempty" yaml:"oracle_attempts,omitempty"`
	RetryBackoff    *string  `json:"retry_backoff,omitempty" yaml:"retry_backoff,omitempty"`
	OracleRateLimit *float64 `json:"oracle_rate_limit,omitempty" yaml:"oracle_rate_limit,omitempty"` // calls per second

	Seed *uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultBanditConfig returns a config with every field set to its
// default.
func DefaultBanditConfig() *BanditConfig {
	return &BanditConfig{
		Epsilon:         ptrFloat64(0.2),
		Delta:           ptrFloat64(0.05),
		Beta:            ptrFloat64(0.95),
		Concurrency:     ptrInt(0),
		ArmTimeout:      ptrString(""),
		FailurePolicy:   ptrString(string(bandit.FailurePolicyAbort)),
		OracleAttempts:  ptrInt(2),
		RetryBackoff:    ptrString("500ms"),
		OracleRateLimit: ptrFloat64(0),
	}
}

// LoadBanditConfig loads and validates a bandit config from a .json,
// .yaml or .yml file.
func LoadBanditConfig(path string) (*BanditConfig, error) {
	data, format, err := readFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &BanditConfig{}
	if err := decode(data, format, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *BanditConfig) Validate() error {
	if err := c.Params().Validate(); err != nil {
		return err
	}
	if _, err := bandit.ParseFailurePolicy(c.GetFailurePolicy()); err != nil {
		return err
	}
	for name, v := range map[string]*string{"arm_timeout": c.ArmTimeout, "retry_backoff": c.RetryBackoff} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}
	if c.OracleAttempts != nil && *c.OracleAttempts < 1 {
		return fmt.Errorf("oracle_attempts must be at least 1, got %d", *c.OracleAttempts)
	}
	if c.OracleRateLimit != nil && *c.OracleRateLimit < 0 {
		return fmt.Errorf("oracle_rate_limit must be non-negative, got %f", *c.OracleRateLimit)
	}
	return nil
}

// Params returns ε, δ and β.
func (c *BanditConfig) Params() bandit.Params {
	return bandit.Params{Epsilon: c.GetEpsilon(), Delta: c.GetDelta(), Beta: c.GetBeta()}
}

// CoordinatorOptions builds coordinator options from the config.
func (c *BanditConfig) CoordinatorOptions(clock timeutil.Clock) bandit.Options {
	policy, err := bandit.ParseFailurePolicy(c.GetFailurePolicy())
	if err != nil {
		policy = bandit.FailurePolicyAbort
	}
	return bandit.Options{
		Params:        c.Params(),
		Concurrency:   c.GetConcurrency(),
		ArmTimeout:    c.GetArmTimeout(),
		FailurePolicy: policy,
		Clock:         clock,
	}
}

// GetEpsilon returns the epsilon value or the default.
func (c *BanditConfig) GetEpsilon() float64 {
	if c.Epsilon == nil {
		return 0.2
	}
	return *c.Epsilon
}

// GetDelta returns the delta value or the default.
func (c *BanditConfig) GetDelta() float64 {
	if c.Delta == nil {
		return 0.05
	}
	return *c.Delta
}

// GetBeta returns the beta value or the default.
func (c *BanditConfig) GetBeta() float64 {
	if c.Beta == nil {
		return 0.95
	}
	return *c.Beta
}

// GetConcurrency returns the arm worker limit; 0 means unbounded.
func (c *BanditConfig) GetConcurrency() int {
	if c.Concurrency == nil {
		return 0
	}
	return *c.Concurrency
}

// GetArmTimeout parses and returns the ArmTimeout; 0 means none.
func (c *BanditConfig) GetArmTimeout() time.Duration {
	if c.ArmTimeout == nil || *c.ArmTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.ArmTimeout)
	if err != nil {
		return 0
	}
	return d
}

// GetFailurePolicy returns the failure_policy value or the default.
func (c *BanditConfig) GetFailurePolicy() string {
	if c.FailurePolicy == nil || *c.FailurePolicy == "" {
		return string(bandit.FailurePolicyAbort)
	}
	return *c.FailurePolicy
}

// GetOracleAttempts returns how many times one oracle batch is tried.
func (c *BanditConfig) GetOracleAttempts() int {
	if c.OracleAttempts == nil {
		return 2
	}
	return *c.OracleAttempts
}

// GetRetryBackoff parses and returns the RetryBackoff as a time.Duration.
func (c *BanditConfig) GetRetryBackoff() time.Duration {
	if c.RetryBackoff == nil || *c.RetryBackoff == "" {
		return 500 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.RetryBackoff)
	if err != nil {
		return 500 * time.Millisecond // default on parse error
	}
	return d
}

// GetOracleRateLimit returns the oracle calls-per-second cap; 0 is off.
func (c *BanditConfig) GetOracleRateLimit() float64 {
	if c.OracleRateLimit == nil {
		return 0
	}
	return *c.OracleRateLimit
}

// GetSeed returns the configured seed, or nil to draw one per round.
func (c *BanditConfig) GetSeed() *uint64 {
	return c.Seed
}
