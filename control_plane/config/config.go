// Package config loads the orchestrator's startup configuration: compiled
// defaults, overridden by an optional YAML file, overridden by environment
// variables — the same three-tier precedence control_plane/main.go applies
// by hand with os.Getenv, generalized here into one typed struct so every
// startup option has exactly one validated home.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every recognized startup option, one field per
// configuration knob this repository exposes.
type Config struct {
	MinAgents int `yaml:"min_agents"`
	MaxAgents int `yaml:"max_agents"`

	EvaluationInterval time.Duration `yaml:"evaluation_interval"`
	DefaultCooldown    time.Duration `yaml:"default_cooldown"`

	AdaptationWindow         time.Duration `yaml:"adaptation_window"`
	AdaptationFrequency      time.Duration `yaml:"adaptation_frequency"`
	MinSamplesForAdaptation  int           `yaml:"min_samples_for_adaptation"`
	ConfidenceThresholdMin   float64       `yaml:"confidence_threshold_min"`
	ConfidenceThresholdMax   float64       `yaml:"confidence_threshold_max"`
	RuleThresholdMin         float64       `yaml:"rule_threshold_min"`
	RuleThresholdMax         float64       `yaml:"rule_threshold_max"`
	WeightAccuracy           float64       `yaml:"w_acc"`
	WeightEfficiency         float64       `yaml:"w_eff"`
	WeightSuccess            float64       `yaml:"w_suc"`
	RecommendationConfidence float64       `yaml:"recommendation_confidence_gate"`
	ExpectedImprovementGate  float64       `yaml:"expected_improvement_gate"`

	CacheTTL         time.Duration `yaml:"cache_ttl"`
	CacheMaxEntries  int           `yaml:"cache_max_entries"`
	CacheStrategy    string        `yaml:"cache_strategy"` // time | version | dependency | manual

	IntakeCapacity int `yaml:"intake_capacity"`

	RetryBase    time.Duration `yaml:"retry_base"`
	RetryCeiling time.Duration `yaml:"retry_ceiling"`

	StarvationAge time.Duration `yaml:"starvation_age"`

	ScorerTimeout   time.Duration `yaml:"scorer_timeout"`
	ExecutorTimeout time.Duration `yaml:"executor_timeout"`

	TombstoneGrace time.Duration `yaml:"tombstone_grace"`

	OutcomeWindowSize  int `yaml:"outcome_window_size"`
	ScalingHistorySize int `yaml:"scaling_history_size"`
	MetricsRetention   int `yaml:"metrics_retention"`

	HAEnabled  bool   `yaml:"ha_enabled"`
	RedisAddr  string `yaml:"redis_addr"`
	PostgresDSN string `yaml:"postgres_dsn"`

	LogFormat string `yaml:"log_format"` // "console" | "json"
	LogLevel  string `yaml:"log_level"`
}

// Default returns the compiled-in production defaults.
func Default() Config {
	return Config{
		MinAgents:          1,
		MaxAgents:          50,
		EvaluationInterval: 10 * time.Second,
		DefaultCooldown:    30 * time.Second,

		AdaptationWindow:        6 * time.Hour,
		AdaptationFrequency:     15 * time.Minute,
		MinSamplesForAdaptation: 30,
		ConfidenceThresholdMin:  0.5,
		ConfidenceThresholdMax:  0.95,
		RuleThresholdMin:        0.3,
		RuleThresholdMax:        0.95,
		WeightAccuracy:          0.6,
		WeightEfficiency:        0.2,
		WeightSuccess:           0.2,
		RecommendationConfidence: 0.7,
		ExpectedImprovementGate:  0.01,

		CacheTTL:        5 * time.Minute,
		CacheMaxEntries: 10_000,
		CacheStrategy:   "time",

		IntakeCapacity: 5_000,

		RetryBase:    1 * time.Second,
		RetryCeiling: 2 * time.Minute,

		StarvationAge: 30 * time.Second,

		ScorerTimeout:   10 * time.Second,
		ExecutorTimeout: 5 * time.Minute,

		TombstoneGrace: 2 * time.Minute,

		OutcomeWindowSize:  2000,
		ScalingHistorySize: 500,
		MetricsRetention:   1000,

		HAEnabled: false,
		RedisAddr: "localhost:6379",

		LogFormat: "console",
		LogLevel:  "info",
	}
}

// LoadFile merges a YAML file on top of base.
func LoadFile(base Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return base, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &base); err != nil {
		return base, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return base, nil
}

// LoadEnv overlays recognized environment variables on top of cfg,
// mirroring main.go's existing os.Getenv/fmt.Sscanf convention.
func LoadEnv(cfg Config) Config {
	if v := os.Getenv("FLUXFORGE_MIN_AGENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinAgents = n
		}
	}
	if v := os.Getenv("FLUXFORGE_MAX_AGENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxAgents = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("FLUXFORGE_HA"); v == "true" {
		cfg.HAEnabled = true
	}
	if v := os.Getenv("FLUXFORGE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("FLUXFORGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg
}

// Validate checks the invariants the rest of the system assumes hold.
func (c Config) Validate() error {
	if c.MinAgents < 0 || c.MaxAgents < c.MinAgents {
		return fmt.Errorf("config: min_agents (%d) must be >= 0 and <= max_agents (%d)", c.MinAgents, c.MaxAgents)
	}
	if c.ConfidenceThresholdMin >= c.ConfidenceThresholdMax {
		return fmt.Errorf("config: confidence_threshold_min must be < confidence_threshold_max")
	}
	sum := c.WeightAccuracy + c.WeightEfficiency + c.WeightSuccess
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("config: w_acc+w_eff+w_suc must sum to 1, got %f", sum)
	}
	switch c.CacheStrategy {
	case "time", "version", "dependency", "manual":
	default:
		return fmt.Errorf("config: unknown cache_strategy %q", c.CacheStrategy)
	}
	return nil
}
