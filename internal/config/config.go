// Package config loads the TrustScore configuration.
//
// Precedence, lowest first: built-in profile defaults, the YAML file (with
// ${VAR} expansion), then TRUSTSCORE_* environment variables. A .env file in
// the working directory is loaded into the environment before anything else.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/detect"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/ingest"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRUSTSCORE_"

// Profiles selectable with TRUSTSCORE_PROFILE.
const (
	ProfileDefault     = "default"
	ProfileDistributed = "distributed"
)

// Load builds the configuration. An empty path skips the file. The result
// is validated.
func Load(path string) (*domain.Config, error) {
	_ = godotenv.Load()

	cfg, err := profile(os.Getenv(EnvPrefix + "PROFILE"))
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.UnmarshalStrict([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config file %s: %w", domain.ErrInvalidInput, path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func profile(name string) (*domain.Config, error) {
	switch name {
	case "", ProfileDefault:
		return domain.DefaultConfig(), nil
	case ProfileDistributed:
		return domain.DistributedConfig(), nil
	default:
		return nil, fmt.Errorf("%w: unknown profile %q", domain.ErrInvalidInput, name)
	}
}

// Validate rejects out-of-range values. All problems are reported at once.
func Validate(cfg *domain.Config) error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(cfg.Server.Port > 0 && cfg.Server.Port < 65536, "server.port %d out of range", cfg.Server.Port)

	check(oneOf(cfg.Repository.Driver, "sqlite", "postgres", "memory"), "repository.driver %q is not supported", cfg.Repository.Driver)
	check(oneOf(cfg.Cache.Type, "memory", "redis"), "cache.type %q is not supported", cfg.Cache.Type)
	check(oneOf(cfg.EventBus.Type, "channel", "nats"), "event_bus.type %q is not supported", cfg.EventBus.Type)
	check(oneOf(strings.ToLower(cfg.Logging.Level), "debug", "info", "warn", "error"), "logging.level %q is not supported", cfg.Logging.Level)
	check(oneOf(cfg.Logging.Format, "json", "text"), "logging.format %q is not supported", cfg.Logging.Format)

	for name, rs := range map[string]domain.RuleSetConfig{"basic": cfg.Detectors.Basic, "extended": cfg.Detectors.Extended} {
		errs = append(errs, validateRuleSet("detectors."+name, rs)...)
	}
	if _, err := detect.ByName(cfg.Fraud.AlertRuleSet, cfg.Detectors); err != nil {
		errs = append(errs, fmt.Errorf("fraud.alert_rule_set: %w", err))
	}
	if _, err := detect.ByName(cfg.Fraud.AnalysisRuleSet, cfg.Detectors); err != nil {
		errs = append(errs, fmt.Errorf("fraud.analysis_rule_set: %w", err))
	}

	r := cfg.Reputation
	check(r.VolumeMax+r.RevenueMax+r.DiversityMax+r.AgeMax+r.RecencyMax <= 100,
		"reputation component maxima sum to more than 100")
	check(r.RecencyFullDays <= r.RecencyHalfDays, "reputation.recency_full_days must not exceed recency_half_days")
	check(r.FraudPenaltyPerSeverity >= 0, "reputation.fraud_penalty_per_severity must not be negative")

	c := cfg.Compatibility
	check(c.ScoreGapThreshold >= 0 && c.ScoreGapPenalty >= 0 && c.FlagPenalty >= 0, "compatibility penalties must not be negative")
	check(c.HighRiskBelow <= c.RecommendMinScore, "compatibility.high_risk_below must not exceed recommend_min_score")

	if cfg.Scheduler.Enabled {
		check(cfg.Scheduler.FraudInterval > 0, "scheduler.fraud_interval must be positive")
		check(cfg.Scheduler.ReputationInterval > 0, "scheduler.reputation_interval must be positive")
		check(cfg.Scheduler.Concurrency > 0, "scheduler.concurrency must be positive")
	}

	if _, err := ingest.CompilePolicy(cfg.Ingest.Policy); err != nil {
		errs = append(errs, fmt.Errorf("ingest.policy: %w", err))
	}

	if cfg.Metering.Enabled {
		check(cfg.Metering.FreeQuota >= 0, "metering.free_quota must not be negative")
		check(cfg.Metering.Window > 0, "metering.window must be positive")
		check(cfg.Metering.PaymentHeader != "", "metering.payment_header must be set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: invalid configuration: %w", domain.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

func validateRuleSet(prefix string, rs domain.RuleSetConfig) []error {
	var errs []error
	if rs.VelocityLimit <= 0 || rs.VelocityWindow <= 0 {
		errs = append(errs, fmt.Errorf("%s: velocity limit and window must be positive", prefix))
	}
	if rs.SpikeMultiplier <= 1 {
		errs = append(errs, fmt.Errorf("%s: spike_multiplier must be greater than 1", prefix))
	}
	if rs.SpikeMinDays < 2 {
		errs = append(errs, fmt.Errorf("%s: spike_min_days must be at least 2", prefix))
	}
	if rs.RetryWindow <= 0 || rs.RetryLimit <= 0 {
		errs = append(errs, fmt.Errorf("%s: retry window and limit must be positive", prefix))
	}
	if rs.WashMinRepeats < 2 {
		errs = append(errs, fmt.Errorf("%s: wash_min_repeats must be at least 2", prefix))
	}
	if rs.DiversityFloor < 0 || rs.DiversityFloor > 1 {
		errs = append(errs, fmt.Errorf("%s: diversity_floor must be within [0,1]", prefix))
	}
	if rs.ClusterMaxCV < 0 {
		errs = append(errs, fmt.Errorf("%s: cluster_max_cv must not be negative", prefix))
	}
	return errs
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
