package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
)

// applyEnvOverrides overwrites fields whose TRUSTSCORE_* variable is set and
// parses. Values that do not parse leave the field unchanged.
func applyEnvOverrides(cfg *domain.Config) {
	// Server
	setStr(&cfg.Server.Host, "SERVER_HOST")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setInt(&cfg.Server.ReadTimeout, "SERVER_READ_TIMEOUT")
	setInt(&cfg.Server.WriteTimeout, "SERVER_WRITE_TIMEOUT")

	// Repository
	setStr(&cfg.Repository.Driver, "REPOSITORY_DRIVER")
	setStr(&cfg.Repository.SQLitePath, "SQLITE_PATH")
	setStr(&cfg.Repository.PostgresHost, "POSTGRES_HOST")
	setInt(&cfg.Repository.PostgresPort, "POSTGRES_PORT")
	setStr(&cfg.Repository.PostgresUser, "POSTGRES_USER")
	setStr(&cfg.Repository.PostgresPassword, "POSTGRES_PASSWORD")
	setStr(&cfg.Repository.PostgresDB, "POSTGRES_DB")
	setStr(&cfg.Repository.PostgresSSLMode, "POSTGRES_SSLMODE")
	setInt(&cfg.Repository.MaxOpenConns, "REPOSITORY_MAX_OPEN_CONNS")

	// Cache
	setStr(&cfg.Cache.Type, "CACHE_TYPE")
	setStr(&cfg.Cache.RedisAddr, "REDIS_ADDR")
	setStr(&cfg.Cache.RedisPassword, "REDIS_PASSWORD")
	setInt(&cfg.Cache.RedisDB, "REDIS_DB")
	setBool(&cfg.Cache.EnableTwoPhase, "CACHE_TWO_PHASE")

	// Event bus
	setStr(&cfg.EventBus.Type, "EVENT_BUS_TYPE")
	setStr(&cfg.EventBus.NATSUrl, "NATS_URL")
	setStr(&cfg.EventBus.NATSToken, "NATS_TOKEN")

	// Detectors
	setInt(&cfg.Detectors.Basic.VelocityLimit, "BASIC_VELOCITY_LIMIT")
	setFloat64(&cfg.Detectors.Basic.SpikeMultiplier, "BASIC_SPIKE_MULTIPLIER")
	setInt(&cfg.Detectors.Extended.VelocityLimit, "EXTENDED_VELOCITY_LIMIT")
	setFloat64(&cfg.Detectors.Extended.SpikeMultiplier, "EXTENDED_SPIKE_MULTIPLIER")
	setStr(&cfg.Fraud.AlertRuleSet, "FRAUD_ALERT_RULE_SET")
	setStr(&cfg.Fraud.AnalysisRuleSet, "FRAUD_ANALYSIS_RULE_SET")

	// Reputation
	setFloat64(&cfg.Reputation.FraudPenaltyPerSeverity, "REPUTATION_FRAUD_PENALTY")
	setDuration(&cfg.Reputation.CacheTTL, "REPUTATION_CACHE_TTL")

	// Scheduler
	setBool(&cfg.Scheduler.Enabled, "SCHEDULER_ENABLED")
	setDuration(&cfg.Scheduler.FraudInterval, "SCHEDULER_FRAUD_INTERVAL")
	setDuration(&cfg.Scheduler.ReputationInterval, "SCHEDULER_REPUTATION_INTERVAL")
	setDuration(&cfg.Scheduler.AddressTimeout, "SCHEDULER_ADDRESS_TIMEOUT")
	setInt(&cfg.Scheduler.Concurrency, "SCHEDULER_CONCURRENCY")
	setBool(&cfg.Scheduler.RunOnStart, "SCHEDULER_RUN_ON_START")

	// Ingest
	setStringSlice(&cfg.Ingest.Facilitators, "INGEST_FACILITATORS")
	setStr(&cfg.Ingest.Policy, "INGEST_POLICY")
	setBool(&cfg.Ingest.Subscribe, "INGEST_SUBSCRIBE")

	// Notify
	setBool(&cfg.Notify.Publish, "NOTIFY_PUBLISH")
	setStringSlice(&cfg.Notify.WebhookURLs, "NOTIFY_WEBHOOK_URLS")
	setStr(&cfg.Notify.WebhookSecret, "NOTIFY_WEBHOOK_SECRET")

	// Metering
	setBool(&cfg.Metering.Enabled, "METERING_ENABLED")
	setInt(&cfg.Metering.FreeQuota, "METERING_FREE_QUOTA")
	setDuration(&cfg.Metering.Window, "METERING_WINDOW")

	// Observability
	setStr(&cfg.Logging.Level, "LOG_LEVEL")
	setStr(&cfg.Logging.Format, "LOG_FORMAT")
	setBool(&cfg.Tracing.Enabled, "TRACING_ENABLED")
	setStr(&cfg.Tracing.OTLPEndpoint, "OTLP_ENDPOINT")
}

func lookup(key string) (string, bool) {
	v := os.Getenv(EnvPrefix + key)
	return v, v != ""
}

func setStr(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v, ok := lookup(key); ok {
		var out []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
