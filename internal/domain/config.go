package domain

import "time"

// Config holds the complete TrustScore configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"event_bus"`

	// Analytics
	Detectors     DetectorsConfig     `yaml:"detectors"`
	Fraud         FraudConfig         `yaml:"fraud"`
	Reputation    ReputationConfig    `yaml:"reputation"`
	Compatibility CompatibilityConfig `yaml:"compatibility"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Ingest        IngestConfig        `yaml:"ingest"`
	Notify        NotifyConfig        `yaml:"notify"`
	Metering      MeteringConfig      `yaml:"metering"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"` // host:port of an OTLP/gRPC collector
}

// RuleSetConfig holds the thresholds of one rule set. The basic rule set
// ignores the diversity and clustering fields.
type RuleSetConfig struct {
	VelocityLimit  int           `yaml:"velocity_limit"`
	VelocityWindow time.Duration `yaml:"velocity_window"`

	NewWalletMaxAgeDays float64 `yaml:"new_wallet_max_age_days"`
	NewWalletMinVolume  float64 `yaml:"new_wallet_min_volume"`

	WashMinRepeats int `yaml:"wash_min_repeats"`

	SpikeMultiplier float64 `yaml:"spike_multiplier"`
	SpikeMinDays    int     `yaml:"spike_min_days"`

	RetryWindow         time.Duration `yaml:"retry_window"`
	RetryMicroThreshold float64       `yaml:"retry_micro_threshold"`
	RetryLimit          int           `yaml:"retry_limit"`

	DiversityFloor     float64 `yaml:"diversity_floor"`
	DiversityMinSample int     `yaml:"diversity_min_sample"`

	ClusterSample      int           `yaml:"cluster_sample"`
	ClusterMinSample   int           `yaml:"cluster_min_sample"`
	ClusterMaxCV       float64       `yaml:"cluster_max_cv"`
	ClusterMaxInterval time.Duration `yaml:"cluster_max_interval"`
}

// DetectorsConfig holds both rule sets, configured independently.
type DetectorsConfig struct {
	Basic    RuleSetConfig `yaml:"basic"`
	Extended RuleSetConfig `yaml:"extended"`
}

// Rule set names.
const (
	RuleSetBasic    = "basic"
	RuleSetExtended = "extended"
)

// FraudConfig selects the rule set behind each aggregator path.
type FraudConfig struct {
	AlertRuleSet    string `yaml:"alert_rule_set"`
	AnalysisRuleSet string `yaml:"analysis_rule_set"`
}

// ReputationConfig holds component maxima and saturation references.
type ReputationConfig struct {
	VolumeMax       float64 `yaml:"volume_max"`
	VolumeReference float64 `yaml:"volume_reference"`

	RevenueMax       float64 `yaml:"revenue_max"`
	RevenueReference float64 `yaml:"revenue_reference"`

	DiversityMax       float64 `yaml:"diversity_max"`
	DiversityReference float64 `yaml:"diversity_reference"`

	AgeMax           float64 `yaml:"age_max"`
	AgeReferenceDays float64 `yaml:"age_reference_days"`

	RecencyMax      float64 `yaml:"recency_max"`
	RecencyFullDays float64 `yaml:"recency_full_days"`
	RecencyHalfDays float64 `yaml:"recency_half_days"`

	// FraudPenaltyPerSeverity is subtracted once per severity point of each active flag.
	FraudPenaltyPerSeverity float64 `yaml:"fraud_penalty_per_severity"`

	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// CompatibilityConfig holds the pairwise matcher constants.
type CompatibilityConfig struct {
	ScoreGapThreshold float64 `yaml:"score_gap_threshold"`
	ScoreGapPenalty   float64 `yaml:"score_gap_penalty"`
	FlagPenalty       float64 `yaml:"flag_penalty"`
	RecommendMinScore int     `yaml:"recommend_min_score"`
	HighRiskBelow     int     `yaml:"high_risk_below"`
	LowScoreWarning   int     `yaml:"low_score_warning"`
	NewServiceAgeDays int     `yaml:"new_service_age_days"`
}

// SchedulerConfig holds recomputation cadences.
type SchedulerConfig struct {
	Enabled            bool          `yaml:"enabled"`
	FraudInterval      time.Duration `yaml:"fraud_interval"`
	ReputationInterval time.Duration `yaml:"reputation_interval"`
	AddressTimeout     time.Duration `yaml:"address_timeout"`
	Concurrency        int           `yaml:"concurrency"`
	RunOnStart         bool          `yaml:"run_on_start"`
}

// IngestConfig holds ingestion adapter settings.
type IngestConfig struct {
	// Facilitators is the recognized-intermediary allow-list.
	Facilitators []string `yaml:"facilitators"`

	// Policy is an optional CEL boolean expression over the normalized event.
	Policy string `yaml:"policy"`

	// Subscribe toggles the event-stream consumer.
	Subscribe bool `yaml:"subscribe"`
}

// NotifyConfig holds new-flag notification settings.
type NotifyConfig struct {
	Publish       bool          `yaml:"publish"`
	WebhookURLs   []string      `yaml:"webhook_urls"`
	WebhookSecret string        `yaml:"webhook_secret"` // HMAC-SHA256 key; unsigned when empty
	Timeout       time.Duration `yaml:"timeout"`
}

// MeteringConfig holds the free-tier gate for the serving layer.
type MeteringConfig struct {
	Enabled       bool          `yaml:"enabled"`
	FreeQuota     int           `yaml:"free_quota"`
	Window        time.Duration `yaml:"window"`
	PaymentHeader string        `yaml:"payment_header"`
}

// DefaultBasicRuleSet returns the alerting rule set thresholds.
func DefaultBasicRuleSet() RuleSetConfig {
	return RuleSetConfig{
		VelocityLimit:       50,
		VelocityWindow:      time.Hour,
		NewWalletMaxAgeDays: 7,
		NewWalletMinVolume:  100,
		WashMinRepeats:      10,
		SpikeMultiplier:     10,
		SpikeMinDays:        8,
		RetryWindow:         5 * time.Minute,
		RetryMicroThreshold: 0.10,
		RetryLimit:          10,
	}
}

// DefaultExtendedRuleSet returns the analysis rule set thresholds.
func DefaultExtendedRuleSet() RuleSetConfig {
	cfg := DefaultBasicRuleSet()
	cfg.SpikeMultiplier = 5
	cfg.DiversityFloor = 0.1
	cfg.DiversityMinSample = 20
	cfg.ClusterSample = 20
	cfg.ClusterMinSample = 5
	cfg.ClusterMaxCV = 0.2
	cfg.ClusterMaxInterval = 300 * time.Second
	return cfg
}

// DefaultReputationConfig returns the reference scoring weights.
func DefaultReputationConfig() ReputationConfig {
	return ReputationConfig{
		VolumeMax:               30,
		VolumeReference:         100,
		RevenueMax:              20,
		RevenueReference:        1000,
		DiversityMax:            15,
		DiversityReference:      50,
		AgeMax:                  15,
		AgeReferenceDays:        90,
		RecencyMax:              10,
		RecencyFullDays:         7,
		RecencyHalfDays:         30,
		FraudPenaltyPerSeverity: 3,
		CacheTTL:                time.Minute,
	}
}

// DefaultCompatibilityConfig returns the matcher constants.
func DefaultCompatibilityConfig() CompatibilityConfig {
	return CompatibilityConfig{
		ScoreGapThreshold: 30,
		ScoreGapPenalty:   10,
		FlagPenalty:       20,
		RecommendMinScore: 60,
		HighRiskBelow:     40,
		LowScoreWarning:   50,
		NewServiceAgeDays: 7,
	}
}

// DefaultConfig returns a single-node configuration: SQLite, in-memory
// cache and the channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./trustscore.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Detectors: DetectorsConfig{
			Basic:    DefaultBasicRuleSet(),
			Extended: DefaultExtendedRuleSet(),
		},
		Fraud: FraudConfig{
			AlertRuleSet:    RuleSetBasic,
			AnalysisRuleSet: RuleSetExtended,
		},
		Reputation:    DefaultReputationConfig(),
		Compatibility: DefaultCompatibilityConfig(),
		Scheduler: SchedulerConfig{
			Enabled:            true,
			FraudInterval:      5 * time.Minute,
			ReputationInterval: time.Hour,
			AddressTimeout:     30 * time.Second,
			Concurrency:        8,
			RunOnStart:         true,
		},
		Ingest: IngestConfig{
			Subscribe: true,
		},
		Notify: NotifyConfig{
			Publish: true,
			Timeout: 5 * time.Second,
		},
		Metering: MeteringConfig{
			Enabled:       true,
			FreeQuota:     100,
			Window:        24 * time.Hour,
			PaymentHeader: "X-Payment",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "trustscore",
		},
	}
}

// DistributedConfig returns a configuration for multi-node deployments:
// PostgreSQL, Redis and NATS.
func DistributedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "trustscore",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	cfg.Tracing.OTLPEndpoint = "localhost:4317"
	return cfg
}
