package config

import (
	"log"
	"strings"

	"github.com/dexgate/dexgate/internal/model"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Providers []model.Provider `mapstructure:"providers"`
	Health    HealthConfig     `mapstructure:"health"`
	Breaker   BreakerConfig    `mapstructure:"breaker"`
	Retry     RetryConfig      `mapstructure:"retry"`
	Risk      RiskConfig       `mapstructure:"risk"`
	Execution ExecutionConfig  `mapstructure:"execution"`
	Monitor   MonitorConfig    `mapstructure:"monitor"`
	Sentiment SentimentConfig  `mapstructure:"sentiment"`
	Signer    SignerConfig     `mapstructure:"signer"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

type AuthConfig struct {
	RequireAPIKey bool   `mapstructure:"require_api_key"`
	APIKey        string `mapstructure:"api_key"`
	RateLimitRPS  int    `mapstructure:"rate_limit_rps"`
	RateBurst     int    `mapstructure:"rate_burst"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr                  string `mapstructure:"addr"`
	Password              string `mapstructure:"password"`
	DB                    int    `mapstructure:"db"`
	IdempotencyTTLSeconds int    `mapstructure:"idempotency_ttl_seconds"`
	AuditListKey          string `mapstructure:"audit_list_key"`
	AuditListMax          int    `mapstructure:"audit_list_max"`
}

type HealthConfig struct {
	ProbeIntervalSeconds int     `mapstructure:"probe_interval_seconds"`
	DecayAlpha           float64 `mapstructure:"decay_alpha"`
	MinSuccessRate       float64 `mapstructure:"min_success_rate"`
	MaxLatencyMs         float64 `mapstructure:"max_latency_ms"`
	ProviderConcurrency  int     `mapstructure:"provider_concurrency"`
}

type BreakerConfig struct {
	FailureThreshold       int `mapstructure:"failure_threshold"`
	RecoveryTimeoutSeconds int `mapstructure:"recovery_timeout_seconds"`
	HalfOpenMaxCalls       int `mapstructure:"half_open_max_calls"`
}

type RetryConfig struct {
	MaxRetries  int     `mapstructure:"max_retries"`
	BaseDelayMs int     `mapstructure:"base_delay_ms"`
	MaxDelayMs  int     `mapstructure:"max_delay_ms"`
	Multiplier  float64 `mapstructure:"multiplier"`
}

type RiskConfig struct {
	MaxOrderValue       float64  `mapstructure:"max_order_value"`  // quote currency
	MaxPositionPct      float64  `mapstructure:"max_position_pct"` // max % of treasury per position
	TreasuryValue       float64  `mapstructure:"treasury_value"`   // reference treasury size
	MaxOpenPositions    int      `mapstructure:"max_open_positions"`
	MaxDailyValue       float64  `mapstructure:"max_daily_value"`
	MaxDailyOrders      int      `mapstructure:"max_daily_orders"`
	DailyLossHalt       float64  `mapstructure:"daily_loss_halt"` // halt when daily PnL below -X
	BlacklistedTokenIDs []string `mapstructure:"blacklisted_token_ids"`
}

type ExecutionConfig struct {
	PaperTrading        bool    `mapstructure:"paper_trading"`
	TWAPSlices          int     `mapstructure:"twap_slices"`
	TWAPIntervalSeconds int     `mapstructure:"twap_interval_seconds"`
	VWAPSlices          int     `mapstructure:"vwap_slices"`
	VWAPBudgetSeconds   int     `mapstructure:"vwap_budget_seconds"`
	IcebergSlices       int     `mapstructure:"iceberg_slices"`
	IcebergJitterPct    float64 `mapstructure:"iceberg_jitter_pct"`
	SlippageAbortBps    int     `mapstructure:"slippage_abort_bps"`
}

type MonitorConfig struct {
	TickIntervalSeconds int `mapstructure:"tick_interval_seconds"`
	MaxConcurrent       int `mapstructure:"max_concurrent"`
}

type SentimentConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

type SignerConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support, e.g. DEXGATE_SERVER_PORT
	viper.SetEnvPrefix("dexgate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("auth.require_api_key", false)
	viper.SetDefault("auth.rate_limit_rps", 20)
	viper.SetDefault("auth.rate_burst", 40)
	viper.SetDefault("redis.idempotency_ttl_seconds", 86400)
	viper.SetDefault("redis.audit_list_key", "dexgate:audit")
	viper.SetDefault("redis.audit_list_max", 10000)

	viper.SetDefault("health.probe_interval_seconds", 30)
	viper.SetDefault("health.decay_alpha", 0.2)
	viper.SetDefault("health.min_success_rate", 0.5)
	viper.SetDefault("health.max_latency_ms", 3000)
	viper.SetDefault("health.provider_concurrency", 10)

	viper.SetDefault("breaker.failure_threshold", 5)
	viper.SetDefault("breaker.recovery_timeout_seconds", 60)
	viper.SetDefault("breaker.half_open_max_calls", 2)

	viper.SetDefault("retry.max_retries", 4)
	viper.SetDefault("retry.base_delay_ms", 1000)
	viper.SetDefault("retry.max_delay_ms", 15000)
	viper.SetDefault("retry.multiplier", 2.0)

	viper.SetDefault("risk.max_order_value", 1000.0)
	viper.SetDefault("risk.max_position_pct", 0.1)
	viper.SetDefault("risk.treasury_value", 10000.0)
	viper.SetDefault("risk.max_open_positions", 10)
	viper.SetDefault("risk.max_daily_value", 10000.0)
	viper.SetDefault("risk.max_daily_orders", 200)
	viper.SetDefault("risk.daily_loss_halt", 500.0)

	// Paper trading on by default so a bare checkout never spends funds.
	viper.SetDefault("execution.paper_trading", true)
	viper.SetDefault("execution.twap_slices", 5)
	viper.SetDefault("execution.twap_interval_seconds", 30)
	viper.SetDefault("execution.vwap_slices", 10)
	viper.SetDefault("execution.vwap_budget_seconds", 600)
	viper.SetDefault("execution.iceberg_slices", 20)
	viper.SetDefault("execution.iceberg_jitter_pct", 0.3)
	viper.SetDefault("execution.slippage_abort_bps", 150)

	viper.SetDefault("monitor.tick_interval_seconds", 15)
	viper.SetDefault("monitor.max_concurrent", 8)

	viper.SetDefault("sentiment.timeout_ms", 2000)
	viper.SetDefault("signer.timeout_ms", 5000)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
