package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	LogLevel     string             `mapstructure:"log_level"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	MySQL        DatabaseConfig     `mapstructure:"mysql" validate:"required"`
	ClickHouse   DatabaseConfig     `mapstructure:"clickhouse"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Token        TokenConfig        `mapstructure:"token"`
	Distribution DistributionConfig `mapstructure:"distribution"`
	Postback     PostbackConfig     `mapstructure:"postback"`
	Retry        RetryConfig        `mapstructure:"retry"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Webhooks     []WebhookSource    `mapstructure:"webhooks" validate:"dive"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	PostbackTopic  string   `mapstructure:"postback_topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type TokenConfig struct {
	KeyPrefix       string        `mapstructure:"key_prefix"`
	Length          int           `mapstructure:"length" validate:"max=18"`
	DefaultTTLHours int           `mapstructure:"default_ttl_hours"`
	NeverExpireTTL  time.Duration `mapstructure:"never_expire_ttl"`
}

// DistributionConfig carries the traffic-split tuning knobs. The thresholds
// and the floor weight are product-tuned values inherited from operations;
// change them only with the traffic owners.
type DistributionConfig struct {
	Window           time.Duration `mapstructure:"window"`
	MinClicksOffer   int64         `mapstructure:"min_clicks_per_offer"`
	MinClicksTotal   int64         `mapstructure:"min_total_clicks"`
	FloorWeight      float64       `mapstructure:"floor_weight" validate:"gte=0,lte=1"`
	PerformanceShare float64       `mapstructure:"performance_share" validate:"gte=0,lte=1"`
}

type PostbackConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	WorkerCount int           `mapstructure:"worker_count"`
	Breaker     BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"`
}

type RetryConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	WorkerCount  int           `mapstructure:"worker_count"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Multiplier   float64       `mapstructure:"multiplier" validate:"gte=1"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"gte=1"`
}

type RateLimitConfig struct {
	RPS   int `mapstructure:"rps"`
	Burst int `mapstructure:"burst"`
}

// WebhookSource registers an inbound webhook sender. Ownership of the shared
// secret lives here, in configuration; the core only reads it.
type WebhookSource struct {
	Name          string `mapstructure:"name" validate:"required"`
	Secret        string `mapstructure:"secret" validate:"required"`
	Scheme        string `mapstructure:"scheme"` // hmac-sha256
	MaxAgeSeconds int64  `mapstructure:"max_age_seconds"`
	APIKey        string `mapstructure:"api_key"` // customer key the source confirms on behalf of
}

func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (XAFRA_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (XAFRA_*)
	v.SetEnvPrefix("XAFRA")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
