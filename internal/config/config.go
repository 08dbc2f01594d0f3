package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Scylla    ScyllaConfig    `mapstructure:"scylla"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Upload    UploadConfig    `mapstructure:"upload"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	OwnerHeader  string        `mapstructure:"owner_header"`
}

type PostgresConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Brokers         []string      `mapstructure:"brokers"`
	ClientID        string        `mapstructure:"client_id"`
	RunTopic        string        `mapstructure:"run_topic"`
	StatusTopic     string        `mapstructure:"status_topic"`
	ConsumerGroupID string        `mapstructure:"consumer_group_id"`
	ConsumerWorkers int           `mapstructure:"consumer_workers"` // concurrent owner runs per queue worker
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
	Partitions      int           `mapstructure:"partitions"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint       string  `mapstructure:"endpoint"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
}

// ProcessorConfig tunes the queue processor.
type ProcessorConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	CallDelay      time.Duration `mapstructure:"call_delay"`
	BatchPause     time.Duration `mapstructure:"batch_pause"`
	Trigger        string        `mapstructure:"trigger"`   // local | kafka
	Exclusion      string        `mapstructure:"exclusion"` // local | redis
	LeaseTTL       time.Duration `mapstructure:"lease_ttl"`
	LeaseKeyPrefix string        `mapstructure:"lease_key_prefix"`
	SweepSchedule  string        `mapstructure:"sweep_schedule"` // cron spec; empty disables
	SweepLimit     int           `mapstructure:"sweep_limit"`
}

// ProviderConfig describes the remote calling provider.
type ProviderConfig struct {
	Name               string        `mapstructure:"name"` // http | mock
	BaseURL            string        `mapstructure:"base_url"`
	APIKey             string        `mapstructure:"api_key"`
	AgentID            string        `mapstructure:"agent_id"`
	PhoneNumberID      string        `mapstructure:"phone_number_id"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	DefaultCountryCode string        `mapstructure:"default_country_code"`
	MockSuccessRate    float64       `mapstructure:"mock_success_rate"`
}

type UploadConfig struct {
	MaxBytes      int     `mapstructure:"max_bytes"`
	MaxRows       int     `mapstructure:"max_rows"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("CALLQUEUE")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects combinations the process cannot run with.
func (c *Config) Validate() error {
	switch c.Processor.Trigger {
	case "local":
	case "kafka":
		if !c.Kafka.Enabled {
			return fmt.Errorf("config: processor.trigger=kafka requires kafka.enabled")
		}
		// Queue workers run in other processes and must see the api's entries.
		if !c.Postgres.Enabled {
			return fmt.Errorf("config: processor.trigger=kafka requires postgres.enabled")
		}
	default:
		return fmt.Errorf("config: unknown processor.trigger %q", c.Processor.Trigger)
	}

	switch c.Processor.Exclusion {
	case "local":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("config: processor.exclusion=redis requires redis.enabled")
		}
		// The lease is refreshed before every call and must survive until the next one.
		gap := c.Provider.RequestTimeout + c.Processor.CallDelay + c.Processor.BatchPause
		if c.Processor.LeaseTTL <= gap {
			return fmt.Errorf("config: processor.lease_ttl %s must exceed provider.request_timeout + call_delay + batch_pause (%s)", c.Processor.LeaseTTL, gap)
		}
	default:
		return fmt.Errorf("config: unknown processor.exclusion %q", c.Processor.Exclusion)
	}

	if c.Processor.BatchSize <= 0 {
		return fmt.Errorf("config: processor.batch_size must be positive")
	}
	return nil
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "outbound-call-queue")
	v.SetDefault("app.env", "development")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.owner_header", "X-Owner-ID")

	v.SetDefault("postgres.enabled", true)
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)

	v.SetDefault("scylla.port", 9042)
	v.SetDefault("scylla.consistency", "quorum")
	v.SetDefault("scylla.timeout", 5*time.Second)

	v.SetDefault("kafka.client_id", "outbound-call-queue")
	v.SetDefault("kafka.run_topic", "call-queue.run-requests")
	v.SetDefault("kafka.status_topic", "call-queue.status")
	v.SetDefault("kafka.consumer_group_id", "call-queue-worker")
	v.SetDefault("kafka.consumer_workers", 16)
	v.SetDefault("kafka.commit_interval", time.Second)
	v.SetDefault("kafka.partitions", 12)

	v.SetDefault("processor.batch_size", 5)
	v.SetDefault("processor.call_delay", 2*time.Second)
	v.SetDefault("processor.batch_pause", time.Second)
	v.SetDefault("processor.trigger", "local")
	v.SetDefault("processor.exclusion", "local")
	v.SetDefault("processor.lease_ttl", 2*time.Minute)
	v.SetDefault("processor.lease_key_prefix", "callqueue:owner")
	v.SetDefault("processor.sweep_schedule", "@every 5m")
	v.SetDefault("processor.sweep_limit", 100)

	v.SetDefault("provider.name", "http")
	v.SetDefault("provider.base_url", "https://api.elevenlabs.io/v1")
	v.SetDefault("provider.request_timeout", 30*time.Second)
	v.SetDefault("provider.default_country_code", "91")
	v.SetDefault("provider.mock_success_rate", 0.8)

	v.SetDefault("upload.max_bytes", 5<<20)
	v.SetDefault("upload.max_rows", 10000)
	v.SetDefault("upload.rate_per_second", 1.0)
	v.SetDefault("upload.burst", 3)
}
