package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/acme/outbound-survey/pkg/errors"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Scylla    ScyllaConfig    `mapstructure:"scylla"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Bus       BusConfig       `mapstructure:"bus"`
	Telephony TelephonyConfig `mapstructure:"telephony"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Email     EmailConfig     `mapstructure:"email"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	WebhookDeadline time.Duration `mapstructure:"webhook_deadline"`
}

type PostgresConfig struct {
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
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

// BusConfig selects and configures the survey-event bus driver.
type BusConfig struct {
	Driver            string        `mapstructure:"driver"` // "sqs" or "kafka"
	QueueURL          string        `mapstructure:"queue_url"`
	Region            string        `mapstructure:"region"`
	AccessKey         string        `mapstructure:"access_key"`
	SecretKey         string        `mapstructure:"secret_key"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	WaitTime          time.Duration `mapstructure:"wait_time"`
	Brokers           []string      `mapstructure:"brokers"`
	Topic             string        `mapstructure:"topic"`
	ConsumerGroupID   string        `mapstructure:"consumer_group_id"`
	PublishBaseDelay  time.Duration `mapstructure:"publish_base_delay"`
	PublishMaxDelay   time.Duration `mapstructure:"publish_max_delay"`
	PublishMaxRetries int           `mapstructure:"publish_max_retries"`
}

type TelephonyConfig struct {
	Provider           string        `mapstructure:"provider"`
	BaseURL            string        `mapstructure:"base_url"`
	AccountSID         string        `mapstructure:"account_sid"`
	AuthToken          string        `mapstructure:"auth_token"`
	FromNumber         string        `mapstructure:"from_number"`
	WebhookBaseURL     string        `mapstructure:"webhook_base_url"`
	MaxConcurrentCalls int           `mapstructure:"max_concurrent_calls"`
	CallTimeout        time.Duration `mapstructure:"call_timeout"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
}

type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
}

type SchedulerConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	LockKey        string        `mapstructure:"lock_key"`
	PrefetchFactor int           `mapstructure:"prefetch_factor"`
	RelayInterval  time.Duration `mapstructure:"relay_interval"`
}

type EmailConfig struct {
	Driver       string        `mapstructure:"driver"` // "ses" or "mock"
	Region       string        `mapstructure:"region"`
	AccessKey    string        `mapstructure:"access_key"`
	SecretKey    string        `mapstructure:"secret_key"`
	From         string        `mapstructure:"from"`
	FromName     string        `mapstructure:"from_name"`
	MaxRetries   int           `mapstructure:"max_retries"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceName     string        `mapstructure:"service_name"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("SURVEY")
	v.SetEnvKeyReplacer(NewEnvReplacer())
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: read config file: %v", apperrors.ErrConfiguration, err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal config: %v", apperrors.ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.webhook_deadline", 10*time.Second)
	v.SetDefault("scheduler.tick_interval", 60*time.Second)
	v.SetDefault("scheduler.prefetch_factor", 2)
	v.SetDefault("scheduler.relay_interval", 30*time.Second)
	v.SetDefault("telephony.max_concurrent_calls", 10)
	v.SetDefault("telephony.call_timeout", 60*time.Second)
	v.SetDefault("telephony.request_timeout", 10*time.Second)
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.max_tokens", 512)
	v.SetDefault("bus.visibility_timeout", 300*time.Second)
	v.SetDefault("bus.wait_time", 20*time.Second)
	v.SetDefault("bus.publish_base_delay", time.Second)
	v.SetDefault("bus.publish_max_delay", 60*time.Second)
	v.SetDefault("bus.publish_max_retries", 5)
	v.SetDefault("email.max_retries", 3)
	v.SetDefault("email.poll_interval", 5*time.Second)
	v.SetDefault("email.batch_size", 10)
}

// Validate enforces configuration bounds; failures are fatal at startup.
func (c *Config) Validate() error {
	if c.Scheduler.TickInterval < 5*time.Second || c.Scheduler.TickInterval > time.Hour {
		return fmt.Errorf("%w: scheduler tick_interval %s out of range [5s,1h]", apperrors.ErrConfiguration, c.Scheduler.TickInterval)
	}
	if c.Scheduler.LockKey == "" {
		return fmt.Errorf("%w: scheduler lock_key is required", apperrors.ErrConfiguration)
	}
	if c.Telephony.MaxConcurrentCalls <= 0 {
		return fmt.Errorf("%w: telephony max_concurrent_calls must be positive", apperrors.ErrConfiguration)
	}
	switch c.Bus.Driver {
	case "sqs":
		if c.Bus.QueueURL == "" {
			return fmt.Errorf("%w: bus queue_url is required for sqs driver", apperrors.ErrConfiguration)
		}
	case "kafka":
		if len(c.Bus.Brokers) == 0 || c.Bus.Topic == "" {
			return fmt.Errorf("%w: bus brokers and topic are required for kafka driver", apperrors.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown bus driver %q", apperrors.ErrConfiguration, c.Bus.Driver)
	}
	if c.Email.MaxRetries <= 0 {
		return fmt.Errorf("%w: email max_retries must be positive", apperrors.ErrConfiguration)
	}
	return nil
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
