package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application. Values are layered:
// defaults, then the YAML file named by CONFIG_FILE, then the environment.
type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	AMQPURL     string `yaml:"amqp_url"`
	NumWorkers  int    `yaml:"num_workers"`

	MigrationsDir      string        `yaml:"migrations_dir"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`

	Bounce    BounceConfig    `yaml:"bounce"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Callbacks CallbackConfig  `yaml:"callbacks"`
	Auth      AuthConfig      `yaml:"auth"`
	Providers ProvidersConfig `yaml:"providers"`
}

type BounceConfig struct {
	WarnThreshold    float64       `yaml:"warn_threshold"`
	SuspendThreshold float64       `yaml:"suspend_threshold"`
	Window           time.Duration `yaml:"window"`
	// FailOpen lets sends through when Redis is unreachable.
	FailOpen bool `yaml:"fail_open"`
}

type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Limit   int64         `yaml:"limit"`
	Window  time.Duration `yaml:"window"`
}

type CallbackConfig struct {
	RetryWindow          time.Duration `yaml:"retry_window"`
	NotificationTimeout  time.Duration `yaml:"notification_timeout"`
	TimeoutSweepInterval time.Duration `yaml:"timeout_sweep_interval"`
	ProviderSendTimeout  time.Duration `yaml:"provider_send_timeout"`
	RegistryRefresh      time.Duration `yaml:"registry_refresh"`
}

type AuthConfig struct {
	AdminClientID string `yaml:"admin_client_id"`
	AdminSecret   string `yaml:"admin_secret"`
}

type ProvidersConfig struct {
	AWS         AWSConfig         `yaml:"aws"`
	SES         SESConfig         `yaml:"ses"`
	SNS         SNSConfig         `yaml:"sns"`
	Pinpoint    PinpointConfig    `yaml:"pinpoint"`
	Twilio      TwilioConfig      `yaml:"twilio"`
	GovDelivery GovDeliveryConfig `yaml:"govdelivery"`
}

type AWSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Endpoint        string `yaml:"endpoint"`
}

type SESConfig struct {
	FromAddress      string `yaml:"from_address"`
	ConfigurationSet string `yaml:"configuration_set"`
}

type SNSConfig struct {
	SenderID string `yaml:"sender_id"`
}

type PinpointConfig struct {
	PoolID           string `yaml:"pool_id"`
	ConfigurationSet string `yaml:"configuration_set"`
}

type TwilioConfig struct {
	AccountSID        string `yaml:"account_sid"`
	AuthToken         string `yaml:"auth_token"`
	From              string `yaml:"from"`
	BaseURL           string `yaml:"base_url"`
	StatusCallbackURL string `yaml:"status_callback_url"`
}

type GovDeliveryConfig struct {
	BaseURL   string `yaml:"base_url"`
	AuthToken string `yaml:"auth_token"`
	FromName  string `yaml:"from_name"`
}

func defaults() *Config {
	return &Config{
		Port:               "8080",
		NumWorkers:         50,
		MigrationsDir:      "migrations",
		SlowQueryThreshold: 200 * time.Millisecond,
		Bounce: BounceConfig{
			WarnThreshold:    0.05,
			SuspendThreshold: 0.10,
			Window:           24 * time.Hour,
			FailOpen:         true,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Limit:   1000,
			Window:  60 * time.Second,
		},
		Callbacks: CallbackConfig{
			RetryWindow:          5 * time.Minute,
			NotificationTimeout:  72 * time.Hour,
			TimeoutSweepInterval: 5 * time.Minute,
			ProviderSendTimeout:  10 * time.Second,
			RegistryRefresh:      30 * time.Second,
		},
		Providers: ProvidersConfig{
			AWS:    AWSConfig{Region: "us-east-1"},
			Twilio: TwilioConfig{BaseURL: "https://api.twilio.com"},
		},
	}
}

// Load reads configuration from CONFIG_FILE (optional) and environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.AMQPURL = getEnv("AMQP_URL", cfg.AMQPURL)
	cfg.NumWorkers = getEnvInt("NUM_WORKERS", cfg.NumWorkers)
	cfg.MigrationsDir = getEnv("MIGRATIONS_DIR", cfg.MigrationsDir)
	cfg.SlowQueryThreshold = getEnvDuration("SLOW_QUERY_THRESHOLD", cfg.SlowQueryThreshold)

	cfg.Bounce.WarnThreshold = getEnvFloat("BOUNCE_WARN_THRESHOLD", cfg.Bounce.WarnThreshold)
	cfg.Bounce.SuspendThreshold = getEnvFloat("BOUNCE_SUSPEND_THRESHOLD", cfg.Bounce.SuspendThreshold)
	cfg.Bounce.Window = getEnvDuration("BOUNCE_WINDOW", cfg.Bounce.Window)
	cfg.Bounce.FailOpen = getEnvBool("RATE_WINDOW_FAIL_OPEN", cfg.Bounce.FailOpen)

	cfg.RateLimit.Enabled = getEnvBool("API_RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.Limit = int64(getEnvInt("API_RATE_LIMIT", int(cfg.RateLimit.Limit)))
	cfg.RateLimit.Window = getEnvDuration("API_RATE_LIMIT_WINDOW", cfg.RateLimit.Window)

	cfg.Callbacks.RetryWindow = getEnvDuration("CALLBACK_RETRY_WINDOW", cfg.Callbacks.RetryWindow)
	cfg.Callbacks.NotificationTimeout = getEnvDuration("NOTIFICATION_TIMEOUT", cfg.Callbacks.NotificationTimeout)
	cfg.Callbacks.TimeoutSweepInterval = getEnvDuration("TIMEOUT_SWEEP_INTERVAL", cfg.Callbacks.TimeoutSweepInterval)
	cfg.Callbacks.ProviderSendTimeout = getEnvDuration("PROVIDER_SEND_TIMEOUT", cfg.Callbacks.ProviderSendTimeout)
	cfg.Callbacks.RegistryRefresh = getEnvDuration("PROVIDER_REGISTRY_REFRESH", cfg.Callbacks.RegistryRefresh)

	cfg.Auth.AdminClientID = getEnv("ADMIN_CLIENT_ID", cfg.Auth.AdminClientID)
	cfg.Auth.AdminSecret = getEnv("ADMIN_SECRET", cfg.Auth.AdminSecret)

	p := &cfg.Providers
	p.AWS.Region = getEnv("AWS_REGION", p.AWS.Region)
	p.AWS.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", p.AWS.AccessKeyID)
	p.AWS.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", p.AWS.SecretAccessKey)
	p.AWS.Endpoint = getEnv("AWS_ENDPOINT_URL", p.AWS.Endpoint)
	p.SES.FromAddress = getEnv("SES_FROM_ADDRESS", p.SES.FromAddress)
	p.SES.ConfigurationSet = getEnv("SES_CONFIGURATION_SET", p.SES.ConfigurationSet)
	p.SNS.SenderID = getEnv("SNS_SENDER_ID", p.SNS.SenderID)
	p.Pinpoint.PoolID = getEnv("PINPOINT_POOL_ID", p.Pinpoint.PoolID)
	p.Pinpoint.ConfigurationSet = getEnv("PINPOINT_CONFIGURATION_SET", p.Pinpoint.ConfigurationSet)
	p.Twilio.AccountSID = getEnv("TWILIO_ACCOUNT_SID", p.Twilio.AccountSID)
	p.Twilio.AuthToken = getEnv("TWILIO_AUTH_TOKEN", p.Twilio.AuthToken)
	p.Twilio.From = getEnv("TWILIO_FROM_NUMBER", p.Twilio.From)
	p.Twilio.BaseURL = getEnv("TWILIO_BASE_URL", p.Twilio.BaseURL)
	p.Twilio.StatusCallbackURL = getEnv("TWILIO_STATUS_CALLBACK_URL", p.Twilio.StatusCallbackURL)
	p.GovDelivery.BaseURL = getEnv("GOVDELIVERY_URL", p.GovDelivery.BaseURL)
	p.GovDelivery.AuthToken = getEnv("GOVDELIVERY_TOKEN", p.GovDelivery.AuthToken)
	p.GovDelivery.FromName = getEnv("GOVDELIVERY_FROM_NAME", p.GovDelivery.FromName)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.Bounce.WarnThreshold <= 0 || c.Bounce.SuspendThreshold <= 0 {
		return fmt.Errorf("bounce thresholds must be positive")
	}
	if c.Bounce.WarnThreshold > c.Bounce.SuspendThreshold {
		return fmt.Errorf("BOUNCE_WARN_THRESHOLD (%v) exceeds BOUNCE_SUSPEND_THRESHOLD (%v)",
			c.Bounce.WarnThreshold, c.Bounce.SuspendThreshold)
	}
	if c.Bounce.Window <= 0 {
		return fmt.Errorf("BOUNCE_WINDOW must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}
