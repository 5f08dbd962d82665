package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

	Cloud CloudConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	HTTPAddr string

	Vendor    VendorConfig
	RateLimit RateLimitConfig
	Scheduler SchedulerConfig
	Alerts    AlertConfig
	Bootstrap BootstrapConfig
}

// VendorConfig configures the external card-issuing API.
type VendorConfig struct {
	Provider       string
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
	CostPerCard    int64
}

// RateLimitConfig configures the provisioning endpoint rate limiter.
type RateLimitConfig struct {
	Enabled        bool
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	ProvisionRate  float64
	ProvisionBurst int
}

// SchedulerConfig controls the background sweep cadence. A zero interval
// disables the corresponding sweep.
type SchedulerConfig struct {
	RunIntervalSeconds            int
	ExpirySweepIntervalSeconds    int
	ReconcileSweepIntervalSeconds int
	OutboxDispatchBatchSize       int
}

// AlertConfig configures operational alerting.
type AlertConfig struct {
	SlackWebhookURL string
	SlackChannel    string
}

// BootstrapConfig controls dev-mode seed data.
type BootstrapConfig struct {
	SeedDemoData bool
}

type CloudConfig struct {
	OrganizationID   string
	OrganizationName string
	Metrics          CloudMetricsConfig
}

type CloudMetricsConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "mobul"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  environment,
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		Cloud: CloudConfig{
			OrganizationID:   strings.TrimSpace(getenv("CLOUD_ORGANIZATION_ID", "")),
			OrganizationName: getenv("CLOUD_ORGANIZATION_NAME", ""),
			Metrics: CloudMetricsConfig{
				Enabled:   getenvBool("CLOUD_METRICS_ENABLED", false),
				Exporter:  strings.ToLower(getenv("CLOUD_METRICS_EXPORTER", "")),
				Endpoint:  strings.TrimSpace(getenv("CLOUD_METRICS_ENDPOINT", "")),
				AuthToken: strings.TrimSpace(getenv("CLOUD_METRICS_AUTH_TOKEN", "")),
			},
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "mobul"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 0)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 0)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 0)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 0)),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		Vendor: VendorConfig{
			Provider:       strings.ToLower(getenv("VENDOR_PROVIDER", "restv1")),
			BaseURL:        strings.TrimSpace(getenv("VENDOR_BASE_URL", "")),
			APIKey:         strings.TrimSpace(getenv("VENDOR_API_KEY", "")),
			TimeoutSeconds: int(getenvInt64("VENDOR_TIMEOUT_SECONDS", 15)),
			CostPerCard:    getenvInt64("VENDOR_COST_PER_CARD", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:      strings.TrimSpace(getenv("REDIS_ADDR", "")),
			RedisPassword:  getenv("REDIS_PASSWORD", ""),
			RedisDB:        int(getenvInt64("REDIS_DB", 0)),
			ProvisionRate:  getenvFloat("RATE_LIMIT_PROVISION_RATE", 25),
			ProvisionBurst: int(getenvInt64("RATE_LIMIT_PROVISION_BURST", 50)),
		},
		Scheduler: SchedulerConfig{
			RunIntervalSeconds:            int(getenvInt64("SCHEDULER_RUN_INTERVAL_SECONDS", 60)),
			ExpirySweepIntervalSeconds:    int(getenvInt64("EXPIRY_SWEEP_INTERVAL_SECONDS", 3600)),
			ReconcileSweepIntervalSeconds: int(getenvInt64("RECONCILE_SWEEP_INTERVAL_SECONDS", 3600)),
			OutboxDispatchBatchSize:       int(getenvInt64("OUTBOX_DISPATCH_BATCH_SIZE", 100)),
		},
		Alerts: AlertConfig{
			SlackWebhookURL: strings.TrimSpace(getenv("SLACK_WEBHOOK_URL", "")),
			SlackChannel:    strings.TrimSpace(getenv("SLACK_CHANNEL", "#mobul-ops")),
		},
		Bootstrap: BootstrapConfig{
			SeedDemoData: getenvBool("SEED_DEMO_DATA", environment != "production"),
		},
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
