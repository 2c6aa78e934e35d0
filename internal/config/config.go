// Package config loads service settings from the environment, reading a
// .env file first when one is present.
package config

import (
	"errors"
	"fmt"
	"fraud_scorer/internal/processor"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultHTTPAddr         = ":8080"
	DefaultMetricsAddr      = ":9090"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultSweepInterval    = time.Minute
	DefaultInsightWorkers   = 4
	DefaultInsightQueueSize = 1024
	DefaultBreakerThreshold = 5
	DefaultBreakerOpen      = 30 * time.Second
	DefaultKafkaGroupID     = "fraud-scorer"
	DefaultServiceName      = "fraud-scorer"
)

type Config struct {
	HTTPAddr    string
	MetricsAddr string
	LogLevel    string
	LogFormat   string
	ServiceName string

	VelocityWindow time.Duration
	IdleTTL        time.Duration
	SweepInterval  time.Duration
	Policy         processor.Policy
	JitterSeed     uint64 // zero seeds from the clock

	AdvisoryEndpoint         string
	AdvisoryToken            string
	AdvisoryTimeout          time.Duration
	AdvisoryBreakerThreshold int
	AdvisoryBreakerOpen      time.Duration

	RedisAddrs    []string // empty keeps velocity state in process
	RedisPassword string
	DatabaseURL   string // empty keeps verdicts in memory

	KafkaBrokers     []string
	KafkaInputTopic  string // empty picks the top-ranked discovered topic
	KafkaOutputTopic string // empty disables insight publishing to Kafka
	KafkaGroupID     string

	InsightWorkers   int
	InsightQueueSize int

	OTLPEndpoint  string
	SigningSecret string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	policy := processor.DefaultPolicy()
	policy.RuleWeight = getEnvFloat("BLEND_RULE_WEIGHT", policy.RuleWeight)
	policy.HeuristicWeight = getEnvFloat("BLEND_HEURISTIC_WEIGHT", policy.HeuristicWeight)
	policy.FraudThreshold = getEnvFloat("FRAUD_THRESHOLD", policy.FraudThreshold)
	policy.ReviewThreshold = getEnvFloat("REVIEW_THRESHOLD", policy.ReviewThreshold)

	cfg := &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", DefaultHTTPAddr),
		MetricsAddr: getEnv("METRICS_ADDR", DefaultMetricsAddr),
		LogLevel:    getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:   getEnv("LOG_FORMAT", DefaultLogFormat),
		ServiceName: getEnv("SERVICE_NAME", DefaultServiceName),

		VelocityWindow: getEnvDuration("VELOCITY_WINDOW", processor.DefaultVelocityWindow),
		IdleTTL:        getEnvDuration("VELOCITY_IDLE_TTL", processor.DefaultIdleTTL),
		SweepInterval:  getEnvDuration("VELOCITY_SWEEP_INTERVAL", DefaultSweepInterval),
		Policy:         policy,
		JitterSeed:     uint64(getEnvInt64("JITTER_SEED", 0)),

		AdvisoryEndpoint:         os.Getenv("ADVISORY_ENDPOINT"),
		AdvisoryToken:            os.Getenv("ADVISORY_BEARER_TOKEN"),
		AdvisoryTimeout:          getEnvDuration("ADVISORY_TIMEOUT", processor.DefaultAdvisoryTimeout),
		AdvisoryBreakerThreshold: int(getEnvInt64("ADVISORY_BREAKER_THRESHOLD", DefaultBreakerThreshold)),
		AdvisoryBreakerOpen:      getEnvDuration("ADVISORY_BREAKER_OPEN", DefaultBreakerOpen),

		RedisAddrs:    getEnvList("REDIS_ADDRS"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),

		KafkaBrokers:     getEnvList("KAFKA_BROKERS"),
		KafkaInputTopic:  os.Getenv("KAFKA_INPUT_TOPIC"),
		KafkaOutputTopic: os.Getenv("KAFKA_OUTPUT_TOPIC"),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", DefaultKafkaGroupID),

		InsightWorkers:   int(getEnvInt64("INSIGHT_WORKERS", DefaultInsightWorkers)),
		InsightQueueSize: int(getEnvInt64("INSIGHT_QUEUE_SIZE", DefaultInsightQueueSize)),

		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SigningSecret: os.Getenv("SIGNING_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.VelocityWindow <= 0 {
		errs = append(errs, errors.New("VELOCITY_WINDOW must be positive"))
	}
	if c.IdleTTL < c.VelocityWindow {
		errs = append(errs, fmt.Errorf("VELOCITY_IDLE_TTL (%s) must not be shorter than VELOCITY_WINDOW (%s)", c.IdleTTL, c.VelocityWindow))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("VELOCITY_SWEEP_INTERVAL must be positive"))
	}
	if err := c.Policy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("blend policy: %w", err))
	}
	if c.AdvisoryTimeout <= 0 {
		errs = append(errs, errors.New("ADVISORY_TIMEOUT must be positive"))
	}
	if c.InsightWorkers <= 0 || c.InsightQueueSize <= 0 {
		errs = append(errs, errors.New("INSIGHT_WORKERS and INSIGHT_QUEUE_SIZE must be positive"))
	}
	if c.KafkaOutputTopic != "" && len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_OUTPUT_TOPIC requires KAFKA_BROKERS"))
	}

	return errors.Join(errs...)
}

func (c *Config) AdvisoryConfigured() bool {
	return c.AdvisoryEndpoint != ""
}

func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings or a bare integer of
// milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
