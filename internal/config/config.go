package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all loader settings, populated from environment variables.
type Config struct {
	// Store connection. DBDSN is host:port/database; user and password are
	// carried separately so credentials never appear in logged URLs.
	DBUser     string
	DBPassword string
	DBDSN      string

	// Forecast provider.
	OpenMeteoURL string
	HTTPTimeout  time.Duration

	LogLevel  string
	LogFormat string

	// AppUser is recorded on every audit event. Defaults to the DB user.
	AppUser string

	// PushgatewayURL enables best-effort metrics push when set. A batch run
	// has no scrape endpoint, so pull-based collection is not an option.
	PushgatewayURL string

	// Kafka run-summary notifier, enabled only when brokers are configured.
	KafkaBrokers      []string
	KafkaSummaryTopic string
}

// Load reads configuration from environment variables, applying defaults
// suitable for local development where unset.
func Load() (*Config, error) {
	timeoutStr := envOrDefault("HTTP_TIMEOUT", "30s")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT %q", timeoutStr)
	}

	cfg := &Config{
		DBUser:     envOrDefault("DB_USER", "projekt"),
		DBPassword: envOrDefault("DB_PASSWORD", "projekt123"),
		DBDSN:      envOrDefault("DB_DSN", "localhost:5432/weather"),

		OpenMeteoURL: envOrDefault("OPENMETEO_URL", "https://api.open-meteo.com/v1/forecast"),
		HTTPTimeout:  timeout,

		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "json"),

		PushgatewayURL: os.Getenv("PUSHGATEWAY_URL"),

		KafkaBrokers:      splitBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaSummaryTopic: envOrDefault("KAFKA_SUMMARY_TOPIC", "weather-run-summaries"),
	}
	cfg.AppUser = envOrDefault("APP_USER", cfg.DBUser)

	if cfg.DBUser == "" {
		return nil, fmt.Errorf("DB_USER must not be empty")
	}
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN must not be empty")
	}
	if cfg.OpenMeteoURL == "" {
		return nil, fmt.Errorf("OPENMETEO_URL must not be empty")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaSummaryTopic == "" {
		return nil, fmt.Errorf("KAFKA_SUMMARY_TOPIC must not be empty when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// NotifierEnabled reports whether the run-summary notifier should be wired.
func (c *Config) NotifierEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitBrokers parses a comma-separated broker list, dropping empty entries.
func splitBrokers(raw string) []string {
	if raw == "" {
		return nil
	}
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
