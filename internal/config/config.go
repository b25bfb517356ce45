package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sync transports
const (
	TransportNone  = "none"
	TransportRedis = "redis"
	TransportKafka = "kafka"
)

// Config holds all configuration for the reservation service
type Config struct {
	ServiceName string
	LogLevel    string
	HTTPPort    string
	GRPCPort    string

	ReservationTTL    time.Duration
	SweepInterval     time.Duration
	TerminalRetention time.Duration
	TopProductsLimit  int

	NodeID        string
	SyncTransport string
	RedisAddr     string
	RedisPassword string
	RedisChannel  string
	KafkaBrokers  []string
	KafkaTopic    string

	CatalogDBPath string

	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		ServiceName: getEnv("SERVICE_NAME", "reservation"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		GRPCPort:    getEnv("GRPC_PORT", "50054"),

		ReservationTTL:    getDuration("RESERVATION_TTL", 15*time.Minute),
		SweepInterval:     getDuration("SWEEP_INTERVAL", 30*time.Second),
		TerminalRetention: getDuration("TERMINAL_RETENTION", 5*time.Minute),
		TopProductsLimit:  getNonNegativeInt("TOP_PRODUCTS_LIMIT", 10),

		NodeID:        getEnv("NODE_ID", uuid.New().String()),
		SyncTransport: strings.ToLower(getEnv("SYNC_TRANSPORT", TransportNone)),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisChannel:  getEnv("REDIS_CHANNEL", "reservations:events"),
		KafkaBrokers:  strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "reservation-events"),

		CatalogDBPath: getEnv("CATALOG_DB_PATH", ""),

		RequestTimeout:  getDuration("REQUEST_TIMEOUT", 5*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

// getNonNegativeInt falls back to defaultValue for unparsable or negative values.
// Zero is kept: for limits it means unlimited.
func getNonNegativeInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n >= 0 {
		return n
	}
	return defaultValue
}
