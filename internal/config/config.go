// Package config loads worker configuration from the environment.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnv loads variables from a .env file if present.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found: %v", err)
	}
}

// GetEnv returns an environment variable or a default value.
func GetEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// GetIntEnv returns an int environment variable or a default value.
func GetIntEnv(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetFloatEnv returns a float environment variable or a default value.
func GetFloatEnv(key string, defaultVal float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// Config holds every setting the worker node needs.
type Config struct {
	// Postgres
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBPoolSize int

	// Event bus
	BusURL          string
	DeadLetterQueue string

	// Protocol windows
	IdempotencyWindow  time.Duration
	EscrowTimeout      time.Duration
	AcceptanceWindow   time.Duration
	ForceCallThreshold time.Duration
	RerouteThreshold   time.Duration

	// Re-routing
	DefaultRadiusKM float64

	// Watchdog
	WatchdogInterval  time.Duration
	WatchdogBatchSize int

	// Diagnostics. Empty disables the heartbeat server.
	HeartbeatAddr string
}

// Load reads the full configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		DBHost:     GetEnv("DB_HOST", "localhost"),
		DBPort:     GetIntEnv("DB_PORT", 5432),
		DBName:     GetEnv("DB_NAME", "kithly"),
		DBUser:     GetEnv("DB_USER", "kithly_app"),
		DBPassword: GetEnv("DB_PASSWORD", ""),
		DBPoolSize: GetIntEnv("DB_POOL_SIZE", 10),

		BusURL:          GetEnv("BUS_URL", "tcp://127.0.0.1:6379"),
		DeadLetterQueue: GetEnv("DEAD_LETTER_QUEUE", ""),

		IdempotencyWindow:  time.Duration(GetIntEnv("IDEMPOTENCY_WINDOW_HOURS", 24)) * time.Hour,
		EscrowTimeout:      time.Duration(GetIntEnv("ESCROW_TIMEOUT_HOURS", 48)) * time.Hour,
		AcceptanceWindow:   time.Duration(GetIntEnv("ACCEPTANCE_WINDOW_HOURS", 2)) * time.Hour,
		ForceCallThreshold: time.Duration(GetIntEnv("FORCE_CALL_THRESHOLD_MINS", 5)) * time.Minute,
		RerouteThreshold:   time.Duration(GetIntEnv("REROUTE_THRESHOLD_MINS", 10)) * time.Minute,

		DefaultRadiusKM: GetFloatEnv("DEFAULT_RADIUS_KM", 5),

		WatchdogInterval:  time.Duration(GetIntEnv("WATCHDOG_INTERVAL_SECS", 30)) * time.Second,
		WatchdogBatchSize: GetIntEnv("WATCHDOG_BATCH_SIZE", 500),

		HeartbeatAddr: GetEnv("HEARTBEAT_ADDR", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the worker cannot safely run with.
func (c *Config) Validate() error {
	if c.DBPoolSize < 1 {
		return fmt.Errorf("DB_POOL_SIZE must be at least 1, got %d", c.DBPoolSize)
	}
	if c.DBPort < 1 || c.DBPort > 65535 {
		return fmt.Errorf("DB_PORT out of range: %d", c.DBPort)
	}
	if c.IdempotencyWindow <= 0 {
		return fmt.Errorf("IDEMPOTENCY_WINDOW_HOURS must be positive")
	}
	if c.EscrowTimeout <= 0 {
		return fmt.Errorf("ESCROW_TIMEOUT_HOURS must be positive")
	}
	if c.DefaultRadiusKM <= 0 {
		return fmt.Errorf("DEFAULT_RADIUS_KM must be positive")
	}
	if c.WatchdogInterval <= 0 || c.WatchdogInterval > 30*time.Second {
		return fmt.Errorf("WATCHDOG_INTERVAL_SECS must be in (0, 30]")
	}
	if c.WatchdogBatchSize < 1 {
		return fmt.Errorf("WATCHDOG_BATCH_SIZE must be at least 1")
	}
	return nil
}

// RedisAddr strips the connection scheme older BUS_URL values carry.
func (c *Config) RedisAddr() string {
	addr := c.BusURL
	for _, prefix := range []string{"tcp://", "redis://"} {
		if len(addr) > len(prefix) && addr[:len(prefix)] == prefix {
			return addr[len(prefix):]
		}
	}
	return addr
}
