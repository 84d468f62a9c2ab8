/*
Package config loads service configuration from the environment.

SOURCES (later wins):
  1. Defaults below
  2. .env file in the working directory, if present (godotenv)
  3. Process environment
  4. Command-line flags in cmd/server (port, db)

VARIABLES:
  APP_ENV                   development | production
  HTTP_PORT                 listen port (8080)
  HTTP_CORS_ORIGINS         comma-separated allowed origins
  DB_PATH                   sqlite file (./data/stock.db)
  LOG_LEVEL                 debug | info | warn | error
  ALLOW_NEGATIVE_STOCK      accept outgoing movements below zero (true)
  DEFAULT_TIMEZONE          IANA zone for outlets created without one (UTC)
  AUTO_CLOSE_ENABLED        close the previous business day automatically
  AUTO_CLOSE_INTERVAL       how often the scheduler checks (15m)
  KAFKA_ENABLED             consume order events
  KAFKA_BROKERS             comma-separated broker list
  KAFKA_TOPIC_ORDERS        topic carrying order.fulfilled events
  KAFKA_GROUP_ID            consumer group
*/
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Logger    LoggerConfig
	Ledger    LedgerConfig
	Scheduler SchedulerConfig
	Kafka     KafkaConfig
}

type ServerConfig struct {
	AppEnv          string
	Port            string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Path string
}

type LoggerConfig struct {
	Level string
}

type LedgerConfig struct {
	AllowNegativeStock bool
	DefaultTimezone    string
}

type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
	ClosedBy string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
	GroupID string
}

// IsDevelopment enables the console log writer.
func (c *Config) IsDevelopment() bool {
	return c.Server.AppEnv != "production"
}

// Load reads .env (if any) and then the environment.
func Load() *Config {
	_ = godotenv.Load() // Load .env file if it exists
	return LoadEnv()
}

func LoadEnv() *Config {
	return &Config{
		Server: ServerConfig{
			AppEnv:          getEnv("APP_ENV", "development"),
			Port:            getEnv("HTTP_PORT", "8080"),
			CORSOrigins:     getEnvSlice("HTTP_CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:8080"}),
			ShutdownTimeout: getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/stock.db"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Ledger: LedgerConfig{
			AllowNegativeStock: getEnvBool("ALLOW_NEGATIVE_STOCK", true),
			DefaultTimezone:    getEnv("DEFAULT_TIMEZONE", "UTC"),
		},
		Scheduler: SchedulerConfig{
			Enabled:  getEnvBool("AUTO_CLOSE_ENABLED", false),
			Interval: getEnvDuration("AUTO_CLOSE_INTERVAL", 15*time.Minute),
			ClosedBy: getEnv("AUTO_CLOSE_ACTOR", "auto-close"),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC_ORDERS", "orders.events"),
			GroupID: getEnv("KAFKA_GROUP_ID", "stock-ledger"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
