package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	LogLevel  string
	Kafka     KafkaConfig
	Store     StoreConfig
	InfluxDB  InfluxDBConfig
	Processor ProcessorConfig
	Pipeline  PipelineConfig
	OCR       OCRConfig
	HTTP      HTTPConfig
}

// KafkaConfig holds Kafka-related configuration
type KafkaConfig struct {
	Brokers         []string
	Topic           string
	GroupID         string
	ClientID        string
	ConsumerCount   int
	ProducerTimeout time.Duration
	ProducerRetries int
}

// StoreConfig selects and configures the station store
type StoreConfig struct {
	Driver         string // memory or postgres
	DatabaseURL    string
	MaxConns       int32
	EnsureSchema   bool
	EnableGeoIndex bool
}

// InfluxDBConfig holds InfluxDB-related configuration
type InfluxDBConfig struct {
	Enabled bool
	URL     string
	Org     string
	Token   string
	Bucket  string
}

// ProcessorConfig holds processor-related configuration
type ProcessorConfig struct {
	WorkerCount   int
	QueueSize     int
	StatsInterval time.Duration
}

// PipelineConfig holds station processing settings
type PipelineConfig struct {
	ImagesDir          string
	Timezone           string
	ParallelExtraction int
}

// OCRConfig selects the text recognizer
type OCRConfig struct {
	Engine   string // tesseract or sidecar
	Binary   string
	Language string
}

// HTTPConfig holds the submission API settings
type HTTPConfig struct {
	Enabled bool
	Addr    string
}

// Load loads configuration from environment variables with sensible defaults.
// A .env file in the working directory is read first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Kafka: KafkaConfig{
			Brokers:         getEnvStringSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:           getEnv("KAFKA_TOPIC", "stations.raw"),
			GroupID:         getEnv("KAFKA_GROUP_ID", "fuel-price-pipeline"),
			ClientID:        getEnv("KAFKA_CLIENT_ID", "fuel-price-pipeline"),
			ConsumerCount:   getEnvInt("KAFKA_CONSUMER_COUNT", 2),
			ProducerTimeout: getEnvDuration("KAFKA_PRODUCER_TIMEOUT", 10*time.Second),
			ProducerRetries: getEnvInt("KAFKA_PRODUCER_RETRIES", 3),
		},
		Store: StoreConfig{
			Driver:         getEnv("STORE_DRIVER", "postgres"),
			DatabaseURL:    getEnv("DATABASE_URL", ""),
			MaxConns:       int32(getEnvInt("DATABASE_MAX_CONNS", 10)),
			EnsureSchema:   getEnvBool("DATABASE_ENSURE_SCHEMA", true),
			EnableGeoIndex: getEnvBool("DATABASE_GEO_INDEX", false),
		},
		InfluxDB: InfluxDBConfig{
			Enabled: getEnvBool("INFLUXDB_ENABLED", false),
			URL:     getEnv("INFLUXDB_URL", "http://localhost:8086"),
			Org:     getEnv("INFLUXDB_ORG", ""),
			Token:   getEnv("INFLUX_TOKEN", ""),
			Bucket:  getEnv("INFLUXDB_BUCKET", "fuel-prices"),
		},
		Processor: ProcessorConfig{
			WorkerCount:   getEnvInt("PROCESSOR_WORKER_COUNT", 4),
			QueueSize:     getEnvInt("PROCESSOR_QUEUE_SIZE", 100),
			StatsInterval: getEnvDuration("PROCESSOR_STATS_INTERVAL", 10*time.Second),
		},
		Pipeline: PipelineConfig{
			ImagesDir:          getEnv("IMAGES_DIR", "data"),
			Timezone:           getEnv("CAPTURE_TIMEZONE", "UTC"),
			ParallelExtraction: getEnvInt("PARALLEL_EXTRACTION", 1),
		},
		OCR: OCRConfig{
			Engine:   getEnv("OCR_ENGINE", "tesseract"),
			Binary:   getEnv("TESSERACT_BIN", "tesseract"),
			Language: getEnv("TESSERACT_LANG", "slv"),
		},
		HTTP: HTTPConfig{
			Enabled: getEnvBool("HTTP_ENABLED", true),
			Addr:    getEnv("HTTP_ADDR", ":8080"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the service cannot start with
func (c *Config) Validate() error {
	var problems []string

	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required for the postgres store")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown STORE_DRIVER %q", c.Store.Driver))
	}

	switch c.OCR.Engine {
	case "tesseract", "sidecar":
	default:
		problems = append(problems, fmt.Sprintf("unknown OCR_ENGINE %q", c.OCR.Engine))
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.Org == "" || c.InfluxDB.Token == "") {
		problems = append(problems, "INFLUXDB_ORG and INFLUX_TOKEN are required when InfluxDB is enabled")
	}
	if len(c.Kafka.Brokers) == 0 || c.Kafka.Brokers[0] == "" {
		problems = append(problems, "KAFKA_BROKERS is required")
	}
	if c.Processor.WorkerCount < 1 {
		problems = append(problems, "PROCESSOR_WORKER_COUNT must be at least 1")
	}
	if c.Processor.QueueSize < 0 {
		problems = append(problems, "PROCESSOR_QUEUE_SIZE must not be negative")
	}
	if _, err := time.LoadLocation(c.Pipeline.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("invalid CAPTURE_TIMEZONE %q", c.Pipeline.Timezone))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Location returns the time zone capture timestamps are read in
func (c PipelineConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Helper functions to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
