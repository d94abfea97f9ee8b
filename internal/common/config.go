package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Queue    QueueConfig
	Pipeline PipelineConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	FallbackPath     string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// RedisConfig holds queue/lease backend configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr  string
	HTTPAddr  string
	UploadDir string
}

// QueueConfig holds job queue configuration
type QueueConfig struct {
	JobTTL     time.Duration
	Workers    int
	PollDelay  time.Duration
	MaxRetries int
}

// PipelineConfig holds stage retry and circuit breaker configuration
type PipelineConfig struct {
	StageMaxRetries   int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	ExponentialBase   float64
	FailureThreshold  int
	RecoveryTimeout   time.Duration
	HalfOpenMaxCalls  int
	LeaseTTL          time.Duration
	PreprocessorURL   string
	OCRServiceURL     string
	LLMServiceURL     string
	JudgeServiceURL   string
	RouterServiceURL  string
	ProcessorTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			FallbackPath:     getEnv("DB_FALLBACK_PATH", ":memory:"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			GRPCAddr:  getEnv("GRPC_ADDR", ":8080"),
			HTTPAddr:  getEnv("HTTP_ADDR", ":8081"),
			UploadDir: getEnv("UPLOAD_DIR", "./data/uploads"),
		},
		Queue: QueueConfig{
			JobTTL:     getEnvAsDuration("QUEUE_JOB_TTL", 7*24*time.Hour),
			Workers:    getEnvAsInt("QUEUE_WORKERS", 4),
			PollDelay:  getEnvAsDuration("QUEUE_POLL_DELAY", 1*time.Second),
			MaxRetries: getEnvAsInt("QUEUE_MAX_RETRIES", 3),
		},
		Pipeline: PipelineConfig{
			StageMaxRetries:  getEnvAsInt("STAGE_MAX_RETRIES", 3),
			InitialDelay:     getEnvAsDuration("STAGE_INITIAL_DELAY", 1*time.Second),
			MaxDelay:         getEnvAsDuration("STAGE_MAX_DELAY", 60*time.Second),
			ExponentialBase:  getEnvAsFloat64("STAGE_EXPONENTIAL_BASE", 2.0),
			FailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:  getEnvAsDuration("BREAKER_RECOVERY_TIMEOUT", 60*time.Second),
			HalfOpenMaxCalls: getEnvAsInt("BREAKER_HALF_OPEN_MAX_CALLS", 3),
			LeaseTTL:         getEnvAsDuration("PIPELINE_LEASE_TTL", 10*time.Minute),
			PreprocessorURL:  getEnv("PREPROCESSOR_URL", "http://localhost:8001/v1/preprocess"),
			OCRServiceURL:    getEnv("OCR_SERVICE_URL", "http://localhost:8002/v1/ocr"),
			LLMServiceURL:    getEnv("LLM_SERVICE_URL", "http://localhost:8003/v1/extract"),
			JudgeServiceURL:  getEnv("JUDGE_SERVICE_URL", "http://localhost:8004/v1/evaluate"),
			RouterServiceURL: getEnv("ROUTER_SERVICE_URL", "http://localhost:8005/v1/route"),
			ProcessorTimeout: getEnvAsDuration("PROCESSOR_TIMEOUT", 45*time.Second),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR is required", ErrInvalidInput)
	}
	if c.Queue.Workers <= 0 {
		return NewAppError("CONFIG_ERROR", "QUEUE_WORKERS must be positive", ErrInvalidInput)
	}
	return nil
}
