package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Logging   LoggingConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	Fanout    FanoutConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	GRPCPort       int
	MetricsPort    int
	HealthPort     int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	AllowedOrigins []string
	PublicHost     string
	WorkerID       int64
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	SlowQuery       time.Duration
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

type LoggingConfig struct {
	Level      string
	Format     string
	Output     string
	EnableFile bool
	FilePath   string
}

type RedisConfig struct {
	Host          string
	Port          int
	Password      string
	DB            int
	Enabled       bool
	FanoutChannel string
}

type StorageConfig struct {
	Backend         string
	Path            string
	URL             string
	MaxFileSize     int64
	MaxFilesPerSend int
	S3              S3Config
	BreakerFailures int
	BreakerTimeout  time.Duration
}

type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	CDNURL          string
	BasePath        string
	ForcePathStyle  bool
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

type FanoutConfig struct {
	QueueSize  int
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
	MaxFrame   int64
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvInt("SERVER_PORT", 8080),
			GRPCPort:       getEnvInt("GRPC_PORT", 9090),
			MetricsPort:    getEnvInt("METRICS_PORT", 9100),
			HealthPort:     getEnvInt("HEALTH_PORT", 8081),
			ReadTimeout:    getEnvDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout:   getEnvDuration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:    getEnvDuration("IDLE_TIMEOUT", 120*time.Second),
			RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
			AllowedOrigins: getEnvList("WS_ALLOWED_ORIGINS"),
			PublicHost:     getEnv("PUBLIC_HOST", ""),
			WorkerID:       int64(getEnvInt("SNOWFLAKE_WORKER_ID", 1)),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "huddle"),
			MaxConns:        getEnvInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime: getEnvDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			SlowQuery:       getEnvDuration("DB_SLOW_QUERY", 200*time.Millisecond),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "change-me-in-production"),
			Issuer:    getEnv("JWT_ISSUER", ""),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			Output:     getEnv("LOG_OUTPUT", "stdout"),
			EnableFile: getEnvBool("LOG_ENABLE_FILE", false),
			FilePath:   getEnv("LOG_FILE_PATH", "/var/log/huddle/app.log"),
		},
		Redis: RedisConfig{
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			Enabled:       getEnvBool("REDIS_ENABLED", true),
			FanoutChannel: getEnv("REDIS_FANOUT_CHANNEL", "huddle:events"),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMinute: getEnvInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 60),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 10),
		},
		Storage: StorageConfig{
			Backend:         getEnv("STORAGE_BACKEND", "local"),
			Path:            getEnv("STORAGE_PATH", "./uploads"),
			URL:             getEnv("STORAGE_URL", "http://localhost:8080/files"),
			MaxFileSize:     int64(getEnvInt("STORAGE_MAX_FILE_SIZE", 50*1024*1024)),
			MaxFilesPerSend: getEnvInt("STORAGE_MAX_FILES_PER_MESSAGE", 10),
			BreakerFailures: getEnvInt("STORAGE_BREAKER_FAILURES", 5),
			BreakerTimeout:  getEnvDuration("STORAGE_BREAKER_TIMEOUT", 30*time.Second),
			S3: S3Config{
				Endpoint:        getEnv("S3_ENDPOINT", ""),
				Region:          getEnv("S3_REGION", "us-east-1"),
				AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
				SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
				Bucket:          getEnv("S3_BUCKET", ""),
				CDNURL:          getEnv("S3_CDN_URL", ""),
				BasePath:        getEnv("S3_BASE_PATH", "attachments/"),
				ForcePathStyle:  getEnvBool("S3_FORCE_PATH_STYLE", false),
			},
		},
		Fanout: FanoutConfig{
			QueueSize:  getEnvInt("FANOUT_QUEUE_SIZE", 256),
			WriteWait:  getEnvDuration("FANOUT_WRITE_WAIT", 10*time.Second),
			PongWait:   getEnvDuration("FANOUT_PONG_WAIT", 60*time.Second),
			PingPeriod: getEnvDuration("FANOUT_PING_PERIOD", 54*time.Second),
			MaxFrame:   int64(getEnvInt("FANOUT_MAX_FRAME", 4096)),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 storage backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Server.WorkerID < 0 || c.Server.WorkerID > 1023 {
		return fmt.Errorf("SNOWFLAKE_WORKER_ID must be within [0, 1023]")
	}
	if c.Fanout.QueueSize <= 0 {
		return fmt.Errorf("FANOUT_QUEUE_SIZE must be positive")
	}
	if c.Fanout.PingPeriod >= c.Fanout.PongWait {
		return fmt.Errorf("FANOUT_PING_PERIOD must be shorter than FANOUT_PONG_WAIT")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
