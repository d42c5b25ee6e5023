package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Outbox    OutboxConfig
	Sync      SyncConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type JWTConfig struct {
	Secret                 string
	Expiration             time.Duration
	RefreshTokenExpiration time.Duration
}

// OutboxConfig tunes the dispatcher. Validate enforces the floors; in
// particular the polling interval can never drop below 100ms, so a bad env
// value cannot turn the poll loop into a busy-wait.
type OutboxConfig struct {
	MaxBatchSize     int
	PollingInterval  time.Duration
	MaxRetryAttempts int
	ClaimLease       time.Duration
}

type SyncConfig struct {
	PullDefaultItems      int
	PullMaxItems          int
	PushMaxItemsPerEntity int
	PushMaxTotalItems     int
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxConnPerUser  int
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

const minPollingInterval = 100 * time.Millisecond

func Load() (*Config, error) {
	godotenv.Load()

	jwtExp, err := time.ParseDuration(getEnv("JWT_EXPIRATION", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRATION: %w", err)
	}

	refreshExp, err := time.ParseDuration(getEnv("REFRESH_TOKEN_EXPIRATION", "168h"))
	if err != nil {
		return nil, fmt.Errorf("invalid REFRESH_TOKEN_EXPIRATION: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5984"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "leaflet"),
		},
		JWT: JWTConfig{
			Secret:                 getEnv("JWT_SECRET", "dev-secret-change-in-production"),
			Expiration:             jwtExp,
			RefreshTokenExpiration: refreshExp,
		},
		Outbox: OutboxConfig{
			MaxBatchSize:     getEnvAsInt("OUTBOX_MAX_BATCH_SIZE", 50),
			PollingInterval:  time.Duration(getEnvAsInt("OUTBOX_POLL_INTERVAL_MS", 5000)) * time.Millisecond,
			MaxRetryAttempts: getEnvAsInt("OUTBOX_MAX_RETRY_ATTEMPTS", 10),
			ClaimLease:       time.Duration(getEnvAsInt("OUTBOX_CLAIM_LEASE_MS", 60000)) * time.Millisecond,
		},
		Sync: SyncConfig{
			PullDefaultItems:      getEnvAsInt("SYNC_PULL_DEFAULT_ITEMS", 500),
			PullMaxItems:          getEnvAsInt("SYNC_PULL_MAX_ITEMS", 1000),
			PushMaxItemsPerEntity: getEnvAsInt("SYNC_PUSH_MAX_ITEMS_PER_ENTITY", 500),
			PushMaxTotalItems:     getEnvAsInt("SYNC_PUSH_MAX_TOTAL_ITEMS", 2000),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:  int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 1048576)),
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
			PingPeriod:      54 * time.Second,
			MaxConnPerUser:  getEnvAsInt("WS_MAX_CONN_PER_USER", 5),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Outbox.MaxBatchSize < 1 {
		return fmt.Errorf("OUTBOX_MAX_BATCH_SIZE must be at least 1, got %d", c.Outbox.MaxBatchSize)
	}
	if c.Outbox.PollingInterval < minPollingInterval {
		return fmt.Errorf("OUTBOX_POLL_INTERVAL_MS must be at least %dms, got %s", minPollingInterval.Milliseconds(), c.Outbox.PollingInterval)
	}
	if c.Outbox.MaxRetryAttempts < 1 {
		return fmt.Errorf("OUTBOX_MAX_RETRY_ATTEMPTS must be at least 1, got %d", c.Outbox.MaxRetryAttempts)
	}
	if c.Outbox.ClaimLease < c.Outbox.PollingInterval {
		return fmt.Errorf("OUTBOX_CLAIM_LEASE_MS must be at least the polling interval")
	}
	if c.Sync.PullDefaultItems < 1 || c.Sync.PullMaxItems < c.Sync.PullDefaultItems {
		return fmt.Errorf("invalid sync pull limits: default=%d max=%d", c.Sync.PullDefaultItems, c.Sync.PullMaxItems)
	}
	if c.Sync.PushMaxItemsPerEntity < 1 || c.Sync.PushMaxTotalItems < c.Sync.PushMaxItemsPerEntity {
		return fmt.Errorf("invalid sync push limits: per-entity=%d total=%d", c.Sync.PushMaxItemsPerEntity, c.Sync.PushMaxTotalItems)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
