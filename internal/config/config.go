package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds presence-service configuration.
type Config struct {
	AppEnv   string // APP_ENV
	AppHost  string // APP_HOST
	HTTPPort string // APP_PORT or HTTP_PORT
	LogLevel string // LOG_LEVEL

	// PostgreSQL
	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}

	// WebSocket
	WSReadBufferSize  int
	WSWriteBufferSize int
	WSMaxMessageSize  int64

	// Presence
	HeartbeatInterval    time.Duration // expected client heartbeat cadence
	HeartbeatGraceFactor int           // missed-heartbeat window = interval * factor
	PresenceQueueSize    int           // bounded outbound queue per connection
	PresenceTopSessions  int           // top-N size in the overview

	// WebSocket URL advertised to clients (e.g. wss://presence.example.com)
	WSBaseURL string
}

// HeartbeatGrace returns the window after which a silent connection (and the
// session it owns) is considered dead.
func (c *Config) HeartbeatGrace() time.Duration {
	f := c.HeartbeatGraceFactor
	if f < 1 {
		f = 3
	}
	return c.HeartbeatInterval * time.Duration(f)
}

// Load loads config from environment (.env if present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	readBuf, _ := strconv.Atoi(getEnv("WS_READ_BUFFER_SIZE", "4096"))
	writeBuf, _ := strconv.Atoi(getEnv("WS_WRITE_BUFFER_SIZE", "4096"))
	maxMsg, _ := strconv.ParseInt(getEnv("WS_MAX_MESSAGE_SIZE", "65536"), 10, 64)
	hbSecs, _ := strconv.Atoi(getEnv("HEARTBEAT_INTERVAL", "15"))
	hbFactor, _ := strconv.Atoi(getEnv("HEARTBEAT_GRACE_FACTOR", "3"))
	queueSize, _ := strconv.Atoi(getEnv("PRESENCE_QUEUE_SIZE", "64"))
	topN, _ := strconv.Atoi(getEnv("PRESENCE_TOP_SESSIONS", "10"))

	cfg := &Config{
		AppEnv:               getEnv("APP_ENV", "development"),
		AppHost:              getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:             firstEnv("APP_PORT", "HTTP_PORT", "8091"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		WSReadBufferSize:     readBuf,
		WSWriteBufferSize:    writeBuf,
		WSMaxMessageSize:     maxMsg,
		HeartbeatInterval:    time.Duration(hbSecs) * time.Second,
		HeartbeatGraceFactor: hbFactor,
		PresenceQueueSize:    queueSize,
		PresenceTopSessions:  topN,
		WSBaseURL:            getEnv("WS_BASE_URL", ""),
	}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "presence_service")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg, nil
}

// Validate checks required fields and production safety.
func (c *Config) Validate() error {
	if c.DB.Host == "" {
		return errors.New("config: DB_HOST is required")
	}
	if c.DB.User == "" {
		return errors.New("config: DB_USER is required")
	}
	if c.DB.Database == "" {
		return errors.New("config: DB_DATABASE is required")
	}
	if c.AppEnv == "production" && c.DB.Password == "" {
		return errors.New("config: in production DB_PASSWORD is required")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("config: HEARTBEAT_INTERVAL must be positive")
	}
	if c.PresenceQueueSize < 4 {
		return errors.New("config: PRESENCE_QUEUE_SIZE must be at least 4")
	}
	return nil
}

// DSN returns the PostgreSQL connection string for GORM.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

// DatabaseURL returns the postgres URL for golang-migrate.
func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	for _, k := range keysAndDef[:len(keysAndDef)-1] {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
