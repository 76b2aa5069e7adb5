package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is read from the environment (optionally seeded by a .env file).
type Config struct {
	AppEnv         string `envconfig:"APP_ENV" default:"dev"`
	Port           string `envconfig:"PORT" default:"8000"`
	ManagementPort string `envconfig:"MANAGEMENT_PORT" default:"7999"`
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS" default:"*"`

	JWTSecret  string `envconfig:"JWT_SECRET"`
	AdminToken string `envconfig:"ADMIN_TOKEN"`

	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBHost      string `envconfig:"DB_HOST" default:"localhost"`
	DBUser      string `envconfig:"DB_USER"`
	DBPassword  string `envconfig:"DB_PASSWORD"`
	DBName      string `envconfig:"DB_NAME"`
	DBPort      string `envconfig:"DB_PORT" default:"5432"`
	DBSSLMode   string `envconfig:"DB_SSLMODE" default:"disable"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	BrokerBufferSize      int           `envconfig:"BROKER_BUFFER_SIZE" default:"64"`
	UnreadLimitPerChannel int           `envconfig:"UNREAD_LIMIT_PER_CHANNEL" default:"500"`
	MaxMessageLength      int           `envconfig:"MAX_MESSAGE_LENGTH" default:"4000"`
	SkipSenderEcho        bool          `envconfig:"SKIP_SENDER_ECHO" default:"false"`
	PingInterval          time.Duration `envconfig:"WS_PING_INTERVAL" default:"30s"`
	PongTimeout           time.Duration `envconfig:"WS_PONG_TIMEOUT" default:"90s"`

	RelayEnabled   bool   `envconfig:"RELAY_ENABLED" default:"false"`
	RelayChannel   string `envconfig:"RELAY_CHANNEL" default:"channels:appended"`
	RelayQueueSize int    `envconfig:"RELAY_QUEUE_SIZE" default:"1024"`
}

// Load reads .env when present and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	if c.DatabaseURL == "" && (c.DBUser == "" || c.DBName == "") {
		return errors.New("config: DATABASE_URL or DB_USER/DB_NAME is required")
	}
	if c.BrokerBufferSize < 1 {
		return errors.New("config: BROKER_BUFFER_SIZE must be positive")
	}
	if c.RelayEnabled && c.RedisAddr == "" {
		return errors.New("config: RELAY_ENABLED requires REDIS_ADDR")
	}
	return nil
}

// DSN returns DATABASE_URL when set, otherwise a key/value postgres DSN.
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode,
	)
}
