package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime settings shared by the enhancer and restorer binaries.
// Empty EnhancerSpace and RestorerSpace select each service's default app.
type Config struct {
	Host            string
	Port            int
	LogLevel        string
	LogFormat       string
	HFToken         string
	EnhancerSpace   string
	RestorerSpace   string
	TempDir         string
	ShutdownTimeout time.Duration

	// Optional integrations. Empty values disable them.
	RedisAddr      string
	RateLimitQPS   int
	DatabaseDSN    string
	JWTSecret      string
	JWTAudience    string
	GRPCHealthAddr string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is ignored.
func LoadFile(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error loading %s: %w", path, err)
		}
	}

	cfg := &Config{
		Host:           getEnv("HOST", "0.0.0.0"),
		LogLevel:       getEnv("LOG_LEVEL", "debug"),
		LogFormat:      getEnv("LOG_FORMAT", "console"),
		HFToken:        os.Getenv("HF_TOKEN"),
		EnhancerSpace:  os.Getenv("ENHANCER_SPACE"),
		RestorerSpace:  os.Getenv("RESTORER_SPACE"),
		TempDir:        getEnv("TEMP_DIR", os.TempDir()),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		DatabaseDSN:    os.Getenv("DATABASE_DSN"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTAudience:    os.Getenv("JWT_AUDIENCE"),
		GRPCHealthAddr: os.Getenv("GRPC_HEALTH_ADDR"),
	}

	var err error
	if cfg.Port, err = getEnvInt("PORT", 5000); err != nil {
		return nil, err
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PORT out of range: %d", cfg.Port)
	}
	if cfg.RateLimitQPS, err = getEnvInt("RATE_LIMIT_QPS", 1); err != nil {
		return nil, err
	}
	if cfg.RateLimitQPS <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_QPS must be positive, got %d", cfg.RateLimitQPS)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
