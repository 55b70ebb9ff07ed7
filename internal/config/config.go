package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/Olgitta/kirk-ws/internal/logging"
	"github.com/Olgitta/kirk-ws/internal/pubsub"
)

const (
	// BusRedis relays from a Redis server.
	BusRedis = "redis"
	// BusMemory relays from an in-process bus. Useful for development.
	BusMemory = "memory"

	envDevelopment = "development"
)

// Config holds all configuration for the relay.
type Config struct {
	Env string

	RedisHost     string `validate:"required_if=Bus redis"`
	RedisPort     int    `validate:"min=1,max=65535"`
	RedisUsername string
	RedisPassword string
	RedisDB       int `validate:"min=0"`
	RedisTLS      bool

	Addr           string `validate:"required"`
	Bus            string `validate:"oneof=redis memory"`
	PatternsFile   string
	AllowedOrigins []string
	SendBuffer     int `validate:"min=1"`

	LogFormat string `validate:"oneof=text json"`
	LogLevel  string `validate:"oneof=debug info warn warning error"`

	Tracing pubsub.TracingConfig
}

// Load reads .env files from the working directory, then the environment.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom loads .env.<APP_ENV> and then .env from dir. Variables already set
// in the environment win over both files, and the environment-specific file
// wins over .env. Missing files are fine.
func LoadFrom(dir string) (*Config, error) {
	if err := LoadEnvFiles(dir); err != nil {
		return nil, err
	}
	// The env files may have set it.
	env := appEnv()

	cfg := &Config{
		Env:            env,
		RedisHost:      getenvDefault("REDIS_HOST", "localhost"),
		RedisUsername:  os.Getenv("REDIS_USERNAME"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		Addr:           getenvDefault("RELAY_ADDR", ":3000"),
		Bus:            strings.ToLower(getenvDefault("RELAY_BUS", BusRedis)),
		PatternsFile:   PatternsFileFromEnv(),
		AllowedOrigins: getenvCSV("RELAY_ALLOWED_ORIGINS"),
		LogFormat:      strings.ToLower(getenvDefault("LOG_FORMAT", "text")),
		LogLevel:       strings.ToLower(getenvDefault("LOG_LEVEL", "info")),
		Tracing:        pubsub.LoadTracingConfigFromEnv(),
	}

	var err error
	if cfg.RedisPort, err = getenvInt("REDIS_PORT", 6379); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getenvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.SendBuffer, err = getenvInt("RELAY_SEND_BUFFER", 256); err != nil {
		return nil, err
	}
	// Hosted development Redis instances require TLS.
	if cfg.RedisTLS, err = getenvBool("REDIS_TLS", env == envDevelopment); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Redis returns the Redis connection settings.
func (c *Config) Redis() pubsub.RedisConfig {
	return pubsub.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Username: c.RedisUsername,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
		TLS:      c.RedisTLS,
	}
}

// Logging returns the logger options.
func (c *Config) Logging() logging.Options {
	return logging.Options{
		Format:    c.LogFormat,
		Level:     c.LogLevel,
		AddSource: c.LogLevel == "debug",
	}
}

// LoadEnvFiles loads .env.<APP_ENV> and then .env from dir into the process
// environment. Variables that are already set win, and missing files are
// skipped.
func LoadEnvFiles(dir string) error {
	files := []string{".env"}
	if env := appEnv(); env != "" {
		files = []string{".env." + env, ".env"}
	}
	for _, name := range files {
		if err := godotenv.Load(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
	}
	return nil
}

// PatternsFileFromEnv returns the pattern table file named by
// RELAY_PATTERNS_FILE, or "" for the built-in table.
func PatternsFileFromEnv() string {
	return strings.TrimSpace(os.Getenv("RELAY_PATTERNS_FILE"))
}

func appEnv() string {
	if env := strings.TrimSpace(os.Getenv("APP_ENV")); env != "" {
		return env
	}
	return strings.TrimSpace(os.Getenv("NODE_ENV"))
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getenvBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getenvCSV(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
