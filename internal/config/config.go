// Package config loads process configuration from the environment (and a
// .env file outside production) plus the TOML seed of organizations and
// actors.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const EnvProduction = "production"

// Config is the process-level configuration. Component settings are loaded
// by each package's LoadConfig.
type Config struct {
	Env       string
	Addr      string
	LogLevel  slog.Level
	JWTSecret string
	SeedPath  string
	WatchSeed bool
	Store     string
	Instance  string
	Version   string
}

// Load reads .env (unless APP_ENV=production) and the environment.
func Load() (Config, error) {
	env := String("APP_ENV", "development")
	if env != EnvProduction {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: .env: %w", err)
		}
		env = String("APP_ENV", "development")
	}

	host, _ := os.Hostname()
	cfg := Config{
		Env:       env,
		Addr:      String("HTTP_ADDR", ":8080"),
		LogLevel:  parseLevel(String("LOG_LEVEL", "info")),
		JWTSecret: String("JWT_SECRET", ""),
		SeedPath:  String("SEED_FILE", ""),
		WatchSeed: Bool("SEED_WATCH", true),
		Store:     String("STORE", "memory"),
		Instance:  String("INSTANCE_ID", host),
		Version:   String("APP_VERSION", "dev"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("config: STORE must be memory or sqlite, got %q", c.Store)
	}
	if c.Env == EnvProduction {
		if len(c.JWTSecret) < 32 {
			return errors.New("config: JWT_SECRET must be at least 32 bytes in production")
		}
		if c.Store == "memory" {
			return errors.New("config: STORE=memory is not allowed in production")
		}
	}
	return nil
}

func (c Config) Production() bool { return c.Env == EnvProduction }

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
