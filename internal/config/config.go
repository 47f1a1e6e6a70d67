package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix = "GOMEET"

	defaultAddr            = "localhost:8000"
	defaultDSN             = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
	defaultIdleRoomTimeout = 5 * time.Second
)

type Config struct {
	DatabaseDSN     string
	ServerAddr      string
	SigningKey      []byte
	AllowedOrigins  []string
	RedisURL        string
	IdleRoomTimeout time.Duration
	LogLevel        string
	LogFormat       string
	Migrate         bool
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("signing secret is empty")
	}
	return key, nil
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:     databaseDSN,
		ServerAddr:      serverAddr,
		SigningKey:      signingKey,
		AllowedOrigins:  allowedOrigins,
		IdleRoomTimeout: defaultIdleRoomTimeout,
		LogLevel:        "info",
		LogFormat:       "console",
	}, nil
}

// Load builds the configuration from command line arguments, GOMEET_*
// environment variables and an optional config file, in that order of
// precedence.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("go-meeting", pflag.ContinueOnError)
	fs.String("config", "", "path to an optional YAML config file")
	fs.String("addr", defaultAddr, "server address")
	fs.String("dsn", defaultDSN, "database connection string")
	fs.String("signing-key", "", "base64 encoded token signing key")
	fs.StringSlice("allowed-origins", nil, "comma-separated list of allowed origins for CORS")
	fs.String("redis-url", "", "redis URL for the token revocation list (optional)")
	fs.Duration("idle-room-timeout", defaultIdleRoomTimeout, "how long an empty room stays loaded")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "console", "log format (console, json)")
	fs.Bool("migrate", true, "apply database migrations on startup")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	// Keys use underscores in files and the environment; flags keep
	// their hyphenated names.
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if bindErr == nil {
			bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		}
	})
	if bindErr != nil {
		return nil, fmt.Errorf("bind flags: %w", bindErr)
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg, err := NewConfig(
		v.GetString("addr"),
		v.GetString("dsn"),
		v.GetString("signing_key"),
		v.GetStringSlice("allowed_origins"),
	)
	if err != nil {
		return nil, err
	}

	cfg.RedisURL = v.GetString("redis_url")
	cfg.IdleRoomTimeout = v.GetDuration("idle_room_timeout")
	cfg.LogLevel = v.GetString("log_level")
	cfg.LogFormat = v.GetString("log_format")
	cfg.Migrate = v.GetBool("migrate")

	if cfg.IdleRoomTimeout <= 0 {
		return nil, fmt.Errorf("idle room timeout must be positive")
	}

	return cfg, nil
}
