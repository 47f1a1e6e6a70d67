package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-meeting/internal/api"
	"github.com/npezzotti/go-meeting/internal/config"
	"github.com/npezzotti/go-meeting/internal/database"
	"github.com/npezzotti/go-meeting/internal/server"
	"github.com/npezzotti/go-meeting/internal/stats"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("log level: %w", err)
	}

	var logger zerolog.Logger
	switch cfg.LogFormat {
	case "console":
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	case "json":
		logger = zerolog.New(os.Stderr)
	default:
		return zerolog.Logger{}, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}

	return logger.Level(level).With().Timestamp().Str("service", "go-meeting").Logger(), nil
}

func newRevocationList(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (api.RevocationList, func(), error) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("no redis url configured, logged out tokens stay valid until they expire")
		return nil, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}

	return api.NewRedisRevocationList(client), func() { client.Close() }, nil
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	dbConn, err := database.NewPgMeetingRepository(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()

	if cfg.Migrate {
		if err := dbConn.Migrate(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Msg("database migrations applied")
	}

	revoked, closeRevoked, err := newRevocationList(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRevoked()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	meetingServer := server.NewMeetingServer(logger, dbConn, statsUpdater, cfg.IdleRoomTimeout)

	srv := api.NewMeetingApp(mux, logger, meetingServer, dbConn, revoked, cfg)

	statsUpdater.Run()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}

		logger.Info().Msg("disconnecting meeting clients")
		if err := meetingServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("meeting server shutdown: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	// clients are gone once the meeting server shut down cleanly
	statsUpdater.Stop()

	logger.Info().Msg("shutdown complete")
	return nil
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}
