package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/ai-nutritionist/backend/config"
	apierrors "github.com/ai-nutritionist/backend/errors"
	"github.com/ai-nutritionist/backend/server"
	"github.com/ai-nutritionist/backend/server/provider"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "config.yaml"
	}
	configPath := flag.String("config", defaultPath, "Path to configuration file")
	flag.Parse()

	// .env must be loaded before the configuration reads the environment.
	envErr := godotenv.Load()

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Critical error: %v\n", err)
		os.Exit(1)
	}

	logger, level, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Critical error: Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		// Sync on stderr returns EINVAL on some platforms; nothing to do about it.
		_ = logger.Sync()
	}()
	apierrors.SetLogger(logger)

	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		logger.Warn("failed to load .env file", zap.Error(envErr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *configPath, level, logger); err != nil {
		logger.Fatal("Server startup or runtime error", zap.Error(err))
	}
	logger.Info("Server stopped")
}

// run builds the application and serves until ctx is canceled.
func run(ctx context.Context, cfg *config.Config, configPath string, level zap.AtomicLevel, logger *zap.Logger) error {
	backend, err := provider.NewBackend(cfg.LLM)
	if err != nil {
		return fmt.Errorf("create provider backend: %w", err)
	}
	logger.Info("Provider configured",
		zap.String("provider", backend.Name()),
		zap.String("model", backend.Model()))

	app, err := server.NewApp(ctx, cfg, backend, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	var watcher config.Watcher
	if _, statErr := os.Stat(configPath); statErr == nil {
		cw, err := config.NewConfigWatcher(configPath, cfg, logger)
		if err != nil {
			logger.Warn("config hot reload disabled", zap.Error(err))
		} else {
			defer cw.Close()
			watcher = cw
		}
	}

	return server.NewServer(app, watcher, level, logger).Start(ctx)
}

// newLogger builds a production zap logger whose level can be changed at
// runtime through the returned handle.
func newLogger(cfg config.LoggingConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevel()
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, level, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level.SetLevel(lvl)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	if cfg.Format == "text" {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		return nil, level, err
	}
	return logger, level, nil
}
