// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tlstap/tlstap/pkg/agent"
	"github.com/tlstap/tlstap/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  string
		logLevel    string
		watch       bool
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "path to configuration file")
	flag.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.BoolVar(&watch, "watch", false, "reload configuration when the file changes")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("tlstap %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, resolvedPath, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Override log level from CLI
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, atomicLevel, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	agent.Version = version
	logger.Info("starting tlstap",
		zap.String("version", version),
		zap.String("commit", commit),
	)

	a, err := agent.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create agent", zap.Error(err))
	}
	a.SetLogLevel(atomicLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		logger.Fatal("failed to start agent", zap.Error(err))
	}

	var watcher *config.Watcher
	if watch && resolvedPath != "" {
		watcher = config.NewWatcher(resolvedPath, func(newCfg *config.Config) {
			if err := a.Reload(newCfg); err != nil {
				logger.Error("failed to apply reloaded config", zap.Error(err))
			}
		}, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Fatal("failed to start config watcher", zap.Error(err))
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// SIGHUP for config reload
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			if watcher != nil {
				watcher.Stop()
			}
			cancel()

			// Graceful shutdown with 30s timeout
			shutdownDone := make(chan struct{})
			go func() {
				if err := a.Stop(); err != nil {
					logger.Error("error during shutdown", zap.Error(err))
				}
				close(shutdownDone)
			}()

			select {
			case <-shutdownDone:
				logger.Info("tlstap stopped")
			case <-time.After(30 * time.Second):
				logger.Error("shutdown timed out after 30s, forcing exit")
				os.Exit(1)
			}
			return

		case <-hupCh:
			logger.Info("received SIGHUP, reloading configuration")
			newCfg, _, err := loadConfig(configPath)
			if err != nil {
				logger.Error("failed to reload config", zap.Error(err))
				continue
			}
			if err := a.Reload(newCfg); err != nil {
				logger.Error("failed to apply new config", zap.Error(err))
			} else {
				logger.Info("configuration reloaded successfully")
			}
		}
	}
}

// loadConfig resolves and loads the configuration, returning the path it
// actually used so the watcher can follow the same file.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}

	defaults := []string{
		"configs/tlstap.yaml",
		"/etc/tlstap/tlstap.yaml",
		"/etc/tlstap.yaml",
	}
	for _, p := range defaults {
		if _, err := os.Stat(p); err == nil {
			cfg, err := config.Load(p)
			return cfg, p, err
		}
	}

	return config.DefaultConfig(), "", nil
}

func newLogger(level string) (*zap.Logger, zap.AtomicLevel, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	atom := zap.NewAtomicLevelAt(zapLevel)
	cfg := zap.Config{
		Level:            atom,
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	logger, err := cfg.Build()
	return logger, atom, err
}
