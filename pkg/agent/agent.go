// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package agent

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tlstap/tlstap/pkg/config"
	"github.com/tlstap/tlstap/pkg/export"
	"github.com/tlstap/tlstap/pkg/health"
	"github.com/tlstap/tlstap/pkg/hook"
	hookebpf "github.com/tlstap/tlstap/pkg/hook/ebpf"
	"github.com/tlstap/tlstap/pkg/memory"
	"github.com/tlstap/tlstap/pkg/probe"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is stamped by the build; surfaced on the health endpoint.
var Version = "dev"

// Agent wires the capture engine, the instrumentation backend, the export
// pipeline, and the health server into one lifecycle.
type Agent struct {
	cfg      atomic.Pointer[config.Config]
	logger   *zap.Logger
	logLevel *zap.AtomicLevel

	stats        *health.Stats
	engine       *probe.Engine
	backend      hook.Backend
	hookMgr      *hook.Manager
	exporter     *export.Manager
	healthServer *health.Server

	cancel context.CancelFunc
}

// New creates an agent from configuration. Nothing starts until Start.
func New(cfg *config.Config, logger *zap.Logger) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{
		logger: logger,
		stats:  health.NewStats(),
	}
	a.cfg.Store(cfg)
	return a, nil
}

// SetLogLevel hands the agent the logger's level handle so Reload can change
// verbosity without a restart.
func (a *Agent) SetLogLevel(lvl zap.AtomicLevel) {
	a.logLevel = &lvl
}

// Start brings up all subsystems in dependency order: the capture engine
// first, then the export drain, then the hooks that feed the engine, and
// finally the health server.
func (a *Agent) Start(ctx context.Context) error {
	cfg := a.cfg.Load()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	engine, err := probe.New(probe.Options{
		MaxCaptureSize:    cfg.Capture.MaxCaptureSize,
		MaxPendingEntries: cfg.Capture.MaxPendingEntries,
		MaxHandleEntries:  cfg.Capture.MaxHandleEntries,
		SinkBuffer:        cfg.Capture.SinkBuffer,
		SweepInterval:     cfg.Capture.SweepInterval,
		PendingMaxAge:     cfg.Capture.PendingMaxAge,
	}, memory.NewProcReader(), a.stats, a.logger)
	if err != nil {
		cancel()
		return fmt.Errorf("create capture engine: %w", err)
	}
	a.engine = engine
	engine.Start(ctx)

	exporter, err := export.NewManager(&cfg.Exporters, a.stats, a.logger)
	if err != nil {
		cancel()
		return fmt.Errorf("create export manager: %w", err)
	}
	a.exporter = exporter
	exporter.Start(ctx, engine.Events())

	if cfg.Hook.Enabled {
		if err := a.startHooks(ctx, cfg); err != nil {
			// Capture is the agent's whole purpose, but a broken hook
			// environment shouldn't take down the health surface.
			a.logger.Error("failed to start hooks", zap.Error(err))
		}
	} else {
		a.logger.Info("hooks disabled by configuration")
	}

	if cfg.Health.Enabled {
		a.healthServer = health.NewServer(cfg.Health.Port, Version, a.stats, a.logger)
		if err := a.healthServer.Start(ctx); err != nil {
			a.logger.Error("failed to start health server", zap.Error(err))
			a.healthServer = nil
		} else {
			a.healthServer.SetReady(true)
		}
	}

	a.logger.Info("tlstap agent started",
		zap.Bool("hooks", a.backend != nil),
		zap.String("version", Version),
	)
	return nil
}

// startHooks selects the backend, registers the configured targets with the
// capture engine, and starts event delivery.
func (a *Agent) startHooks(ctx context.Context, cfg *config.Config) error {
	targets, err := hook.ParseTargets(cfg.Hook.Targets)
	if err != nil {
		return err
	}

	var backend hook.Backend
	if support := hookebpf.Detect(); support.Available {
		backend = hookebpf.NewBackend(cfg.Hook, a.logger)
		a.logger.Info("using eBPF backend",
			zap.String("kernel", support.KernelVersion),
			zap.Bool("btf", support.HasBTF),
		)
	} else {
		backend = hookebpf.NewStubBackend(support.Reason, a.logger)
	}

	mgr := hook.NewManager(backend, a.engine, targets, a.logger)
	if err := mgr.Attach(); err != nil {
		return fmt.Errorf("register hooks: %w", err)
	}

	if runner, ok := backend.(hook.Runner); ok {
		if err := runner.Start(ctx); err != nil {
			return fmt.Errorf("start backend: %w", err)
		}
	}

	a.backend = backend
	a.hookMgr = mgr
	return nil
}

// Stop shuts subsystems down in reverse order. Stopping the engine closes
// its sink, which lets the exporter drain before its own Stop returns.
func (a *Agent) Stop() error {
	if a.healthServer != nil {
		a.healthServer.SetReady(false)
	}

	if a.cancel != nil {
		a.cancel()
	}

	if a.backend != nil {
		if runner, ok := a.backend.(hook.Runner); ok {
			if err := runner.Stop(); err != nil {
				a.logger.Error("backend stop error", zap.Error(err))
			}
		}
		if a.hookMgr != nil {
			if err := a.hookMgr.Detach(); err != nil {
				a.logger.Error("hook detach error", zap.Error(err))
			}
		}
	}

	if a.engine != nil {
		a.engine.Stop()
	}

	if a.exporter != nil {
		if err := a.exporter.Stop(); err != nil {
			a.logger.Error("exporter stop error", zap.Error(err))
		}
	}

	if a.healthServer != nil {
		if err := a.healthServer.Stop(); err != nil {
			a.logger.Error("health server stop error", zap.Error(err))
		}
	}

	snap := a.stats.Snapshot()
	a.logger.Info("tlstap agent stopped",
		zap.Int64("events_emitted", snap.EventsEmitted),
		zap.Int64("events_exported", snap.EventsExported),
		zap.Int64("events_dropped", snap.EventsDropped),
		zap.Int64("read_failures", snap.ReadFailures),
	)
	return nil
}

// Reload applies a new configuration. Only the log level takes effect live;
// capture bounds and hook targets are fixed at startup because they shape
// kernel-side state, so changes there are logged and deferred to the next
// restart.
func (a *Agent) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	old := a.cfg.Load()
	a.cfg.Store(cfg)

	if a.logLevel != nil && old.LogLevel != cfg.LogLevel {
		if lvl, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
			a.logLevel.SetLevel(lvl)
			a.logger.Info("log level changed", zap.String("level", cfg.LogLevel))
		} else {
			a.logger.Warn("ignoring unknown log level", zap.String("level", cfg.LogLevel))
		}
	}

	if old.Capture != cfg.Capture {
		a.logger.Warn("capture settings changed; restart required to apply")
	}
	if old.Hook.Enabled != cfg.Hook.Enabled || old.Hook.ObjectPath != cfg.Hook.ObjectPath {
		a.logger.Warn("hook settings changed; restart required to apply")
	}

	a.logger.Info("configuration reloaded")
	return nil
}

// Stats exposes the agent's counters.
func (a *Agent) Stats() *health.Stats {
	return a.stats
}
