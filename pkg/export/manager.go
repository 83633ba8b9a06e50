// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/tlstap/tlstap/pkg/config"
	"github.com/tlstap/tlstap/pkg/health"
	"github.com/tlstap/tlstap/pkg/probe"
	"go.uber.org/zap"
)

// Exporter is the interface for capture event consumers.
type Exporter interface {
	ExportEvents(ctx context.Context, events []*probe.Event) error
	Shutdown(ctx context.Context) error
}

const (
	defaultBatchSize     = 256
	defaultFlushInterval = 5 * time.Second

	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
	backoffFactor  = 2.0
)

// Manager batches events from the capture sink and fans them out to the
// configured exporters.
type Manager struct {
	logger    *zap.Logger
	stats     *health.Stats
	exporters []Exporter

	batchSize     int
	flushInterval time.Duration

	circuitBreaker *CircuitBreaker

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewManager creates an export manager from configuration.
func NewManager(cfg *config.ExportersConfig, stats *health.Stats, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		logger:         logger,
		stats:          stats,
		batchSize:      defaultBatchSize,
		flushInterval:  defaultFlushInterval,
		circuitBreaker: NewCircuitBreaker(5, 30*time.Second),
		stopCh:         make(chan struct{}),
	}

	if cfg.OTLP.Enabled {
		exp, err := NewOTLPExporter(&cfg.OTLP, logger)
		if err != nil {
			logger.Warn("failed to create OTLP exporter", zap.Error(err))
		} else {
			m.exporters = append(m.exporters, exp)
		}
	}

	if cfg.Stdout.Enabled {
		m.exporters = append(m.exporters, NewStdoutExporter(cfg.Stdout.Format))
	}

	return m, nil
}

// Start begins draining the event channel. The channel is owned by the
// capture engine; Start returns immediately and the drain loop runs until
// the channel closes or Stop is called.
func (m *Manager) Start(ctx context.Context, events <-chan *probe.Event) {
	m.wg.Add(1)
	go m.processEvents(ctx, events)

	m.logger.Info("export manager started",
		zap.Int("exporters", len(m.exporters)),
		zap.Int("batch_size", m.batchSize),
		zap.Duration("flush_interval", m.flushInterval),
	)
}

// Stop flushes remaining events and shuts down exporters.
func (m *Manager) Stop() error {
	close(m.stopCh)
	m.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, exp := range m.exporters {
		if err := exp.Shutdown(ctx); err != nil {
			m.logger.Error("exporter shutdown error", zap.Error(err))
		}
	}

	m.logger.Info("export manager stopped",
		zap.Int64("events_exported", m.stats.EventsExported.Load()),
		zap.Int64("export_failures", m.stats.ExportFailures.Load()),
	)
	return nil
}

func (m *Manager) processEvents(ctx context.Context, events <-chan *probe.Event) {
	defer m.wg.Done()

	batch := make([]*probe.Event, 0, m.batchSize)
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Sink closed — flush what we have and exit.
				if len(batch) > 0 {
					m.flush(context.Background(), batch)
				}
				return
			}
			batch = append(batch, ev)
			if len(batch) >= m.batchSize {
				m.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				m.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-m.stopCh:
			// Drain remaining
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						if len(batch) > 0 {
							m.flush(context.Background(), batch)
						}
						return
					}
					batch = append(batch, ev)
				default:
					if len(batch) > 0 {
						m.flush(context.Background(), batch)
					}
					return
				}
			}

		case <-ctx.Done():
			if len(batch) > 0 {
				m.flush(context.Background(), batch)
			}
			return
		}
	}
}

// flush sends a batch to every exporter with retry and backoff. The batch
// slice is reused by the caller, so exporters must not retain it.
func (m *Manager) flush(ctx context.Context, events []*probe.Event) {
	delivered := false
	for _, exp := range m.exporters {
		if m.retryExport(ctx, exp, events) {
			delivered = true
		}
	}
	// Events count as exported only when at least one exporter took them.
	if delivered {
		m.stats.EventsExported.Add(int64(len(events)))
	}
}

// retryExport attempts an export with exponential backoff and circuit
// breaker, reporting whether the batch was delivered.
func (m *Manager) retryExport(ctx context.Context, exp Exporter, events []*probe.Event) bool {
	if !m.circuitBreaker.Allow() {
		m.stats.ExportFailures.Add(1)
		m.logger.Debug("circuit breaker open, dropping export batch",
			zap.Int("events", len(events)),
		)
		return false
	}

	backoff := initialBackoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		exportCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := exp.ExportEvents(exportCtx, events)
		cancel()

		if err == nil {
			m.circuitBreaker.RecordSuccess()
			return true
		}

		m.circuitBreaker.RecordFailure()

		if attempt == maxRetries {
			m.logger.Error("export failed after retries",
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
			m.stats.ExportFailures.Add(1)
			return false
		}

		m.logger.Warn("export failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}

		backoff = time.Duration(math.Min(
			float64(backoff)*backoffFactor,
			float64(maxBackoff),
		))
	}
	return false
}
