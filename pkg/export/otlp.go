// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/tlstap/tlstap/pkg/config"
	"github.com/tlstap/tlstap/pkg/probe"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
)

// OTLPExporter ships capture events as OTLP log records over gRPC with
// automatic reconnection. Each event becomes one LogRecord whose body is
// the captured payload and whose attributes carry the capture identity.
type OTLPExporter struct {
	logger   *zap.Logger
	endpoint string
	headers  map[string]string
	opts     []grpc.DialOption

	mu     sync.RWMutex
	conn   *grpc.ClientConn
	logSvc collogspb.LogsServiceClient
}

// NewOTLPExporter creates a new OTLP gRPC exporter.
func NewOTLPExporter(cfg *config.OTLPConfig, logger *zap.Logger) (*OTLPExporter, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(4 * 1024 * 1024)),
	}
	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	e := &OTLPExporter{
		logger:   logger,
		endpoint: cfg.Endpoint,
		headers:  cfg.Headers,
		opts:     opts,
	}

	if err := e.connect(); err != nil {
		return nil, err
	}
	return e, nil
}

// connect establishes or re-establishes the gRPC connection.
func (e *OTLPExporter) connect() error {
	conn, err := grpc.Dial(e.endpoint, e.opts...)
	if err != nil {
		return fmt.Errorf("dial OTLP endpoint %s: %w", e.endpoint, err)
	}

	e.conn = conn
	e.logSvc = collogspb.NewLogsServiceClient(conn)
	return nil
}

// ensureConnected checks connection health and reconnects if needed.
func (e *OTLPExporter) ensureConnected() error {
	e.mu.RLock()
	conn := e.conn
	e.mu.RUnlock()

	if conn == nil {
		return e.reconnect()
	}

	switch conn.GetState() {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return e.reconnect()
	default:
		return nil
	}
}

// reconnect closes the old connection and creates a new one.
func (e *OTLPExporter) reconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check under write lock
	if e.conn != nil {
		state := e.conn.GetState()
		if state == connectivity.Ready || state == connectivity.Idle {
			return nil
		}
		e.conn.Close()
	}

	e.logger.Info("reconnecting to OTLP endpoint", zap.String("endpoint", e.endpoint))

	if err := e.connect(); err != nil {
		e.logger.Error("reconnect failed", zap.Error(err))
		return err
	}
	return nil
}

// ExportEvents sends events via OTLP gRPC.
func (e *OTLPExporter) ExportEvents(ctx context.Context, events []*probe.Event) error {
	if len(events) == 0 {
		return nil
	}

	if err := e.ensureConnected(); err != nil {
		return fmt.Errorf("connection not ready: %w", err)
	}

	records := make([]*logspb.LogRecord, 0, len(events))
	for _, ev := range events {
		records = append(records, convertEvent(ev))
	}

	req := &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{
			{
				Resource: tapResource(),
				ScopeLogs: []*logspb.ScopeLogs{
					{
						Scope: &commonpb.InstrumentationScope{
							Name:    "tlstap",
							Version: "0.1.0",
						},
						LogRecords: records,
					},
				},
			},
		},
	}

	if len(e.headers) > 0 {
		md := metadata.New(e.headers)
		ctx = metadata.NewOutgoingContext(ctx, md)
	}

	e.mu.RLock()
	svc := e.logSvc
	e.mu.RUnlock()

	_, err := svc.Export(ctx, req)
	return err
}

// Shutdown closes the gRPC connection.
func (e *OTLPExporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

// convertEvent converts a capture event to its protobuf representation.
func convertEvent(ev *probe.Event) *logspb.LogRecord {
	return &logspb.LogRecord{
		TimeUnixNano: uint64(ev.Timestamp.UnixNano()),
		Body: &commonpb.AnyValue{
			Value: &commonpb.AnyValue_BytesValue{BytesValue: ev.Data},
		},
		Attributes: []*commonpb.KeyValue{
			strAttr("tls.direction", ev.Direction.String()),
			intAttr("process.pid", int64(ev.PID)),
			intAttr("thread.id", int64(ev.TID)),
			intAttr("network.fd", int64(ev.FD)),
			intAttr("tls.total_len", int64(ev.TotalLen)),
			boolAttr("tls.truncated", ev.Truncated),
		},
	}
}

func tapResource() *resourcepb.Resource {
	hostname, _ := os.Hostname()
	return &resourcepb.Resource{
		Attributes: []*commonpb.KeyValue{
			strAttr("service.name", "tlstap"),
			strAttr("service.instance.id", fmt.Sprintf("%s-%d", hostname, os.Getpid())),
			strAttr("telemetry.sdk.name", "tlstap"),
			strAttr("telemetry.sdk.language", "go"),
			strAttr("host.name", hostname),
			strAttr("host.arch", runtime.GOARCH),
		},
	}
}

func strAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}

func intAttr(key string, value int64) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: value}},
	}
}

func boolAttr(key string, value bool) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: value}},
	}
}
