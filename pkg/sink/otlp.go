// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package sink

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"time"

	"github.com/cerndb/hbase-packet-inspector/pkg/hbase"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

const (
	otlpBatchSize     = 512
	otlpFlushInterval = 5 * time.Second
)

// OTLP exports completed calls as spans over OTLP gRPC. Only outbound
// events become spans: the request/response pair is one span whose duration
// is the correlated elapsed time.
type OTLP struct {
	logger   *zap.Logger
	endpoint string
	conn     *grpc.ClientConn
	traceSvc coltracepb.TraceServiceClient
	resource *resourcepb.Resource

	mu  sync.Mutex
	buf []*tracepb.Span

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewOTLP dials the endpoint and starts the background flusher.
func NewOTLP(endpoint string, logger *zap.Logger) (*OTLP, error) {
	conn, err := grpc.Dial(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(4*1024*1024)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial OTLP endpoint %s: %w", endpoint, err)
	}

	hostname, _ := os.Hostname()
	e := &OTLP{
		logger:   logger,
		endpoint: endpoint,
		conn:     conn,
		traceSvc: coltracepb.NewTraceServiceClient(conn),
		resource: &resourcepb.Resource{
			Attributes: []*commonpb.KeyValue{
				strAttr("service.name", "hbase-packet-inspector"),
				strAttr("host.name", hostname),
			},
		},
		stopCh: make(chan struct{}),
	}

	e.wg.Add(1)
	go e.flushLoop()

	logger.Info("OTLP exporter ready", zap.String("endpoint", endpoint))
	return e, nil
}

// Emit buffers a span for the event. Inbound events are skipped; the span
// is produced from the response, which carries the correlated request
// attribution and elapsed time.
func (e *OTLP) Emit(ev *hbase.Event) error {
	if ev.Inbound {
		return nil
	}
	span := convertSpan(ev)

	e.mu.Lock()
	e.buf = append(e.buf, span)
	full := len(e.buf) >= otlpBatchSize
	e.mu.Unlock()

	if full {
		return e.flush()
	}
	return nil
}

// EmitSub is a no-op; per-action rows are folded into the parent span's
// attributes by way of the batch count.
func (e *OTLP) EmitSub(string, *hbase.Event) error {
	return nil
}

// Close flushes outstanding spans and tears down the connection.
func (e *OTLP) Close() error {
	close(e.stopCh)
	e.wg.Wait()
	err := e.flush()
	e.conn.Close()
	return err
}

func (e *OTLP) flushLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(otlpFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.flush(); err != nil {
				e.logger.Warn("OTLP flush failed", zap.Error(err))
			}
		case <-e.stopCh:
			return
		}
	}
}

func (e *OTLP) flush() error {
	e.mu.Lock()
	spans := e.buf
	e.buf = nil
	e.mu.Unlock()

	if len(spans) == 0 {
		return nil
	}

	req := &coltracepb.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{
			{
				Resource: e.resource,
				ScopeSpans: []*tracepb.ScopeSpans{
					{
						Scope: &commonpb.InstrumentationScope{Name: "hbase-packet-inspector"},
						Spans: spans,
					},
				},
			},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := e.traceSvc.Export(ctx, req)
	return err
}

// convertSpan maps an outbound event to an OTLP span. Trace and span ids
// are derived from the call identity; the observer never sees real ids.
func convertSpan(ev *hbase.Event) *tracepb.Span {
	name := ev.Method
	if ev.Table != "" {
		name = ev.Method + " " + ev.Table
	}

	end := uint64(ev.TS) * uint64(time.Millisecond)
	start := end
	if ev.HasElapsed {
		start = end - uint64(ev.Elapsed)*uint64(time.Millisecond)
	}

	span := &tracepb.Span{
		TraceId:           callHash(ev, 16),
		SpanId:            callHash(ev, 8),
		Name:              name,
		Kind:              tracepb.Span_SPAN_KIND_SERVER,
		StartTimeUnixNano: start,
		EndTimeUnixNano:   end,
		Attributes: []*commonpb.KeyValue{
			strAttr("db.system", "hbase"),
			strAttr("db.operation", ev.Method),
			strAttr("net.peer.name", ev.Client),
			intAttr("net.peer.port", int64(ev.Port)),
			intAttr("rpc.call_id", int64(ev.CallID)),
		},
	}
	if ev.Table != "" {
		span.Attributes = append(span.Attributes, strAttr("db.name", ev.Table))
	}
	if ev.Region != "" {
		span.Attributes = append(span.Attributes, strAttr("db.hbase.region", ev.Region))
	}
	if ev.HasScanner {
		span.Attributes = append(span.Attributes, intAttr("db.hbase.scanner", int64(ev.Scanner)))
	}
	if ev.HasCells {
		span.Attributes = append(span.Attributes, intAttr("db.hbase.cells", int64(ev.Cells)))
	}
	if ev.Batch > 0 {
		span.Attributes = append(span.Attributes, intAttr("db.hbase.batch", int64(ev.Batch)))
	}
	if ev.Error != "" {
		span.Status = &tracepb.Status{
			Code:    tracepb.Status_STATUS_CODE_ERROR,
			Message: ev.Error,
		}
	}
	return span
}

// callHash derives a pseudo trace or span id from the call identity.
func callHash(ev *hbase.Event, n int) []byte {
	h := fnv.New128a()
	fmt.Fprintf(h, "%s:%d:%d:%d", ev.Client, ev.Port, ev.CallID, ev.TS)
	return h.Sum(nil)[:n]
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
