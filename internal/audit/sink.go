package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vantagelink/rollout/internal/observability"
)

// LogSink writes audit events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink backed by the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record implements Sink.
func (s *LogSink) Record(_ context.Context, evt Event) error {
	s.logger.Info("audit event",
		zap.String("kind", evt.Kind),
		zap.String("instance_id", evt.InstanceID),
		zap.String("flow_id", evt.FlowID),
		zap.String("project_id", evt.ProjectID),
		zap.String("actor_id", evt.ActorID),
		zap.Time("at", evt.At),
	)
	return nil
}

// WebhookSink POSTs audit events as JSON to an external receiver. A breaker
// guards it so a dead receiver cannot pile up blocked deliveries.
type WebhookSink struct {
	url     string
	client  *http.Client
	breaker *Breaker
}

// NewWebhookSink creates a webhook sink for the given URL.
func NewWebhookSink(url string, timeout time.Duration, breaker *Breaker) *WebhookSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

// Record implements Sink.
func (s *WebhookSink) Record(ctx context.Context, evt Event) error {
	if err := s.breaker.Allow(); err != nil {
		return err
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build audit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	observability.InjectTraceHeaders(ctx, req.Header)

	resp, err := s.client.Do(req)
	if err != nil {
		s.breaker.RecordFailure()
		return fmt.Errorf("deliver audit event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		s.breaker.RecordFailure()
		return fmt.Errorf("audit receiver returned %d", resp.StatusCode)
	}
	s.breaker.RecordSuccess()
	return nil
}

// Dispatcher decouples event producers from sink latency: Record enqueues
// onto a bounded channel and a single worker drains it. When the queue is
// full the event is dropped and counted, never blocked on.
type Dispatcher struct {
	sink    Sink
	logger  *zap.Logger
	queue   chan Event
	done    chan struct{}
	dropped atomic.Int64
	tally   Tally
}

// Tally counts delivery outcomes. Safe for concurrent use.
type Tally interface {
	RecordAuditDelivery(status string)
	RecordAuditQueueDrop()
}

// NewDispatcher creates a dispatcher with the given queue size and starts
// its worker.
func NewDispatcher(sink Sink, logger *zap.Logger, queueSize int) *Dispatcher {
	if queueSize < 1 {
		queueSize = 256
	}
	d := &Dispatcher{
		sink:   sink,
		logger: logger,
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Instrument attaches a counter set. Nil disables instrumentation. Call
// before the dispatcher receives traffic.
func (d *Dispatcher) Instrument(t Tally) { d.tally = t }

// Record implements Sink. It never blocks and never returns an error.
func (d *Dispatcher) Record(_ context.Context, evt Event) error {
	select {
	case d.queue <- evt:
	default:
		d.dropped.Add(1)
		if d.tally != nil {
			d.tally.RecordAuditQueueDrop()
		}
		d.logger.Warn("audit queue full, event dropped", zap.String("kind", evt.Kind))
	}
	return nil
}

// Dropped returns the number of events discarded due to a full queue.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops the worker after draining the queue.
func (d *Dispatcher) Close() {
	close(d.queue)
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for evt := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := d.sink.Record(ctx, evt); err != nil {
			if d.tally != nil {
				d.tally.RecordAuditDelivery("error")
			}
			d.logger.Warn("audit delivery failed",
				zap.String("kind", evt.Kind),
				zap.Error(err),
			)
		} else if d.tally != nil {
			d.tally.RecordAuditDelivery("ok")
		}
		cancel()
	}
}
