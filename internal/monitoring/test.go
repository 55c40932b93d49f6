// Package monitoring holds the contract shared by every monitoring test: the retry queue
// that drives a test, the tiered severity rules and the alert fan-out.
package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/pkg/metrics"
)

const instrumentationName = "github.com/Aidin1998/ebbo_monitor/internal/monitoring"

// Test is a monitoring check run once per settlement hash.
//
// Run returns true when the hash was fully processed, including when the check does not
// apply to it, and false when it must be retried in a later cycle.
type Test interface {
	Name() string
	Run(ctx context.Context, txHash string) bool
}

// Queue owns the pending hashes of one test. Hashes are processed in FIFO order and a
// hash that fails stays ahead of every hash added after it.
type Queue struct {
	test       Test
	runTimeout time.Duration
	logger     *zap.Logger

	tracer trace.Tracer
	runs   otelmetric.Int64Counter

	mu      sync.Mutex
	pending []string
}

// NewQueue wraps test. Every Run gets at most runTimeout; zero disables the limit.
func NewQueue(test Test, runTimeout time.Duration, logger *zap.Logger) *Queue {
	runs, err := otel.Meter(instrumentationName).Int64Counter("ebbo.test.runs",
		otelmetric.WithDescription("Monitoring test runs by outcome"))
	if err != nil {
		logger.Warn("Failed to create run counter", zap.Error(err))
	}
	return &Queue{
		test:       test,
		runTimeout: runTimeout,
		logger:     logger.With(zap.String("test", test.Name())),
		tracer:     otel.Tracer(instrumentationName),
		runs:       runs,
	}
}

// Name returns the name of the wrapped test.
func (q *Queue) Name() string { return q.test.Name() }

// AddToQueue appends hashes behind the ones already pending.
func (q *Queue) AddToQueue(hashes ...string) {
	q.mu.Lock()
	q.pending = append(q.pending, hashes...)
	n := len(q.pending)
	q.mu.Unlock()
	metrics.QueueDepth.WithLabelValues(q.Name()).Set(float64(n))
}

// Pending returns a copy of the queued hashes.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.pending...)
}

// Len returns the number of queued hashes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DrainQueue runs the test once on every hash queued when it is called and keeps those
// that asked to be retried. Once ctx is done no further runs are started; the runs
// already started complete on a context detached from ctx. It returns the number of
// hashes left in the queue.
func (q *Queue) DrainQueue(ctx context.Context) int {
	q.mu.Lock()
	batch := append([]string(nil), q.pending...)
	q.mu.Unlock()

	var retained []string
	for i, hash := range batch {
		if ctx.Err() != nil {
			retained = append(retained, batch[i:]...)
			q.logger.Info("Drain interrupted, keeping remaining hashes",
				zap.Int("remaining", len(batch)-i))
			break
		}
		if !q.runOne(ctx, hash) {
			retained = append(retained, hash)
		}
	}

	q.mu.Lock()
	// Keep hashes added while draining behind the retained ones.
	added := q.pending[len(batch):]
	q.pending = append(retained, added...)
	n := len(q.pending)
	q.mu.Unlock()

	metrics.QueueDepth.WithLabelValues(q.Name()).Set(float64(n))
	return n
}

func (q *Queue) runOne(parent context.Context, hash string) (done bool) {
	ctx := context.WithoutCancel(parent)
	if q.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.runTimeout)
		defer cancel()
	}
	ctx, span := q.tracer.Start(ctx, q.Name()+".Run",
		trace.WithAttributes(attribute.String("tx_hash", hash)))
	start := time.Now()

	outcome := "retry"
	defer func() {
		if r := recover(); r != nil {
			done = false
			outcome = "panic"
			q.logger.Error("Test run panicked",
				zap.String("tx_hash", hash),
				zap.String("panic", fmt.Sprint(r)),
				zap.Stack("stack"))
		}
		metrics.RunsTotal.WithLabelValues(q.Name(), outcome).Inc()
		metrics.RunLatency.WithLabelValues(q.Name()).Observe(time.Since(start).Seconds())
		if q.runs != nil {
			q.runs.Add(ctx, 1, otelmetric.WithAttributes(
				attribute.String("test", q.Name()),
				attribute.String("outcome", outcome)))
		}
		span.SetAttributes(attribute.String("outcome", outcome))
		span.End()
	}()

	done = q.test.Run(ctx, hash)
	if done {
		outcome = "done"
	} else {
		q.logger.Debug("Hash queued for retry", zap.String("tx_hash", hash))
	}
	return done
}
