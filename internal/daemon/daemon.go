// Package daemon drives the monitoring tests: it discovers settlement hashes on chain,
// hands them to every test's queue and drains the queues once per cycle.
package daemon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/internal/monitoring"
	"github.com/Aidin1998/ebbo_monitor/pkg/metrics"
)

// HashSource finds settlement transactions on chain.
type HashSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	SettlementHashes(ctx context.Context, from, to uint64) ([]string, error)
}

// Config controls the polling loop.
type Config struct {
	SleepInterval time.Duration
	// ParallelTests drains the queues of different tests concurrently. A single queue is
	// always drained by one goroutine.
	ParallelTests bool
	// MaxWorkers bounds the number of queues drained at once; zero means one per test.
	MaxWorkers int
	// RunTimeout bounds a single Run call; zero disables the limit.
	RunTimeout time.Duration
	// RequestTimeout bounds each call to the hash source; zero disables the limit.
	RequestTimeout time.Duration
	// StartBlock is the first block scanned. Zero starts at the chain head.
	StartBlock uint64
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		SleepInterval:  10 * time.Second,
		ParallelTests:  true,
		RunTimeout:     2 * time.Minute,
		RequestTimeout: 30 * time.Second,
	}
}

// Daemon owns one queue per test and the block cursor.
type Daemon struct {
	cfg    Config
	source HashSource
	queues []*monitoring.Queue
	logger *zap.Logger

	ready atomic.Bool

	// Owned by the loop.
	mu        sync.Mutex
	nextBlock uint64
}

// New creates a daemon running tests against the hashes found by source.
func New(cfg Config, source HashSource, tests []monitoring.Test, logger *zap.Logger) *Daemon {
	queues := make([]*monitoring.Queue, len(tests))
	for i, t := range tests {
		queues[i] = monitoring.NewQueue(t, cfg.RunTimeout, logger)
	}
	return &Daemon{
		cfg:       cfg,
		source:    source,
		queues:    queues,
		logger:    logger,
		nextBlock: cfg.StartBlock,
	}
}

// Ready reports whether the chain head has been read at least once.
func (d *Daemon) Ready() bool { return d.ready.Load() }

// NextBlock returns the first block the next cycle scans.
func (d *Daemon) NextBlock() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nextBlock
}

// Pending returns the queued hashes of every test.
func (d *Daemon) Pending() map[string][]string {
	out := make(map[string][]string, len(d.queues))
	for _, q := range d.queues {
		out[q.Name()] = q.Pending()
	}
	return out
}

// Run loops until ctx is cancelled. Runs already started when ctx is cancelled are
// completed before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.init(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	d.logger.Info("Daemon started",
		zap.Uint64("start_block", d.NextBlock()),
		zap.Int("tests", len(d.queues)),
		zap.Duration("sleep_interval", d.cfg.SleepInterval))

	timer := time.NewTimer(d.cfg.SleepInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Daemon stopped", zap.Uint64("next_block", d.NextBlock()))
			return nil
		case <-timer.C:
		}
		d.Cycle(ctx)
		timer.Reset(d.cfg.SleepInterval)
	}
}

// init positions the cursor at the chain head unless a start block was configured. The
// head is polled until the node answers or ctx is cancelled.
func (d *Daemon) init(ctx context.Context) error {
	if d.cfg.StartBlock != 0 {
		return nil
	}
	head, err := backoff.Retry(ctx, func() (uint64, error) {
		return d.blockNumber(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			d.logger.Warn("Failed to read chain head", zap.Duration("retry_in", wait), zap.Error(err))
		}))
	if err != nil {
		return err
	}
	d.ready.Store(true)
	d.mu.Lock()
	d.nextBlock = head
	d.mu.Unlock()
	return nil
}

// Cycle runs one iteration: discover the hashes settled since the last cycle, queue
// them behind every test's retained hashes and drain all queues.
func (d *Daemon) Cycle(ctx context.Context) {
	logger := d.logger.With(zap.String("cycle_id", uuid.NewString()))
	start := time.Now()

	hashes, err := d.discover(ctx, logger)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("discovery_failed").Inc()
		logger.Warn("Failed to discover settlements, draining retained hashes only", zap.Error(err))
	}
	for _, q := range d.queues {
		q.AddToQueue(hashes...)
	}

	remaining := d.drain(ctx)
	if err == nil {
		metrics.CyclesTotal.WithLabelValues("ok").Inc()
	}
	logger.Debug("Cycle finished",
		zap.Int("discovered", len(hashes)),
		zap.Int("pending", remaining),
		zap.Duration("duration", time.Since(start)))
}

func (d *Daemon) discover(ctx context.Context, logger *zap.Logger) ([]string, error) {
	head, err := d.blockNumber(ctx)
	if err != nil {
		return nil, err
	}
	d.ready.Store(true)

	d.mu.Lock()
	from := d.nextBlock
	d.mu.Unlock()
	if head < from {
		return nil, nil
	}
	hashes, err := d.settlementHashes(ctx, from, head)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.nextBlock = head + 1
	d.mu.Unlock()
	metrics.HashesDiscovered.Add(float64(len(hashes)))
	metrics.LastProcessedBlock.Set(float64(head))
	if len(hashes) > 0 {
		logger.Info("Discovered settlements",
			zap.Uint64("from_block", from),
			zap.Uint64("to_block", head),
			zap.Strings("tx_hashes", hashes))
	}
	return hashes, nil
}

func (d *Daemon) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.cfg.RequestTimeout)
}

func (d *Daemon) blockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := d.requestContext(ctx)
	defer cancel()
	return d.source.BlockNumber(ctx)
}

func (d *Daemon) settlementHashes(ctx context.Context, from, to uint64) ([]string, error) {
	ctx, cancel := d.requestContext(ctx)
	defer cancel()
	return d.source.SettlementHashes(ctx, from, to)
}

// drain empties every queue once and returns the number of hashes kept for retry.
func (d *Daemon) drain(ctx context.Context) int {
	var total atomic.Int64
	if !d.cfg.ParallelTests || len(d.queues) < 2 {
		for _, q := range d.queues {
			total.Add(int64(q.DrainQueue(ctx)))
		}
		return int(total.Load())
	}

	workers := d.cfg.MaxWorkers
	if workers <= 0 || workers > len(d.queues) {
		workers = len(d.queues)
	}
	p := pool.New().WithMaxGoroutines(workers)
	for _, q := range d.queues {
		q := q
		p.Go(func() {
			total.Add(int64(q.DrainQueue(ctx)))
		})
	}
	p.Wait()
	return int(total.Load())
}
