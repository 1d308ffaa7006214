package ddapm

import (
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Stats is a point-in-time snapshot of the client's counters.
type Stats struct {
	// Submitted counts traces accepted onto the queue.
	Submitted uint64
	// Dropped counts traces discarded because the queue was full.
	Dropped uint64
	// SentBatches and SentTraces count successful transmissions.
	SentBatches uint64
	SentTraces  uint64
	// FailedBatches counts batches discarded after a transport failure.
	FailedBatches uint64
}

// logEvery throttles failure logging: first occurrence, then every Nth.
const logEvery = 100

// Client buffers finished traces and transmits them to the agent from a
// single background worker, decoupling producer goroutines from network
// I/O. Telemetry is best-effort: a full queue drops the newest trace and
// a failed transmission drops the batch; neither disturbs the caller.
type Client struct {
	queue chan []SpanRecord

	transport *agentTransport
	codec     codec
	clock     clockz.Clock
	logger    *zap.Logger
	cfg       Config

	stop   chan struct{}
	done   chan struct{}
	closed atomic.Bool

	submitted     atomic.Uint64
	dropped       atomic.Uint64
	sentBatches   atomic.Uint64
	sentTraces    atomic.Uint64
	failedBatches atomic.Uint64
}

// NewDefaultClient creates a client for the agent at the conventional
// localhost:8126 address with default buffering.
func NewDefaultClient() (*Client, error) {
	return NewClient(DefaultConfig())
}

// NewClient creates a client with the given configuration. Zero-valued
// fields fall back to their defaults. Configuration mistakes (bad host or
// port, nonsensical sizes) fail here; nothing fails later at runtime.
func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		queue:     make(chan []SpanRecord, cfg.QueueSize),
		transport: newAgentTransport(cfg),
		codec:     codecFor(cfg.Encoding),
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		cfg:       cfg,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.run()
	return c, nil
}

// Submit enqueues a completed trace without blocking. If the queue is at
// capacity the incoming trace is dropped and counted; Submit never fails
// the caller's span-close path.
func (c *Client) Submit(trace []SpanRecord) {
	if len(trace) == 0 {
		return
	}
	if c.closed.Load() {
		c.countDrop()
		return
	}
	select {
	case c.queue <- trace:
		c.submitted.Add(1)
	default:
		c.countDrop()
	}
}

func (c *Client) countDrop() {
	if n := c.dropped.Add(1); n == 1 || n%logEvery == 0 {
		c.logger.Warn("trace queue full, dropping trace", zap.Uint64("dropped", n))
	}
}

// run is the client's single background worker: it accumulates traces
// until the batch size or the flush interval is reached, whichever first,
// then encodes and transmits the batch.
func (c *Client) run() {
	defer close(c.done)

	batch := make([][]SpanRecord, 0, c.cfg.BatchSize)
	flushCh := c.clock.After(c.cfg.FlushInterval)

	for {
		select {
		case <-c.stop:
			c.drain(batch)
			return
		case trace := <-c.queue:
			batch = append(batch, trace)
			if len(batch) >= c.cfg.BatchSize {
				c.send(batch)
				batch = batch[:0]
				flushCh = c.clock.After(c.cfg.FlushInterval)
			}
		case <-flushCh:
			if len(batch) > 0 {
				c.send(batch)
				batch = batch[:0]
			}
			flushCh = c.clock.After(c.cfg.FlushInterval)
		}
	}
}

// drain performs the best-effort final flush: whatever is already queued is
// sent in batch-sized chunks, then the worker exits. Close bounds the time
// this may take.
func (c *Client) drain(batch [][]SpanRecord) {
	for {
		select {
		case trace := <-c.queue:
			batch = append(batch, trace)
			if len(batch) >= c.cfg.BatchSize {
				c.send(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				c.send(batch)
			}
			return
		}
	}
}

// send encodes and transmits one batch. Failures are counted and the batch
// is discarded - an APM pipe is best-effort telemetry, not a durable log.
func (c *Client) send(batch [][]SpanRecord) {
	payload, err := c.codec.encode(batch)
	if err != nil {
		c.countFailure(err, len(batch))
		return
	}
	if err := c.transport.send(c.codec.path(), c.codec.contentType(), payload, len(batch)); err != nil {
		c.countFailure(err, len(batch))
		return
	}
	c.sentBatches.Add(1)
	c.sentTraces.Add(uint64(len(batch)))
}

func (c *Client) countFailure(err error, traces int) {
	if n := c.failedBatches.Add(1); n == 1 || n%logEvery == 0 {
		c.logger.Warn("failed to deliver trace batch, discarding",
			zap.Error(err), zap.Int("traces", traces), zap.Uint64("failed_batches", n))
	}
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() Stats {
	return Stats{
		Submitted:     c.submitted.Load(),
		Dropped:       c.dropped.Load(),
		SentBatches:   c.sentBatches.Load(),
		SentTraces:    c.sentTraces.Load(),
		FailedBatches: c.failedBatches.Load(),
	}
}

// Close stops the client after a best-effort final flush bounded by
// CloseTimeout; traces still pending afterwards are discarded. Safe to
// call more than once.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.stop)
	select {
	case <-c.done:
	case <-time.After(c.cfg.CloseTimeout):
		c.logger.Warn("close timeout reached before final flush completed")
	}
}
