// Package audit implements the security event recording pipeline: events are
// sanitized on entry and persisted either immediately (high severity) or in
// timed batches.
package audit

import (
	"context"
	"sync"
	"time"

	"argus/core"
	"argus/metrics"
	"argus/storage"
	"argus/util"
	"argus/util/goroutine"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultFlushInterval is how often the batch buffer is drained.
	DefaultFlushInterval = 5 * time.Second
	// DefaultBatchSize is the maximum number of events sent per batch insert.
	DefaultBatchSize = 50
	// DefaultQueueCapacity bounds the in-memory buffer. When full, the oldest
	// queued event is dropped to admit the new one.
	DefaultQueueCapacity = 10000
	// DefaultImmediateThreshold is the risk score at or above which an event
	// bypasses the buffer and is written immediately.
	DefaultImmediateThreshold = 80
	// DefaultWriteTimeout bounds each storage call.
	DefaultWriteTimeout = 10 * time.Second
)

// RecorderConfig configures the event recorder. Zero values select defaults.
type RecorderConfig struct {
	FlushInterval      time.Duration
	BatchSize          int
	QueueCapacity      int
	ImmediateThreshold int
	WriteTimeout       time.Duration
}

func (c *RecorderConfig) applyDefaults() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.ImmediateThreshold <= 0 {
		c.ImmediateThreshold = DefaultImmediateThreshold
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// Recorder accepts security events and guarantees a persistence attempt for
// every one of them, trading latency for throughput on non-critical events.
// LogEvent never surfaces an error to the caller: a recording subsystem that
// could crash the host application would be worse than one that drops an
// event under failure.
type Recorder struct {
	storage storage.EventStorageInterface
	logger  *zap.SugaredLogger
	cfg     RecorderConfig

	mu       sync.Mutex
	queue    []*core.SecurityEvent
	flushing bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewRecorder creates a recorder and starts its background flush loop.
func NewRecorder(eventStorage storage.EventStorageInterface, cfg RecorderConfig, logger *zap.SugaredLogger) *Recorder {
	cfg.applyDefaults()
	r := &Recorder{
		storage: eventStorage,
		logger:  logger,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}

	r.wg.Add(1)
	go r.flushLoop()

	return r
}

// LogEvent sanitizes and records one event. It never returns an error;
// persistence failures are logged and counted.
func (r *Recorder) LogEvent(event *core.SecurityEvent) {
	if event == nil {
		return
	}
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	event.Sanitize()
	metrics.EventsRecorded.WithLabelValues(string(event.EventCategory)).Inc()

	if event.RiskScore >= r.cfg.ImmediateThreshold {
		// Critical path: attempt the write without buffering delay. The caller
		// does not wait for completion.
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer goroutine.Recover("audit-immediate-write", r.logger)
			r.writeImmediate(event)
		}()
		return
	}

	r.enqueue(event)
}

// writeImmediate persists a single high-risk event. On failure the event is
// dropped, not requeued: immediate writes bypass the queue entirely.
func (r *Recorder) writeImmediate(event *core.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()

	metrics.ImmediateWrites.Inc()
	if err := r.storage.InsertEvent(ctx, event); err != nil {
		metrics.ImmediateWriteFailures.Inc()
		r.logger.Errorw("Immediate event write failed, event dropped",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"error", util.SanitizeError(err))
	}
}

func (r *Recorder) enqueue(event *core.SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) >= r.cfg.QueueCapacity {
		// Bounded buffer: drop the oldest queued event to admit the new one.
		r.queue = r.queue[1:]
		metrics.EventsDropped.Inc()
		r.logger.Warnw("Event buffer full, oldest event dropped",
			"capacity", r.cfg.QueueCapacity)
	}
	r.queue = append(r.queue, event)
	metrics.BufferDepth.Set(float64(len(r.queue)))
}

// flushLoop drains the buffer on a fixed interval until Stop is called.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()
	defer goroutine.Recover("audit-flush-loop", r.logger)

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
			if _, err := r.flushOnce(ctx); err != nil {
				r.logger.Errorw("Batch flush failed, batch requeued",
					"error", util.SanitizeError(err))
			}
			cancel()
		case <-r.stopCh:
			return
		}
	}
}

// flushOnce removes up to BatchSize of the oldest queued events and attempts a
// single batch insert. On failure the batch is pushed back to the front of the
// queue, preserving FIFO order for the next attempt. Only one flush may be in
// flight at a time: a flush that finds another in progress is skipped.
//
// Returns whether a batch was sent.
func (r *Recorder) flushOnce(ctx context.Context) (bool, error) {
	r.mu.Lock()
	if r.flushing || len(r.queue) == 0 {
		r.mu.Unlock()
		return false, nil
	}
	r.flushing = true

	n := r.cfg.BatchSize
	if n > len(r.queue) {
		n = len(r.queue)
	}
	batch := r.queue[:n:n]
	r.queue = r.queue[n:]
	metrics.BufferDepth.Set(float64(len(r.queue)))
	r.mu.Unlock()

	err := r.storage.InsertEvents(ctx, batch)

	r.mu.Lock()
	r.flushing = false
	if err != nil {
		metrics.BatchFlushFailures.Inc()
		r.queue = append(batch, r.queue...)
		metrics.BufferDepth.Set(float64(len(r.queue)))
		r.mu.Unlock()
		return true, err
	}
	metrics.BatchFlushes.Inc()
	r.mu.Unlock()

	r.logger.Debugw("Flushed event batch", "count", len(batch))
	return true, nil
}

// FlushNow forces an immediate drain of the current buffer contents, used at
// shutdown or before reading aggregated stats. If another flush is in flight,
// the remaining events are left for that flush's next tick.
func (r *Recorder) FlushNow(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		flushed, err := r.flushOnce(ctx)
		if err != nil {
			return err
		}
		if !flushed {
			return nil
		}
	}
}

// QueueDepth returns the current number of buffered events.
func (r *Recorder) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Stop halts the flush loop, waits for in-flight immediate writes, and makes a
// final best-effort drain of the buffer.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
		defer cancel()
		if err := r.FlushNow(ctx); err != nil {
			r.logger.Errorw("Final drain failed on shutdown, events lost",
				"remaining", r.QueueDepth(),
				"error", util.SanitizeError(err))
		}
	})
}
