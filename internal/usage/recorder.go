package usage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/observability"
)

// Sink persists usage records. The libsql Store is the production sink.
type Sink interface {
	Insert(ctx context.Context, record *Record) error
}

const insertTimeout = 5 * time.Second

// Recorder queues records to a background worker so request handling never
// blocks on persistence. The queue is bounded; overflow drops the record.
// This is deliberately at-most-once accounting, not an exactly-once ledger.
type Recorder struct {
	sink  Sink
	queue chan *Record
	clock func() time.Time

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRecorder starts the background worker.
func NewRecorder(sink Sink, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1024
	}

	r := &Recorder{
		sink:  sink,
		queue: make(chan *Record, bufferSize),
		clock: func() time.Time { return time.Now().UTC() },
	}

	r.wg.Add(1)
	go r.run()

	return r
}

// Record hands a usage record to the worker. Never blocks; a full queue
// drops the record with a log line and a metric.
func (r *Recorder) Record(record *Record) {
	if r == nil || record == nil {
		return
	}

	record.normalize(r.clock())

	select {
	case r.queue <- record:
	default:
		metrics.RecordUsageDropped("queue_full")
		if observability.ServerLogger != nil {
			observability.ServerLogger.Warn("Usage record dropped, queue full",
				zap.String("tenant", record.TenantID),
				zap.String("requestID", record.CorrelationID))
		}
	}
}

// Close drains queued records and stops the worker. Bounded by ctx.
func (r *Recorder) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}

	r.stopOnce.Do(func() { close(r.queue) })

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for record := range r.queue {
		r.persist(record)
	}
}

func (r *Recorder) persist(record *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	if err := r.sink.Insert(ctx, record); err != nil {
		metrics.RecordUsageDropped("sink_error")
		if observability.ServerLogger != nil {
			observability.ServerLogger.Warn("Failed to persist usage record",
				zap.String("tenant", record.TenantID),
				zap.String("requestID", record.CorrelationID),
				zap.Error(err))
		}
		return
	}

	metrics.RecordUsagePersisted(record.Endpoint, record.Status)
}
