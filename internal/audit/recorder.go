// Package audit writes view events and autofill decisions to the audit store
// without blocking the caller.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/resilience"
	"github.com/sells-group/evidence-cli/internal/store"
)

// Config controls the recorder queue.
type Config struct {
	// QueueSize bounds the number of pending writes. Default: 256.
	QueueSize int
	// WriteTimeout bounds each store write including retries. Default: 5s.
	WriteTimeout time.Duration
	// Retry is applied to transient store errors.
	Retry resilience.RetryPolicy
}

// DefaultConfig returns the recorder defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:    256,
		WriteTimeout: 5 * time.Second,
		Retry:        resilience.DefaultRetryPolicy(),
	}
}

type entry struct {
	ctx      context.Context
	view     *model.ViewEvent
	decision *model.AutofillDecision
}

// Recorder appends audit rows from a single background worker. Callers never
// see write errors; failures and overflow are logged and counted.
type Recorder struct {
	store store.AuditStore
	cfg   Config

	queue chan entry
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewRecorder starts a recorder writing to st.
func NewRecorder(st store.AuditStore, cfg Config) *Recorder {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.Retry.Operation == "" {
		cfg.Retry.Operation = "audit write"
	}

	r := &Recorder{
		store: st,
		cfg:   cfg,
		queue: make(chan entry, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// RecordView queues a view event. The ID and timestamp are assigned here when
// empty so the row reflects when the reviewer navigated.
func (r *Recorder) RecordView(ctx context.Context, ev model.ViewEvent) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	r.enqueue(entry{ctx: context.WithoutCancel(ctx), view: &ev})
}

// RecordDecision queues an autofill decision. Decisions other than accepted
// or rejected are logged and discarded.
func (r *Recorder) RecordDecision(ctx context.Context, d model.AutofillDecision) {
	if !d.Decision.Valid() {
		zap.L().Warn("audit: invalid autofill decision",
			zap.String("field_id", d.FieldID),
			zap.String("decision", string(d.Decision)),
		)
		r.dropped.Add(1)
		return
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	r.enqueue(entry{ctx: context.WithoutCancel(ctx), decision: &d})
}

func (r *Recorder) enqueue(e entry) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		zap.L().Warn("audit: recorder closed, dropping entry", e.fields()...)
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- e:
	default:
		zap.L().Warn("audit: queue full, dropping entry", e.fields()...)
		r.dropped.Add(1)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		r.write(e)
	}
}

func (r *Recorder) write(e entry) {
	ctx, cancel := context.WithTimeout(e.ctx, r.cfg.WriteTimeout)
	defer cancel()

	err := resilience.Retry(ctx, r.cfg.Retry, func(ctx context.Context) error {
		if e.view != nil {
			return r.store.AppendViewEvent(ctx, *e.view)
		}
		return r.store.AppendAutofillDecision(ctx, *e.decision)
	})
	if err != nil {
		r.failed.Add(1)
		zap.L().Warn("audit: write failed", append(e.fields(), zap.Error(err))...)
		return
	}
	r.written.Add(1)
}

// Close stops accepting entries and waits for queued ones to be written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}

// Stats returns the entry counters.
func (r *Recorder) Stats() (written, failed, dropped int64) {
	return r.written.Load(), r.failed.Load(), r.dropped.Load()
}

func (e entry) fields() []zap.Field {
	if e.view != nil {
		return []zap.Field{
			zap.String("kind", "view_event"),
			zap.String("field_id", e.view.FieldID),
			zap.String("evidence_ref_id", e.view.EvidenceRefID),
		}
	}
	return []zap.Field{
		zap.String("kind", "autofill_decision"),
		zap.String("field_id", e.decision.FieldID),
		zap.String("decision", string(e.decision.Decision)),
	}
}
