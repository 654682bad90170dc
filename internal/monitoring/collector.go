// Package monitoring watches the audit trail and the evidence read path and
// raises alerts when audit entries are being lost or reads are failing.
package monitoring

import (
	"context"
	"time"

	"github.com/sells-group/evidence-cli/internal/resilience"
)

// Snapshot is a point-in-time view of audit and query health. Counters are
// cumulative since process start; Delta fields cover the last interval.
type Snapshot struct {
	AuditWritten int64 `json:"audit_written"`
	AuditFailed  int64 `json:"audit_failed"`
	AuditDropped int64 `json:"audit_dropped"`

	FailedDelta  int64 `json:"failed_delta"`
	DroppedDelta int64 `json:"dropped_delta"`

	BreakerName  string `json:"breaker_name,omitempty"`
	BreakerState string `json:"breaker_state,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// AuditStats exposes the audit recorder's counters. *audit.Recorder
// satisfies it.
type AuditStats interface {
	Stats() (written, failed, dropped int64)
}

// Collector builds snapshots, remembering the previous counters so each
// snapshot carries per-interval deltas.
type Collector struct {
	audit   AuditStats
	breaker *resilience.Breaker
	name    string

	lastFailed  int64
	lastDropped int64
}

// NewCollector creates a collector. breaker may be nil.
func NewCollector(audit AuditStats, breaker *resilience.Breaker, breakerName string) *Collector {
	return &Collector{audit: audit, breaker: breaker, name: breakerName}
}

// Collect gathers a snapshot. It is not safe for concurrent use; the
// checker calls it from a single goroutine.
func (c *Collector) Collect(_ context.Context) *Snapshot {
	snap := &Snapshot{CollectedAt: time.Now().UTC()}
	if c.audit != nil {
		snap.AuditWritten, snap.AuditFailed, snap.AuditDropped = c.audit.Stats()
		snap.FailedDelta = snap.AuditFailed - c.lastFailed
		snap.DroppedDelta = snap.AuditDropped - c.lastDropped
		c.lastFailed, c.lastDropped = snap.AuditFailed, snap.AuditDropped
	}
	if c.breaker != nil {
		snap.BreakerName = c.name
		snap.BreakerState = c.breaker.State().String()
	}
	return snap
}
