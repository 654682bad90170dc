package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/evidence-cli/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// ViewFilter specifies criteria for listing view events.
type ViewFilter struct {
	FieldID    string `json:"field_id,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// DecisionFilter specifies criteria for listing autofill decisions.
type DecisionFilter struct {
	TemplateID string `json:"template_id,omitempty"`
	FieldID    string `json:"field_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// EvidenceStore reads and appends evidence records. Records are immutable;
// re-extraction supersedes them. Queries exclude superseded records and
// return them ranked by confidence (highest first), then age, then id.
type EvidenceStore interface {
	InsertEvidence(ctx context.Context, recs []model.EvidenceRecord) error
	GetEvidence(ctx context.Context, id string) (*model.EvidenceRecord, error)
	EvidenceForDocument(ctx context.Context, documentID string) ([]model.EvidenceRecord, error)
	EvidenceForField(ctx context.Context, fieldID string, recordType model.RecordType) ([]model.EvidenceRecord, error)
	SupersedeEvidence(ctx context.Context, oldID, newID string) error
}

// AuditStore appends and lists audit records. Nothing is ever updated or
// deleted.
type AuditStore interface {
	AppendViewEvent(ctx context.Context, ev model.ViewEvent) error
	AppendAutofillDecision(ctx context.Context, d model.AutofillDecision) error
	ListViewEvents(ctx context.Context, filter ViewFilter) ([]model.ViewEvent, error)
	ListAutofillDecisions(ctx context.Context, filter DecisionFilter) ([]model.AutofillDecision, error)
}

// Store is the full persistence interface.
type Store interface {
	EvidenceStore
	AuditStore

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// prepareRecord fills the id and timestamp of a record about to be inserted.
func prepareRecord(rec *model.EvidenceRecord, now time.Time) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.ProvenanceStatus == "" {
		rec.ProvenanceStatus = model.ProvenanceNone
	}
}

// nullableJSON marshals v, returning nil for a nil value so the column is
// stored as NULL.
func nullableJSON[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func valueJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodeJSON[T any](data []byte) (*T, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeValue(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
