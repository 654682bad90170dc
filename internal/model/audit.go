package model

import "time"

// DecisionOutcome is the reviewer's response to an autofill suggestion.
type DecisionOutcome string

const (
	DecisionAccepted DecisionOutcome = "accepted"
	DecisionRejected DecisionOutcome = "rejected"
)

// Valid reports whether d is accepted or rejected.
func (d DecisionOutcome) Valid() bool {
	return d == DecisionAccepted || d == DecisionRejected
}

// AutofillDecision is an append-only audit record of a reviewer accepting or
// rejecting a suggested value.
type AutofillDecision struct {
	ID          string          `json:"id"`
	TemplateID  string          `json:"template_id"`
	FieldID     string          `json:"field_id"`
	PredicateID string          `json:"predicate_id"`
	Decision    DecisionOutcome `json:"decision"`
	Confidence  float64         `json:"confidence"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ViewEvent is an append-only audit record written whenever a reviewer
// navigates to a piece of evidence. TierUsed is the storage tier label.
type ViewEvent struct {
	ID              string     `json:"id"`
	FieldID         string     `json:"field_id"`
	FieldRecordType RecordType `json:"field_record_type"`
	EvidenceRefID   string     `json:"evidence_ref_id"`
	DocumentID      string     `json:"document_id,omitempty"`
	Page            int        `json:"page"`
	TierUsed        string     `json:"tier_used"`
	Timestamp       time.Time  `json:"timestamp"`
}
