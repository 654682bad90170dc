// Package evidence is the query surface the decision engine and the viewer
// read evidence through. Reads degrade to empty results; audit writes are
// fire-and-forget.
package evidence

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/overlay"
	"github.com/sells-group/evidence-cli/internal/resilience"
	"github.com/sells-group/evidence-cli/internal/store"
	"github.com/sells-group/evidence-cli/internal/tier"
)

// Recorder accepts audit entries without reporting errors.
type Recorder interface {
	RecordView(ctx context.Context, ev model.ViewEvent)
	RecordDecision(ctx context.Context, d model.AutofillDecision)
}

// Service reads canonical evidence refs and forwards audit entries.
type Service struct {
	store    store.EvidenceStore
	recorder Recorder
	breaker  *resilience.Breaker
}

// NewService creates a Service. A nil breaker gets the default config; a nil
// recorder discards audit entries.
func NewService(st store.EvidenceStore, rec Recorder, breaker *resilience.Breaker) *Service {
	if breaker == nil {
		cfg := resilience.DefaultBreakerConfig()
		cfg.ShouldTrip = tripsBreaker
		breaker = resilience.NewBreaker(cfg)
	}
	return &Service{store: st, recorder: rec, breaker: breaker}
}

// BreakerConfig returns cfg with the trip rule used for evidence reads.
func BreakerConfig(cfg resilience.BreakerConfig) resilience.BreakerConfig {
	cfg.ShouldTrip = tripsBreaker
	return cfg
}

// tripsBreaker ignores missing rows and caller cancellation.
func tripsBreaker(err error) bool {
	return !eris.Is(err, store.ErrNotFound) && !eris.Is(err, context.Canceled)
}

// ForDocument returns every current ref for a document, most confident first.
func (s *Service) ForDocument(ctx context.Context, documentID string) []model.EvidenceRef {
	recs, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) ([]model.EvidenceRecord, error) {
		return s.store.EvidenceForDocument(ctx, documentID)
	})
	if err != nil {
		zap.L().Warn("evidence: document query failed",
			zap.String("document_id", documentID),
			zap.Error(err),
		)
		return []model.EvidenceRef{}
	}
	return tier.NormalizeAll(recs)
}

// ForDocumentPage returns the refs listed on page: document-level evidence
// plus page and exact evidence whose effective page is page.
func (s *Service) ForDocumentPage(ctx context.Context, documentID string, page int) []model.EvidenceRef {
	return overlay.FilterPage(s.ForDocument(ctx, documentID), page)
}

// ForField returns the current refs for a field, most confident first.
func (s *Service) ForField(ctx context.Context, fieldID string, recordType model.RecordType) []model.EvidenceRef {
	recs, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) ([]model.EvidenceRecord, error) {
		return s.store.EvidenceForField(ctx, fieldID, recordType)
	})
	if err != nil {
		zap.L().Warn("evidence: field query failed",
			zap.String("field_id", fieldID),
			zap.String("record_type", string(recordType)),
			zap.Error(err),
		)
		return []model.EvidenceRef{}
	}
	return tier.NormalizeAll(recs)
}

// LogView records that a reviewer navigated to a piece of evidence.
// tierUsed is the storage tier label.
func (s *Service) LogView(ctx context.Context, fieldID string, recordType model.RecordType, evidenceRefID, documentID string, page int, tierUsed string) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordView(ctx, model.ViewEvent{
		FieldID:         fieldID,
		FieldRecordType: recordType,
		EvidenceRefID:   evidenceRefID,
		DocumentID:      documentID,
		Page:            page,
		TierUsed:        tierUsed,
	})
}

// RecordAutofillDecision records a reviewer accepting or rejecting a
// suggested value.
func (s *Service) RecordAutofillDecision(ctx context.Context, templateID, fieldID, predicateID string, decision model.DecisionOutcome, confidence float64) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordDecision(ctx, model.AutofillDecision{
		TemplateID:  templateID,
		FieldID:     fieldID,
		PredicateID: predicateID,
		Decision:    decision,
		Confidence:  confidence,
	})
}
