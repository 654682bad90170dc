// Package navigator holds the per-viewer state that ties a field's evidence
// to the rendered document: current page, selection, hover, and the page's
// highlight overlay.
package navigator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/overlay"
	"github.com/sells-group/evidence-cli/internal/tier"
)

// Source supplies evidence and accepts view events. *evidence.Service
// satisfies it.
type Source interface {
	ForDocumentPage(ctx context.Context, documentID string, page int) []model.EvidenceRef
	ForField(ctx context.Context, fieldID string, recordType model.RecordType) []model.EvidenceRef
	LogView(ctx context.Context, fieldID string, recordType model.RecordType, evidenceRefID, documentID string, page int, tierUsed string)
}

// Field binds a navigator to the template field under review.
type Field struct {
	ID         string
	RecordType model.RecordType
}

// Config sets up a navigator for one document.
type Config struct {
	DocumentID string
	// InitialPage defaults to 1.
	InitialPage int
	// Field is nil when browsing a document without a field.
	Field *Field
}

// State is a snapshot of the navigator.
type State struct {
	DocumentID         string                 `json:"document_id"`
	CurrentPage        int                    `json:"current_page"`
	TotalPages         int                    `json:"total_pages,omitempty"`
	SelectedEvidenceID string                 `json:"selected_evidence_id,omitempty"`
	HoveredEvidenceID  string                 `json:"hovered_evidence_id,omitempty"`
	PageDimensions     overlay.PageDimensions `json:"page_dimensions"`
	FieldLoaded        bool                   `json:"field_loaded"`
}

// Request is a generation-stamped page load. Only the latest request's
// response is applied.
type Request struct {
	Generation uint64
	Page       int
}

// Navigator is safe for concurrent use; fetch goroutines deliver into it.
type Navigator struct {
	src   Source
	docID string
	field *Field

	mu          sync.Mutex
	page        int
	total       int
	selected    string
	hovered     string
	dims        overlay.PageDimensions
	generation  uint64
	pageRefs    []model.EvidenceRef
	fieldRefs   []model.EvidenceRef
	fieldLoaded bool
}

// New creates a navigator. No evidence is loaded until SetPage or LoadField.
func New(src Source, cfg Config) *Navigator {
	page := cfg.InitialPage
	if page < 1 {
		page = 1
	}
	var field *Field
	if cfg.Field != nil {
		f := *cfg.Field
		field = &f
	}
	return &Navigator{src: src, docID: cfg.DocumentID, field: field, page: page}
}

// State returns a snapshot.
func (n *Navigator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return State{
		DocumentID:         n.docID,
		CurrentPage:        n.page,
		TotalPages:         n.total,
		SelectedEvidenceID: n.selected,
		HoveredEvidenceID:  n.hovered,
		PageDimensions:     n.dims,
		FieldLoaded:        n.field == nil || n.fieldLoaded,
	}
}

// RequestPage moves to page and starts a new load generation. Any response
// for an earlier request is discarded by Deliver.
func (n *Navigator) RequestPage(page int) Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.page = n.clamp(page)
	n.generation++
	n.pageRefs = nil
	return Request{Generation: n.generation, Page: n.page}
}

// Deliver applies the evidence loaded for req. It reports false and drops
// refs when a newer request has been made since.
func (n *Navigator) Deliver(req Request, refs []model.EvidenceRef) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if req.Generation != n.generation {
		zap.L().Debug("navigator: dropping stale page evidence",
			zap.String("document_id", n.docID),
			zap.Int("page", req.Page),
			zap.Uint64("generation", req.Generation),
			zap.Uint64("latest", n.generation),
		)
		return false
	}
	n.pageRefs = overlay.FilterPage(refs, req.Page)
	return true
}

// SetPage moves to page and loads its evidence.
func (n *Navigator) SetPage(ctx context.Context, page int) bool {
	req := n.RequestPage(page)
	return n.Deliver(req, n.src.ForDocumentPage(ctx, n.docID, req.Page))
}

// LoadField loads the bound field's evidence. Until it has run, Select is a
// no-op for a field-bound navigator.
func (n *Navigator) LoadField(ctx context.Context) []model.EvidenceRef {
	if n.field == nil {
		return nil
	}
	refs := n.src.ForField(ctx, n.field.ID, n.field.RecordType)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.fieldRefs = refs
	n.fieldLoaded = true
	return refs
}

// FieldEvidence returns the loaded field evidence.
func (n *Navigator) FieldEvidence() []model.EvidenceRef {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fieldRefs
}

// Select makes ref the selected evidence, moves to its page when it has
// one, and records one view event when the navigator is bound to a field.
// It reports false without doing anything while field evidence is loading.
func (n *Navigator) Select(ctx context.Context, ref model.EvidenceRef) bool {
	n.mu.Lock()
	if n.field != nil && !n.fieldLoaded {
		n.mu.Unlock()
		return false
	}
	n.selected = ref.ID
	target := ref.EffectivePage()
	located := target > 0 && ref.Precision != model.PrecisionDocument
	if located {
		target = n.clamp(target)
	}
	move := located && target != n.page
	field := n.field
	n.mu.Unlock()

	if move {
		n.SetPage(ctx, target)
	}

	if field != nil {
		docID := ref.DocumentID
		if docID == "" {
			docID = n.docID
		}
		label := ref.StorageTier
		if label == "" {
			label = tier.StorageLabel(ref.Precision)
		}
		n.src.LogView(ctx, field.ID, field.RecordType, ref.ID, docID, target, label)
	}
	return true
}

// ClearSelection drops the selection.
func (n *Navigator) ClearSelection() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.selected = ""
}

// Hover marks ref as hovered; nil clears it.
func (n *Navigator) Hover(ref *model.EvidenceRef) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ref == nil {
		n.hovered = ""
		return
	}
	n.hovered = ref.ID
}

// OnDocumentLoad records the page count and clamps the current page into it.
func (n *Navigator) OnDocumentLoad(totalPages int) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if totalPages < 0 {
		totalPages = 0
	}
	n.total = totalPages
	n.page = n.clamp(n.page)
	return n.page
}

// OnPageRendered records the rendered page's pixel dimensions.
func (n *Navigator) OnPageRendered(dims overlay.PageDimensions) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dims = dims
}

// Highlights composes the overlay for the current page with selection and
// hover applied.
func (n *Navigator) Highlights() overlay.Overlay {
	n.mu.Lock()
	defer n.mu.Unlock()
	ov := overlay.Build(n.pageRefs, n.page, n.dims)
	for i := range ov.Highlights {
		h := &ov.Highlights[i]
		h.Selected = h.EvidenceID == n.selected
		h.Hovered = h.EvidenceID == n.hovered
	}
	return ov
}

// clamp keeps page within [1, total]; total 0 means unknown.
func (n *Navigator) clamp(page int) int {
	if page < 1 {
		page = 1
	}
	if n.total > 0 && page > n.total {
		page = n.total
	}
	return page
}
