package model

import "time"

// SourceType identifies where a piece of evidence came from.
type SourceType string

const (
	SourceExtraction SourceType = "extraction"
	SourceFact       SourceType = "fact"
	SourceDocument   SourceType = "document"
)

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	switch s {
	case SourceExtraction, SourceFact, SourceDocument:
		return true
	}
	return false
}

// RecordType is the kind of record a field belongs to.
type RecordType string

const (
	RecordContract       RecordType = "contract"
	RecordCompanyProfile RecordType = "company_profile"
	RecordAssetAttribute RecordType = "asset_attribute"
	RecordProject        RecordType = "project"
	RecordInvoice        RecordType = "invoice"
)

// Valid reports whether r is one of the fixed record kinds.
func (r RecordType) Valid() bool {
	switch r {
	case RecordContract, RecordCompanyProfile, RecordAssetAttribute, RecordProject, RecordInvoice:
		return true
	}
	return false
}

// ProvenanceStatus tracks how far a value has been traced to its source.
type ProvenanceStatus string

const (
	ProvenanceResolved    ProvenanceStatus = "resolved"
	ProvenanceUnresolved  ProvenanceStatus = "unresolved"
	ProvenanceNeedsReview ProvenanceStatus = "needs_review"
	ProvenanceNone        ProvenanceStatus = "none"
)

// Precision is the display tier of a piece of evidence. Larger values are
// more precise; the display tier number shown to reviewers is int(Precision).
type Precision int

const (
	PrecisionUnknown Precision = iota
	PrecisionDocument
	PrecisionPage
	PrecisionExact
)

func (p Precision) String() string {
	switch p {
	case PrecisionDocument:
		return "document"
	case PrecisionPage:
		return "page"
	case PrecisionExact:
		return "exact"
	default:
		return "unknown"
	}
}

// BBox is a rectangle on a page. X, Y, Width and Height are percentages
// (0-100) of the page dimensions with the origin at the top-left corner.
type BBox struct {
	Page   int     `json:"page"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// TextAnchor locates evidence inside extracted text instead of on the page.
type TextAnchor struct {
	StartOffset   int    `json:"start_offset"`
	EndOffset     int    `json:"end_offset"`
	ContextBefore string `json:"context_before,omitempty"`
	ContextAfter  string `json:"context_after,omitempty"`
}

// EvidenceRecord is an evidence row as written by the ingestion pipeline.
// StorageTier carries the pipeline's tier label; location columns are raw
// and may be inconsistent with it.
type EvidenceRecord struct {
	ID               string           `json:"id"`
	FieldID          string           `json:"field_id"`
	FieldRecordType  RecordType       `json:"field_record_type"`
	SourceType       SourceType       `json:"source_type"`
	SourceID         string           `json:"source_id"`
	DocumentID       string           `json:"document_id,omitempty"`
	StorageTier      string           `json:"tier"`
	Confidence       float64          `json:"confidence"`
	Value            any              `json:"value,omitempty"`
	Snippet          string           `json:"snippet,omitempty"`
	Page             *int             `json:"page,omitempty"`
	BBox             *BBox            `json:"bbox,omitempty"`
	Anchor           *TextAnchor      `json:"anchor,omitempty"`
	ProvenanceStatus ProvenanceStatus `json:"provenance_status,omitempty"`
	SupersededBy     string           `json:"superseded_by,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// EvidenceRef is the canonical form of one piece of evidence backing one
// field value. Location fields not required by Precision are nil.
type EvidenceRef struct {
	ID               string           `json:"id"`
	FieldID          string           `json:"field_id"`
	FieldRecordType  RecordType       `json:"field_record_type"`
	SourceType       SourceType       `json:"source_type"`
	SourceID         string           `json:"source_id"`
	DocumentID       string           `json:"document_id,omitempty"`
	Precision        Precision        `json:"precision"`
	StorageTier      string           `json:"storage_tier"`
	Confidence       float64          `json:"confidence"`
	Value            any              `json:"value,omitempty"`
	Snippet          string           `json:"snippet,omitempty"`
	Page             *int             `json:"page,omitempty"`
	BBox             *BBox            `json:"bbox,omitempty"`
	Anchor           *TextAnchor      `json:"anchor,omitempty"`
	ProvenanceStatus ProvenanceStatus `json:"provenance_status"`
	CreatedAt        time.Time        `json:"created_at"`
}

// EffectivePage returns the page the evidence lives on. The bbox page wins
// over the generic page field when both are present. Zero means no page.
func (e EvidenceRef) EffectivePage() int {
	if e.BBox != nil && e.BBox.Page > 0 {
		return e.BBox.Page
	}
	if e.Page != nil {
		return *e.Page
	}
	return 0
}

// HasValue reports whether the evidence carries a displayable value.
func (e EvidenceRef) HasValue() bool {
	return e.Value != nil
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}
