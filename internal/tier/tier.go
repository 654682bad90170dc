// Package tier translates storage tier labels into the canonical display
// precision and normalizes raw evidence rows into EvidenceRefs whose location
// payload matches their precision.
package tier

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/evidence-cli/internal/model"
)

// Canonical storage labels, one per precision.
const (
	LabelExact    = "exact"
	LabelPage     = "page"
	LabelDocument = "document"
)

// ErrUnknownStorageTier is returned for a storage label with no mapping.
var ErrUnknownStorageTier = eris.New("tier: unknown storage tier")

// FromStorage maps a storage tier label to its display precision. The most
// precise storage tier maps to the highest display tier.
func FromStorage(label string) (model.Precision, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case LabelExact, "exact_location", "text_match":
		return model.PrecisionExact, nil
	case LabelPage, "page_level", "ocr":
		return model.PrecisionPage, nil
	case LabelDocument, "document_level", "fallback", "fallback_anchor":
		return model.PrecisionDocument, nil
	default:
		return model.PrecisionUnknown, eris.Wrapf(ErrUnknownStorageTier, "label %q", label)
	}
}

// StorageLabel returns the canonical storage label for p.
func StorageLabel(p model.Precision) string {
	switch p {
	case model.PrecisionExact:
		return LabelExact
	case model.PrecisionPage:
		return LabelPage
	case model.PrecisionDocument:
		return LabelDocument
	default:
		return ""
	}
}

// IssueKind classifies a problem found while normalizing a record.
type IssueKind string

const (
	IssueUnknownTier     IssueKind = "unknown_tier"
	IssueMissingLocation IssueKind = "missing_location"
	IssueInvalidBBox     IssueKind = "invalid_bbox"
	IssueExtraLocation   IssueKind = "extra_location"
)

// Issue is a non-fatal problem found while normalizing a record.
type Issue struct {
	EvidenceID string    `json:"evidence_id"`
	Kind       IssueKind `json:"kind"`
	Detail     string    `json:"detail"`
}

// Normalize converts a stored record into a canonical EvidenceRef. Location
// fields the tier does not use are cleared. Records whose location cannot
// support their tier are demoted to document precision; they are never
// rejected.
func Normalize(rec model.EvidenceRecord) (model.EvidenceRef, []Issue) {
	ref := model.EvidenceRef{
		ID:               rec.ID,
		FieldID:          rec.FieldID,
		FieldRecordType:  rec.FieldRecordType,
		SourceType:       rec.SourceType,
		SourceID:         rec.SourceID,
		DocumentID:       rec.DocumentID,
		StorageTier:      rec.StorageTier,
		Confidence:       clampConfidence(rec.Confidence),
		Value:            rec.Value,
		Snippet:          rec.Snippet,
		ProvenanceStatus: rec.ProvenanceStatus,
		CreatedAt:        rec.CreatedAt,
	}
	if ref.ProvenanceStatus == "" {
		ref.ProvenanceStatus = model.ProvenanceNone
	}

	var issues []Issue
	issue := func(kind IssueKind, detail string) {
		issues = append(issues, Issue{EvidenceID: rec.ID, Kind: kind, Detail: detail})
	}

	p, err := FromStorage(rec.StorageTier)
	if err != nil {
		zap.L().DPanic("tier: unmapped storage tier",
			zap.String("evidence_id", rec.ID),
			zap.String("tier", rec.StorageTier),
		)
		issue(IssueUnknownTier, err.Error())
		return demote(ref), issues
	}

	switch p {
	case model.PrecisionExact:
		if rec.BBox == nil && rec.Anchor == nil {
			issue(IssueMissingLocation, "exact tier without bbox or anchor")
			return demote(ref), issues
		}
		page := 0
		if rec.Page != nil && *rec.Page > 0 {
			page = *rec.Page
		}

		var bbox *model.BBox
		if rec.BBox != nil {
			b := *rec.BBox
			if b.Page <= 0 {
				b.Page = page
			}
			switch {
			case !ValidBBox(b):
				issue(IssueInvalidBBox, "bbox outside page bounds")
			case b.Page <= 0:
				issue(IssueMissingLocation, "exact bbox without page number")
			default:
				bbox = &b
			}
		}

		// An anchor is only placeable on a known page.
		anchor := rec.Anchor
		if anchor != nil && bbox == nil && page == 0 {
			issue(IssueMissingLocation, "exact anchor without page number")
			anchor = nil
		}
		if bbox == nil && anchor == nil {
			return demote(ref), issues
		}

		ref.Precision = model.PrecisionExact
		ref.Anchor = copyAnchor(anchor)
		ref.BBox = bbox
		if page > 0 {
			ref.Page = model.IntPtr(page)
		}
	case model.PrecisionPage:
		if rec.Page == nil || *rec.Page <= 0 {
			issue(IssueMissingLocation, "page tier without page number")
			return demote(ref), issues
		}
		if rec.BBox != nil || rec.Anchor != nil {
			issue(IssueExtraLocation, "page tier carries bbox or anchor")
		}
		ref.Precision = model.PrecisionPage
		ref.Page = model.IntPtr(*rec.Page)
	case model.PrecisionDocument:
		if rec.Page != nil || rec.BBox != nil || rec.Anchor != nil {
			issue(IssueExtraLocation, "document tier carries location")
		}
		ref.Precision = model.PrecisionDocument
	}
	return ref, issues
}

// NormalizeAll normalizes records in order, logging any issues.
func NormalizeAll(recs []model.EvidenceRecord) []model.EvidenceRef {
	refs := make([]model.EvidenceRef, 0, len(recs))
	for _, rec := range recs {
		ref, issues := Normalize(rec)
		for _, is := range issues {
			zap.L().Debug("tier: normalized with issue",
				zap.String("evidence_id", is.EvidenceID),
				zap.String("kind", string(is.Kind)),
				zap.String("detail", is.Detail),
			)
		}
		refs = append(refs, ref)
	}
	return refs
}

// ValidBBox reports whether every coordinate lies within the page.
func ValidBBox(b model.BBox) bool {
	const eps = 1e-9
	in := func(v float64) bool { return v >= 0 && v <= 100 }
	return in(b.X) && in(b.Y) && in(b.Width) && in(b.Height) &&
		b.X+b.Width <= 100+eps && b.Y+b.Height <= 100+eps
}

// demote strips all location data and marks the ref as document precision.
// The storage label is kept so audit records reflect what was stored.
func demote(ref model.EvidenceRef) model.EvidenceRef {
	ref.Precision = model.PrecisionDocument
	ref.Page = nil
	ref.BBox = nil
	ref.Anchor = nil
	return ref
}

func copyAnchor(a *model.TextAnchor) *model.TextAnchor {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

func clampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
