package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/overlay"
	"github.com/sells-group/evidence-cli/internal/tier"
)

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// field returns the registered definition for key, or a bare definition
// when the field is not in the registry.
func (h *Handler) field(key string, rt model.RecordType) model.FieldDefinition {
	if def := h.fields.ByKey(key); def != nil && def.RecordType == rt {
		return *def
	}
	return model.FieldDefinition{Key: key, RecordType: rt}
}

func (h *Handler) fieldDecision(w http.ResponseWriter, r *http.Request) {
	rt := model.RecordType(chi.URLParam(r, "recordType"))
	if !rt.Valid() {
		writeError(w, http.StatusBadRequest, "unknown record type")
		return
	}
	fieldID := chi.URLParam(r, "fieldID")

	hasValue := false
	if raw := r.URL.Query().Get("has_value"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "has_value must be a boolean")
			return
		}
		hasValue = v
	}

	refs := h.evidence.ForField(r.Context(), fieldID, rt)
	writeJSON(w, http.StatusOK, h.engine.Decide(r.Context(), h.field(fieldID, rt), hasValue, refs))
}

type pageEvidenceResponse struct {
	DocumentID string              `json:"document_id"`
	Page       int                 `json:"page"`
	Evidence   []model.EvidenceRef `json:"evidence"`
	Highlights []overlay.Highlight `json:"highlights"`
}

func (h *Handler) pageEvidence(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}

	var dims overlay.PageDimensions
	q := r.URL.Query()
	if q.Has("width") || q.Has("height") {
		width, werr := strconv.ParseFloat(q.Get("width"), 64)
		height, herr := strconv.ParseFloat(q.Get("height"), 64)
		dims = overlay.PageDimensions{Width: width, Height: height}
		if werr != nil || herr != nil || !dims.Valid() {
			writeError(w, http.StatusBadRequest, "width and height must be positive numbers")
			return
		}
	}

	refs := h.evidence.ForDocumentPage(r.Context(), documentID, page)
	ov := overlay.Build(refs, page, dims)
	highlights := ov.Highlights
	if highlights == nil {
		highlights = []overlay.Highlight{}
	}
	writeJSON(w, http.StatusOK, pageEvidenceResponse{
		DocumentID: documentID,
		Page:       page,
		Evidence:   ov.Metadata,
		Highlights: highlights,
	})
}

type viewRequest struct {
	FieldID         string           `json:"field_id"`
	FieldRecordType model.RecordType `json:"field_record_type"`
	EvidenceRefID   string           `json:"evidence_ref_id"`
	DocumentID      string           `json:"document_id"`
	Page            int              `json:"page"`
	TierUsed        string           `json:"tier_used"`
}

func (h *Handler) logView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch {
	case req.FieldID == "" || req.EvidenceRefID == "":
		writeError(w, http.StatusBadRequest, "field_id and evidence_ref_id are required")
		return
	case req.FieldRecordType != "" && !req.FieldRecordType.Valid():
		writeError(w, http.StatusBadRequest, "unknown field_record_type")
		return
	case req.Page < 0:
		writeError(w, http.StatusBadRequest, "page must not be negative")
		return
	}
	if _, err := tier.FromStorage(req.TierUsed); err != nil {
		writeError(w, http.StatusBadRequest, "unknown tier_used")
		return
	}

	h.evidence.LogView(r.Context(), req.FieldID, req.FieldRecordType, req.EvidenceRefID, req.DocumentID, req.Page, req.TierUsed)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type decisionRequest struct {
	TemplateID  string                `json:"template_id"`
	FieldID     string                `json:"field_id"`
	PredicateID string                `json:"predicate_id"`
	Decision    model.DecisionOutcome `json:"decision"`
	Confidence  float64               `json:"confidence"`
}

func (h *Handler) recordDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch {
	case req.FieldID == "":
		writeError(w, http.StatusBadRequest, "field_id is required")
		return
	case !req.Decision.Valid():
		writeError(w, http.StatusBadRequest, "decision must be accepted or rejected")
		return
	case req.Confidence < 0 || req.Confidence > 1:
		writeError(w, http.StatusBadRequest, "confidence must be within [0, 1]")
		return
	}

	h.evidence.RecordAutofillDecision(r.Context(), req.TemplateID, req.FieldID, req.PredicateID, req.Decision, req.Confidence)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
