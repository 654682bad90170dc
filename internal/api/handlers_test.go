package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/evidence-cli/internal/autofill"
	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/overlay"
)

type fakeEvidence struct {
	mu        sync.Mutex
	field     []model.EvidenceRef
	page      []model.EvidenceRef
	views     []viewRequest
	decisions []decisionRequest
}

func (f *fakeEvidence) ForField(context.Context, string, model.RecordType) []model.EvidenceRef {
	return f.field
}

func (f *fakeEvidence) ForDocumentPage(_ context.Context, _ string, page int) []model.EvidenceRef {
	return overlay.FilterPage(f.page, page)
}

func (f *fakeEvidence) LogView(_ context.Context, fieldID string, rt model.RecordType, evidenceRefID, documentID string, page int, tierUsed string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views = append(f.views, viewRequest{fieldID, rt, evidenceRefID, documentID, page, tierUsed})
}

func (f *fakeEvidence) RecordAutofillDecision(_ context.Context, templateID, fieldID, predicateID string, decision model.DecisionOutcome, confidence float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, decisionRequest{templateID, fieldID, predicateID, decision, confidence})
}

func newTestRouter(ev *fakeEvidence, opts Options) http.Handler {
	fields := model.NewFieldRegistry([]model.FieldDefinition{
		{Key: "bank_account_number", RecordType: model.RecordCompanyProfile, Sensitivity: "bank_account"},
		{Key: "contract_value", RecordType: model.RecordContract, Label: "Contract value"},
	})
	engine := autofill.NewEngine(nil, autofill.DefaultThresholds())
	return NewHandler(ev, engine, fields).Router(opts)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func ref(id string, confidence float64, value any) model.EvidenceRef {
	return model.EvidenceRef{
		ID: id, SourceType: model.SourceExtraction, DocumentID: "doc-1",
		Precision: model.PrecisionExact, StorageTier: "exact", Confidence: confidence, Value: value,
		BBox: &model.BBox{Page: 2, X: 10, Y: 10, Width: 50, Height: 10},
	}
}

func TestHealth(t *testing.T) {
	rr := do(t, newTestRouter(&fakeEvidence{}, Options{}), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestFieldDecision_AutoFill(t *testing.T) {
	ev := &fakeEvidence{field: []model.EvidenceRef{ref("a", 0.85, "$1M"), ref("b", 0.40, "$2M")}}
	rr := do(t, newTestRouter(ev, Options{}), http.MethodGet, "/fields/contract/contract_value/decision", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var d autofill.Decision
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &d))
	assert.Equal(t, autofill.ModeAutoFill, d.Mode)
	assert.Equal(t, "Contract value", d.Label)
	assert.False(t, d.Ambiguous)
	require.NotNil(t, d.Best)
	assert.Equal(t, "a", d.Best.EvidenceID)
	assert.Equal(t, "$1M", d.Best.Value)
}

func TestFieldDecision_HasValueSuggests(t *testing.T) {
	ev := &fakeEvidence{field: []model.EvidenceRef{ref("a", 0.95, "$1M")}}
	rr := do(t, newTestRouter(ev, Options{}), http.MethodGet, "/fields/contract/contract_value/decision?has_value=true", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var d autofill.Decision
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &d))
	assert.Equal(t, autofill.ModeSuggest, d.Mode)
}

func TestFieldDecision_SensitiveBlocked(t *testing.T) {
	ev := &fakeEvidence{field: []model.EvidenceRef{ref("a", 0.92, "0123456789")}}
	rr := do(t, newTestRouter(ev, Options{}), http.MethodGet, "/fields/company_profile/bank_account_number/decision", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var d autofill.Decision
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &d))
	assert.Equal(t, autofill.ModeBlocked, d.Mode)
	assert.Equal(t, autofill.NoticeManualEntry, d.Notice)
	assert.NotContains(t, rr.Body.String(), "0123456789")
}

func TestFieldDecision_BadInput(t *testing.T) {
	h := newTestRouter(&fakeEvidence{}, Options{})

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/fields/spaceship/x/decision", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/fields/contract/x/decision?has_value=maybe", nil).Code)
}

func TestPageEvidence_WithDimensions(t *testing.T) {
	pageRef := model.EvidenceRef{ID: "p", Precision: model.PrecisionPage, StorageTier: "page", Page: model.IntPtr(2)}
	docRef := model.EvidenceRef{ID: "d", Precision: model.PrecisionDocument, StorageTier: "document"}
	ev := &fakeEvidence{page: []model.EvidenceRef{ref("a", 0.9, "x"), pageRef, docRef}}

	rr := do(t, newTestRouter(ev, Options{}), http.MethodGet, "/documents/doc-1/pages/2/evidence?width=1000&height=800", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body pageEvidenceResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Page)
	assert.Len(t, body.Evidence, 3)
	require.Len(t, body.Highlights, 2)
	assert.Equal(t, overlay.KindFrame, body.Highlights[0].Kind)
	assert.Equal(t, overlay.KindRect, body.Highlights[1].Kind)
	assert.InDelta(t, 100, body.Highlights[1].Rect.Left, 1e-9)
	assert.InDelta(t, 500, body.Highlights[1].Rect.Width, 1e-9)
}

func TestPageEvidence_NoDimensions(t *testing.T) {
	ev := &fakeEvidence{page: []model.EvidenceRef{ref("a", 0.9, "x")}}
	rr := do(t, newTestRouter(ev, Options{}), http.MethodGet, "/documents/doc-1/pages/2/evidence", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body pageEvidenceResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body.Evidence, 1)
	assert.Empty(t, body.Highlights)
	assert.Contains(t, rr.Body.String(), `"highlights":[]`)
}

func TestPageEvidence_BadInput(t *testing.T) {
	h := newTestRouter(&fakeEvidence{}, Options{})

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/documents/doc-1/pages/0/evidence", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/documents/doc-1/pages/two/evidence", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/documents/doc-1/pages/1/evidence?width=100", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/documents/doc-1/pages/1/evidence?width=-1&height=5", nil).Code)
}

func TestLogView(t *testing.T) {
	ev := &fakeEvidence{}
	h := newTestRouter(ev, Options{})

	rr := do(t, h, http.MethodPost, "/views", map[string]any{
		"field_id": "contract_value", "field_record_type": "contract",
		"evidence_ref_id": "ev-1", "document_id": "doc-1", "page": 2, "tier_used": "text_match",
	})
	assert.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, ev.views, 1)
	assert.Equal(t, "text_match", ev.views[0].TierUsed)
	assert.Equal(t, model.RecordContract, ev.views[0].FieldRecordType)
}

func TestLogView_Rejects(t *testing.T) {
	ev := &fakeEvidence{}
	h := newTestRouter(ev, Options{})

	tests := []struct {
		name string
		body any
	}{
		{"missing ids", map[string]any{"tier_used": "page"}},
		{"unknown tier", map[string]any{"field_id": "f", "evidence_ref_id": "e", "tier_used": "guess"}},
		{"unknown record type", map[string]any{"field_id": "f", "evidence_ref_id": "e", "tier_used": "page", "field_record_type": "boat"}},
		{"negative page", map[string]any{"field_id": "f", "evidence_ref_id": "e", "tier_used": "page", "page": -1}},
		{"not json", "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/views", tt.body).Code)
		})
	}
	assert.Empty(t, ev.views)
}

func TestRecordDecision(t *testing.T) {
	ev := &fakeEvidence{}
	h := newTestRouter(ev, Options{})

	rr := do(t, h, http.MethodPost, "/autofill-decisions", map[string]any{
		"template_id": "tpl-1", "field_id": "contract_value", "predicate_id": "p-1",
		"decision": "accepted", "confidence": 0.88,
	})
	assert.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, ev.decisions, 1)
	assert.Equal(t, model.DecisionAccepted, ev.decisions[0].Decision)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/autofill-decisions", map[string]any{
		"field_id": "contract_value", "decision": "maybe", "confidence": 0.5,
	}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/autofill-decisions", map[string]any{
		"field_id": "contract_value", "decision": "rejected", "confidence": 1.5,
	}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/autofill-decisions", map[string]any{
		"decision": "rejected", "confidence": 0.5,
	}).Code)
	assert.Len(t, ev.decisions, 1)
}

func TestRateLimit(t *testing.T) {
	h := newTestRouter(&fakeEvidence{}, Options{RateLimit: 0.001, RateBurst: 1})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodGet, "/health", nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestRouter(&fakeEvidence{}, Options{AllowedOrigins: []string{"https://review.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/views", nil)
	req.Header.Set("Origin", "https://review.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://review.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}
