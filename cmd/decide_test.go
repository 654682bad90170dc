package main

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/evidence-cli/internal/autofill"
	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/sensitivity"
)

type stubFieldEvidence struct {
	mu    sync.Mutex
	refs  map[string][]model.EvidenceRef
	calls []string
}

func (s *stubFieldEvidence) ForField(_ context.Context, fieldID string, _ model.RecordType) []model.EvidenceRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fieldID)
	return s.refs[fieldID]
}

func exactRef(id, field string, conf float64, value any) model.EvidenceRef {
	return model.EvidenceRef{
		ID:              id,
		FieldID:         field,
		FieldRecordType: model.RecordContract,
		SourceType:      model.SourceExtraction,
		DocumentID:      "doc-1",
		Precision:       model.PrecisionExact,
		StorageTier:     "exact",
		Confidence:      conf,
		Value:           value,
		BBox:            &model.BBox{Page: 2, X: 10, Y: 10, Width: 20, Height: 5},
	}
}

func TestDecideFields_KeepsOrderAndModes(t *testing.T) {
	src := &stubFieldEvidence{refs: map[string][]model.EvidenceRef{
		"contract_value": {exactRef("ev-1", "contract_value", 0.93, "$1,200,000")},
		"start_date":     {exactRef("ev-2", "start_date", 0.65, "2024-01-01")},
		"tax_id":         {exactRef("ev-3", "tax_id", 0.99, "12-3456789")},
	}}
	engine := autofill.NewEngine(sensitivity.Default(), autofill.DefaultThresholds())

	fields := []model.FieldDefinition{
		{Key: "contract_value", RecordType: model.RecordContract},
		{Key: "start_date", RecordType: model.RecordContract},
		{Key: "tax_id", RecordType: model.RecordContract, Sensitivity: "tax_id"},
		{Key: "renewal_terms", RecordType: model.RecordContract},
	}

	got, err := decideFields(context.Background(), src, engine, fields, false, 2)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, "contract_value", got[0].FieldID)
	assert.Equal(t, autofill.ModeAutoFill, got[0].Mode)
	assert.Equal(t, autofill.ModeSuggest, got[1].Mode)
	assert.Equal(t, autofill.ModeBlocked, got[2].Mode)
	assert.Equal(t, autofill.NoticeManualEntry, got[2].Notice)
	assert.Equal(t, autofill.ModeNone, got[3].Mode)
	assert.Len(t, src.calls, 4)
}

func TestDecideFields_HasValueSuggests(t *testing.T) {
	src := &stubFieldEvidence{refs: map[string][]model.EvidenceRef{
		"contract_value": {exactRef("ev-1", "contract_value", 0.93, "$1,200,000")},
	}}
	engine := autofill.NewEngine(sensitivity.Default(), autofill.DefaultThresholds())

	got, err := decideFields(context.Background(), src, engine,
		[]model.FieldDefinition{{Key: "contract_value", RecordType: model.RecordContract}}, true, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, autofill.ModeSuggest, got[0].Mode)
}

func TestDecideFields_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := autofill.NewEngine(sensitivity.Default(), autofill.DefaultThresholds())
	_, err := decideFields(ctx, &stubFieldEvidence{}, engine,
		[]model.FieldDefinition{{Key: "contract_value", RecordType: model.RecordContract}}, false, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecideTargets(t *testing.T) {
	defer func(f, rt string, all bool) {
		decideField, decideRecordType, decideAll = f, rt, all
	}(decideField, decideRecordType, decideAll)

	reg := model.NewFieldRegistry([]model.FieldDefinition{
		{Key: "contract_value", RecordType: model.RecordContract, Label: "Contract value"},
		{Key: "ssn", RecordType: model.RecordCompanyProfile, Sensitivity: "ssn"},
	})

	t.Run("registered field", func(t *testing.T) {
		decideAll, decideField, decideRecordType = false, "contract_value", "contract"
		got, err := decideTargets(reg)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Contract value", got[0].Label)
	})

	t.Run("unregistered field", func(t *testing.T) {
		decideAll, decideField, decideRecordType = false, "po_number", "invoice"
		got, err := decideTargets(reg)
		require.NoError(t, err)
		assert.Equal(t, []model.FieldDefinition{{Key: "po_number", RecordType: model.RecordInvoice}}, got)
	})

	t.Run("all", func(t *testing.T) {
		decideAll = true
		got, err := decideTargets(reg)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("all with empty registry", func(t *testing.T) {
		decideAll = true
		_, err := decideTargets(model.NewFieldRegistry(nil))
		require.Error(t, err)
	})

	t.Run("missing field", func(t *testing.T) {
		decideAll, decideField = false, ""
		_, err := decideTargets(reg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--field or --all")
	})

	t.Run("bad record type", func(t *testing.T) {
		decideAll, decideField, decideRecordType = false, "contract_value", "lease"
		_, err := decideTargets(reg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown record type")
	})
}
