package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/store"
)

func newImportStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "import.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

const importFixture = `{"id":"ev-1","field_id":"contract_value","field_record_type":"contract","source_type":"extraction","source_id":"ext-1","document_id":"doc-1","tier":"exact","confidence":0.92,"value":"$1,200,000","page":3,"bbox":{"page":3,"x":10,"y":20,"width":30,"height":5}}

{"id":"ev-2","field_id":"contract_value","field_record_type":"contract","source_type":"fact","source_id":"fact-9","document_id":"doc-1","tier":"page","confidence":0.55,"page":4}
{"id":"ev-3","field_id":"contract_value","field_record_type":"contract","source_type":"extraction","source_id":"ext-2","document_id":"doc-1","tier":"exact","confidence":0.95,"value":"$1,250,000","bbox":{"page":3,"x":10,"y":20,"width":30,"height":5},"supersedes":"ev-1"}
`

func TestParseEvidenceLines(t *testing.T) {
	lines, err := parseEvidenceLines(strings.NewReader(importFixture))
	require.NoError(t, err)
	require.Len(t, lines, 3)

	assert.Equal(t, "ev-1", lines[0].ID)
	assert.Equal(t, model.RecordContract, lines[0].FieldRecordType)
	require.NotNil(t, lines[0].BBox)
	assert.Equal(t, 3, lines[0].BBox.Page)
	assert.Empty(t, lines[0].Supersedes)
	assert.Equal(t, "ev-1", lines[2].Supersedes)
}

func TestParseEvidenceLines_Invalid(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"bad json", `{"id":`, "line 1: decode"},
		{"missing field", `{"field_record_type":"contract","source_type":"fact"}`, "field_id is required"},
		{"record type", `{"field_id":"f","field_record_type":"lease","source_type":"fact"}`, "unknown field_record_type"},
		{"source type", `{"field_id":"f","field_record_type":"contract","source_type":"email"}`, "unknown source_type"},
		{"confidence", `{"field_id":"f","field_record_type":"contract","source_type":"fact","confidence":1.5}`, "outside [0, 1]"},
		{"tier", `{"field_id":"f","field_record_type":"contract","source_type":"fact","tier":"paragraph"}`, "paragraph"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseEvidenceLines(strings.NewReader(tt.line))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestImportEvidence_InsertsAndSupersedes(t *testing.T) {
	st := newImportStore(t)
	ctx := context.Background()

	lines, err := parseEvidenceLines(strings.NewReader(importFixture))
	require.NoError(t, err)

	stats, err := importEvidence(ctx, st, lines, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Inserted)
	assert.Equal(t, 1, stats.Superseded)
	assert.Equal(t, 0, stats.Issues)

	current, err := st.EvidenceForField(ctx, "contract_value", model.RecordContract)
	require.NoError(t, err)
	ids := make([]string, 0, len(current))
	for _, r := range current {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"ev-3", "ev-2"}, ids)

	old, err := st.GetEvidence(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "ev-3", old.SupersededBy)
}

func TestImportEvidence_CountsLocationIssues(t *testing.T) {
	st := newImportStore(t)

	lines := []importLine{{EvidenceRecord: model.EvidenceRecord{
		ID:              "ev-x",
		FieldID:         "contract_value",
		FieldRecordType: model.RecordContract,
		SourceType:      model.SourceExtraction,
		StorageTier:     "exact",
		Confidence:      0.7,
	}}}

	stats, err := importEvidence(context.Background(), st, lines, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Inserted)
	assert.Positive(t, stats.Issues)
}

func TestImportEvidence_SupersedeMissing(t *testing.T) {
	st := newImportStore(t)

	lines := []importLine{{
		EvidenceRecord: model.EvidenceRecord{
			ID:              "ev-new",
			FieldID:         "contract_value",
			FieldRecordType: model.RecordContract,
			SourceType:      model.SourceDocument,
			StorageTier:     "document",
			DocumentID:      "doc-1",
		},
		Supersedes: "ev-missing",
	}}

	stats, err := importEvidence(context.Background(), st, lines, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 1, stats.Inserted)
}
