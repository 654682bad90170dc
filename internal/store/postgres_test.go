package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/evidence-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS evidence`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertEvidence_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"evidence"}, evidenceCopyColumns).WillReturnResult(2)

	recs := []model.EvidenceRecord{sampleRecord("ev-1", 0.9), sampleRecord("", 0.4)}
	require.NoError(t, s.InsertEvidence(context.Background(), recs))
	assert.NotEmpty(t, recs[1].ID)
	assert.Equal(t, model.ProvenanceNone, recs[1].ProvenanceStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertEvidence_CopyError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"evidence"}, evidenceCopyColumns).
		WillReturnError(errors.New("connection reset"))

	err := s.InsertEvidence(context.Background(), []model.EvidenceRecord{sampleRecord("ev-1", 0.9)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: insert evidence")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertEvidence_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	require.NoError(t, s.InsertEvidence(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetEvidence_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM evidence WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetEvidence(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EvidenceForDocument_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM evidence WHERE document_id = \$1 AND superseded_by IS NULL ORDER BY confidence DESC`).
		WithArgs("doc-1").
		WillReturnError(errors.New("timeout"))

	_, err := s.EvidenceForDocument(context.Background(), "doc-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: query evidence")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SupersedeEvidence(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE evidence SET superseded_by = \$1 WHERE id = \$2 AND superseded_by IS NULL`).
		WithArgs("ev-new", "ev-old").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE evidence SET superseded_by`).
		WithArgs("ev-new", "ev-old").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := context.Background()
	require.NoError(t, s.SupersedeEvidence(ctx, "ev-old", "ev-new"))
	err := s.SupersedeEvidence(ctx, "ev-old", "ev-new")
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendViewEvent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	ts := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO view_events`).
		WithArgs("v-1", "contract_value", "contract", "ev-1", "doc-1", 4, "exact", ts).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.AppendViewEvent(context.Background(), model.ViewEvent{
		ID: "v-1", FieldID: "contract_value", FieldRecordType: model.RecordContract,
		EvidenceRefID: "ev-1", DocumentID: "doc-1", Page: 4, TierUsed: "exact", Timestamp: ts,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendAutofillDecision_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO autofill_decisions`).
		WithArgs(pgxmock.AnyArg(), "tpl-1", "contract_value", "", "rejected", 0.7, pgxmock.AnyArg()).
		WillReturnError(errors.New("autofill_decisions is append-only"))

	err := s.AppendAutofillDecision(context.Background(), model.AutofillDecision{
		TemplateID: "tpl-1", FieldID: "contract_value", Decision: model.DecisionRejected, Confidence: 0.7,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: append autofill decision")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAutofillDecisions(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"id", "template_id", "field_id", "predicate_id", "decision", "confidence", "created_at"}).
		AddRow("d-1", "tpl-1", "contract_value", "p-1", "accepted", 0.91, ts)

	mock.ExpectQuery(`FROM autofill_decisions WHERE true AND template_id = \$1 AND field_id = \$2 ORDER BY created_at ASC, id ASC LIMIT \$3`).
		WithArgs("tpl-1", "contract_value", 100).
		WillReturnRows(rows)

	got, err := s.ListAutofillDecisions(context.Background(), DecisionFilter{TemplateID: "tpl-1", FieldID: "contract_value"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.DecisionAccepted, got[0].Decision)
	assert.Equal(t, ts, got[0].Timestamp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListViewEvents(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"id", "field_id", "field_record_type", "evidence_ref_id", "document_id", "page", "tier_used", "created_at"}).
		AddRow("v-1", "contract_value", "contract", "ev-1", "doc-1", 2, "page", ts).
		AddRow("v-2", "contract_value", "contract", "ev-2", "doc-1", 0, "document", ts.Add(time.Second))

	mock.ExpectQuery(`FROM view_events WHERE true AND document_id = \$1 ORDER BY created_at ASC, id ASC LIMIT \$2`).
		WithArgs("doc-1", 5).
		WillReturnRows(rows)

	got, err := s.ListViewEvents(context.Background(), ViewFilter{DocumentID: "doc-1", Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.RecordContract, got[0].FieldRecordType)
	assert.Equal(t, 2, got[0].Page)
	assert.Equal(t, "document", got[1].TierUsed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Close_NilCloseFn(t *testing.T) {
	s := &PostgresStore{}
	assert.NoError(t, s.Close())
}
