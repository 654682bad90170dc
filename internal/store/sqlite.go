package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/evidence-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS evidence (
	id                TEXT PRIMARY KEY,
	field_id          TEXT NOT NULL,
	field_record_type TEXT NOT NULL,
	source_type       TEXT NOT NULL,
	source_id         TEXT NOT NULL DEFAULT '',
	document_id       TEXT NOT NULL DEFAULT '',
	tier              TEXT NOT NULL,
	confidence        REAL NOT NULL,
	value             TEXT,
	snippet           TEXT NOT NULL DEFAULT '',
	page              INTEGER,
	bbox              TEXT,
	anchor            TEXT,
	provenance_status TEXT NOT NULL DEFAULT 'none',
	superseded_by     TEXT,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS view_events (
	id                TEXT PRIMARY KEY,
	field_id          TEXT NOT NULL,
	field_record_type TEXT NOT NULL DEFAULT '',
	evidence_ref_id   TEXT NOT NULL,
	document_id       TEXT NOT NULL DEFAULT '',
	page              INTEGER NOT NULL DEFAULT 0,
	tier_used         TEXT NOT NULL,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS autofill_decisions (
	id           TEXT PRIMARY KEY,
	template_id  TEXT NOT NULL DEFAULT '',
	field_id     TEXT NOT NULL,
	predicate_id TEXT NOT NULL DEFAULT '',
	decision     TEXT NOT NULL CHECK (decision IN ('accepted', 'rejected')),
	confidence   REAL NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_evidence_document ON evidence(document_id);
CREATE INDEX IF NOT EXISTS idx_evidence_field ON evidence(field_id, field_record_type);
CREATE INDEX IF NOT EXISTS idx_view_events_field ON view_events(field_id);
CREATE INDEX IF NOT EXISTS idx_autofill_decisions_field ON autofill_decisions(field_id);

CREATE TRIGGER IF NOT EXISTS evidence_immutable
BEFORE UPDATE OF id, field_id, field_record_type, source_type, source_id, document_id,
	tier, confidence, value, snippet, page, bbox, anchor, created_at ON evidence
BEGIN
	SELECT RAISE(ABORT, 'evidence is immutable');
END;

CREATE TRIGGER IF NOT EXISTS view_events_append_only_update
BEFORE UPDATE ON view_events
BEGIN
	SELECT RAISE(ABORT, 'view_events is append-only');
END;

CREATE TRIGGER IF NOT EXISTS view_events_append_only_delete
BEFORE DELETE ON view_events
BEGIN
	SELECT RAISE(ABORT, 'view_events is append-only');
END;

CREATE TRIGGER IF NOT EXISTS autofill_decisions_append_only_update
BEFORE UPDATE ON autofill_decisions
BEGIN
	SELECT RAISE(ABORT, 'autofill_decisions is append-only');
END;

CREATE TRIGGER IF NOT EXISTS autofill_decisions_append_only_delete
BEFORE DELETE ON autofill_decisions
BEGIN
	SELECT RAISE(ABORT, 'autofill_decisions is append-only');
END;
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const evidenceColumns = `id, field_id, field_record_type, source_type, source_id, document_id, tier,
	confidence, value, snippet, page, bbox, anchor, provenance_status, superseded_by, created_at`

const evidenceOrder = ` ORDER BY confidence DESC, created_at ASC, id ASC`

func (s *SQLiteStore) InsertEvidence(ctx context.Context, recs []model.EvidenceRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert evidence")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO evidence (`+evidenceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert evidence")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range recs {
		rec := &recs[i]
		prepareRecord(rec, now)
		args, err := evidenceArgs(rec)
		if err != nil {
			return eris.Wrapf(err, "sqlite: encode evidence %s", rec.ID)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "sqlite: insert evidence %s", rec.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit evidence")
}

func (s *SQLiteStore) GetEvidence(ctx context.Context, id string) (*model.EvidenceRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+evidenceColumns+` FROM evidence WHERE id = ?`, id)
	rec, err := scanEvidence(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "evidence %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get evidence")
	}
	return rec, nil
}

func (s *SQLiteStore) EvidenceForDocument(ctx context.Context, documentID string) ([]model.EvidenceRecord, error) {
	return s.queryEvidence(ctx,
		`SELECT `+evidenceColumns+` FROM evidence WHERE document_id = ? AND superseded_by IS NULL`+evidenceOrder,
		documentID,
	)
}

func (s *SQLiteStore) EvidenceForField(ctx context.Context, fieldID string, recordType model.RecordType) ([]model.EvidenceRecord, error) {
	return s.queryEvidence(ctx,
		`SELECT `+evidenceColumns+` FROM evidence WHERE field_id = ? AND field_record_type = ? AND superseded_by IS NULL`+evidenceOrder,
		fieldID, string(recordType),
	)
}

func (s *SQLiteStore) queryEvidence(ctx context.Context, query string, args ...any) ([]model.EvidenceRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query evidence")
	}
	defer rows.Close()

	var out []model.EvidenceRecord
	for rows.Next() {
		rec, err := scanEvidence(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan evidence")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: query evidence iterate")
}

func (s *SQLiteStore) SupersedeEvidence(ctx context.Context, oldID, newID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE evidence SET superseded_by = ? WHERE id = ? AND superseded_by IS NULL`,
		newID, oldID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: supersede evidence %s", oldID)
	}
	return checkRowsAffected(res, "evidence", oldID)
}

func (s *SQLiteStore) AppendViewEvent(ctx context.Context, ev model.ViewEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO view_events (id, field_id, field_record_type, evidence_ref_id, document_id, page, tier_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.FieldID, string(ev.FieldRecordType), ev.EvidenceRefID, ev.DocumentID, ev.Page, ev.TierUsed, ev.Timestamp,
	)
	return eris.Wrap(err, "sqlite: append view event")
}

func (s *SQLiteStore) AppendAutofillDecision(ctx context.Context, d model.AutofillDecision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO autofill_decisions (id, template_id, field_id, predicate_id, decision, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.TemplateID, d.FieldID, d.PredicateID, string(d.Decision), d.Confidence, d.Timestamp,
	)
	return eris.Wrap(err, "sqlite: append autofill decision")
}

func (s *SQLiteStore) ListViewEvents(ctx context.Context, filter ViewFilter) ([]model.ViewEvent, error) {
	query := `SELECT id, field_id, field_record_type, evidence_ref_id, document_id, page, tier_used, created_at
		FROM view_events WHERE 1=1`
	var args []any
	if filter.FieldID != "" {
		query += ` AND field_id = ?`
		args = append(args, filter.FieldID)
	}
	if filter.DocumentID != "" {
		query += ` AND document_id = ?`
		args = append(args, filter.DocumentID)
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list view events")
	}
	defer rows.Close()

	var out []model.ViewEvent
	for rows.Next() {
		var ev model.ViewEvent
		var rt string
		if err := rows.Scan(&ev.ID, &ev.FieldID, &rt, &ev.EvidenceRefID, &ev.DocumentID, &ev.Page, &ev.TierUsed, &ev.Timestamp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan view event")
		}
		ev.FieldRecordType = model.RecordType(rt)
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list view events iterate")
}

func (s *SQLiteStore) ListAutofillDecisions(ctx context.Context, filter DecisionFilter) ([]model.AutofillDecision, error) {
	query := `SELECT id, template_id, field_id, predicate_id, decision, confidence, created_at
		FROM autofill_decisions WHERE 1=1`
	var args []any
	if filter.TemplateID != "" {
		query += ` AND template_id = ?`
		args = append(args, filter.TemplateID)
	}
	if filter.FieldID != "" {
		query += ` AND field_id = ?`
		args = append(args, filter.FieldID)
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list autofill decisions")
	}
	defer rows.Close()

	var out []model.AutofillDecision
	for rows.Next() {
		var d model.AutofillDecision
		var decision string
		if err := rows.Scan(&d.ID, &d.TemplateID, &d.FieldID, &d.PredicateID, &decision, &d.Confidence, &d.Timestamp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan autofill decision")
		}
		d.Decision = model.DecisionOutcome(decision)
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list autofill decisions iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func evidenceArgs(rec *model.EvidenceRecord) ([]any, error) {
	value, err := valueJSON(rec.Value)
	if err != nil {
		return nil, err
	}
	bbox, err := nullableJSON(rec.BBox)
	if err != nil {
		return nil, err
	}
	anchor, err := nullableJSON(rec.Anchor)
	if err != nil {
		return nil, err
	}
	var superseded any
	if rec.SupersededBy != "" {
		superseded = rec.SupersededBy
	}
	var page any
	if rec.Page != nil {
		page = *rec.Page
	}
	return []any{
		rec.ID, rec.FieldID, string(rec.FieldRecordType), string(rec.SourceType), rec.SourceID, rec.DocumentID,
		rec.StorageTier, rec.Confidence, nullString(value), rec.Snippet, page, nullString(bbox), nullString(anchor),
		string(rec.ProvenanceStatus), superseded, rec.CreatedAt,
	}, nil
}

func nullString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func scanEvidence(row scannable) (*model.EvidenceRecord, error) {
	var rec model.EvidenceRecord
	var rt, st, ps string
	var value, bbox, anchor, superseded sql.NullString
	var page sql.NullInt64

	err := row.Scan(&rec.ID, &rec.FieldID, &rt, &st, &rec.SourceID, &rec.DocumentID, &rec.StorageTier,
		&rec.Confidence, &value, &rec.Snippet, &page, &bbox, &anchor, &ps, &superseded, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.FieldRecordType = model.RecordType(rt)
	rec.SourceType = model.SourceType(st)
	rec.ProvenanceStatus = model.ProvenanceStatus(ps)
	rec.SupersededBy = superseded.String
	if page.Valid {
		rec.Page = model.IntPtr(int(page.Int64))
	}
	if rec.Value, err = decodeValue([]byte(value.String)); err != nil {
		return nil, eris.Wrap(err, "decode value")
	}
	if rec.BBox, err = decodeJSON[model.BBox]([]byte(bbox.String)); err != nil {
		return nil, eris.Wrap(err, "decode bbox")
	}
	if rec.Anchor, err = decodeJSON[model.TextAnchor]([]byte(anchor.String)); err != nil {
		return nil, eris.Wrap(err, "decode anchor")
	}
	return &rec, nil
}
