package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/evidence-cli/internal/db"
	"github.com/sells-group/evidence-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"get_evidence":          `SELECT ` + evidenceColumns + ` FROM evidence WHERE id = $1`,
	"evidence_for_document": `SELECT ` + evidenceColumns + ` FROM evidence WHERE document_id = $1 AND superseded_by IS NULL` + evidenceOrder,
	"evidence_for_field":    `SELECT ` + evidenceColumns + ` FROM evidence WHERE field_id = $1 AND field_record_type = $2 AND superseded_by IS NULL` + evidenceOrder,
	"insert_view_event": `INSERT INTO view_events (id, field_id, field_record_type, evidence_ref_id, document_id, page, tier_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"insert_autofill_decision": `INSERT INTO autofill_decisions (id, template_id, field_id, predicate_id, decision, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS evidence (
	id                TEXT PRIMARY KEY,
	field_id          TEXT NOT NULL,
	field_record_type TEXT NOT NULL,
	source_type       TEXT NOT NULL,
	source_id         TEXT NOT NULL DEFAULT '',
	document_id       TEXT NOT NULL DEFAULT '',
	tier              TEXT NOT NULL,
	confidence        DOUBLE PRECISION NOT NULL,
	value             JSONB,
	snippet           TEXT NOT NULL DEFAULT '',
	page              INTEGER,
	bbox              JSONB,
	anchor            JSONB,
	provenance_status TEXT NOT NULL DEFAULT 'none',
	superseded_by     TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS view_events (
	id                TEXT PRIMARY KEY,
	field_id          TEXT NOT NULL,
	field_record_type TEXT NOT NULL DEFAULT '',
	evidence_ref_id   TEXT NOT NULL,
	document_id       TEXT NOT NULL DEFAULT '',
	page              INTEGER NOT NULL DEFAULT 0,
	tier_used         TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS autofill_decisions (
	id           TEXT PRIMARY KEY,
	template_id  TEXT NOT NULL DEFAULT '',
	field_id     TEXT NOT NULL,
	predicate_id TEXT NOT NULL DEFAULT '',
	decision     TEXT NOT NULL CHECK (decision IN ('accepted', 'rejected')),
	confidence   DOUBLE PRECISION NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_evidence_document ON evidence(document_id) WHERE superseded_by IS NULL;
CREATE INDEX IF NOT EXISTS idx_evidence_field ON evidence(field_id, field_record_type) WHERE superseded_by IS NULL;
CREATE INDEX IF NOT EXISTS idx_view_events_field ON view_events(field_id);
CREATE INDEX IF NOT EXISTS idx_autofill_decisions_field ON autofill_decisions(field_id);

CREATE OR REPLACE FUNCTION reject_audit_mutation() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION '% is append-only', TG_TABLE_NAME;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS view_events_append_only ON view_events;
CREATE TRIGGER view_events_append_only
	BEFORE UPDATE OR DELETE ON view_events
	FOR EACH ROW EXECUTE FUNCTION reject_audit_mutation();

DROP TRIGGER IF EXISTS autofill_decisions_append_only ON autofill_decisions;
CREATE TRIGGER autofill_decisions_append_only
	BEFORE UPDATE OR DELETE ON autofill_decisions
	FOR EACH ROW EXECUTE FUNCTION reject_audit_mutation();
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var evidenceCopyColumns = []string{
	"id", "field_id", "field_record_type", "source_type", "source_id", "document_id", "tier",
	"confidence", "value", "snippet", "page", "bbox", "anchor", "provenance_status", "superseded_by", "created_at",
}

// InsertEvidence bulk-loads records with COPY.
func (s *PostgresStore) InsertEvidence(ctx context.Context, recs []model.EvidenceRecord) error {
	if len(recs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(recs))
	for i := range recs {
		rec := &recs[i]
		prepareRecord(rec, now)
		row, err := evidenceCopyRow(rec)
		if err != nil {
			return eris.Wrapf(err, "postgres: encode evidence %s", rec.ID)
		}
		rows = append(rows, row)
	}
	if _, err := db.CopyFrom(ctx, s.pool, "evidence", evidenceCopyColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: insert evidence")
	}
	return nil
}

func (s *PostgresStore) GetEvidence(ctx context.Context, id string) (*model.EvidenceRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+evidenceColumns+` FROM evidence WHERE id = $1`, id)
	rec, err := scanPgEvidence(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "evidence %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get evidence")
	}
	return rec, nil
}

func (s *PostgresStore) EvidenceForDocument(ctx context.Context, documentID string) ([]model.EvidenceRecord, error) {
	return s.queryEvidence(ctx,
		`SELECT `+evidenceColumns+` FROM evidence WHERE document_id = $1 AND superseded_by IS NULL`+evidenceOrder,
		documentID,
	)
}

func (s *PostgresStore) EvidenceForField(ctx context.Context, fieldID string, recordType model.RecordType) ([]model.EvidenceRecord, error) {
	return s.queryEvidence(ctx,
		`SELECT `+evidenceColumns+` FROM evidence WHERE field_id = $1 AND field_record_type = $2 AND superseded_by IS NULL`+evidenceOrder,
		fieldID, string(recordType),
	)
}

func (s *PostgresStore) queryEvidence(ctx context.Context, query string, args ...any) ([]model.EvidenceRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query evidence")
	}
	defer rows.Close()

	var out []model.EvidenceRecord
	for rows.Next() {
		rec, err := scanPgEvidence(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan evidence")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: query evidence iterate")
}

func (s *PostgresStore) SupersedeEvidence(ctx context.Context, oldID, newID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE evidence SET superseded_by = $1 WHERE id = $2 AND superseded_by IS NULL`,
		newID, oldID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: supersede evidence %s", oldID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "evidence %s", oldID)
	}
	return nil
}

func (s *PostgresStore) AppendViewEvent(ctx context.Context, ev model.ViewEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO view_events (id, field_id, field_record_type, evidence_ref_id, document_id, page, tier_used, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.FieldID, string(ev.FieldRecordType), ev.EvidenceRefID, ev.DocumentID, ev.Page, ev.TierUsed, ev.Timestamp,
	)
	return eris.Wrap(err, "postgres: append view event")
}

func (s *PostgresStore) AppendAutofillDecision(ctx context.Context, d model.AutofillDecision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO autofill_decisions (id, template_id, field_id, predicate_id, decision, confidence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.TemplateID, d.FieldID, d.PredicateID, string(d.Decision), d.Confidence, d.Timestamp,
	)
	return eris.Wrap(err, "postgres: append autofill decision")
}

func (s *PostgresStore) ListViewEvents(ctx context.Context, filter ViewFilter) ([]model.ViewEvent, error) {
	query := `SELECT id, field_id, field_record_type, evidence_ref_id, document_id, page, tier_used, created_at
		FROM view_events WHERE true`
	var args []any
	if filter.FieldID != "" {
		args = append(args, filter.FieldID)
		query += ` AND field_id = ` + placeholder(len(args))
	}
	if filter.DocumentID != "" {
		args = append(args, filter.DocumentID)
		query += ` AND document_id = ` + placeholder(len(args))
	}
	args = append(args, listLimit(filter.Limit))
	query += ` ORDER BY created_at ASC, id ASC LIMIT ` + placeholder(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list view events")
	}
	defer rows.Close()

	var out []model.ViewEvent
	for rows.Next() {
		var ev model.ViewEvent
		var rt string
		if err := rows.Scan(&ev.ID, &ev.FieldID, &rt, &ev.EvidenceRefID, &ev.DocumentID, &ev.Page, &ev.TierUsed, &ev.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan view event")
		}
		ev.FieldRecordType = model.RecordType(rt)
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list view events iterate")
}

func (s *PostgresStore) ListAutofillDecisions(ctx context.Context, filter DecisionFilter) ([]model.AutofillDecision, error) {
	query := `SELECT id, template_id, field_id, predicate_id, decision, confidence, created_at
		FROM autofill_decisions WHERE true`
	var args []any
	if filter.TemplateID != "" {
		args = append(args, filter.TemplateID)
		query += ` AND template_id = ` + placeholder(len(args))
	}
	if filter.FieldID != "" {
		args = append(args, filter.FieldID)
		query += ` AND field_id = ` + placeholder(len(args))
	}
	args = append(args, listLimit(filter.Limit))
	query += ` ORDER BY created_at ASC, id ASC LIMIT ` + placeholder(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list autofill decisions")
	}
	defer rows.Close()

	var out []model.AutofillDecision
	for rows.Next() {
		var d model.AutofillDecision
		var decision string
		if err := rows.Scan(&d.ID, &d.TemplateID, &d.FieldID, &d.PredicateID, &decision, &d.Confidence, &d.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan autofill decision")
		}
		d.Decision = model.DecisionOutcome(decision)
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list autofill decisions iterate")
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func evidenceCopyRow(rec *model.EvidenceRecord) ([]any, error) {
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
	var superseded *string
	if rec.SupersededBy != "" {
		superseded = &rec.SupersededBy
	}
	return []any{
		rec.ID, rec.FieldID, string(rec.FieldRecordType), string(rec.SourceType), rec.SourceID, rec.DocumentID,
		rec.StorageTier, rec.Confidence, nullBytes(value), rec.Snippet, rec.Page, nullBytes(bbox), nullBytes(anchor),
		string(rec.ProvenanceStatus), superseded, rec.CreatedAt,
	}, nil
}

// nullBytes keeps a nil JSON payload as an untyped nil so COPY writes NULL.
func nullBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

func scanPgEvidence(row scannable) (*model.EvidenceRecord, error) {
	var rec model.EvidenceRecord
	var rt, st, ps string
	var value, bbox, anchor []byte
	var superseded *string

	err := row.Scan(&rec.ID, &rec.FieldID, &rt, &st, &rec.SourceID, &rec.DocumentID, &rec.StorageTier,
		&rec.Confidence, &value, &rec.Snippet, &rec.Page, &bbox, &anchor, &ps, &superseded, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.FieldRecordType = model.RecordType(rt)
	rec.SourceType = model.SourceType(st)
	rec.ProvenanceStatus = model.ProvenanceStatus(ps)
	if superseded != nil {
		rec.SupersededBy = *superseded
	}
	if rec.Value, err = decodeValue(value); err != nil {
		return nil, eris.Wrap(err, "decode value")
	}
	if rec.BBox, err = decodeJSON[model.BBox](bbox); err != nil {
		return nil, eris.Wrap(err, "decode bbox")
	}
	if rec.Anchor, err = decodeJSON[model.TextAnchor](anchor); err != nil {
		return nil, eris.Wrap(err, "decode anchor")
	}
	return &rec, nil
}
