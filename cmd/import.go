package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/store"
	"github.com/sells-group/evidence-cli/internal/tier"
)

var (
	importFile      string
	importBatchSize int
)

// importLine is one JSON line of an evidence import. Supersedes names an
// existing record that the new one replaces.
type importLine struct {
	model.EvidenceRecord
	Supersedes string `json:"supersedes,omitempty"`
}

// importStats summarizes an import run.
type importStats struct {
	Inserted   int `json:"inserted"`
	Superseded int `json:"superseded"`
	Issues     int `json:"issues"`
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import evidence records from JSON lines",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var r io.Reader = os.Stdin
		if importFile != "-" {
			f, err := os.Open(importFile)
			if err != nil {
				return eris.Wrap(err, "open import file")
			}
			defer f.Close() //nolint:errcheck
			r = f
		}

		lines, err := parseEvidenceLines(r)
		if err != nil {
			return err
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}

		stats, err := importEvidence(ctx, st, lines, importBatchSize)
		if err != nil {
			return err
		}
		zap.L().Info("import complete",
			zap.Int("inserted", stats.Inserted),
			zap.Int("superseded", stats.Superseded),
			zap.Int("issues", stats.Issues),
			zap.String("file", importFile),
		)
		return nil
	},
}

// parseEvidenceLines decodes and validates JSON lines. Blank lines are
// skipped. The first invalid line aborts the import.
func parseEvidenceLines(r io.Reader) ([]importLine, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out []importLine
	n := 0
	for sc.Scan() {
		n++
		raw := sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var line importLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil, eris.Wrapf(err, "line %d: decode", n)
		}
		if err := validateRecord(line.EvidenceRecord); err != nil {
			return nil, eris.Wrapf(err, "line %d", n)
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "read import")
	}
	return out, nil
}

func validateRecord(rec model.EvidenceRecord) error {
	switch {
	case rec.FieldID == "":
		return eris.New("field_id is required")
	case !rec.FieldRecordType.Valid():
		return eris.Errorf("unknown field_record_type %q", rec.FieldRecordType)
	case !rec.SourceType.Valid():
		return eris.Errorf("unknown source_type %q", rec.SourceType)
	case rec.Confidence < 0 || rec.Confidence > 1:
		return eris.Errorf("confidence %v outside [0, 1]", rec.Confidence)
	}
	if _, err := tier.FromStorage(rec.StorageTier); err != nil {
		return err
	}
	return nil
}

// importEvidence stores records in batches, reporting location issues but
// keeping the raw rows, then applies supersessions.
func importEvidence(ctx context.Context, st store.EvidenceStore, lines []importLine, batchSize int) (importStats, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	var stats importStats

	recs := make([]model.EvidenceRecord, len(lines))
	for i, line := range lines {
		recs[i] = line.EvidenceRecord
		_, issues := tier.Normalize(recs[i])
		for _, is := range issues {
			stats.Issues++
			zap.L().Warn("import: evidence location issue",
				zap.String("evidence_id", is.EvidenceID),
				zap.String("kind", string(is.Kind)),
				zap.String("detail", is.Detail),
			)
		}
	}

	for start := 0; start < len(recs); start += batchSize {
		end := min(start+batchSize, len(recs))
		if err := st.InsertEvidence(ctx, recs[start:end]); err != nil {
			return stats, eris.Wrapf(err, "insert batch at %d", start)
		}
		stats.Inserted += end - start
	}

	for i, line := range lines {
		if line.Supersedes == "" {
			continue
		}
		if err := st.SupersedeEvidence(ctx, line.Supersedes, recs[i].ID); err != nil {
			return stats, eris.Wrapf(err, "supersede %s", line.Supersedes)
		}
		stats.Superseded++
	}
	return stats, nil
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to JSON lines file, or - for stdin (required)")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 500, "records per insert batch")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
