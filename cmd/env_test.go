package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/evidence-cli/internal/autofill"
	"github.com/sells-group/evidence-cli/internal/config"
	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "env.db"),
		},
		Autofill: config.AutofillConfig{HighThreshold: 0.85, MediumThreshold: 0.5},
		Audit:    config.AuditConfig{QueueSize: 8, WriteTimeoutSecs: 1, MaxAttempts: 2},
		Query:    config.QueryConfig{FailureThreshold: 3, ResetTimeoutSecs: 10},
	}
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	_, err := initStore(context.Background(), &config.Config{Store: config.StoreConfig{Driver: "mysql"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitPolicy_Defaults(t *testing.T) {
	policy, fields, err := initPolicy(&config.Config{})
	require.NoError(t, err)
	assert.True(t, policy.IsBlocked("ssn"))
	assert.Empty(t, fields.Fields)
}

func TestInitPolicy_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
policy:
  blocked_categories: ["Pricing Schedule"]
fields:
  - key: contract_value
    record_type: contract
    label: Contract value
  - key: discount
    record_type: contract
    sensitivity: pricing-schedule
`), 0o600))

	c := &config.Config{Autofill: config.AutofillConfig{PolicyFile: path}}
	policy, fields, err := initPolicy(c)
	require.NoError(t, err)
	assert.True(t, policy.IsBlocked("pricing_schedule"))
	require.NotNil(t, fields.ByKey("discount"))
	assert.True(t, policy.IsFieldBlocked(*fields.ByKey("discount")))
	assert.False(t, policy.IsFieldBlocked(*fields.ByKey("contract_value")))
}

func TestInitPolicy_MissingFile(t *testing.T) {
	c := &config.Config{Autofill: config.AutofillConfig{PolicyFile: filepath.Join(t.TempDir(), "nope.yaml")}}
	_, _, err := initPolicy(c)
	require.Error(t, err)
}

func TestInitEnv_SQLite(t *testing.T) {
	ctx := context.Background()
	env, err := initEnv(ctx, testConfig(t))
	require.NoError(t, err)
	defer env.Close()

	assert.Equal(t, autofill.Thresholds{High: 0.85, Medium: 0.5}, env.Engine.Thresholds())

	require.NoError(t, env.Store.InsertEvidence(ctx, []model.EvidenceRecord{{
		ID:              "ev-1",
		FieldID:         "contract_value",
		FieldRecordType: model.RecordContract,
		SourceType:      model.SourceExtraction,
		DocumentID:      "doc-1",
		StorageTier:     "page",
		Confidence:      0.9,
		Value:           "$1,200,000",
		Page:            model.IntPtr(4),
	}}))

	refs := env.Evidence.ForDocumentPage(ctx, "doc-1", 4)
	require.Len(t, refs, 1)
	assert.Equal(t, model.PrecisionPage, refs[0].Precision)
	assert.Empty(t, env.Evidence.ForDocumentPage(ctx, "doc-1", 5))

	env.Evidence.LogView(ctx, "contract_value", model.RecordContract, "ev-1", "doc-1", 4, "page")
	env.Recorder.Close()

	views, err := env.Store.ListViewEvents(ctx, store.ViewFilter{FieldID: "contract_value"})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "page", views[0].TierUsed)
}
