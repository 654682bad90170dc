package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/evidence-cli/internal/audit"
	"github.com/sells-group/evidence-cli/internal/autofill"
	"github.com/sells-group/evidence-cli/internal/config"
	"github.com/sells-group/evidence-cli/internal/evidence"
	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/resilience"
	"github.com/sells-group/evidence-cli/internal/sensitivity"
	"github.com/sells-group/evidence-cli/internal/store"
)

const evidenceBreakerName = "evidence-store"

// appEnv holds the wired components shared by commands.
type appEnv struct {
	Store    store.Store
	Recorder *audit.Recorder
	Evidence *evidence.Service
	Engine   *autofill.Engine
	Fields   *model.FieldRegistry
	Breaker  *resilience.Breaker
}

// Close drains pending audit writes and closes the store.
func (e *appEnv) Close() {
	if e.Recorder != nil {
		e.Recorder.Close()
	}
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "evidence.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.Pool.MaxConns,
			MinConns: c.Store.Pool.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// initPolicy loads the sensitivity policy and field registry from the policy
// file, or falls back to the mandatory defaults and an empty registry.
func initPolicy(c *config.Config) (*sensitivity.Policy, *model.FieldRegistry, error) {
	if c.Autofill.PolicyFile == "" {
		return sensitivity.Default(), model.NewFieldRegistry(nil), nil
	}
	f, err := sensitivity.LoadFile(c.Autofill.PolicyFile)
	if err != nil {
		return nil, nil, err
	}
	return f.Build()
}

func initEnv(ctx context.Context, c *config.Config) (*appEnv, error) {
	policy, fields, err := initPolicy(c)
	if err != nil {
		return nil, eris.Wrap(err, "init policy")
	}

	st, err := initStore(ctx, c)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}

	retry := resilience.DefaultRetryPolicy()
	if c.Audit.MaxAttempts > 0 {
		retry.MaxAttempts = c.Audit.MaxAttempts
	}
	rec := audit.NewRecorder(st, audit.Config{
		QueueSize:    c.Audit.QueueSize,
		WriteTimeout: c.Audit.WriteTimeout(),
		Retry:        retry,
	})

	breaker := resilience.NewBreaker(evidence.BreakerConfig(
		resilience.FromConfig(evidenceBreakerName, c.Query.FailureThreshold, c.Query.ResetTimeoutSecs),
	))

	engine := autofill.NewEngine(policy, autofill.Thresholds{
		High:   c.Autofill.HighThreshold,
		Medium: c.Autofill.MediumThreshold,
	})

	return &appEnv{
		Store:    st,
		Recorder: rec,
		Evidence: evidence.NewService(st, rec, breaker),
		Engine:   engine,
		Fields:   fields,
		Breaker:  breaker,
	}, nil
}
