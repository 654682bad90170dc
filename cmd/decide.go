package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/evidence-cli/internal/autofill"
	"github.com/sells-group/evidence-cli/internal/model"
)

var (
	decideField       string
	decideRecordType  string
	decideHasValue    bool
	decideAll         bool
	decideConcurrency int
)

// fieldEvidence is the read side decide needs.
type fieldEvidence interface {
	ForField(ctx context.Context, fieldID string, recordType model.RecordType) []model.EvidenceRef
}

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Print the autofill decision for one field or every registered field",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		fields, err := decideTargets(env.Fields)
		if err != nil {
			return err
		}

		decisions, err := decideFields(ctx, env.Evidence, env.Engine, fields, decideHasValue, decideConcurrency)
		if err != nil {
			return err
		}
		return writeIndentedJSON(cmd.OutOrStdout(), decisions)
	},
}

// decideTargets resolves the command flags into field definitions.
func decideTargets(reg *model.FieldRegistry) ([]model.FieldDefinition, error) {
	if decideAll {
		if reg == nil || len(reg.Fields) == 0 {
			return nil, eris.New("decide: --all needs fields in the policy file")
		}
		return reg.Fields, nil
	}
	if decideField == "" {
		return nil, eris.New("decide: --field or --all is required")
	}
	rt := model.RecordType(decideRecordType)
	if !rt.Valid() {
		return nil, eris.Errorf("decide: unknown record type %q", decideRecordType)
	}
	if def := reg.ByKey(decideField); def != nil && def.RecordType == rt {
		return []model.FieldDefinition{*def}, nil
	}
	return []model.FieldDefinition{{Key: decideField, RecordType: rt}}, nil
}

// decideFields evaluates fields concurrently. Results keep the input order.
func decideFields(ctx context.Context, src fieldEvidence, engine *autofill.Engine, fields []model.FieldDefinition, hasValue bool, concurrency int) ([]autofill.Decision, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	out := make([]autofill.Decision, len(fields))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, f := range fields {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			refs := src.ForField(gctx, f.Key, f.RecordType)
			out[i] = engine.Decide(gctx, f, hasValue, refs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "decide fields")
	}
	return out, nil
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}

func init() {
	decideCmd.Flags().StringVar(&decideField, "field", "", "field key")
	decideCmd.Flags().StringVar(&decideRecordType, "record-type", string(model.RecordContract), "field record type")
	decideCmd.Flags().BoolVar(&decideHasValue, "has-value", false, "the field already holds a value")
	decideCmd.Flags().BoolVar(&decideAll, "all", false, "decide every field in the policy file")
	decideCmd.Flags().IntVar(&decideConcurrency, "concurrency", 4, "fields evaluated in parallel")
	rootCmd.AddCommand(decideCmd)
}
