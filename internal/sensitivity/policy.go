// Package sensitivity decides which fields must never be populated
// automatically, regardless of how confident the evidence is.
package sensitivity

import (
	"slices"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/sells-group/evidence-cli/internal/model"
)

// DefaultBlocked is the mandatory never-autofill set. Organization policy can
// extend it but never shrink it.
var DefaultBlocked = []string{
	"bank_account",
	"personal_id",
	"personal_data",
	"financial_covenant",
	"legal_binding",
	"tax_id",
	"password",
	"ssn",
	"api_key",
	"secret",
	"credit_card",
}

// Rule is an organization-defined CEL expression. A field is blocked when
// the expression evaluates to true. The expression sees a string map named
// field with keys key, category, record_type and label.
type Rule struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr"`
}

// Config is the organization override section of the policy file.
type Config struct {
	BlockedCategories []string `yaml:"blocked_categories"`
	Rules             []Rule   `yaml:"rules"`
}

type compiledRule struct {
	name    string
	program cel.Program
}

// Policy is an immutable sensitivity policy.
type Policy struct {
	blocked map[string]struct{}
	rules   []compiledRule
}

var folder = cases.Fold()

// Normalize canonicalizes a category name: case-folded, trimmed, with spaces
// and hyphens turned into underscores.
func Normalize(category string) string {
	c := folder.String(strings.TrimSpace(category))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(c)
}

// Default returns the policy containing only the mandatory categories.
func Default() *Policy {
	p, _ := NewPolicy(Config{})
	return p
}

// NewPolicy builds a policy from the mandatory set plus cfg. Rules that fail
// to compile are reported as errors.
func NewPolicy(cfg Config) (*Policy, error) {
	p := &Policy{blocked: make(map[string]struct{}, len(DefaultBlocked)+len(cfg.BlockedCategories))}
	for _, c := range DefaultBlocked {
		p.blocked[c] = struct{}{}
	}
	for _, c := range cfg.BlockedCategories {
		if n := Normalize(c); n != "" {
			p.blocked[n] = struct{}{}
		}
	}

	if len(cfg.Rules) == 0 {
		return p, nil
	}
	env, err := cel.NewEnv(cel.Variable("field", cel.MapType(cel.StringType, cel.StringType)))
	if err != nil {
		return nil, eris.Wrap(err, "sensitivity: cel env")
	}
	for _, r := range cfg.Rules {
		expr := strings.TrimSpace(r.Expr)
		if expr == "" {
			return nil, eris.Errorf("sensitivity: rule %q has no expression", r.Name)
		}
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, eris.Wrapf(issues.Err(), "sensitivity: compile rule %q", r.Name)
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, eris.Errorf("sensitivity: rule %q must evaluate to bool", r.Name)
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, eris.Wrapf(err, "sensitivity: program rule %q", r.Name)
		}
		p.rules = append(p.rules, compiledRule{name: r.Name, program: prg})
	}
	return p, nil
}

// IsBlocked reports whether category is in the never-autofill set. An empty
// category is never blocked.
func (p *Policy) IsBlocked(category string) bool {
	n := Normalize(category)
	if n == "" {
		return false
	}
	if p == nil {
		return slices.Contains(DefaultBlocked, n)
	}
	_, ok := p.blocked[n]
	return ok
}

// IsFieldBlocked reports whether the field's category is blocked or any
// organization rule matches it. A rule that errors at evaluation blocks the
// field.
func (p *Policy) IsFieldBlocked(f model.FieldDefinition) bool {
	if p.IsBlocked(f.Sensitivity) {
		return true
	}
	if p == nil || len(p.rules) == 0 {
		return false
	}
	vars := map[string]any{"field": map[string]string{
		"key":         f.Key,
		"category":    Normalize(f.Sensitivity),
		"record_type": string(f.RecordType),
		"label":       f.Label,
	}}
	for _, r := range p.rules {
		out, _, err := r.program.Eval(vars)
		if err != nil {
			zap.L().Warn("sensitivity: rule evaluation failed, blocking field",
				zap.String("rule", r.name),
				zap.String("field", f.Key),
				zap.Error(err),
			)
			return true
		}
		if v, ok := out.Value().(bool); ok && v {
			return true
		}
	}
	return false
}

// Categories returns the blocked categories in sorted order.
func (p *Policy) Categories() []string {
	if p == nil {
		return slices.Clone(DefaultBlocked)
	}
	out := make([]string, 0, len(p.blocked))
	for c := range p.blocked {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}
