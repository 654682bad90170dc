package autofill

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/sensitivity"
)

// Mode is the presentation the UI should use for a field.
type Mode string

const (
	ModeNone     Mode = "none"      // no evidence available
	ModeSuggest  Mode = "suggest"   // show candidates, reviewer chooses
	ModeAutoFill Mode = "auto_fill" // fill the best value automatically
	ModeBlocked  Mode = "blocked"   // sensitive field, manual entry only
)

// NoticeManualEntry is shown instead of any value for blocked fields.
const NoticeManualEntry = "manual entry required"

// Candidate is one piece of evidence as presented to a reviewer. When
// ValueHidden is set, Value and Snippet are cleared and only metadata remains.
type Candidate struct {
	EvidenceID  string           `json:"evidence_id"`
	SourceType  model.SourceType `json:"source_type"`
	SourceID    string           `json:"source_id"`
	DocumentID  string           `json:"document_id,omitempty"`
	Tier        int              `json:"tier"`
	StorageTier string           `json:"storage_tier"`
	Confidence  float64          `json:"confidence"`
	Page        int              `json:"page,omitempty"`
	Value       any              `json:"value,omitempty"`
	Snippet     string           `json:"snippet,omitempty"`
	ValueHidden bool             `json:"value_hidden"`
}

// Decision is the composed outcome for one field.
type Decision struct {
	FieldID     string           `json:"field_id"`
	RecordType  model.RecordType `json:"record_type"`
	Label       string           `json:"label,omitempty"`
	PredicateID string           `json:"predicate_id,omitempty"`
	Mode        Mode             `json:"mode"`
	Notice      string           `json:"notice,omitempty"`
	Blocked     bool             `json:"blocked"`
	Ambiguous   bool             `json:"ambiguous"`
	Best        *Candidate       `json:"best,omitempty"`
	Candidates  []Candidate      `json:"candidates"`
	Resolution  Resolution       `json:"-"`
}

// Engine composes the sensitivity policy, the resolver and the ambiguity
// detector into a single per-field decision.
type Engine struct {
	policy     *sensitivity.Policy
	thresholds Thresholds
	decisions  metric.Int64Counter
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	meter metric.Meter
}

// WithMeter records decision metrics on m instead of the global meter.
func WithMeter(m metric.Meter) Option {
	return func(o *engineOptions) { o.meter = m }
}

// NewEngine creates an Engine. A nil policy uses the mandatory defaults.
func NewEngine(policy *sensitivity.Policy, th Thresholds, opts ...Option) *Engine {
	o := engineOptions{meter: otel.Meter("github.com/sells-group/evidence-cli/autofill")}
	for _, opt := range opts {
		opt(&o)
	}
	if policy == nil {
		policy = sensitivity.Default()
	}
	counter, err := o.meter.Int64Counter("evidence.autofill.decisions",
		metric.WithDescription("Field decisions by mode"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		zap.L().Warn("autofill: create decision counter", zap.Error(err))
	}
	return &Engine{policy: policy, thresholds: th.withDefaults(), decisions: counter}
}

// Thresholds returns the engine's effective thresholds.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// Policy returns the engine's sensitivity policy.
func (e *Engine) Policy() *sensitivity.Policy {
	return e.policy
}

// Decide evaluates the evidence for one field. Sensitivity is checked first
// and overrides both confidence and ambiguity.
func (e *Engine) Decide(ctx context.Context, field model.FieldDefinition, hasValue bool, refs []model.EvidenceRef) Decision {
	blocked := e.policy.IsFieldBlocked(field)
	res := Resolve(refs, FieldState{Blocked: blocked, HasValue: hasValue}, e.thresholds)
	ambiguous := IsAmbiguous(refs, e.thresholds)

	d := Decision{
		FieldID:     field.Key,
		RecordType:  field.RecordType,
		Label:       field.Label,
		PredicateID: field.PredicateID,
		Blocked:     blocked,
		Ambiguous:   ambiguous,
		Resolution:  res,
	}

	switch {
	case res.Best == nil:
		d.Mode = ModeNone
	case blocked:
		d.Mode = ModeBlocked
		d.Notice = NoticeManualEntry
	case res.ShouldAutoFill && !strongDisagree(refs, e.thresholds.High):
		d.Mode = ModeAutoFill
	default:
		d.Mode = ModeSuggest
	}

	// Under ambiguity only the best candidate keeps its value, and only when
	// it dominates: it is the single high candidate, or the high candidates
	// agree and the field is being auto-filled with it.
	dominant := CountAtLeast(refs, e.thresholds.High) == 1 || d.Mode == ModeAutoFill
	bi := bestIndex(refs)
	d.Candidates = make([]Candidate, 0, len(refs))
	for _, i := range rank(refs) {
		hide := blocked || (ambiguous && !(i == bi && dominant))
		c := toCandidate(refs[i], hide)
		if i == bi {
			best := c
			d.Best = &best
		}
		d.Candidates = append(d.Candidates, c)
	}

	if e.decisions != nil {
		e.decisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("mode", string(d.Mode)),
			attribute.String("record_type", string(field.RecordType)),
			attribute.Bool("ambiguous", ambiguous),
		))
	}
	return d
}

// strongDisagree reports whether more than one candidate reaches the high
// threshold with differing values.
func strongDisagree(refs []model.EvidenceRef, high float64) bool {
	var first *string
	for _, r := range refs {
		if r.Confidence < high {
			continue
		}
		v := fmt.Sprintf("%v", r.Value)
		if first == nil {
			first = &v
			continue
		}
		if *first != v {
			return true
		}
	}
	return false
}

// rank returns ref indexes ordered by descending confidence, stable for ties.
func rank(refs []model.EvidenceRef) []int {
	idx := make([]int, len(refs))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		switch {
		case refs[a].Confidence > refs[b].Confidence:
			return -1
		case refs[a].Confidence < refs[b].Confidence:
			return 1
		default:
			return 0
		}
	})
	return idx
}

func toCandidate(ref model.EvidenceRef, hide bool) Candidate {
	c := Candidate{
		EvidenceID:  ref.ID,
		SourceType:  ref.SourceType,
		SourceID:    ref.SourceID,
		DocumentID:  ref.DocumentID,
		Tier:        int(ref.Precision),
		StorageTier: ref.StorageTier,
		Confidence:  ref.Confidence,
		Page:        ref.EffectivePage(),
	}
	if hide || !ref.HasValue() {
		c.ValueHidden = true
		return c
	}
	c.Value = ref.Value
	c.Snippet = ref.Snippet
	return c
}
