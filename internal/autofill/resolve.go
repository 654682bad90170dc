// Package autofill ranks competing evidence for a field and decides whether
// the best candidate is filled automatically, offered as a suggestion, or
// withheld.
package autofill

import "github.com/sells-group/evidence-cli/internal/model"

// Default confidence thresholds.
const (
	HighConfidenceThreshold   = 0.80
	MediumConfidenceThreshold = 0.60
)

// Thresholds holds the confidence cut-offs used by the resolver and the
// ambiguity detector.
type Thresholds struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
}

// DefaultThresholds returns the standard 0.80 / 0.60 cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{High: HighConfidenceThreshold, Medium: MediumConfidenceThreshold}
}

// withDefaults fills zero thresholds with the standard values.
func (t Thresholds) withDefaults() Thresholds {
	if t.High <= 0 {
		t.High = HighConfidenceThreshold
	}
	if t.Medium <= 0 {
		t.Medium = MediumConfidenceThreshold
	}
	return t
}

// FieldState is what the resolver needs to know about the target field.
type FieldState struct {
	Blocked  bool // sensitivity policy veto
	HasValue bool // the field already holds a (possibly manual) value
}

// Resolution is the resolver's verdict for one field.
type Resolution struct {
	Best           *model.EvidenceRef `json:"best"`
	ShouldAutoFill bool               `json:"should_auto_fill"`
}

// Best returns the highest-confidence ref. Ties go to the earliest ref.
// It returns nil for an empty slice.
func Best(refs []model.EvidenceRef) *model.EvidenceRef {
	i := bestIndex(refs)
	if i < 0 {
		return nil
	}
	b := refs[i]
	return &b
}

func bestIndex(refs []model.EvidenceRef) int {
	if len(refs) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(refs); i++ {
		if refs[i].Confidence > refs[best].Confidence {
			best = i
		}
	}
	return best
}

// Resolve picks the best candidate and decides auto-fill eligibility. A
// field is auto-filled only when the best confidence reaches the high
// threshold, the field is not blocked, and the field is empty.
func Resolve(refs []model.EvidenceRef, field FieldState, th Thresholds) Resolution {
	th = th.withDefaults()
	best := Best(refs)
	if best == nil {
		return Resolution{}
	}
	return Resolution{
		Best:           best,
		ShouldAutoFill: best.Confidence >= th.High && !field.Blocked && !field.HasValue,
	}
}
