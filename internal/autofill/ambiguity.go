package autofill

import "github.com/sells-group/evidence-cli/internal/model"

// CountAtLeast returns how many refs have confidence >= min.
func CountAtLeast(refs []model.EvidenceRef, min float64) int {
	n := 0
	for _, r := range refs {
		if r.Confidence >= min {
			n++
		}
	}
	return n
}

// IsAmbiguous reports whether more than one ref is credible, that is has
// confidence at or above the medium threshold.
func IsAmbiguous(refs []model.EvidenceRef, th Thresholds) bool {
	th = th.withDefaults()
	return CountAtLeast(refs, th.Medium) > 1
}
