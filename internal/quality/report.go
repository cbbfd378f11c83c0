// SPDX-License-Identifier: MIT

package quality

// Recommendation is the evaluator's verdict on a translation.
type Recommendation string

const (
	Approved     Recommendation = "APPROVED"
	ReviewNeeded Recommendation = "REVIEW_NEEDED"
	Reject       Recommendation = "REJECT"
)

// Breakdown holds the per-criterion scores, each 0-100.
type Breakdown struct {
	Accuracy    int `json:"accuracy"`
	Naturalness int `json:"naturalness"`
	DubbingFit  int `json:"dubbing_fit"`
	Consistency int `json:"consistency"`
}

// TermPreservation reports how many salient source terms survived
// translation. Score is the matched/total ratio in [0,1].
type TermPreservation struct {
	Score   float64  `json:"score"`
	Missing []string `json:"missing,omitempty"`
}

// Report is the structured result of evaluating one translation.
type Report struct {
	OverallScore     int              `json:"overall_score"`
	Breakdown        Breakdown        `json:"breakdown"`
	Issues           []string         `json:"issues,omitempty"`
	Recommendation   Recommendation   `json:"recommendation"`
	TermPreservation TermPreservation `json:"term_preservation"`

	// Sampled records that the evaluated text exceeded the size limit
	// and only head/middle/tail windows were scored.
	Sampled bool `json:"sampled,omitempty"`

	// RefineRounds is the number of refinement rounds spent on the
	// chunk this report belongs to.
	RefineRounds int `json:"refine_rounds,omitempty"`

	// Evaluations is the number of evaluator calls behind OverallScore
	// (2 normally, 3 when the dual scores disagreed).
	Evaluations int `json:"evaluations,omitempty"`
}

// Clone returns a deep copy of the report.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	out := *r
	out.Issues = append([]string(nil), r.Issues...)
	out.TermPreservation.Missing = append([]string(nil), r.TermPreservation.Missing...)
	return &out
}
