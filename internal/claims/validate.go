package claims

import "github.com/veridocs/consolidator/internal/model"

// Validate reports diagnostic issues for every claim without dropping any
// of them — validation is informational, the caller decides what to do
// with a flagged claim.
func Validate(claims []model.AtomicClaim) []model.ValidationIssue {
	var out []model.ValidationIssue
	for _, c := range claims {
		if issues := model.EvaluateClaim(c); len(issues) > 0 {
			out = append(out, model.ValidationIssue{Claim: c, Issues: issues})
		}
	}
	return out
}
