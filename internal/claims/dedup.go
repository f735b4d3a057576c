package claims

import (
	"strings"

	"github.com/veridocs/consolidator/internal/model"
)

// Deduplicate keeps the first occurrence of each claim cluster. At
// threshold=1 clusters are formed by case-insensitive exact match on
// (subject, predicate, object); below 1, by normalized token-overlap
// Jaccard similarity of the full original text, which is still a total
// function (no LLM call) so dedup stays cheap to run repeatedly.
//
// Deduplicate is idempotent: Deduplicate(Deduplicate(x)) == Deduplicate(x).
func Deduplicate(claims []model.AtomicClaim, threshold float64) []model.AtomicClaim {
	if threshold >= 1.0 {
		return dedupeExact(claims)
	}
	return dedupeFuzzy(claims, threshold)
}

func dedupeExact(claims []model.AtomicClaim) []model.AtomicClaim {
	seen := make(map[string]bool, len(claims))
	out := make([]model.AtomicClaim, 0, len(claims))
	for _, c := range claims {
		key := model.NormalizeToken(c.Subject) + "\x00" + model.NormalizeToken(c.Predicate) + "\x00" + model.NormalizeToken(c.Object)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func dedupeFuzzy(claims []model.AtomicClaim, threshold float64) []model.AtomicClaim {
	var kept []model.AtomicClaim
	var keptTokens [][]string
	for _, c := range claims {
		tokens := tokenSet(c.OriginalText)
		duplicate := false
		for _, existing := range keptTokens {
			if jaccard(tokens, existing) >= threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		kept = append(kept, c)
		keptTokens = append(keptTokens, tokens)
	}
	return kept
}

func tokenSet(s string) []string {
	fields := strings.Fields(model.NormalizeToken(s))
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	bSet := make(map[string]bool, len(b))
	for _, t := range b {
		bSet[t] = true
	}
	intersection := 0
	for _, t := range a {
		if bSet[t] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
