package merge

import (
	"context"
	"fmt"
	"path"

	"github.com/veridocs/consolidator/internal/llm"
	"github.com/veridocs/consolidator/internal/model"
)

// outcome is the result of resolving one conflict: either a Resolution to
// persist, or a flag reason when no automatic decision could be made.
type outcome struct {
	resolution *model.Resolution
	flagReason string
}

type smartResponse struct {
	Choice     string  `json:"choice"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	MergedText *string `json:"merged_text,omitempty"`
}

const smartSystemPrompt = `You resolve a conflict between two claims. Return only JSON of the shape {"choice":"chose_a"|"chose_b"|"merged","confidence":number,"reasoning":string,"merged_text"?:string}. A "merged" choice requires merged_text.`

// resolveConflict applies strategy.Mode to one conflict, given the
// documents the two claims came from.
func resolveConflict(ctx context.Context, svc llm.Service, c model.Conflict, docA, docB model.Document, strategy model.MergeStrategy) outcome {
	switch strategy.Mode {
	case model.ModeFlagAll:
		return outcome{flagReason: "strategy is flag_all"}

	case model.ModeNewestWins:
		if docA.CreatedAt.Equal(docB.CreatedAt) {
			return outcome{flagReason: "newest_wins: documents have equal creation timestamps"}
		}
		if docA.CreatedAt.After(docB.CreatedAt) {
			return outcome{resolution: &model.Resolution{Choice: model.ChoseA, WinningClaim: &c.ClaimAID, Confidence: 1}}
		}
		return outcome{resolution: &model.Resolution{Choice: model.ChoseB, WinningClaim: &c.ClaimBID, Confidence: 1}}

	case model.ModeAuthorityWins:
		rankA := authorityRank(docA.SourceID, strategy.AuthorityOrder)
		rankB := authorityRank(docB.SourceID, strategy.AuthorityOrder)
		if rankA < 0 && rankB < 0 {
			return outcome{flagReason: "authority_wins: no authorityOrder pattern matched either document"}
		}
		if rankA == rankB {
			return outcome{flagReason: "authority_wins: documents tie in authority rank"}
		}
		if rankA >= 0 && (rankB < 0 || rankA < rankB) {
			return outcome{resolution: &model.Resolution{Choice: model.ChoseA, WinningClaim: &c.ClaimAID, Confidence: 1}}
		}
		return outcome{resolution: &model.Resolution{Choice: model.ChoseB, WinningClaim: &c.ClaimBID, Confidence: 1}}

	case model.ModeSmart:
		return resolveSmart(ctx, svc, c, strategy)

	default:
		return outcome{flagReason: fmt.Sprintf("unknown strategy mode %q", strategy.Mode)}
	}
}

func resolveSmart(ctx context.Context, svc llm.Service, c model.Conflict, strategy model.MergeStrategy) outcome {
	var resp smartResponse
	prompt := fmt.Sprintf("Claim A: %s\nClaim B: %s\nConflict type: %s", c.ClaimAText, c.ClaimBText, c.Type)
	err := llm.GenerateJSON(ctx, svc, llm.Request{System: smartSystemPrompt, Prompt: prompt, Temperature: 0}, &resp)
	if err != nil {
		return outcome{flagReason: fmt.Sprintf("smart resolution unavailable: %v", err)}
	}
	threshold := strategy.ConflictThreshold
	if threshold == 0 {
		threshold = model.DefaultConflictThreshold
	}
	if resp.Confidence < threshold {
		return outcome{flagReason: fmt.Sprintf("Confidence %.2f below threshold %.2f", resp.Confidence, threshold)}
	}

	res := &model.Resolution{Confidence: resp.Confidence, Reasoning: resp.Reasoning}
	switch resp.Choice {
	case "chose_a":
		res.Choice = model.ChoseA
		res.WinningClaim = &c.ClaimAID
	case "chose_b":
		res.Choice = model.ChoseB
		res.WinningClaim = &c.ClaimBID
	case "merged":
		if resp.MergedText == nil || *resp.MergedText == "" {
			return outcome{flagReason: "smart resolution chose merged without merged_text"}
		}
		res.Choice = model.Merged
		res.MergedText = resp.MergedText
	default:
		return outcome{flagReason: fmt.Sprintf("smart resolution returned unrecognized choice %q", resp.Choice)}
	}
	return outcome{resolution: res}
}

// authorityRank returns the index of the first authorityOrder glob pattern
// matching sourceID, or -1 if none match.
func authorityRank(sourceID string, authorityOrder []string) int {
	for i, pattern := range authorityOrder {
		if ok, err := path.Match(pattern, sourceID); err == nil && ok {
			return i
		}
	}
	return -1
}
