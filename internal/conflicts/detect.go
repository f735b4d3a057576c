// Package conflicts implements the three-channel conflict detection
// pipeline: a fast value-extraction pass, a semantic-similarity pass, and
// an LLM verification pass that adjudicates and dedups the combined
// candidate set.
package conflicts

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/veridocs/consolidator/internal/llm"
	"github.com/veridocs/consolidator/internal/model"
)

const (
	semanticSimilarityThreshold = 0.80
	valueExtractionStrength     = 0.95
	semanticConcurrency         = 4
)

type candidate struct {
	a, b     model.AtomicClaim
	channel  model.ConflictChannel
	strength float64
}

// Detect runs Stage A through D over claims and returns the deduplicated
// conflict list. Claims are expected to span at least two sections;
// claims from the same section never produce semantic-channel candidates.
func Detect(ctx context.Context, svc llm.Service, claims []model.AtomicClaim) ([]model.Conflict, error) {
	candidates := stageA(claims)
	candidates = append(candidates, stageB(claims)...)
	candidates = dedupCandidates(candidates)

	verified, err := stageC(ctx, svc, candidates)
	if err != nil {
		return nil, err
	}
	return stageD(verified), nil
}

// dedupCandidates canonicalizes each candidate's claim pair (lower UUID
// first) and keeps one candidate per unordered pair, so a pair that
// qualifies for both Stage A and Stage B never reaches Stage C twice. When
// both channels produce the same pair, the value_extraction candidate wins,
// matching stageD's own tie-break rule.
func dedupCandidates(candidates []candidate) []candidate {
	byPair := make(map[[2]uuid.UUID]candidate, len(candidates))
	for _, c := range candidates {
		a, b := model.CanonicalPair(c.a.ID, c.b.ID)
		key := [2]uuid.UUID{a, b}
		existing, ok := byPair[key]
		if !ok || (c.channel == model.ChannelValueExtraction && existing.channel != model.ChannelValueExtraction) {
			byPair[key] = c
		}
	}
	out := make([]candidate, 0, len(byPair))
	for _, c := range byPair {
		out = append(out, c)
	}
	return out
}

// stageA groups claims by (lower(subject), lower(predicate)) and emits a
// candidate for every pair in a group whose normalized object differs.
func stageA(claims []model.AtomicClaim) []candidate {
	groups := make(map[string][]model.AtomicClaim)
	for _, c := range claims {
		key := model.NormalizeToken(c.Subject) + "\x00" + model.NormalizeToken(c.Predicate)
		groups[key] = append(groups[key], c)
	}

	var out []candidate
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if model.NormalizeToken(a.Object) == model.NormalizeToken(b.Object) {
					continue
				}
				out = append(out, candidate{a: a, b: b, channel: model.ChannelValueExtraction, strength: valueExtractionStrength})
			}
		}
	}
	return out
}

// stageB compares every cross-section pair by embedding cosine similarity,
// emitting a candidate when the pair is similar enough and its objects
// differ. Production callers should bucket by subject first; this is O(n^2)
// as specified.
func stageB(claims []model.AtomicClaim) []candidate {
	var out []candidate
	for i := 0; i < len(claims); i++ {
		for j := i + 1; j < len(claims); j++ {
			a, b := claims[i], claims[j]
			if a.SectionID == b.SectionID {
				continue
			}
			if a.Embedding == nil || b.Embedding == nil {
				continue
			}
			sim := cosineSimilarity(a.Embedding.Slice(), b.Embedding.Slice())
			if sim < semanticSimilarityThreshold {
				continue
			}
			if model.NormalizeToken(a.Object) == model.NormalizeToken(b.Object) {
				continue
			}
			out = append(out, candidate{a: a, b: b, channel: model.ChannelSemantic, strength: sim})
		}
	}
	return out
}

type verifyResponse struct {
	IsConflict      bool     `json:"is_conflict"`
	ConflictType    string   `json:"conflict_type"`
	Explanation     string   `json:"explanation"`
	ResolutionHints []string `json:"resolution_hints"`
}

const verifySystemPrompt = `You judge whether two claims genuinely conflict. Return only JSON of the shape {"is_conflict":bool,"conflict_type":"value_conflict"|"temporal_conflict"|"scope_conflict"|"not_a_conflict","explanation":string,"resolution_hints":[string]}.`

// stageC sends every candidate to the LLM for verification, bounded by a
// small concurrency cap. A candidate whose response fails to parse is kept
// unchanged (never dropped, never defaulted to is_conflict=true). A
// response that parses with is_conflict=false drops the candidate.
func stageC(ctx context.Context, svc llm.Service, candidates []candidate) ([]model.Conflict, error) {
	out := make([]model.Conflict, len(candidates))
	keep := make([]bool, len(candidates))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(semanticConcurrency)

	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			conf := model.Conflict{
				ID:         uuid.New(),
				ClaimAID:   c.a.ID, ClaimADocumentID: c.a.DocumentID, ClaimAText: c.a.OriginalText,
				ClaimBID:   c.b.ID, ClaimBDocumentID: c.b.DocumentID, ClaimBText: c.b.OriginalText,
				Type:       model.ConflictValue,
				Strength:   c.strength,
				Channel:    c.channel,
				Status:     model.ConflictPending,
			}

			var resp verifyResponse
			prompt := fmt.Sprintf("Claim A: %s\nClaim B: %s", c.a.OriginalText, c.b.OriginalText)
			err := llm.GenerateJSON(ctx, svc, llm.Request{System: verifySystemPrompt, Prompt: prompt, Temperature: 0}, &resp)
			if err != nil {
				// Parse/transport failure: keep the candidate with its
				// channel strength unchanged, per the verification contract.
				out[i] = conf
				keep[i] = true
				return nil
			}
			if !resp.IsConflict {
				keep[i] = false
				return nil
			}
			conf.Type = model.ConflictType(resp.ConflictType)
			conf.ResolutionHints = resp.ResolutionHints
			out[i] = conf
			keep[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	verified := make([]model.Conflict, 0, len(out))
	for i, k := range keep {
		if k {
			verified = append(verified, out[i])
		}
	}
	return verified, nil
}

// stageD dedups by the unordered claim pair. When two channels produce the
// same pair the value_extraction entry wins, since it carries the higher
// preliminary strength.
func stageD(conflicts []model.Conflict) []model.Conflict {
	byPair := make(map[[2]uuid.UUID]model.Conflict, len(conflicts))
	for _, c := range conflicts {
		a, b := model.CanonicalPair(c.ClaimAID, c.ClaimBID)
		key := [2]uuid.UUID{a, b}
		existing, ok := byPair[key]
		if !ok || (c.Channel == model.ChannelValueExtraction && existing.Channel != model.ChannelValueExtraction) {
			byPair[key] = c
		}
	}
	out := make([]model.Conflict, 0, len(byPair))
	for _, c := range byPair {
		out = append(out, c)
	}
	return out
}

// ForDocument returns the conflicts touching docID on either side — the
// getConflictsForDocument filter utility named in the detector's contract.
func ForDocument(docID uuid.UUID, conflicts []model.Conflict) []model.Conflict {
	var out []model.Conflict
	for _, c := range conflicts {
		if c.ClaimADocumentID == docID || c.ClaimBDocumentID == docID {
			out = append(out, c)
		}
	}
	return out
}

// SortByStrengthDesc orders conflicts for display only; callers MUST NOT
// rely on storage or detection order otherwise.
func SortByStrengthDesc(conflicts []model.Conflict) {
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Strength > conflicts[j].Strength })
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
