package merge

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/veridocs/consolidator/internal/model"
)

// synthesizeSections groups claims by topic (case-folded subject) in order
// of first appearance, selects one authoritative claim per predicate
// within each topic, and renders the resulting bullets. mergedText
// substitutes a winning claim's rendered text with LLM-synthesized text;
// mergedPartner additionally records the losing side's provenance without
// rendering a second bullet for it.
func synthesizeSections(
	claims []model.AtomicClaim,
	docByID map[uuid.UUID]model.Document,
	mergedText map[uuid.UUID]string,
	mergedPartner map[uuid.UUID]uuid.UUID,
	claimByID map[uuid.UUID]model.AtomicClaim,
) ([]model.MergedSection, []model.ProvenanceRecord) {
	var topicOrder []string
	topicClaims := make(map[string][]model.AtomicClaim)
	topicLabel := make(map[string]string) // subject as first written, for the header
	for _, c := range claims {
		topic := model.NormalizeToken(c.Subject)
		if _, seen := topicClaims[topic]; !seen {
			topicOrder = append(topicOrder, topic)
			topicLabel[topic] = c.Subject
		}
		topicClaims[topic] = append(topicClaims[topic], c)
	}

	var sections []model.MergedSection
	var provenance []model.ProvenanceRecord

	for _, topic := range topicOrder {
		winners := selectWinnersByPredicate(topicClaims[topic], docByID)

		var bullets []model.MergedBullet
		for _, c := range winners {
			text := renderBullet(c)
			if mt, ok := mergedText[c.ID]; ok {
				text = mt
			}
			bullets = append(bullets, model.MergedBullet{
				Text: text,
				Provenance: model.Provenance{DocumentID: c.DocumentID, SectionID: c.SectionID, ClaimID: c.ID},
			})
			provenance = append(provenance, model.ProvenanceRecord{
				ID: uuid.New(), DocumentID: c.DocumentID, SectionID: c.SectionID, ClaimID: c.ID,
			})
			if partnerID, ok := mergedPartner[c.ID]; ok {
				if partner, ok := claimByID[partnerID]; ok {
					provenance = append(provenance, model.ProvenanceRecord{
						ID: uuid.New(), DocumentID: partner.DocumentID, SectionID: partner.SectionID, ClaimID: partner.ID,
					})
				}
			}
		}

		sections = append(sections, model.MergedSection{Header: titleCase(topicLabel[topic]), Bullets: bullets})
	}

	return sections, provenance
}

// selectWinnersByPredicate picks, for each predicate within a topic, the
// highest-confidence non-deprecated claim. Ties break by source document
// authority level (higher wins), then by later CreatedAt.
func selectWinnersByPredicate(claims []model.AtomicClaim, docByID map[uuid.UUID]model.Document) []model.AtomicClaim {
	var predicateOrder []string
	byPredicate := make(map[string]model.AtomicClaim)

	for _, c := range claims {
		key := model.NormalizeToken(c.Predicate)
		current, exists := byPredicate[key]
		if !exists {
			byPredicate[key] = c
			predicateOrder = append(predicateOrder, key)
			continue
		}
		if better(c, current, docByID) {
			byPredicate[key] = c
		}
	}

	out := make([]model.AtomicClaim, 0, len(predicateOrder))
	for _, key := range predicateOrder {
		out = append(out, byPredicate[key])
	}
	return out
}

func better(candidate, current model.AtomicClaim, docByID map[uuid.UUID]model.Document) bool {
	if candidate.Confidence != current.Confidence {
		return candidate.Confidence > current.Confidence
	}
	candAuthority := docByID[candidate.DocumentID].AuthorityLevel
	currAuthority := docByID[current.DocumentID].AuthorityLevel
	if candAuthority != currAuthority {
		return candAuthority > currAuthority
	}
	return docByID[candidate.DocumentID].CreatedAt.After(docByID[current.DocumentID].CreatedAt)
}

func renderBullet(c model.AtomicClaim) string {
	if c.Qualifier != nil && *c.Qualifier != "" {
		return fmt.Sprintf("%s %s (%s)", c.Predicate, c.Object, *c.Qualifier)
	}
	return fmt.Sprintf("%s %s", c.Predicate, c.Object)
}
