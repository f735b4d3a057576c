// Package entities resolves free-text mentions surfaced from claims into
// canonical Entity records, maintaining the claim-entity mention graph.
package entities

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/veridocs/consolidator/internal/model"
	"github.com/veridocs/consolidator/internal/service/embedding"
	"github.com/veridocs/consolidator/internal/storage"
)

const embeddingMatchThreshold = 0.85

// Resolver resolves mentions against the entity store, falling back to an
// embedding nearest-neighbor search when available.
type Resolver struct {
	embed embedding.Provider // optional; nil or ErrNoProvider skips step 3 silently
}

func NewResolver(embed embedding.Provider) *Resolver {
	return &Resolver{embed: embed}
}

// Resolve maps each mention to an Entity, in order: exact canonical match,
// alias match, embedding nearest-neighbor, then create. Matches whose
// mention text isn't already a known name/alias get the mention text
// appended as an alias in the same call.
func (r *Resolver) Resolve(ctx context.Context, q storage.Querier, mentions []model.Mention) (map[string]model.Entity, error) {
	out := make(map[string]model.Entity, len(mentions))

	for _, m := range mentions {
		if _, ok := out[m.Text]; ok {
			continue
		}

		e, matchedName, err := r.resolveOne(ctx, q, m)
		if err != nil {
			return nil, model.NewDatabaseError("resolve_entity", err)
		}
		if e != nil {
			if !matchedName {
				if err := storage.AddEntityAlias(ctx, q, e.ID, m.Text); err != nil {
					return nil, model.NewDatabaseError("add_entity_alias", err)
				}
			}
			out[m.Text] = *e
			continue
		}

		entType := model.EntityUnknown
		if m.Type != nil {
			entType = *m.Type
		} else {
			entType = model.InferEntityType(m.Text)
		}
		newEntity := model.Entity{ID: uuid.New(), Name: m.Text, Type: entType}
		if r.embed != nil {
			if vec, err := r.embed.Embed(ctx, m.Text); err == nil {
				newEntity.Embedding = &vec
			} else if err != embedding.ErrNoProvider {
				return nil, model.NewEmbeddingError(err)
			}
		}
		if err := storage.InsertEntity(ctx, q, newEntity); err != nil {
			return nil, model.NewDatabaseError("insert_entity", err)
		}
		out[m.Text] = newEntity
	}

	return out, nil
}

// resolveOne runs steps 1-3 of resolution. matchedName is true when the
// mention text already equals the entity's canonical name (no alias add
// needed).
func (r *Resolver) resolveOne(ctx context.Context, q storage.Querier, m model.Mention) (*model.Entity, bool, error) {
	if e, err := storage.FindEntityByName(ctx, q, m.Text); err == nil {
		return e, true, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	if e, err := storage.FindEntityByAlias(ctx, q, m.Text); err == nil {
		return e, false, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	if r.embed == nil {
		return nil, false, nil
	}
	e, err := r.nearestByEmbedding(ctx, q, m.Text)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e, false, nil
}

func (r *Resolver) nearestByEmbedding(ctx context.Context, q storage.Querier, text string) (*model.Entity, error) {
	vec, err := r.embed.Embed(ctx, text)
	if err != nil {
		// The similarity backend being unavailable is the one failure this
		// step swallows silently per the resolution contract.
		return nil, storage.ErrNotFound
	}
	candidates, err := storage.AllEntities(ctx, q)
	if err != nil {
		return nil, err
	}

	best := -1.0
	var match *model.Entity
	for i := range candidates {
		c := candidates[i]
		if c.Embedding == nil {
			continue
		}
		sim := cosineSimilarity(vec.Slice(), c.Embedding.Slice())
		if sim > best {
			best = sim
			match = &candidates[i]
		}
	}
	if match == nil || best < embeddingMatchThreshold {
		return nil, storage.ErrNotFound
	}
	return match, nil
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

// LinkClaimToEntity records the MENTIONS edge for one claim-entity pair.
func LinkClaimToEntity(ctx context.Context, q storage.Querier, claimID, entityID, documentID uuid.UUID) error {
	return storage.LinkClaimToEntity(ctx, q, model.ClaimEntityMention{ClaimID: claimID, EntityID: entityID, DocumentID: documentID})
}

// FindRelatedEntities returns entities reachable from entityID by way of
// claims that mention both entities, within depth hops, sorted by name for
// deterministic output.
func FindRelatedEntities(ctx context.Context, q storage.Querier, entityID uuid.UUID, depth int) ([]model.Entity, error) {
	related, err := storage.RelatedEntities(ctx, q, entityID, depth)
	if err != nil {
		return nil, model.NewDatabaseError("related_entities", err)
	}
	sort.Slice(related, func(i, j int) bool { return related[i].Name < related[j].Name })
	return related, nil
}
