package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/veridocs/consolidator/internal/model"
)

const entitySelectBase = `
	SELECT id, canonical_name, type, aliases, attributes, embedding
	FROM entities`

func scanEntityFields(row rowScanner) (*model.Entity, error) {
	var e model.Entity
	var attrs []byte
	var embedding *pgvector.Vector
	if err := row.Scan(&e.ID, &e.Name, &e.Type, &e.Aliases, &attrs, &embedding); err != nil {
		return nil, fmt.Errorf("storage: scan entity: %w", err)
	}
	e.Embedding = embedding
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
			return nil, fmt.Errorf("storage: unmarshal entity attributes: %w", err)
		}
	}
	return &e, nil
}

// FindEntityByName looks up an entity by its canonical name, case-folded,
// so resolution can tell "Postgres" and "postgres" apart from distinct
// entities only when the input actually differs beyond case.
func FindEntityByName(ctx context.Context, q Querier, name string) (*model.Entity, error) {
	row := q.QueryRow(ctx, entitySelectBase+" WHERE lower(canonical_name) = lower($1)", name)
	e, err := scanEntityFields(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

// FindEntityByAlias looks up an entity that already carries name as one of
// its known aliases.
func FindEntityByAlias(ctx context.Context, q Querier, name string) (*model.Entity, error) {
	row := q.QueryRow(ctx, entitySelectBase+" WHERE lower($1) = ANY(SELECT lower(a) FROM unnest(aliases) a)", name)
	e, err := scanEntityFields(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

// InsertEntity creates a new canonical entity.
func InsertEntity(ctx context.Context, q Querier, e model.Entity) error {
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("storage: marshal entity attributes: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO entities (id, canonical_name, type, aliases, attributes, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.Name, e.Type, e.Aliases, attrs, e.Embedding)
	if err != nil {
		return fmt.Errorf("storage: insert entity: %w", err)
	}
	return nil
}

// AddEntityAlias appends alias to an entity's alias list if not already
// present, idempotently: calling it twice with the same alias is a no-op.
func AddEntityAlias(ctx context.Context, q Querier, entityID uuid.UUID, alias string) error {
	_, err := q.Exec(ctx, `
		UPDATE entities SET aliases = array_append(aliases, $2)
		WHERE id = $1 AND NOT (lower($2) = ANY(SELECT lower(a) FROM unnest(aliases) a))
	`, entityID, alias)
	if err != nil {
		return fmt.Errorf("storage: add entity alias: %w", err)
	}
	return nil
}

// LinkClaimToEntity records a MENTIONS edge. The pair (claim_id, entity_id)
// is unique, so re-running extraction over an already-linked claim is safe.
func LinkClaimToEntity(ctx context.Context, q Querier, m model.ClaimEntityMention) error {
	_, err := q.Exec(ctx, `
		INSERT INTO claim_entity_mentions (claim_id, entity_id, document_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (claim_id, entity_id) DO NOTHING
	`, m.ClaimID, m.EntityID, m.DocumentID)
	if err != nil {
		return fmt.Errorf("storage: link claim to entity: %w", err)
	}
	return nil
}

// EntitiesForClaim loads every entity a claim mentions.
func EntitiesForClaim(ctx context.Context, q Querier, claimID uuid.UUID) ([]model.Entity, error) {
	rows, err := q.Query(ctx, entitySelectBase+`
		JOIN claim_entity_mentions m ON m.entity_id = entities.id
		WHERE m.claim_id = $1`, claimID)
	if err != nil {
		return nil, fmt.Errorf("storage: entities for claim: %w", err)
	}
	defer rows.Close()
	return scanEntityRows(rows)
}

// RelatedEntities walks the claim-entity bipartite graph out to depth hops,
// returning every entity reachable from seed by way of claims that mention
// both it and the next entity. depth=1 returns entities that co-occur with
// seed on some claim; depth=2 extends one more hop.
func RelatedEntities(ctx context.Context, q Querier, seed uuid.UUID, depth int) ([]model.Entity, error) {
	if depth <= 0 {
		depth = 1
	}
	frontier := map[uuid.UUID]bool{seed: true}
	visited := map[uuid.UUID]bool{seed: true}

	for hop := 0; hop < depth; hop++ {
		if len(frontier) == 0 {
			break
		}
		ids := make([]uuid.UUID, 0, len(frontier))
		for id := range frontier {
			ids = append(ids, id)
		}
		rows, err := q.Query(ctx, `
			SELECT DISTINCT m2.entity_id
			FROM claim_entity_mentions m1
			JOIN claim_entity_mentions m2 ON m2.claim_id = m1.claim_id AND m2.entity_id <> m1.entity_id
			WHERE m1.entity_id = ANY($1)`, ids)
		if err != nil {
			return nil, fmt.Errorf("storage: related entities: %w", err)
		}
		next := map[uuid.UUID]bool{}
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("storage: scan related entity id: %w", err)
			}
			if !visited[id] {
				next[id] = true
				visited[id] = true
			}
		}
		rows.Close()
		frontier = next
	}

	delete(visited, seed)
	if len(visited) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	rows, err := q.Query(ctx, entitySelectBase+" WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, fmt.Errorf("storage: load related entities: %w", err)
	}
	defer rows.Close()
	return scanEntityRows(rows)
}

// AllEntities loads the full entity graph. There is no in-process cache to
// rebuild: entities.Resolver calls this on every embedding nearest-neighbor
// lookup and compares the mention against each entity's stored embedding.
func AllEntities(ctx context.Context, q Querier) ([]model.Entity, error) {
	rows, err := q.Query(ctx, entitySelectBase)
	if err != nil {
		return nil, fmt.Errorf("storage: list all entities: %w", err)
	}
	defer rows.Close()
	return scanEntityRows(rows)
}

func scanEntityRows(rows pgx.Rows) ([]model.Entity, error) {
	var out []model.Entity
	for rows.Next() {
		e, err := scanEntityFields(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
