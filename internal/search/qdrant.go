package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds configuration for connecting to Qdrant.
type QdrantConfig struct {
	URL        string // e.g. "https://xyz.cloud.qdrant.io:6333" or "http://localhost:6333"
	APIKey     string
	Collection string
	Dims       uint64
}

// PointKind distinguishes the two kinds of vectors sharing one collection:
// claim-text embeddings and entity-name embeddings. Ingest writes claim
// points; nothing in this repository writes entity points.
type PointKind string

const (
	KindClaim  PointKind = "claim"
	KindEntity PointKind = "entity"
)

// Point is the data needed to upsert a single claim or entity vector into
// Qdrant. DocumentID and SectionID are left zero for entity points.
type Point struct {
	ID         uuid.UUID
	Kind       PointKind
	DocumentID uuid.UUID
	SectionID  uuid.UUID
	Embedding  []float32
}

// Result is one scored nearest-neighbor hit.
type Result struct {
	ID    uuid.UUID
	Score float32
}

// QdrantIndex implements nearest-neighbor search over claim and entity
// embeddings. Ingest mirrors claim vectors into it and treats a failed
// upsert as a warning, never a hard error. SearchClaims and SearchEntities
// have no callers in this repository: conflict detection and entity
// resolution read from Postgres.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	logger     *slog.Logger

	healthMu  sync.Mutex
	lastCheck time.Time
	lastErr   error
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL.
// Accepts forms like "https://host:6333", "http://host:6333", or "host:6334".
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("search: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("search: invalid port in qdrant URL: %q", portStr)
		}
		// If the user specified the REST port (6333), use the gRPC port (6334).
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// NewQdrantIndex creates a new QdrantIndex and connects to the Qdrant server via gRPC.
func NewQdrantIndex(cfg QdrantConfig, logger *slog.Logger) (*QdrantIndex, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("search: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		dims:       cfg.Dims,
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection if it doesn't already exist, with
// HNSW parameters tuned for cosine similarity over claim/entity vectors.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("search: check collection exists: %w", err)
	}
	if exists {
		q.logger.Info("qdrant: collection already exists", "collection", q.collection)
		return nil
	}

	m := uint64(16)
	efConstruct := uint64(128)

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.dims,
			Distance: qdrant.Distance_Cosine,
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           &m,
				EfConstruct: &efConstruct,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("search: create collection %q: %w", q.collection, err)
	}

	// Create payload indexes for filtered search: kind discriminates
	// claim vectors from entity vectors; document_id scopes claim
	// candidate retrieval to a consolidation's document cohort.
	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range []string{"kind", "document_id"} {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return fmt.Errorf("search: create index on %q: %w", field, err)
		}
	}

	q.logger.Info("qdrant: created collection with payload indexes", "collection", q.collection, "dims", q.dims)
	return nil
}

// SearchClaims returns the nearest claim vectors to embedding among the
// given document cohort, excluding claims from excludeSectionID (Stage B
// never compares two claims drawn from the same section).
func (q *QdrantIndex) SearchClaims(ctx context.Context, embedding []float32, documentIDs []uuid.UUID, excludeSectionID uuid.UUID, limit int) ([]Result, error) {
	must := []*qdrant.Condition{qdrant.NewMatch("kind", string(KindClaim))}
	if len(documentIDs) == 1 {
		must = append(must, qdrant.NewMatch("document_id", documentIDs[0].String()))
	} else if len(documentIDs) > 1 {
		ids := make([]string, len(documentIDs))
		for i, id := range documentIDs {
			ids[i] = id.String()
		}
		must = append(must, qdrant.NewMatchKeywords("document_id", ids...))
	}

	var mustNot []*qdrant.Condition
	if excludeSectionID != uuid.Nil {
		mustNot = append(mustNot, qdrant.NewMatch("section_id", excludeSectionID.String()))
	}

	l := uint64(limit)
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(embedding),
		Filter:         &qdrant.Filter{Must: must, MustNot: mustNot},
		Limit:          &l,
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return nil, fmt.Errorf("search: qdrant claim query: %w", err)
	}
	return toResults(scored, q.logger)
}

// SearchEntities returns the nearest entity-name vectors to embedding. The
// entity resolver does not call it; it compares against storage.AllEntities.
func (q *QdrantIndex) SearchEntities(ctx context.Context, embedding []float32, limit int) ([]Result, error) {
	l := uint64(limit)
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(embedding),
		Filter:         &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("kind", string(KindEntity))}},
		Limit:          &l,
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return nil, fmt.Errorf("search: qdrant entity query: %w", err)
	}
	return toResults(scored, q.logger)
}

func toResults(scored []*qdrant.ScoredPoint, logger *slog.Logger) ([]Result, error) {
	out := make([]Result, 0, len(scored))
	for _, sp := range scored {
		idStr := sp.Id.GetUuid()
		if idStr == "" {
			continue
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			logger.Warn("qdrant: invalid UUID in point ID", "id", idStr)
			continue
		}
		out = append(out, Result{ID: id, Score: sp.Score})
	}
	return out, nil
}

// Upsert inserts or updates points in Qdrant.
func (q *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := map[string]any{"kind": string(p.Kind)}
		if p.Kind == KindClaim {
			payload["document_id"] = p.DocumentID.String()
			payload["section_id"] = p.SectionID.String()
		}
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID.String()),
			Vectors: qdrant.NewVectorsDense(p.Embedding),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("search: qdrant upsert %d points: %w", len(points), err)
	}
	return nil
}

// DeleteByIDs removes specific points from Qdrant by id.
func (q *QdrantIndex) DeleteByIDs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(id.String())
	}

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("search: qdrant delete %d points: %w", len(ids), err)
	}
	return nil
}

// DeleteByDocument removes every claim point belonging to documentID,
// keeping the vector index in sync with Postgres's cascading delete when
// a document is removed.
func (q *QdrantIndex) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID.String())},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("search: qdrant delete by document %s: %w", documentID, err)
	}
	return nil
}

// Healthy returns nil if Qdrant is reachable. Results are cached for 5 seconds
// to avoid hammering the health endpoint on every search request.
func (q *QdrantIndex) Healthy(ctx context.Context) error {
	q.healthMu.Lock()
	defer q.healthMu.Unlock()

	if time.Since(q.lastCheck) < 5*time.Second {
		return q.lastErr
	}

	_, err := q.client.HealthCheck(ctx)
	q.lastCheck = time.Now()
	if err != nil {
		q.lastErr = fmt.Errorf("search: qdrant unhealthy: %w", err)
	} else {
		q.lastErr = nil
	}
	return q.lastErr
}

// Close shuts down the Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
