package conflicts

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridocs/consolidator/internal/llm"
	"github.com/veridocs/consolidator/internal/model"
)

// vectorOf returns a pgvector.Vector pointer built from plain floats, for
// tests that need to drive cosine similarity directly.
func vectorOf(vals ...float32) *pgvector.Vector {
	v := pgvector.NewVector(vals)
	return &v
}

// stubVerifyLLM always returns the same verification response, regardless
// of prompt.
type stubVerifyLLM struct {
	isConflict bool
	callCount  int
}

func (s *stubVerifyLLM) Generate(_ context.Context, _ llm.Request) (string, error) {
	s.callCount++
	payload, _ := json.Marshal(map[string]any{
		"is_conflict":   s.isConflict,
		"conflict_type": "value_conflict",
	})
	return string(payload), nil
}

// failingLLM always errors, exercising stageC's parse/transport-failure
// keep-the-candidate path.
type failingLLM struct{}

func (failingLLM) Generate(_ context.Context, _ llm.Request) (string, error) {
	return "", assert.AnError
}

func TestStageAEmitsCandidateForDifferingObjects(t *testing.T) {
	a := model.AtomicClaim{ID: uuid.New(), SectionID: uuid.New(), Subject: "server", Predicate: "uses", Object: "port 3000"}
	b := model.AtomicClaim{ID: uuid.New(), SectionID: uuid.New(), Subject: "Server", Predicate: "Uses", Object: "port 8080"}
	out := stageA([]model.AtomicClaim{a, b})
	assert.Len(t, out, 1)
	assert.Equal(t, model.ChannelValueExtraction, out[0].channel)
}

func TestStageASkipsAgreeingClaims(t *testing.T) {
	a := model.AtomicClaim{ID: uuid.New(), Subject: "server", Predicate: "uses", Object: "port 3000"}
	b := model.AtomicClaim{ID: uuid.New(), Subject: "server", Predicate: "uses", Object: "Port 3000"}
	assert.Empty(t, stageA([]model.AtomicClaim{a, b}))
}

func TestStageDPrefersValueExtractionOnDuplicatePair(t *testing.T) {
	aID, bID := uuid.New(), uuid.New()
	semantic := model.Conflict{ID: uuid.New(), ClaimAID: aID, ClaimBID: bID, Channel: model.ChannelSemantic, Strength: 0.81}
	valueExtraction := model.Conflict{ID: uuid.New(), ClaimAID: aID, ClaimBID: bID, Channel: model.ChannelValueExtraction, Strength: 0.95}
	out := stageD([]model.Conflict{semantic, valueExtraction})
	assert.Len(t, out, 1)
	assert.Equal(t, model.ChannelValueExtraction, out[0].Channel)
}

func TestStageBEmitsCandidateAboveThreshold(t *testing.T) {
	a := model.AtomicClaim{
		ID: uuid.New(), SectionID: uuid.New(), Object: "port 3000",
		Embedding: vectorOf(1, 0, 0),
	}
	b := model.AtomicClaim{
		ID: uuid.New(), SectionID: uuid.New(), Object: "port 8080",
		Embedding: vectorOf(1, 0, 0),
	}
	out := stageB([]model.AtomicClaim{a, b})
	assert.Len(t, out, 1)
	assert.Equal(t, model.ChannelSemantic, out[0].channel)
}

func TestStageBSkipsBelowThreshold(t *testing.T) {
	a := model.AtomicClaim{
		ID: uuid.New(), SectionID: uuid.New(), Object: "port 3000",
		Embedding: vectorOf(1, 0, 0),
	}
	b := model.AtomicClaim{
		ID: uuid.New(), SectionID: uuid.New(), Object: "port 8080",
		Embedding: vectorOf(0, 1, 0),
	}
	assert.Empty(t, stageB([]model.AtomicClaim{a, b}))
}

func TestStageBSkipsSameSection(t *testing.T) {
	section := uuid.New()
	a := model.AtomicClaim{ID: uuid.New(), SectionID: section, Object: "port 3000", Embedding: vectorOf(1, 0, 0)}
	b := model.AtomicClaim{ID: uuid.New(), SectionID: section, Object: "port 8080", Embedding: vectorOf(1, 0, 0)}
	assert.Empty(t, stageB([]model.AtomicClaim{a, b}))
}

func TestStageBSkipsAgreeingObjects(t *testing.T) {
	a := model.AtomicClaim{ID: uuid.New(), SectionID: uuid.New(), Object: "port 3000", Embedding: vectorOf(1, 0, 0)}
	b := model.AtomicClaim{ID: uuid.New(), SectionID: uuid.New(), Object: "Port 3000", Embedding: vectorOf(1, 0, 0)}
	assert.Empty(t, stageB([]model.AtomicClaim{a, b}))
}

func TestStageCDropsNonConflicts(t *testing.T) {
	a := model.AtomicClaim{ID: uuid.New(), DocumentID: uuid.New()}
	b := model.AtomicClaim{ID: uuid.New(), DocumentID: uuid.New()}
	out, err := stageC(context.Background(), &stubVerifyLLM{isConflict: false}, []candidate{{a: a, b: b, channel: model.ChannelValueExtraction, strength: 0.95}})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestStageCKeepsVerifiedConflicts(t *testing.T) {
	a := model.AtomicClaim{ID: uuid.New(), DocumentID: uuid.New()}
	b := model.AtomicClaim{ID: uuid.New(), DocumentID: uuid.New()}
	out, err := stageC(context.Background(), &stubVerifyLLM{isConflict: true}, []candidate{{a: a, b: b, channel: model.ChannelValueExtraction, strength: 0.95}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.ConflictType("value_conflict"), out[0].Type)
}

func TestStageCKeepsCandidateOnTransportFailure(t *testing.T) {
	a := model.AtomicClaim{ID: uuid.New(), DocumentID: uuid.New()}
	b := model.AtomicClaim{ID: uuid.New(), DocumentID: uuid.New()}
	out, err := stageC(context.Background(), failingLLM{}, []candidate{{a: a, b: b, channel: model.ChannelSemantic, strength: 0.81}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.ConflictPending, out[0].Status)
}

func TestDedupCandidatesCollapsesCrossChannelPair(t *testing.T) {
	a := model.AtomicClaim{ID: uuid.New()}
	b := model.AtomicClaim{ID: uuid.New()}
	candidates := []candidate{
		{a: a, b: b, channel: model.ChannelSemantic, strength: 0.81},
		{a: b, b: a, channel: model.ChannelValueExtraction, strength: 0.95},
	}
	out := dedupCandidates(candidates)
	require.Len(t, out, 1)
	assert.Equal(t, model.ChannelValueExtraction, out[0].channel)
}

func TestDetectCallsVerifyOnceForDuplicatePair(t *testing.T) {
	sectionX, sectionY := uuid.New(), uuid.New()
	a := model.AtomicClaim{
		ID: uuid.New(), SectionID: sectionX, Subject: "server", Predicate: "uses", Object: "port 3000",
		Embedding: vectorOf(1, 0, 0),
	}
	b := model.AtomicClaim{
		ID: uuid.New(), SectionID: sectionY, Subject: "server", Predicate: "uses", Object: "port 8080",
		Embedding: vectorOf(1, 0, 0),
	}
	svc := &stubVerifyLLM{isConflict: true}
	out, err := Detect(context.Background(), svc, []model.AtomicClaim{a, b})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 1, svc.callCount, "a pair qualifying for both Stage A and Stage B must reach the LLM exactly once")
}

func TestForDocumentFiltersByEitherSide(t *testing.T) {
	docA, docB, docC := uuid.New(), uuid.New(), uuid.New()
	conflicts := []model.Conflict{
		{ClaimADocumentID: docA, ClaimBDocumentID: docB},
		{ClaimADocumentID: docB, ClaimBDocumentID: docC},
	}
	assert.Len(t, ForDocument(docA, conflicts), 1)
	assert.Len(t, ForDocument(docB, conflicts), 2)
}
