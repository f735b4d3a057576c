package merge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridocs/consolidator/internal/llm"
	"github.com/veridocs/consolidator/internal/model"
)

// stubSmartLLM always returns the same smart-resolution response.
type stubSmartLLM struct {
	resp map[string]any
	err  error
}

func (s stubSmartLLM) Generate(_ context.Context, _ llm.Request) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	payload, _ := json.Marshal(s.resp)
	return string(payload), nil
}

func newConflictAndDocs(createdA, createdB time.Time, sourceA, sourceB string) (model.Conflict, model.Document, model.Document) {
	docAID, docBID := uuid.New(), uuid.New()
	c := model.Conflict{
		ID: uuid.New(), ClaimAID: uuid.New(), ClaimBID: uuid.New(),
		ClaimADocumentID: docAID, ClaimBDocumentID: docBID,
		ClaimAText: "timeout is 30s", ClaimBText: "timeout is 60s",
		Type: model.ConflictValue,
	}
	docA := model.Document{ID: docAID, SourceID: sourceA, CreatedAt: createdA}
	docB := model.Document{ID: docBID, SourceID: sourceB, CreatedAt: createdB}
	return c, docA, docB
}

func TestResolveConflictFlagAllAlwaysFlags(t *testing.T) {
	c, docA, docB := newConflictAndDocs(time.Now(), time.Now().Add(time.Hour), "a.md", "b.md")
	out := resolveConflict(context.Background(), nil, c, docA, docB, model.MergeStrategy{Mode: model.ModeFlagAll})
	require.Nil(t, out.resolution)
	assert.Equal(t, "strategy is flag_all", out.flagReason)
}

func TestResolveConflictNewestWinsPicksLaterDocument(t *testing.T) {
	older := time.Now()
	newer := older.Add(time.Hour)
	c, docA, docB := newConflictAndDocs(older, newer, "a.md", "b.md")
	out := resolveConflict(context.Background(), nil, c, docA, docB, model.MergeStrategy{Mode: model.ModeNewestWins})
	require.NotNil(t, out.resolution)
	assert.Equal(t, model.ChoseB, out.resolution.Choice)
	assert.Equal(t, &c.ClaimBID, out.resolution.WinningClaim)
}

func TestResolveConflictNewestWinsFlagsOnTie(t *testing.T) {
	same := time.Now()
	c, docA, docB := newConflictAndDocs(same, same, "a.md", "b.md")
	out := resolveConflict(context.Background(), nil, c, docA, docB, model.MergeStrategy{Mode: model.ModeNewestWins})
	require.Nil(t, out.resolution)
	assert.Contains(t, out.flagReason, "equal creation timestamps")
}

func TestResolveConflictAuthorityWinsPicksHigherRank(t *testing.T) {
	c, docA, docB := newConflictAndDocs(time.Now(), time.Now(), "policies/official.md", "drafts/scratch.md")
	strategy := model.MergeStrategy{Mode: model.ModeAuthorityWins, AuthorityOrder: []string{"policies/*", "drafts/*"}}
	out := resolveConflict(context.Background(), nil, c, docA, docB, strategy)
	require.NotNil(t, out.resolution)
	assert.Equal(t, model.ChoseA, out.resolution.Choice)
}

func TestResolveConflictAuthorityWinsFlagsWhenNoPatternMatches(t *testing.T) {
	c, docA, docB := newConflictAndDocs(time.Now(), time.Now(), "a.md", "b.md")
	strategy := model.MergeStrategy{Mode: model.ModeAuthorityWins, AuthorityOrder: []string{"policies/*"}}
	out := resolveConflict(context.Background(), nil, c, docA, docB, strategy)
	require.Nil(t, out.resolution)
	assert.Contains(t, out.flagReason, "no authorityOrder pattern matched")
}

func TestResolveConflictAuthorityWinsFlagsOnTie(t *testing.T) {
	c, docA, docB := newConflictAndDocs(time.Now(), time.Now(), "policies/a.md", "policies/b.md")
	strategy := model.MergeStrategy{Mode: model.ModeAuthorityWins, AuthorityOrder: []string{"policies/*"}}
	out := resolveConflict(context.Background(), nil, c, docA, docB, strategy)
	require.Nil(t, out.resolution)
	assert.Contains(t, out.flagReason, "tie in authority rank")
}

func TestResolveConflictSmartChoosesA(t *testing.T) {
	c, docA, docB := newConflictAndDocs(time.Now(), time.Now(), "a.md", "b.md")
	svc := stubSmartLLM{resp: map[string]any{"choice": "chose_a", "confidence": 0.9, "reasoning": "A is more specific"}}
	strategy := model.MergeStrategy{Mode: model.ModeSmart, ConflictThreshold: model.DefaultConflictThreshold}
	out := resolveConflict(context.Background(), svc, c, docA, docB, strategy)
	require.NotNil(t, out.resolution)
	assert.Equal(t, model.ChoseA, out.resolution.Choice)
}

func TestResolveConflictSmartMerges(t *testing.T) {
	c, docA, docB := newConflictAndDocs(time.Now(), time.Now(), "a.md", "b.md")
	mergedText := "timeout is 30-60s depending on environment"
	svc := stubSmartLLM{resp: map[string]any{"choice": "merged", "confidence": 0.9, "merged_text": mergedText}}
	strategy := model.MergeStrategy{Mode: model.ModeSmart, ConflictThreshold: model.DefaultConflictThreshold}
	out := resolveConflict(context.Background(), svc, c, docA, docB, strategy)
	require.NotNil(t, out.resolution)
	assert.Equal(t, model.Merged, out.resolution.Choice)
	require.NotNil(t, out.resolution.MergedText)
	assert.Equal(t, mergedText, *out.resolution.MergedText)
}

func TestResolveConflictSmartFlagsBelowThreshold(t *testing.T) {
	c, docA, docB := newConflictAndDocs(time.Now(), time.Now(), "a.md", "b.md")
	svc := stubSmartLLM{resp: map[string]any{"choice": "chose_a", "confidence": 0.4}}
	strategy := model.MergeStrategy{Mode: model.ModeSmart, ConflictThreshold: model.DefaultConflictThreshold}
	out := resolveConflict(context.Background(), svc, c, docA, docB, strategy)
	require.Nil(t, out.resolution)
	assert.Contains(t, out.flagReason, "below threshold")
}

func TestResolveConflictSmartFlagsOnLLMError(t *testing.T) {
	c, docA, docB := newConflictAndDocs(time.Now(), time.Now(), "a.md", "b.md")
	svc := stubSmartLLM{err: llm.ErrNoProvider}
	strategy := model.MergeStrategy{Mode: model.ModeSmart, ConflictThreshold: model.DefaultConflictThreshold}
	out := resolveConflict(context.Background(), svc, c, docA, docB, strategy)
	require.Nil(t, out.resolution)
	assert.Contains(t, out.flagReason, "smart resolution unavailable")
}

func TestResolveConflictUnknownModeFlags(t *testing.T) {
	c, docA, docB := newConflictAndDocs(time.Now(), time.Now(), "a.md", "b.md")
	out := resolveConflict(context.Background(), nil, c, docA, docB, model.MergeStrategy{Mode: model.MergeMode("bogus")})
	require.Nil(t, out.resolution)
	assert.Contains(t, out.flagReason, "unknown strategy mode")
}
