package claims

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/veridocs/consolidator/internal/model"
)

func claim(subject, predicate, object, text string) model.AtomicClaim {
	return model.AtomicClaim{
		ID:           uuid.New(),
		Subject:      subject,
		Predicate:    predicate,
		Object:       object,
		OriginalText: text,
	}
}

func TestDeduplicateExactIsCaseInsensitive(t *testing.T) {
	claims := []model.AtomicClaim{
		claim("Server", "uses", "port 3000", "The server uses port 3000."),
		claim("server", "Uses", "Port 3000", "The SERVER uses Port 3000."),
	}
	out := Deduplicate(claims, 1.0)
	assert.Len(t, out, 1)
}

func TestDeduplicateIsIdempotent(t *testing.T) {
	claims := []model.AtomicClaim{
		claim("Server", "uses", "port 3000", "The server uses port 3000."),
		claim("Server", "listens on", "port 8080", "The server listens on port 8080."),
	}
	once := Deduplicate(claims, 0.5)
	twice := Deduplicate(once, 0.5)
	assert.Equal(t, len(once), len(twice))
}

func TestValidateFlagsVaguePredicateAndLowConfidence(t *testing.T) {
	c := model.AtomicClaim{Subject: "server", Predicate: "is", Object: "fast", Confidence: 0.1}
	issues := Validate([]model.AtomicClaim{c})
	assert.Len(t, issues, 1)
	assert.Contains(t, issues[0].Issues, "vague predicate")
	assert.Contains(t, issues[0].Issues, "very low confidence")
}
