package model

import (
	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// EntityType tags the kind of real-world referent an Entity represents.
// The set is open; callers may mint new values, but the type heuristic in
// the entity resolver only ever produces these.
type EntityType string

const (
	EntityComponent EntityType = "component"
	EntityFunction  EntityType = "function"
	EntityConfig    EntityType = "config"
	EntityFile      EntityType = "file"
	EntityPerson    EntityType = "person"
	EntityUnknown   EntityType = "unknown"
)

// Entity is a canonical real-world referent. Claims link to entities by a
// many-to-many MENTIONS relation carrying the owning document id for
// provenance; entities themselves never embed claims.
type Entity struct {
	ID         uuid.UUID        `json:"id"`
	Name       string           `json:"canonical_name"`
	Type       EntityType       `json:"type"`
	Aliases    []string         `json:"aliases,omitempty"`
	Attributes map[string]any   `json:"attributes,omitempty"`
	Embedding  *pgvector.Vector `json:"-"`
}

// ClaimEntityMention is the MENTIONS edge linking a claim to an entity,
// carrying the document id the mention was observed in for provenance.
type ClaimEntityMention struct {
	ClaimID    uuid.UUID `json:"claim_id"`
	EntityID   uuid.UUID `json:"entity_id"`
	DocumentID uuid.UUID `json:"document_id"`
}

// Mention is an unresolved reference to an entity surfaced from claim text.
type Mention struct {
	Text string
	Type *EntityType // caller-supplied hint; nil triggers the type heuristic
}

// InferEntityType applies the resolver's ordered surface-form heuristic when
// no explicit type was supplied with a mention.
func InferEntityType(text string) EntityType {
	lower := normalizeToken(text)
	switch {
	case hasAnyPrefix(lower, "get", "set", "is", "has"):
		return EntityFunction
	case containsAny(lower, "config", "settings", "env"):
		return EntityConfig
	case looksLikeEmail(lower):
		return EntityPerson
	case hasFileExtension(text):
		return EntityFile
	default:
		return EntityUnknown
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if len(s) >= len(p) && s[:len(p)] == p {
			return true
		}
	}
	return false
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if containsSubstr(s, sub) {
			return true
		}
	}
	return false
}

// looksLikeEmail applies a loose x@y.z shape check, deliberately not a full
// RFC-5322 parse since the resolver only needs a type hint, not validation.
func looksLikeEmail(s string) bool {
	at := -1
	for i, r := range s {
		if r == '@' {
			at = i
			break
		}
	}
	if at <= 0 || at == len(s)-1 {
		return false
	}
	rest := s[at+1:]
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == '.' {
			return i > 0 && i < len(rest)-1
		}
	}
	return false
}

func hasFileExtension(s string) bool {
	for i := len(s) - 1; i >= 0 && i > len(s)-8; i-- {
		if s[i] == '.' {
			return i < len(s)-1 && i > 0
		}
		if s[i] == ' ' || s[i] == '/' {
			return false
		}
	}
	return false
}
