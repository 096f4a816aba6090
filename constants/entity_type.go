package constants

import (
	"strings"
)

// EntityType is the closed set of entity kinds the extractor may propose.
type EntityType string

const (
	EntityTypePerson       EntityType = "person"
	EntityTypePlace        EntityType = "place"
	EntityTypeEvent        EntityType = "event"
	EntityTypeOrganization EntityType = "organization"
	EntityTypeArtifact     EntityType = "artifact"
	EntityTypeConcept      EntityType = "concept"
)

var allEntityTypes = []EntityType{
	EntityTypePerson,
	EntityTypePlace,
	EntityTypeEvent,
	EntityTypeOrganization,
	EntityTypeArtifact,
	EntityTypeConcept,
}

// EntityTypeStrings returns the closed set as plain strings, in stable order.
// Used for the prompt enum and the response JSON schema.
func EntityTypeStrings() []string {
	result := make([]string, len(allEntityTypes))
	for i, t := range allEntityTypes {
		result[i] = string(t)
	}
	return result
}

func IsValidEntityType(s string) bool {
	for _, t := range allEntityTypes {
		if s == string(t) {
			return true
		}
	}
	return false
}

// CanonicalizeEntityType maps a free-form label onto the closed set.
// Returns (EntityTypeConcept, false) when nothing matches.
func CanonicalizeEntityType(input string) (EntityType, bool) {
	if input == "" {
		return EntityTypeConcept, false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	// synonyms map
	synonyms := map[string]EntityType{
		"human":        EntityTypePerson,
		"character":    EntityTypePerson,
		"people":       EntityTypePerson,
		"location":     EntityTypePlace,
		"region":       EntityTypePlace,
		"city":         EntityTypePlace,
		"battle":       EntityTypeEvent,
		"war":          EntityTypeEvent,
		"org":          EntityTypeOrganization,
		"faction":      EntityTypeOrganization,
		"house":        EntityTypeOrganization,
		"group":        EntityTypeOrganization,
		"guild":        EntityTypeOrganization,
		"item":         EntityTypeArtifact,
		"object":       EntityTypeArtifact,
		"weapon":       EntityTypeArtifact,
		"relic":        EntityTypeArtifact,
		"idea":         EntityTypeConcept,
		"term":         EntityTypeConcept,
		"custom":       EntityTypeConcept,
		"institution":  EntityTypeOrganization,
		"settlement":   EntityTypePlace,
		"celebration":  EntityTypeEvent,
	}

	if t, ok := synonyms[normalized]; ok {
		return t, true
	}

	for _, t := range allEntityTypes {
		if normalized == string(t) {
			return t, true
		}
	}

	return EntityTypeConcept, false
}
