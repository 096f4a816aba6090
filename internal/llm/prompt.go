package llm

import (
	"strings"

	"github.com/lorekeep/entity-extractor/constants"
)

// BuildSystemPrompt composes the system message with the entity-type enum,
// a typing rubric, and strict-but-practical formatting rules.
func BuildSystemPrompt(collectionName string) string {
	enumLine := "Each entity MUST have an 'entity_type' that is exactly one of: " +
		strings.Join(constants.EntityTypeStrings(), ", ") + ". "

	parts := []string{
		"You are a narrative entity extractor. Return ONLY JSON that matches the provided JSON Schema: " +
			`a single object with an "entities" array.`,
		"Extract every distinct named entity the text introduces or meaningfully describes.",
		enumLine,
		"Typing rubric: " + buildTypeRubric(),
		"Use 'name' for the canonical form of the entity's name as the text presents it.",
		"Put every other name, nickname, title-as-name, or epithet the text uses for the same entity into 'aliases'.",
		"For 'description', write one or two factual sentences grounded strictly in this text. No speculation.",
		"For 'attributes', use keys like titles, locations, dates, affiliations, traits; values are strings or arrays of strings.",
		"'context_snippet' must be a short verbatim quote (under 200 characters) showing where the entity appears.",
		"'confidence' is an integer 0-100: 90+ only when the text names the entity explicitly and unambiguously; " +
			"50-89 when inferred from clear context; below 50 when the mention is indirect or uncertain.",
		"Do not invent entities that are only addressed generically (\"the guard\", \"a merchant\") unless the text treats them as a recurring individual.",

		// formatting hygiene:
		"Never output null. If a field is not present, omit it.",
	}

	if cn := strings.TrimSpace(collectionName); cn != "" {
		parts = append(parts, "The text belongs to the collection \""+cn+"\"; resolve ambiguous references in that setting.")
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt packages one chunk. Chunks are already sized upstream, so
// no truncation happens here.
func BuildUserPrompt(req ExtractRequest) string {
	var b strings.Builder
	b.WriteString("Extract the entities from the following passage.\n\nPassage:\n")
	b.WriteString(req.Chunk)
	return b.String()
}

// buildTypeRubric emits short, high-precision rules per entity type, with
// tie-breakers to avoid oscillating between similar buckets.
func buildTypeRubric() string {
	defs := []string{
		"person: a named individual, human or otherwise, acting in the narrative.",
		"place: a named geographic or constructed location (city, castle, region, room).",
		"event: a named occurrence with a time extent (battle, wedding, festival, storm).",
		"organization: a named group acting collectively (house, guild, order, council, company).",
		"artifact: a named physical object of significance (weapon, book, relic, ship).",
		"concept: a named abstract idea, practice, title, or system (religion, law, currency, prophecy).",
	}
	tieBreakers := []string{
		"Tie-breaker: a titled role attached to a specific individual is a person; the title alone, held by many over time, is a concept.",
		"Tie-breaker: a building used as a faction's seat is a place; the faction itself is an organization.",
	}
	return strings.Join(append(defs, tieBreakers...), " ")
}
