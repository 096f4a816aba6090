package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorekeep/entity-extractor/constants"
)

func TestDecodeCandidates(t *testing.T) {
	content := "```json\n" + `{"entities": [
		{
			"type": "Character",
			"name": "Daenerys Targaryen",
			"aka": ["Stormborn", "Khaleesi"],
			"summary": "Exiled princess crossing the narrow sea.",
			"attributes": {"titles": ["Queen", "Khaleesi"], "affiliations": "House Targaryen"},
			"snippet": "Daenerys Stormborn of House Targaryen",
			"confidence": 0.96
		},
		{
			"entity_type": "place",
			"name": "Dragonstone",
			"confidence": 88
		}
	]}` + "\n```"

	req := ExtractRequest{Chunk: "...", ChunkIndex: 2, CharOffset: 8000}
	cands, err := DecodeCandidates(BuildEntityJSONSchema(), []byte(content), req, discardLogger())
	require.NoError(t, err)
	require.Len(t, cands, 2)

	dany := cands[0]
	assert.Equal(t, constants.EntityTypePerson, dany.EntityType)
	assert.Equal(t, "Daenerys Targaryen", dany.Name)
	assert.Equal(t, []string{"Stormborn", "Khaleesi"}, dany.Aliases)
	assert.Equal(t, 96, dany.Confidence)
	assert.Equal(t, []string{"Queen", "Khaleesi"}, dany.Attributes.Titles)
	assert.Equal(t, []string{"House Targaryen"}, dany.Attributes.Affiliations)
	assert.Equal(t, 2, dany.ChunkIndex)
	assert.Equal(t, 8000, dany.CharOffset)
	assert.Equal(t, constants.CandidateStatusPending, dany.Status)

	stone := cands[1]
	assert.Equal(t, constants.EntityTypePlace, stone.EntityType)
	assert.Equal(t, 88, stone.Confidence)
	assert.Empty(t, stone.Aliases)
}

func TestDecodeCandidatesEmptySet(t *testing.T) {
	cands, err := DecodeCandidates(BuildEntityJSONSchema(), []byte(`{"entities": []}`), ExtractRequest{}, discardLogger())
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestDecodeCandidatesMalformed(t *testing.T) {
	_, err := DecodeCandidates(BuildEntityJSONSchema(), []byte(`The passage mentions Jon Snow.`), ExtractRequest{}, discardLogger())
	assert.Error(t, err)
}
