package entity

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorekeep/entity-extractor/constants"
)

func TestAttributesUnmarshalKnownKinds(t *testing.T) {
	raw := []byte(`{
		"titles": ["King in the North", "Lord Commander"],
		"locations": ["Winterfell"],
		"dates": "299 AC",
		"affiliations": ["House Stark", "Night's Watch"],
		"traits": ["brooding"]
	}`)

	var a Attributes
	require.NoError(t, json.Unmarshal(raw, &a))

	assert.Equal(t, []string{"King in the North", "Lord Commander"}, a.Titles)
	assert.Equal(t, []string{"Winterfell"}, a.Locations)
	assert.Equal(t, []string{"299 AC"}, a.Dates, "scalar for a known kind becomes a one-element list")
	assert.Equal(t, []string{"House Stark", "Night's Watch"}, a.Affiliations)
	assert.Nil(t, a.Extra)
}

func TestAttributesUnknownKeysLandInExtra(t *testing.T) {
	raw := []byte(`{
		"titles": ["Khaleesi"],
		"dragons": "three",
		"house_words": "Fire and Blood",
		"age": 16
	}`)

	var a Attributes
	require.NoError(t, json.Unmarshal(raw, &a))

	assert.Equal(t, []string{"Khaleesi"}, a.Titles)
	assert.Equal(t, "three", a.Extra["dragons"])
	assert.Equal(t, "Fire and Blood", a.Extra["house_words"])
	assert.Equal(t, "16", a.Extra["age"])
}

func TestAttributesExtraCapIsEnforced(t *testing.T) {
	m := map[string]any{"titles": []string{"x"}}
	for i := 0; i < constants.MaxExtraAttributes+10; i++ {
		m[fmt.Sprintf("key_%03d", i)] = "v"
	}
	raw, err := json.Marshal(m)
	require.NoError(t, err)

	var a Attributes
	require.NoError(t, json.Unmarshal(raw, &a))

	assert.Len(t, a.Extra, constants.MaxExtraAttributes)
	assert.Contains(t, a.Extra, "key_000", "cap keeps the first keys in stable order")
	assert.NotContains(t, a.Extra, fmt.Sprintf("key_%03d", constants.MaxExtraAttributes+5))
}

func TestAttributesRoundTrip(t *testing.T) {
	a := Attributes{
		Titles:    []string{"Ser"},
		Locations: []string{"King's Landing", "Dragonstone"},
		Extra:     map[string]string{"sigil": "lion"},
	}

	raw, err := json.Marshal(a)
	require.NoError(t, err)

	var back Attributes
	require.NoError(t, json.Unmarshal(raw, &back))

	assert.Equal(t, a.Titles, back.Titles)
	assert.Equal(t, a.Locations, back.Locations)
	assert.Equal(t, a.Extra, back.Extra)
	assert.True(t, Attributes{}.IsEmpty())
	assert.False(t, a.IsEmpty())
}
