package entity

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lorekeep/entity-extractor/constants"
)

// Attributes is the structured metadata attached to a candidate or corpus
// entity. Known kinds are typed fields; anything else the model proposes
// lands in Extra, capped at constants.MaxExtraAttributes keys.
type Attributes struct {
	Titles       []string          `json:"titles,omitempty"`
	Locations    []string          `json:"locations,omitempty"`
	Dates        []string          `json:"dates,omitempty"`
	Affiliations []string          `json:"affiliations,omitempty"`
	Traits       []string          `json:"traits,omitempty"`
	Extra        map[string]string `json:"-"`
}

var knownAttributeKinds = map[string]struct{}{
	"titles":       {},
	"locations":    {},
	"dates":        {},
	"affiliations": {},
	"traits":       {},
}

// IsEmpty reports whether no attribute of any kind is set.
func (a Attributes) IsEmpty() bool {
	return len(a.Titles) == 0 && len(a.Locations) == 0 && len(a.Dates) == 0 &&
		len(a.Affiliations) == 0 && len(a.Traits) == 0 && len(a.Extra) == 0
}

// MarshalJSON flattens known kinds and Extra into a single object.
func (a Attributes) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(knownAttributeKinds)+len(a.Extra))
	if len(a.Titles) > 0 {
		m["titles"] = a.Titles
	}
	if len(a.Locations) > 0 {
		m["locations"] = a.Locations
	}
	if len(a.Dates) > 0 {
		m["dates"] = a.Dates
	}
	if len(a.Affiliations) > 0 {
		m["affiliations"] = a.Affiliations
	}
	if len(a.Traits) > 0 {
		m["traits"] = a.Traits
	}
	for k, v := range a.Extra {
		if _, known := knownAttributeKinds[k]; !known {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON folds unknown keys into Extra, dropping overflow beyond the
// cap. Scalars and lists of scalars are both accepted for known kinds.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	*a = Attributes{}
	a.Titles = asStringList(m["titles"])
	a.Locations = asStringList(m["locations"])
	a.Dates = asStringList(m["dates"])
	a.Affiliations = asStringList(m["affiliations"])
	a.Traits = asStringList(m["traits"])

	extraKeys := make([]string, 0, len(m))
	for k := range m {
		if _, known := knownAttributeKinds[k]; !known {
			extraKeys = append(extraKeys, k)
		}
	}
	// Stable order so the cap always keeps the same keys for the same input.
	sort.Strings(extraKeys)
	if len(extraKeys) > constants.MaxExtraAttributes {
		extraKeys = extraKeys[:constants.MaxExtraAttributes]
	}
	if len(extraKeys) > 0 {
		a.Extra = make(map[string]string, len(extraKeys))
		for _, k := range extraKeys {
			if s := asString(m[k]); s != "" {
				a.Extra[k] = s
			}
		}
		if len(a.Extra) == 0 {
			a.Extra = nil
		}
	}
	return nil
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
	case bool:
		return fmt.Sprintf("%t", t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s := asString(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func asStringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		return []string{s}
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s := asString(e); s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		if s := asString(t); s != "" {
			return []string{s}
		}
		return nil
	}
}
