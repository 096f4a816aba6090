package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/lorekeep/entity-extractor/constants"
)

// NormalizeAndSanitizeJSON
// - Strips markdown code fences around the payload
// - Wraps a bare top-level array into {"entities": [...]}
// - Renames known synonyms (type -> entity_type, aka -> aliases)
// - Coerces confidence to an integer 0..100 (0..1 floats scale up)
// - Drops entities with no usable name or no recognizable type
// - Removes unknown keys (strict additionalProperties = false friendliness)
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var doc any
	if err := json.Unmarshal(stripCodeFences(raw), &doc); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 8)

	var m map[string]any
	switch t := doc.(type) {
	case map[string]any:
		m = t
	case []any:
		// some models return the array without the wrapper object
		m = map[string]any{"entities": t}
		dropped = append(dropped, "(wrapped bare array)")
	default:
		return nil, nil, fmt.Errorf("sanitize: unexpected top-level %T", doc)
	}

	// 1) rename top-level synonyms to our schema
	for _, from := range []string{"candidates", "results", "extracted_entities", "entity_list"} {
		if v, ok := m[from]; ok {
			if _, exists := m["entities"]; !exists {
				m["entities"] = v
			}
			delete(m, from)
			dropped = append(dropped, from+"->entities")
		}
	}

	// 2) sanitize each entity; keep only the usable ones
	if items, ok := m["entities"].([]any); ok {
		kept := make([]any, 0, len(items))
		for i, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				dropped = append(dropped, fmt.Sprintf("entities[%d](not an object)", i))
				continue
			}
			notes, usable := sanitizeEntity(obj, i)
			dropped = append(dropped, notes...)
			if usable {
				kept = append(kept, obj)
			}
		}
		m["entities"] = kept
	}

	// 3) remove unknown top-level keys
	for k := range m {
		if k != "entities" {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm.extract.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

// sanitizeEntity normalizes one entity object in place. usable is false when
// the entity lacks a name or a recognizable type and must be removed so the
// rest of the document can still validate.
func sanitizeEntity(obj map[string]any, idx int) (notes []string, usable bool) {
	renamed := func(from, to string) {
		if v, ok := obj[from]; ok {
			if _, exists := obj[to]; !exists {
				obj[to] = v
			}
			delete(obj, from)
			notes = append(notes, fmt.Sprintf("entities[%d].%s->%s", idx, from, to))
		}
	}

	renamed("type", "entity_type")
	renamed("kind", "entity_type")
	renamed("canonical_name", "name")
	renamed("aka", "aliases")
	renamed("also_known_as", "aliases")
	renamed("alternative_names", "aliases")
	renamed("alternate_names", "aliases")
	renamed("summary", "description")
	renamed("snippet", "context_snippet")
	renamed("context", "context_snippet")
	renamed("quote", "context_snippet")
	renamed("attrs", "attributes")
	renamed("properties", "attributes")

	// name is load-bearing; an entity without one is unusable
	name, _ := obj["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		notes = append(notes, fmt.Sprintf("entities[%d](no name)", idx))
		return notes, false
	}
	obj["name"] = name

	// entity_type must canonicalize into the closed set
	rawType, _ := obj["entity_type"].(string)
	et, ok := constants.CanonicalizeEntityType(rawType)
	if !ok {
		notes = append(notes, fmt.Sprintf("entities[%d].entity_type(unknown: %q)", idx, rawType))
		return notes, false
	}
	if string(et) != rawType {
		notes = append(notes, fmt.Sprintf("entities[%d].entity_type(%q->%q)", idx, rawType, string(et)))
	}
	obj["entity_type"] = string(et)

	// confidence: scale, parse, clamp; default when the model omitted it
	conf, note := coerceConfidence(obj["confidence"])
	if note != "" {
		notes = append(notes, fmt.Sprintf("entities[%d].confidence(%s)", idx, note))
	}
	obj["confidence"] = conf

	// aliases: tolerate a scalar, drop empties, cap the set
	if v, ok := obj["aliases"]; ok {
		aliases, changed := coerceAliases(v)
		if len(aliases) == 0 {
			delete(obj, "aliases")
			notes = append(notes, fmt.Sprintf("entities[%d].aliases(empty)", idx))
		} else {
			if len(aliases) > constants.MaxAliasesPerEntity {
				aliases = aliases[:constants.MaxAliasesPerEntity]
				notes = append(notes, fmt.Sprintf("entities[%d].aliases(capped)", idx))
			} else if changed {
				notes = append(notes, fmt.Sprintf("entities[%d].aliases(coerced)", idx))
			}
			obj["aliases"] = aliases
		}
	}

	// trim optional strings; drop them when empty
	for _, k := range []string{"description", "context_snippet"} {
		if v, ok := obj[k]; ok {
			s, _ := v.(string)
			s = strings.TrimSpace(s)
			if s == "" {
				delete(obj, k)
				notes = append(notes, fmt.Sprintf("entities[%d].%s(empty)", idx, k))
			} else {
				obj[k] = s
			}
		}
	}
	if s, ok := obj["context_snippet"].(string); ok && len([]rune(s)) > maxSnippetRunes {
		obj["context_snippet"] = string([]rune(s)[:maxSnippetRunes])
		notes = append(notes, fmt.Sprintf("entities[%d].context_snippet(truncated)", idx))
	}

	// attributes must be an object
	if v, ok := obj["attributes"]; ok {
		if _, isMap := v.(map[string]any); !isMap {
			delete(obj, "attributes")
			notes = append(notes, fmt.Sprintf("entities[%d].attributes(not an object)", idx))
		}
	}

	// remove unknown keys
	for k := range obj {
		if _, known := entityKeys[k]; !known {
			delete(obj, k)
			notes = append(notes, fmt.Sprintf("entities[%d].%s(unknown)", idx, k))
		}
	}

	return notes, true
}

const maxSnippetRunes = 300

var entityKeys = map[string]struct{}{
	"entity_type": {}, "name": {}, "aliases": {}, "description": {},
	"attributes": {}, "context_snippet": {}, "confidence": {},
}

// coerceConfidence maps whatever the model produced onto the 0..100 integer
// scale. Fractional values at or below 1.0 are read as ratios.
func coerceConfidence(v any) (int, string) {
	switch t := v.(type) {
	case nil:
		return 50, "defaulted"
	case float64:
		if t > 0 && t <= 1.0 {
			return clampConfidence(int(math.Round(t * 100))), "scaled"
		}
		if t == math.Trunc(t) {
			return clampConfidence(int(t)), ""
		}
		return clampConfidence(int(math.Round(t))), "rounded"
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(t), "%")
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			if f > 0 && f <= 1.0 {
				return clampConfidence(int(math.Round(f * 100))), "scaled"
			}
			return clampConfidence(int(math.Round(f))), "parsed"
		}
		return 50, "defaulted"
	default:
		return 50, "defaulted"
	}
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

func coerceAliases(v any) (out []any, changed bool) {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []any{s}, true
		}
		return nil, true
	case []any:
		out = make([]any, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				changed = true
				continue
			}
			s = strings.TrimSpace(s)
			if s == "" {
				changed = true
				continue
			}
			out = append(out, s)
		}
		return out, changed
	default:
		return nil, true
	}
}

// stripCodeFences removes a surrounding ```json ... ``` block when the model
// wrapped its output in one.
func stripCodeFences(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(s, "```") {
		return raw
	}
	i := strings.IndexByte(s, '\n')
	if i < 0 {
		return raw
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s[i+1:]), "```"))
	return []byte(s)
}
