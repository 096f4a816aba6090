// Package dedup screens extracted candidates against the existing corpus and
// against each other. Four strategies run in precedence order per pair
// (exact, fuzzy, alias, semantic); only the highest-precedence hit is
// recorded, so a (candidate, entity) pair never carries two matches.
package dedup

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/xrash/smetrics"

	"github.com/lorekeep/entity-extractor/constants"
	"github.com/lorekeep/entity-extractor/internal/entity"
)

// Fixed strategy scores and the default fuzzy gate.
const (
	ExactMatchScore       = 100
	AliasMatchScore       = 95
	DefaultFuzzyThreshold = 85

	jaroWinklerWeight  = 0.6
	editDistanceWeight = 0.4

	jwBoostThreshold = 0.7
	jwPrefixSize     = 4
)

// Config tunes the detector. Zero values fall back to defaults.
type Config struct {
	FuzzyThreshold    int
	SemanticThreshold int
}

// Detector runs the matching strategies. It holds no mutable state: given
// the same candidate and corpus snapshot it produces the same matches.
type Detector struct {
	cfg      Config
	semantic SemanticMatcher
	logger   *slog.Logger
}

// NewDetector builds a detector. semantic may be nil, which disables the
// semantic strategy entirely.
func NewDetector(cfg Config, semantic SemanticMatcher, logger *slog.Logger) *Detector {
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if cfg.SemanticThreshold <= 0 {
		cfg.SemanticThreshold = 80
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{cfg: cfg, semantic: semantic, logger: logger}
}

// FindMatches scores cand against every corpus entity. The context is only
// consulted by the semantic strategy; the core strategies are pure. Matches
// come back ordered by score descending, entity id ascending.
func (d *Detector) FindMatches(ctx context.Context, cand *entity.EntityCandidate, corpus []*entity.CorpusEntity) []*entity.DuplicateMatch {
	candName := NormalizeName(cand.Name)
	candAliases := normalizeSet(cand.Aliases)

	matches := make([]*entity.DuplicateMatch, 0, 4)
	for _, existing := range corpus {
		if m := d.matchPair(ctx, cand, candName, candAliases, existing); m != nil {
			matches = append(matches, m)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].EntityID < matches[j].EntityID
	})
	return matches
}

// matchPair applies the strategies in precedence order and stops at the
// first hit, so a pair is scored by exactly one method.
func (d *Detector) matchPair(ctx context.Context, cand *entity.EntityCandidate, candName string, candAliases []string, existing *entity.CorpusEntity) *entity.DuplicateMatch {
	existingName := NormalizeName(existing.Name)

	// 1. exact
	if candName != "" && candName == existingName {
		return d.match(cand, existing, constants.MatchMethodExact, ExactMatchScore, "name")
	}

	// 2. fuzzy
	if score := FuzzyScore(candName, existingName); score >= d.cfg.FuzzyThreshold {
		return d.match(cand, existing, constants.MatchMethodFuzzy, score, "name")
	}

	// 3. alias
	existingNames := normalizeSet(append([]string{existing.Name}, existing.Aliases...))
	if _, ok := intersects(candAliases, existingNames); ok {
		return d.match(cand, existing, constants.MatchMethodAlias, AliasMatchScore, "aliases")
	}

	// 4. semantic (advisory, lowest precedence); a failing scorer skips the
	// pair rather than sinking the scan
	if d.semantic != nil {
		score, err := d.semantic.Score(ctx, semanticText(cand.Name, cand.Description), semanticText(existing.Name, existing.Description))
		if err != nil {
			d.logger.Warn("dedup.semantic.error", "candidate_id", cand.ID, "entity_id", existing.ID, "error", err)
			return nil
		}
		if score >= d.cfg.SemanticThreshold {
			return d.match(cand, existing, constants.MatchMethodSemantic, clampScore(score), "description")
		}
	}

	return nil
}

func (d *Detector) match(cand *entity.EntityCandidate, existing *entity.CorpusEntity, method constants.MatchMethod, score int, field string) *entity.DuplicateMatch {
	return &entity.DuplicateMatch{
		CandidateID:  cand.ID,
		EntityID:     existing.ID,
		Score:        score,
		Method:       method,
		MatchedField: field,
		Disposition:  constants.DispositionPending,
	}
}

// IntraJobDuplicate names the earlier candidate a later one duplicates.
type IntraJobDuplicate struct {
	Of     *entity.EntityCandidate
	Method constants.MatchMethod
	Score  int
}

// FindIntraJob compares cand against candidates produced earlier in the same
// job (ordered by chunk index, then id) and returns the first earlier
// candidate it duplicates by exact, fuzzy, or alias matching. Semantic is
// skipped intra-job.
func (d *Detector) FindIntraJob(cand *entity.EntityCandidate, earlier []*entity.EntityCandidate) (*IntraJobDuplicate, bool) {
	candName := NormalizeName(cand.Name)
	candAliases := normalizeSet(cand.Aliases)

	for _, prev := range earlier {
		prevName := NormalizeName(prev.Name)
		if candName != "" && candName == prevName {
			return &IntraJobDuplicate{Of: prev, Method: constants.MatchMethodExact, Score: ExactMatchScore}, true
		}
		if score := FuzzyScore(candName, prevName); score >= d.cfg.FuzzyThreshold {
			return &IntraJobDuplicate{Of: prev, Method: constants.MatchMethodFuzzy, Score: score}, true
		}
		prevNames := normalizeSet(append([]string{prev.Name}, prev.Aliases...))
		if _, ok := intersects(candAliases, prevNames); ok {
			return &IntraJobDuplicate{Of: prev, Method: constants.MatchMethodAlias, Score: AliasMatchScore}, true
		}
	}
	return nil, false
}

// FuzzyScore blends Jaro-Winkler similarity with normalized edit distance on
// already-normalized names, on the 0..100 scale.
func FuzzyScore(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}

	jw := smetrics.JaroWinkler(a, b, jwBoostThreshold, jwPrefixSize)

	maxLen := utf8.RuneCountInString(a)
	if l := utf8.RuneCountInString(b); l > maxLen {
		maxLen = l
	}
	editSim := 1.0 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
	if editSim < 0 {
		editSim = 0
	}

	return clampScore(int(math.Round((jaroWinklerWeight*jw + editDistanceWeight*editSim) * 100)))
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func semanticText(name, description string) string {
	if description == "" {
		return name
	}
	return name + ". " + description
}
