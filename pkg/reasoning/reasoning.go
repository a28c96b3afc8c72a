// Package reasoning infers join relationships between catalog relations,
// using lexical heuristics first and an LLM fallback for low-confidence or
// constrained cases.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/parlance-data/parlance/pkg/catalog"
	"github.com/parlance-data/parlance/pkg/llm"
)

const (
	// DefaultConfidenceThreshold is the minimum heuristic confidence below
	// which the LLM fallback is consulted.
	DefaultConfidenceThreshold = 0.75

	heuristicCutoff  = 0.5
	ambiguityFloor   = 0.7
	ambiguitySpread  = 0.1
	defaultCacheTTL  = 5 * time.Minute
	similarNameAlert = 0.85
)

// ErrNoRelationship indicates no join could be inferred between two relations.
var ErrNoRelationship = errors.New("no relationship found")

// Candidate is a proposed join between two relations.
type Candidate struct {
	LeftRelation   string  `json:"left_relation"`
	LeftAttribute  string  `json:"left_attribute"`
	RightRelation  string  `json:"right_relation"`
	RightAttribute string  `json:"right_attribute"`
	Confidence     float64 `json:"confidence"`
	Rationale      string  `json:"rationale"`
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s.%s = %s.%s (confidence %.2f)",
		c.LeftRelation, c.LeftAttribute, c.RightRelation, c.RightAttribute, c.Confidence)
}

// Condition renders the candidate as a join condition.
func (c Candidate) Condition() string {
	return fmt.Sprintf("%s.%s = %s.%s", c.LeftRelation, c.LeftAttribute, c.RightRelation, c.RightAttribute)
}

// AmbiguityError reports multiple near-equal high-confidence candidates that
// require a human decision.
type AmbiguityError struct {
	LeftRelation  string
	RightRelation string
	Options       []Candidate
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("multiple possible joins found between %s and %s (%d options)",
		e.LeftRelation, e.RightRelation, len(e.Options))
}

// Config configures a Reasoner.
type Config struct {
	Logger  *slog.Logger
	Catalog *catalog.Catalog
	LLM     llm.Client
	// ConfidenceThreshold below which heuristic results trigger the LLM
	// fallback. Defaults to DefaultConfidenceThreshold.
	ConfidenceThreshold float64
	// CacheTTL bounds how long heuristic pair results are reused.
	CacheTTL time.Duration
	// WarnSimilarRelationNames logs a warning when a third relation's name
	// closely matches one of the pair being joined.
	WarnSimilarRelationNames bool
}

// Reasoner infers relationships between pairs of relations.
type Reasoner struct {
	log       *slog.Logger
	catalog   *catalog.Catalog
	llm       llm.Client
	threshold float64
	warnNames bool
	cache     *ttlcache.Cache[string, []Candidate]
}

// New creates a Reasoner from cfg.
func New(cfg Config) *Reasoner {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, []Candidate](ttl),
		ttlcache.WithDisableTouchOnHit[string, []Candidate](),
	)
	go cache.Start()

	return &Reasoner{
		log:       log,
		catalog:   cfg.Catalog,
		llm:       cfg.LLM,
		threshold: threshold,
		warnNames: cfg.WarnSimilarRelationNames,
		cache:     cache,
	}
}

// Close stops the cache janitor.
func (r *Reasoner) Close() {
	r.cache.Stop()
}

// Infer proposes joins between two relations, ordered by confidence. It
// returns *AmbiguityError when several near-equal high-confidence candidates
// exist and ErrNoRelationship (wrapped) when nothing plausible is found.
// Constraints from prior corrections force the LLM path.
func (r *Reasoner) Infer(ctx context.Context, left, right string, constraints []string) ([]Candidate, error) {
	leftRel := r.catalog.Relation(left)
	if leftRel == nil {
		return nil, fmt.Errorf("relation not found in catalog: %s", left)
	}
	rightRel := r.catalog.Relation(right)
	if rightRel == nil {
		return nil, fmt.Errorf("relation not found in catalog: %s", right)
	}

	if r.warnNames {
		r.warnSimilarNames(left, right)
	}

	heuristic := r.heuristicCandidates(leftRel, rightRel)

	candidates := heuristic
	if len(constraints) > 0 || len(heuristic) == 0 || heuristic[0].Confidence < r.threshold {
		fromLLM, err := r.llmCandidates(ctx, leftRel, rightRel, constraints)
		if err != nil {
			r.log.Warn("LLM relationship inference failed, keeping heuristic results",
				"left", left, "right", right, "error", err)
		}
		if len(fromLLM) > 0 {
			candidates = fromLLM
		}
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("between %s and %s: %w", left, right, ErrNoRelationship)
	}

	if ambiguous := ambiguousSubset(candidates); len(ambiguous) > 1 {
		r.log.Warn("ambiguous relationship candidates",
			"left", left, "right", right, "options", len(ambiguous))
		return nil, &AmbiguityError{LeftRelation: left, RightRelation: right, Options: ambiguous}
	}

	r.log.Info("relationship inferred",
		"left", left, "right", right,
		"candidates", len(candidates),
		"top_confidence", candidates[0].Confidence)
	return candidates, nil
}

func ambiguousSubset(candidates []Candidate) []Candidate {
	if len(candidates) < 2 {
		return nil
	}
	top := candidates[0].Confidence
	var out []Candidate
	for _, c := range candidates {
		if top-c.Confidence < ambiguitySpread && c.Confidence > ambiguityFloor {
			out = append(out, c)
		}
	}
	return out
}

func (r *Reasoner) heuristicCandidates(left, right *catalog.Relation) []Candidate {
	key := left.Name + "|" + right.Name
	if item := r.cache.Get(key); item != nil {
		return item.Value()
	}

	var candidates []Candidate
	for _, la := range left.Attributes {
		for _, ra := range right.Attributes {
			if !catalog.Compatible(la.Type, ra.Type) {
				continue
			}
			confidence, rationale := score(la, ra, left, right)
			if confidence > heuristicCutoff {
				candidates = append(candidates, Candidate{
					LeftRelation:   left.Name,
					LeftAttribute:  la.Name,
					RightRelation:  right.Name,
					RightAttribute: ra.Name,
					Confidence:     confidence,
					Rationale:      rationale,
				})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	r.cache.Set(key, candidates, ttlcache.DefaultTTL)
	return candidates
}

// score weighs attribute name similarity (0.40), alias similarity (0.25,
// falling back to names when aliases are absent), primary key involvement
// (0.20) and foreign key naming patterns (0.15).
func score(la, ra catalog.Attribute, left, right *catalog.Relation) (float64, string) {
	var reasons []string

	nameSim := Similarity(la.Name, ra.Name)
	confidence := nameSim * 0.40
	if nameSim > 0.8 {
		reasons = append(reasons, "attribute names are very similar")
	}

	aliasSim := nameSim
	if la.Alias != "" && ra.Alias != "" {
		aliasSim = Similarity(la.Alias, ra.Alias)
		if aliasSim > 0.8 {
			reasons = append(reasons, "aliases match")
		}
	}
	confidence += aliasSim * 0.25

	if la.PrimaryKey || ra.PrimaryKey {
		confidence += 0.20
		reasons = append(reasons, "involves primary key")
	}

	if hasForeignKeyPattern(la.Name, right.Name) || hasForeignKeyPattern(ra.Name, left.Name) {
		confidence += 0.15
		reasons = append(reasons, "foreign key naming pattern")
	}

	if confidence > 1.0 {
		confidence = 1.0
	}

	rationale := "heuristic attribute match"
	if len(reasons) > 0 {
		rationale = "suggested because: " + strings.Join(reasons, "; ")
	}
	return confidence, rationale
}

// Similarity is the longest-common-subsequence ratio of two normalized
// identifiers in [0, 1].
func Similarity(a, b string) float64 {
	na, nb := normalize(a), normalize(b)
	if na == nb {
		return 1.0
	}
	if len(na) == 0 || len(nb) == 0 {
		return 0.0
	}
	return 2.0 * float64(lcs(na, nb)) / float64(len(na)+len(nb))
}

func normalize(s string) string {
	s = strings.ToLower(s)
	replacer := strings.NewReplacer("_", "", "-", "", " ", "")
	return replacer.Replace(s)
}

func lcs(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func hasForeignKeyPattern(attribute, relation string) bool {
	attr := strings.ToLower(attribute)
	rel := strings.ToLower(relation)
	for _, pattern := range []string{rel + "_id", rel + "id", rel + "_key", "fk_" + rel} {
		if strings.Contains(attr, pattern) {
			return true
		}
	}
	return false
}

func (r *Reasoner) warnSimilarNames(left, right string) {
	for _, name := range r.catalog.Names() {
		if strings.EqualFold(name, left) || strings.EqualFold(name, right) {
			continue
		}
		if Similarity(name, left) >= similarNameAlert || Similarity(name, right) >= similarNameAlert {
			r.log.Warn("catalog contains a similarly named relation",
				"relation", name, "left", left, "right", right)
		}
	}
}
