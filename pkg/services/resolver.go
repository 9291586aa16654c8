package services

import (
	"regexp"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/podgraph-inc/podgraph-engine/pkg/models"
	"github.com/podgraph-inc/podgraph-engine/pkg/rules"
)

// versionSuffixPattern matches trailing version designators, e.g. "Python 3.8"
// or "Angular v17".
var versionSuffixPattern = regexp.MustCompile(`\s+v?\d+(\.\d+)*$`)

// EntityResolver deduplicates candidate entities within one episode into a
// canonical entity set. The match cascade is applied in fixed priority order
// with first match winning, so behavior is deterministic and testable.
type EntityResolver struct {
	rules  *rules.RuleSet
	logger *zap.Logger
}

// NewEntityResolver creates a resolver over the given rule set. A nil rule set
// degrades to exact-match-only with a logged warning rather than failing.
func NewEntityResolver(rs *rules.RuleSet, logger *zap.Logger) *EntityResolver {
	logger = logger.Named("entity-resolver")
	if rs == nil {
		logger.Warn("No rule set provided, degrading to exact-match-only resolution")
		rs = rules.ExactOnly()
	}
	return &EntityResolver{
		rules:  rs,
		logger: logger,
	}
}

// cluster accumulates candidates judged to be the same identity. The canonical
// name is the longest pre-transform surface form, ties broken by first-seen.
type cluster struct {
	canonicalName string
	firstType     string
	members       []models.CandidateEntity
	surfaces      []string // Raw surface forms, parallel to members
	transformed   []string // Post-domain-transform forms, parallel to members
}

// Resolve consumes the raw candidate set for an episode and produces the
// canonical entity set plus the candidate-to-canonical mapping. Candidates are
// processed in segment order then name order, so the same candidate set yields
// the same canonical set regardless of input permutation.
func (r *EntityResolver) Resolve(candidates []models.CandidateEntity) ([]models.CanonicalEntity, models.ResolutionMapping) {
	if len(candidates) == 0 {
		return nil, models.ResolutionMapping{}
	}

	ordered := make([]models.CandidateEntity, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].SegmentIndex != ordered[j].SegmentIndex {
			return ordered[i].SegmentIndex < ordered[j].SegmentIndex
		}
		if ordered[i].Name != ordered[j].Name {
			return ordered[i].Name < ordered[j].Name
		}
		return ordered[i].Type < ordered[j].Type
	})

	var clusters []*cluster
	for _, cand := range ordered {
		name := strings.TrimSpace(cand.Name)
		if name == "" {
			continue
		}
		trans := r.applyDomainTransforms(name)

		matched := false
		for _, c := range clusters {
			if r.excludedFromCluster(name, trans, c) {
				continue
			}
			if r.matchesCluster(trans, c) {
				c.add(cand, name, trans)
				matched = true
				break
			}
		}
		if !matched {
			clusters = append(clusters, &cluster{
				canonicalName: name,
				firstType:     cand.Type,
				members:       []models.CandidateEntity{cand},
				surfaces:      []string{name},
				transformed:   []string{trans},
			})
		}
	}

	canonical := make([]models.CanonicalEntity, 0, len(clusters))
	mapping := make(models.ResolutionMapping, len(ordered))

	for _, c := range clusters {
		entity := r.buildCanonical(c)
		for _, m := range c.members {
			mapping[m.ID] = entity.ID
		}
		canonical = append(canonical, entity)
	}

	r.logger.Debug("Resolution complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("canonical", len(canonical)))

	return canonical, mapping
}

func (c *cluster) add(cand models.CandidateEntity, name, trans string) {
	c.members = append(c.members, cand)
	c.surfaces = append(c.surfaces, name)
	c.transformed = append(c.transformed, trans)
	// Longer pre-transform original wins; ties keep the first-seen name.
	if len(name) > len(c.canonicalName) {
		c.canonicalName = name
	}
}

func (r *EntityResolver) buildCanonical(c *cluster) models.CanonicalEntity {
	first := c.members[0]

	confidence := 0.0
	if r.rules.Options.ConfidenceWeight {
		var num, den float64
		for _, m := range c.members {
			num += m.Confidence * m.Confidence
			den += m.Confidence
		}
		if den > 0 {
			confidence = num / den
		}
	} else {
		for _, m := range c.members {
			if m.Confidence > confidence {
				confidence = m.Confidence
			}
		}
	}

	var aliases []string
	seen := map[string]bool{strings.ToLower(c.canonicalName): true}
	for _, s := range c.surfaces {
		key := strings.ToLower(s)
		if !seen[key] {
			seen[key] = true
			aliases = append(aliases, s)
		}
	}

	return models.CanonicalEntity{
		ID:             models.EntityIdentityKey(first.EpisodeID, c.canonicalName),
		EpisodeID:      first.EpisodeID,
		Name:           c.canonicalName,
		Type:           c.firstType,
		Confidence:     confidence,
		FirstMentionAt: first.MentionedAt,
		FirstSegmentID: first.SegmentID,
		MentionCount:   len(c.members),
		Aliases:        aliases,
	}
}

// excludedFromCluster reports whether the candidate pair (raw or transformed)
// appears in the exclusion list against any cluster member. Exclusions
// short-circuit every match rule: merging through another member would still
// transitively merge the excluded pair, so the whole cluster is off-limits.
func (r *EntityResolver) excludedFromCluster(name, trans string, c *cluster) bool {
	for i := range c.surfaces {
		if r.excluded(name, c.surfaces[i]) || r.excluded(trans, c.transformed[i]) ||
			r.excluded(name, c.transformed[i]) || r.excluded(trans, c.surfaces[i]) {
			return true
		}
	}
	return false
}

func (r *EntityResolver) excluded(a, b string) bool {
	for _, pair := range r.rules.Exclusions {
		if len(pair) != 2 {
			continue
		}
		if (strings.EqualFold(a, pair[0]) && strings.EqualFold(b, pair[1])) ||
			(strings.EqualFold(a, pair[1]) && strings.EqualFold(b, pair[0])) {
			return true
		}
	}
	return false
}

func (r *EntityResolver) matchesCluster(trans string, c *cluster) bool {
	for _, other := range c.transformed {
		if r.matchNames(trans, other) {
			return true
		}
	}
	return false
}

// matchNames applies the cascade in fixed priority order, first match wins:
// exact, case-insensitive, alias group, abbreviation, singular/plural, fuzzy.
func (r *EntityResolver) matchNames(a, b string) bool {
	if a == b {
		return true
	}
	if r.rules.Options.CaseInsensitive && strings.EqualFold(a, b) {
		return true
	}
	if r.rules.Options.UseAliases && r.sameAliasGroup(a, b) {
		return true
	}
	if r.rules.Options.UseAbbreviations && r.abbreviationMatch(a, b) {
		return true
	}
	if r.rules.Options.UsePlurals && strings.EqualFold(r.singularize(a), r.singularize(b)) {
		return true
	}
	if r.rules.Options.UseFuzzy && r.fuzzyMatch(a, b) {
		return true
	}
	return false
}

func (r *EntityResolver) sameAliasGroup(a, b string) bool {
	for _, group := range r.rules.AliasGroups {
		if containsFold(group, a) && containsFold(group, b) {
			return true
		}
	}
	return false
}

func (r *EntityResolver) abbreviationMatch(a, b string) bool {
	for short, long := range r.rules.Abbreviations {
		if (strings.EqualFold(short, a) && strings.EqualFold(long, b)) ||
			(strings.EqualFold(short, b) && strings.EqualFold(long, a)) {
			return true
		}
	}
	return false
}

// singularize folds a plural surface form to singular: irregular table first,
// then dictionary inflection, which also covers trailing-s stripping.
func (r *EntityResolver) singularize(s string) string {
	if sing, ok := r.rules.IrregularPlurals[strings.ToLower(s)]; ok {
		return sing
	}
	return inflection.Singular(s)
}

// fuzzyMatch compares the larger of the token overlap ratio and the character
// bigram overlap ratio against the configured threshold. Token overlap catches
// reordered multi-word names; bigram overlap catches near-duplicates with
// punctuation or spelling drift.
func (r *EntityResolver) fuzzyMatch(a, b string) bool {
	threshold := r.rules.Thresholds.Fuzzy
	similarity := tokenOverlap(a, b)
	if bg := bigramOverlap(a, b); bg > similarity {
		similarity = bg
	}
	return similarity >= threshold
}

// applyDomainTransforms applies the configured pre-cascade surface transforms:
// version stripping and suffix stripping. The canonical name chosen after a
// merge is still the original, pre-transform surface form.
func (r *EntityResolver) applyDomainTransforms(name string) string {
	out := name
	for _, rule := range r.rules.DomainRules {
		if !rule.Enabled {
			continue
		}
		if rule.StripVersions {
			out = strings.TrimSpace(versionSuffixPattern.ReplaceAllString(out, ""))
		}
		for _, suffix := range rule.StripSuffixes {
			out = stripSuffixFold(out, suffix)
		}
	}
	if out == "" {
		return name
	}
	return out
}

// stripSuffixFold removes a trailing token case-insensitively, along with any
// separating comma, e.g. "Apple, Inc." with suffix "Inc." yields "Apple".
func stripSuffixFold(name, suffix string) string {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) <= len(suffix) {
		return name
	}
	tail := trimmed[len(trimmed)-len(suffix):]
	if !strings.EqualFold(tail, suffix) {
		return name
	}
	head := strings.TrimSpace(trimmed[:len(trimmed)-len(suffix)])
	head = strings.TrimSuffix(head, ",")
	head = strings.TrimSpace(head)
	if head == "" {
		return name
	}
	return head
}

func containsFold(group []string, s string) bool {
	for _, g := range group {
		if strings.EqualFold(g, s) {
			return true
		}
	}
	return false
}

func tokenOverlap(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	return jaccard(ta, tb)
}

func bigramOverlap(a, b string) float64 {
	return jaccard(bigramSet(a), bigramSet(b))
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = true
	}
	return set
}

func bigramSet(s string) map[string]bool {
	compact := strings.ReplaceAll(strings.ToLower(s), " ", "")
	set := make(map[string]bool)
	for i := 0; i+2 <= len(compact); i++ {
		set[compact[i:i+2]] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersect := 0
	for k := range a {
		if b[k] {
			intersect++
		}
	}
	union := len(a) + len(b) - intersect
	if union == 0 {
		return 0
	}
	return float64(intersect) / float64(union)
}

// SurfaceIndex maps every candidate surface form (case-folded) to its canonical
// entity ID, for resolving relationship endpoints extracted by name.
func SurfaceIndex(candidates []models.CandidateEntity, mapping models.ResolutionMapping) map[string]string {
	index := make(map[string]string, len(candidates))
	for _, c := range candidates {
		canonicalID, ok := mapping[c.ID]
		if !ok {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(c.Name))
		if _, exists := index[key]; !exists {
			index[key] = canonicalID
		}
	}
	return index
}
