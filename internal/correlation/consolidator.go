// File path: internal/correlation/consolidator.go

// Package correlation implements the offline batch pass over the catalog:
// entity consolidation, bounded co-occurrence construction, pattern
// detection, and discovery surfacing.
package correlation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/excavator-project/excavator/internal/capability"
	"github.com/excavator-project/excavator/internal/catalog"
	"github.com/excavator-project/excavator/internal/logging"
)

const component = "correlation"

// nameAliases maps canonical first names to common nicknames. Alias
// resolution applies to PERSON entities only; the source never formalized
// the scope, so it is fixed here.
var nameAliases = map[string][]string{
	"gabriel":     {"gabe", "gabi"},
	"daniel":      {"dan", "danny"},
	"michael":     {"mike", "mick"},
	"robert":      {"rob", "bob", "bobby"},
	"william":     {"will", "bill", "billy"},
	"richard":     {"rick", "dick"},
	"christopher": {"chris"},
	"matthew":     {"matt"},
	"anthony":     {"tony"},
	"joseph":      {"joe", "joey"},
	"benjamin":    {"ben"},
	"alexander":   {"alex"},
	"nicholas":    {"nick"},
	"jonathan":    {"jon"},
	"stephen":     {"steve"},
	"elizabeth":   {"liz", "beth", "lizzy"},
	"jennifer":    {"jen", "jenny"},
	"katherine":   {"kate", "kathy", "katie"},
	"margaret":    {"maggie", "meg"},
	"patricia":    {"pat", "patty"},
}

var aliasToCanonical = func() map[string]string {
	out := map[string]string{}
	for canonical, aliases := range nameAliases {
		for _, alias := range aliases {
			out[alias] = canonical
		}
	}
	return out
}()

// Entity is one consolidated entity: the canonical merged identity for all
// surface variants of the same named thing.
type Entity struct {
	ID              string
	Type            catalog.EntityType
	CanonicalValue  string
	Normalized      string
	Variants        map[string]int // surface form -> occurrence count
	OccurrenceCount int
	FileIDs         map[string]bool
	FirstSeen       time.Time
	LastSeen        time.Time
}

// Pair is an unordered co-occurrence key: two consolidation keys in sorted
// order.
type Pair struct {
	A, B string
}

func makePair(a, b string) Pair {
	if b < a {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

// CoOccurrence counts the files in which two consolidated entities both
// appear, with a derived strength in [0,1].
type CoOccurrence struct {
	Count    int
	FileIDs  map[string]bool
	Strength float64
}

// Bounds caps the co-occurrence construction.
type Bounds struct {
	MaxEntities     int
	MaxPairsPerFile int
	MaxTotalPairs   int
}

func (b Bounds) withDefaults() Bounds {
	if b.MaxEntities <= 0 {
		b.MaxEntities = 50000
	}
	if b.MaxPairsPerFile <= 0 {
		b.MaxPairsPerFile = 500
	}
	if b.MaxTotalPairs <= 0 {
		b.MaxTotalPairs = 1000000
	}
	return b
}

// Consolidator merges entity occurrences and builds the bounded
// co-occurrence matrix.
type Consolidator struct {
	catalog *catalog.Store

	entities    map[string]*Entity // key: "TYPE:normalized"
	coOccur     map[Pair]*CoOccurrence
	pairsDropped int
}

func NewConsolidator(cat *catalog.Store) *Consolidator {
	return &Consolidator{
		catalog:  cat,
		entities: map[string]*Entity{},
		coOccur:  map[Pair]*CoOccurrence{},
	}
}

// normalizeWithAliases applies nickname resolution on top of the stored
// normalized form, for PERSON entities only.
func normalizeWithAliases(value string, entityType catalog.EntityType) string {
	normalized := capability.NormalizeEntity(value)
	if entityType != catalog.EntityPerson {
		return normalized
	}
	parts := strings.Fields(normalized)
	if len(parts) == 0 {
		return normalized
	}
	if canonical, ok := aliasToCanonical[parts[0]]; ok {
		parts[0] = canonical
	}
	return strings.Join(parts, " ")
}

func consolidationKey(entityType catalog.EntityType, normalized string) string {
	return string(entityType) + ":" + normalized
}

func consolidatedID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "cent_" + hex.EncodeToString(sum[:8])
}

// ConsolidateAll streams every entity occurrence from the catalog into the
// consolidated set and persists it. Deterministic and idempotent on
// unchanged input.
func (c *Consolidator) ConsolidateAll(ctx context.Context) (map[string]*Entity, error) {
	log := logging.With(component)
	log.Info("starting entity consolidation")

	c.entities = map[string]*Entity{}
	fileTimes := map[string]time.Time{}

	variantFirstSeen := map[string]map[string]time.Time{}

	occurrences := 0
	err := c.catalog.IterEntities(ctx, func(e catalog.EntityRecord) (bool, error) {
		normalized := normalizeWithAliases(e.Value, e.EntityType)
		if normalized == "" {
			return true, nil
		}
		key := consolidationKey(e.EntityType, normalized)
		ent, ok := c.entities[key]
		if !ok {
			ent = &Entity{
				ID:         consolidatedID(key),
				Type:       e.EntityType,
				Normalized: normalized,
				Variants:   map[string]int{},
				FileIDs:    map[string]bool{},
			}
			c.entities[key] = ent
		}
		ent.Variants[e.Value]++
		ent.OccurrenceCount++
		ent.FileIDs[e.FileID] = true

		ts, ok := fileTimes[e.FileID]
		if !ok {
			var err error
			ts, err = c.catalog.EntityFileIndexedAt(ctx, e.FileID)
			if err != nil {
				return false, err
			}
			fileTimes[e.FileID] = ts
		}
		if !ts.IsZero() {
			if ent.FirstSeen.IsZero() || ts.Before(ent.FirstSeen) {
				ent.FirstSeen = ts
			}
			if ts.After(ent.LastSeen) {
				ent.LastSeen = ts
			}
			if variantFirstSeen[key] == nil {
				variantFirstSeen[key] = map[string]time.Time{}
			}
			if first, ok := variantFirstSeen[key][e.Value]; !ok || ts.Before(first) {
				variantFirstSeen[key][e.Value] = ts
			}
		}
		occurrences++
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("consolidate: %w", err)
	}

	// Canonical surface: most frequent original form, ties by earliest
	// first-seen timestamp, then lexicographic so reruns stay stable.
	for key, ent := range c.entities {
		ent.CanonicalValue = canonicalSurface(ent.Variants, variantFirstSeen[key])
	}

	if err := c.store(ctx); err != nil {
		return nil, err
	}
	log.Info("entity consolidation complete",
		"occurrences", occurrences,
		"consolidated", len(c.entities),
	)
	return c.entities, nil
}

func canonicalSurface(variants map[string]int, firstSeen map[string]time.Time) string {
	keys := make([]string, 0, len(variants))
	for v := range variants {
		keys = append(keys, v)
	}
	sort.Strings(keys)
	best := ""
	bestCount := -1
	var bestFirst time.Time
	for _, v := range keys {
		count := variants[v]
		first := firstSeen[v]
		switch {
		case count > bestCount:
		case count == bestCount && !first.IsZero() && (bestFirst.IsZero() || first.Before(bestFirst)):
		default:
			continue
		}
		best = v
		bestCount = count
		bestFirst = first
	}
	return best
}

func (c *Consolidator) store(ctx context.Context) error {
	for _, ent := range c.entities {
		variants := make([]string, 0, len(ent.Variants))
		for v := range ent.Variants {
			variants = append(variants, v)
		}
		sort.Strings(variants)
		fileIDs := sortedKeys(ent.FileIDs)
		variantsJSON, _ := json.Marshal(variants)
		fileIDsJSON, _ := json.Marshal(fileIDs)
		rec := catalog.ConsolidatedEntity{
			ID:              ent.ID,
			EntityType:      ent.Type,
			CanonicalValue:  ent.CanonicalValue,
			Normalized:      ent.Normalized,
			VariantsJSON:    string(variantsJSON),
			OccurrenceCount: ent.OccurrenceCount,
			FileIDsJSON:     string(fileIDsJSON),
			FirstSeen:       ent.FirstSeen,
			LastSeen:        ent.LastSeen,
		}
		if err := c.catalog.UpsertConsolidatedEntity(ctx, rec); err != nil {
			return fmt.Errorf("store consolidated entity %s: %w", ent.ID, err)
		}
	}
	return nil
}

// BuildCoOccurrence builds the bounded symmetric co-occurrence matrix.
// Oversized per-file entity sets are sampled with a seed derived
// from the file id, so reruns sample identically.
func (c *Consolidator) BuildCoOccurrence(ctx context.Context, bounds Bounds) (map[Pair]*CoOccurrence, error) {
	log := logging.With(component)
	bounds = bounds.withDefaults()
	c.coOccur = map[Pair]*CoOccurrence{}
	c.pairsDropped = 0

	// Top-K most frequent entities participate; ties by last-seen recency.
	keys := make([]string, 0, len(c.entities))
	for key := range c.entities {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entities[keys[i]], c.entities[keys[j]]
		if a.OccurrenceCount != b.OccurrenceCount {
			return a.OccurrenceCount > b.OccurrenceCount
		}
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		return keys[i] < keys[j]
	})
	if len(keys) > bounds.MaxEntities {
		log.Warn("limiting entities for co-occurrence",
			"total", len(keys), "max", bounds.MaxEntities)
		keys = keys[:bounds.MaxEntities]
	}
	participating := make(map[string]bool, len(keys))
	for _, key := range keys {
		participating[key] = true
	}

	// Group participating entity keys by file.
	fileEntities := map[string][]string{}
	for _, key := range keys {
		for fileID := range c.entities[key].FileIDs {
			fileEntities[fileID] = append(fileEntities[fileID], key)
		}
	}
	fileIDs := make([]string, 0, len(fileEntities))
	for fileID := range fileEntities {
		fileIDs = append(fileIDs, fileID)
	}
	sort.Strings(fileIDs)

	processed := 0
	capped := false
	for _, fileID := range fileIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		processed++
		if processed%10000 == 0 {
			log.Info("co-occurrence progress",
				"files", processed, "total_files", len(fileIDs), "pairs", len(c.coOccur))
		}
		entityKeys := fileEntities[fileID]
		sort.Strings(entityKeys)

		pairBudget := bounds.MaxPairsPerFile
		maxPairs := len(entityKeys) * (len(entityKeys) - 1) / 2
		if maxPairs > pairBudget {
			entityKeys = sampleKeys(entityKeys, pairBudget, fileID)
		}

		pairsThisFile := 0
	pairLoop:
		for i, key1 := range entityKeys {
			if pairsThisFile >= pairBudget {
				break
			}
			for _, key2 := range entityKeys[i+1:] {
				if pairsThisFile >= pairBudget {
					break pairLoop
				}
				pair := makePair(key1, key2)
				co, ok := c.coOccur[pair]
				if !ok {
					if len(c.coOccur) >= bounds.MaxTotalPairs {
						c.pairsDropped++
						capped = true
						continue
					}
					co = &CoOccurrence{FileIDs: map[string]bool{}}
					c.coOccur[pair] = co
				}
				co.Count++
				co.FileIDs[fileID] = true
				pairsThisFile++
			}
		}
	}
	if capped {
		log.Warn("co-occurrence pair cap reached",
			"max_total_pairs", bounds.MaxTotalPairs, "dropped", c.pairsDropped)
	}

	// Strength from count and file diversity.
	for _, co := range c.coOccur {
		countScore := minf(1.0, float64(co.Count)/10)
		diversityScore := minf(1.0, float64(len(co.FileIDs))/5)
		co.Strength = 0.6*countScore + 0.4*diversityScore
	}
	log.Info("co-occurrence matrix built", "pairs", len(c.coOccur), "dropped", c.pairsDropped)
	return c.coOccur, nil
}

// sampleKeys picks a deterministic subset sized so the pair count stays
// near the per-file budget. The seed derives from the file id, so the same
// file samples the same subset across runs.
func sampleKeys(keys []string, pairBudget int, fileID string) []string {
	// n*(n-1)/2 <= pairBudget  =>  n ~ sqrt(2*pairBudget)
	n := 1
	for n*(n+1)/2 <= pairBudget {
		n++
	}
	if n >= len(keys) {
		return keys
	}
	sum := sha256.Sum256([]byte(fileID))
	seed := int64(0)
	for i := 0; i < 8; i++ {
		seed = seed<<8 | int64(sum[i])
	}
	rng := rand.New(rand.NewSource(seed))
	sampled := append([]string(nil), keys...)
	rng.Shuffle(len(sampled), func(i, j int) { sampled[i], sampled[j] = sampled[j], sampled[i] })
	sampled = sampled[:n]
	sort.Strings(sampled)
	return sampled
}

// PairsDropped reports how many pairs the hard cap discarded, for
// observability.
func (c *Consolidator) PairsDropped() int { return c.pairsDropped }

// Entities returns the current consolidated set keyed by "TYPE:normalized".
func (c *Consolidator) Entities() map[string]*Entity { return c.entities }

// CoOccurrences returns the current matrix.
func (c *Consolidator) CoOccurrences() map[Pair]*CoOccurrence { return c.coOccur }

// Related lists the entities most related to the given consolidation key,
// strongest first.
func (c *Consolidator) Related(entityKey string, minStrength float64, limit int) []RelatedEntity {
	if limit <= 0 {
		limit = 20
	}
	var related []RelatedEntity
	for pair, co := range c.coOccur {
		if co.Strength < minStrength {
			continue
		}
		var otherKey string
		switch entityKey {
		case pair.A:
			otherKey = pair.B
		case pair.B:
			otherKey = pair.A
		default:
			continue
		}
		other, ok := c.entities[otherKey]
		if !ok {
			continue
		}
		related = append(related, RelatedEntity{
			Key:         otherKey,
			Type:        string(other.Type),
			Value:       other.CanonicalValue,
			Strength:    co.Strength,
			Occurrences: other.OccurrenceCount,
		})
	}
	sort.Slice(related, func(i, j int) bool {
		if related[i].Strength != related[j].Strength {
			return related[i].Strength > related[j].Strength
		}
		return related[i].Key < related[j].Key
	})
	if len(related) > limit {
		related = related[:limit]
	}
	return related
}

// RelatedEntity is one entry of a relatedness query.
type RelatedEntity struct {
	Key         string  `json:"key"`
	Type        string  `json:"type"`
	Value       string  `json:"value"`
	Strength    float64 `json:"strength"`
	Occurrences int     `json:"occurrences"`
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
