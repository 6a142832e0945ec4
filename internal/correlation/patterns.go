// File path: internal/correlation/patterns.go
package correlation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/excavator-project/excavator/internal/catalog"
	"github.com/excavator-project/excavator/internal/logging"
)

// domainVocabulary backs the expertise detector: six domains with their
// signature terminology.
var domainVocabulary = map[string][]string{
	"machine_learning": {
		"neural network", "deep learning", "transformer", "attention",
		"embedding", "gradient", "backpropagation", "loss function",
		"training", "inference", "model", "weights", "bias",
		"overfitting", "regularization", "dropout", "batch normalization",
	},
	"web_development": {
		"react", "vue", "angular", "javascript", "typescript",
		"html", "css", "dom", "api", "rest", "graphql",
		"frontend", "backend", "fullstack", "responsive",
	},
	"devops": {
		"docker", "kubernetes", "ci/cd", "pipeline", "deployment",
		"container", "orchestration", "helm", "terraform",
		"aws", "gcp", "azure", "cloud", "infrastructure",
	},
	"data_engineering": {
		"etl", "pipeline", "data lake", "warehouse", "spark",
		"kafka", "airflow", "dbt", "sql", "nosql",
		"schema", "partition", "batch", "streaming",
	},
	"medical_devices": {
		"fda", "510k", "regulatory", "clinical", "validation",
		"verification", "ivd", "diagnostic", "qms", "iso 13485",
		"medical device", "patient", "healthcare", "hipaa",
	},
	"control_systems": {
		"pid", "controller", "feedback", "setpoint", "gain",
		"proportional", "integral", "derivative", "tuning",
		"stability", "transfer function", "bode", "nyquist",
	},
}

// techCategoryMap buckets TECH entities for the tech-stack detector.
var techCategoryMap = map[string]string{
	"python": "languages", "javascript": "languages", "typescript": "languages",
	"golang": "languages", "rust": "languages", "java": "languages",
	"react": "frameworks", "vue": "frameworks", "angular": "frameworks",
	"fastapi": "frameworks", "django": "frameworks", "flask": "frameworks", "spring": "frameworks",
	"docker": "infrastructure", "kubernetes": "infrastructure",
	"terraform": "infrastructure", "ansible": "infrastructure", "helm": "infrastructure",
	"aws": "cloud", "gcp": "cloud", "azure": "cloud",
	"postgresql": "databases", "sqlite": "databases", "mongodb": "databases",
	"mysql": "databases", "redis": "databases",
	"git": "tools", "github": "tools", "gitlab": "tools", "jenkins": "tools",
}

// Pattern is one detected structural observation.
type Pattern struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"pattern_type"` // expertise, relationship, workflow, tech-stack
	Title          string                 `json:"title"`
	Description    string                 `json:"description"`
	Confidence     float64                `json:"confidence"`
	Evidence       map[string]interface{} `json:"evidence"`
	SourceFiles    []string               `json:"source_files"`
	SourceEntities []string               `json:"source_entities"`
	FirstSeen      time.Time              `json:"first_seen"`
	LastSeen       time.Time              `json:"last_seen"`
}

// EvidenceMetrics feeds the uniform pattern confidence formula.
type EvidenceMetrics struct {
	Count           int
	DistinctSources int
	FirstSeen       time.Time
	LastSeen        time.Time
}

// Score computes the uniform pattern confidence:
//
//	evidence   = min(1, log10(count+1)/2)
//	diversity  = min(1, distinct_sources/5)
//	time_span  = min(1, span_days/365)
//	recency    = max(0, 1 - days_since_last/180)
//	confidence = 0.35*evidence + 0.25*diversity + 0.20*time_span + 0.20*recency
func Score(m EvidenceMetrics, now time.Time) float64 {
	evidence := minf(1.0, math.Log10(float64(m.Count)+1)/2)
	diversity := minf(1.0, float64(m.DistinctSources)/5)
	timeSpan := 0.0
	if !m.FirstSeen.IsZero() && !m.LastSeen.IsZero() {
		timeSpan = minf(1.0, m.LastSeen.Sub(m.FirstSeen).Hours()/24/365)
	}
	recency := 0.0
	if !m.LastSeen.IsZero() {
		recency = math.Max(0, 1-now.Sub(m.LastSeen).Hours()/24/180)
	}
	return 0.35*evidence + 0.25*diversity + 0.20*timeSpan + 0.20*recency
}

// Detector runs the four pattern detectors over the consolidated entities,
// the co-occurrence matrix, and raw file metadata.
type Detector struct {
	catalog      *catalog.Store
	consolidator *Consolidator
	now          func() time.Time
}

func NewDetector(cat *catalog.Store, cons *Consolidator) *Detector {
	return &Detector{catalog: cat, consolidator: cons, now: time.Now}
}

// DetectAll runs every detector and returns the combined pattern set.
func (d *Detector) DetectAll(ctx context.Context) ([]Pattern, error) {
	log := logging.With(component)
	var patterns []Pattern

	expertise, err := d.detectExpertise(ctx)
	if err != nil {
		return nil, err
	}
	patterns = append(patterns, expertise...)

	patterns = append(patterns, d.detectRelationships()...)

	workflow, err := d.detectWorkflow(ctx)
	if err != nil {
		return nil, err
	}
	patterns = append(patterns, workflow...)

	patterns = append(patterns, d.detectTechStack()...)

	sort.Slice(patterns, func(i, j int) bool { return patterns[i].ID < patterns[j].ID })
	log.Info("pattern detection complete", "patterns", len(patterns))
	return patterns, nil
}

func patternID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "pat_" + hex.EncodeToString(sum[:8])
}

// detectExpertise scores each domain by vocabulary density across the
// chunk content of indexed files. Terms are matched as substrings of the
// full chunk text; chunks are not filtered by their extracted TECH entities.
func (d *Detector) detectExpertise(ctx context.Context) ([]Pattern, error) {
	type domainHits struct {
		count   int
		fileIDs map[string]bool
		terms   map[string]bool
		first   time.Time
		last    time.Time
	}
	hits := map[string]*domainHits{}

	err := d.catalog.IterFiles(ctx, catalog.FileIndexed, func(f catalog.FileRecord) (bool, error) {
		chunks, err := d.catalog.IterChunks(ctx, f.ID)
		if err != nil {
			return false, err
		}
		seen := map[string]bool{}
		for _, ch := range chunks {
			content := strings.ToLower(ch.Content)
			for domain, terms := range domainVocabulary {
				for _, term := range terms {
					if !strings.Contains(content, term) {
						continue
					}
					h := hits[domain]
					if h == nil {
						h = &domainHits{fileIDs: map[string]bool{}, terms: map[string]bool{}}
						hits[domain] = h
					}
					h.count++
					h.terms[term] = true
					if !seen[domain] {
						seen[domain] = true
						h.fileIDs[f.ID] = true
						if f.IndexedAt != nil {
							if h.first.IsZero() || f.IndexedAt.Before(h.first) {
								h.first = *f.IndexedAt
							}
							if f.IndexedAt.After(h.last) {
								h.last = *f.IndexedAt
							}
						}
					}
				}
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("expertise scan: %w", err)
	}

	var patterns []Pattern
	domains := make([]string, 0, len(hits))
	for domain := range hits {
		domains = append(domains, domain)
	}
	sort.Strings(domains)
	now := d.now()
	for _, domain := range domains {
		h := hits[domain]
		if h.count < 5 {
			continue
		}
		termCoverage := float64(len(h.terms)) / float64(len(domainVocabulary[domain]))
		base := Score(EvidenceMetrics{
			Count:           h.count,
			DistinctSources: len(h.fileIDs),
			FirstSeen:       h.first,
			LastSeen:        h.last,
		}, now)
		// Density x diversity folds term coverage in on top of the base.
		confidence := minf(1.0, base+0.3*termCoverage)
		if confidence < 0.3 {
			continue
		}
		title := "Expertise: " + titleCase(strings.ReplaceAll(domain, "_", " "))
		patterns = append(patterns, Pattern{
			ID:          patternID("expertise", domain),
			Type:        "expertise",
			Title:       title,
			Description: fmt.Sprintf("Strong %s vocabulary across %d files", strings.ReplaceAll(domain, "_", " "), len(h.fileIDs)),
			Confidence:  confidence,
			Evidence: map[string]interface{}{
				"term_count":    h.count,
				"file_count":    len(h.fileIDs),
				"term_coverage": termCoverage,
				"terms":         firstN(sortedKeys(h.terms), 10),
			},
			SourceFiles: sortedKeys(h.fileIDs),
			FirstSeen:   h.first,
			LastSeen:    h.last,
		})
	}
	return patterns, nil
}

// detectRelationships emits one pattern per PERSON-ORG / PERSON-PROJECT
// pair whose co-occurrence strength crosses the floor.
func (d *Detector) detectRelationships() []Pattern {
	entities := d.consolidator.Entities()
	var patterns []Pattern
	for pair, co := range d.consolidator.CoOccurrences() {
		if co.Strength < 0.4 || co.Count < 2 {
			continue
		}
		e1, ok1 := entities[pair.A]
		e2, ok2 := entities[pair.B]
		if !ok1 || !ok2 {
			continue
		}
		var person, other *Entity
		if e1.Type == catalog.EntityPerson && (e2.Type == catalog.EntityOrg || e2.Type == catalog.EntityProject) {
			person, other = e1, e2
		} else if e2.Type == catalog.EntityPerson && (e1.Type == catalog.EntityOrg || e1.Type == catalog.EntityProject) {
			person, other = e2, e1
		} else {
			continue
		}
		verb := "works on"
		if other.Type == catalog.EntityOrg {
			verb = "works with"
		}
		first := person.FirstSeen
		if other.FirstSeen.Before(first) {
			first = other.FirstSeen
		}
		last := person.LastSeen
		if other.LastSeen.After(last) {
			last = other.LastSeen
		}
		base := Score(EvidenceMetrics{
			Count:           co.Count,
			DistinctSources: len(co.FileIDs),
			FirstSeen:       first,
			LastSeen:        last,
		}, d.now())
		confidence := math.Max(base, co.Strength)
		patterns = append(patterns, Pattern{
			ID:          patternID("relationship", person.ID, other.ID),
			Type:        "relationship",
			Title:       fmt.Sprintf("%s %s %s", titleCase(person.CanonicalValue), verb, titleCase(other.CanonicalValue)),
			Description: fmt.Sprintf("Strong association between %s and %s", person.CanonicalValue, other.CanonicalValue),
			Confidence:  confidence,
			Evidence: map[string]interface{}{
				"co_occurrence_count": co.Count,
				"shared_files":        len(co.FileIDs),
				"strength":            co.Strength,
			},
			SourceFiles:    sortedKeys(co.FileIDs),
			SourceEntities: []string{person.ID, other.ID},
			FirstSeen:      first,
			LastSeen:       last,
		})
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].ID < patterns[j].ID })
	return patterns
}

var (
	datePrefixRe    = regexp.MustCompile(`(\d{4})[-_]?(\d{2})[-_]?(\d{2})`)
	versionRe       = regexp.MustCompile(`(?i)v\d+|_v\d+|version`)
	statusSuffixRe  = regexp.MustCompile(`(?i)draft|final|wip`)
	projectPrefixRe = regexp.MustCompile(`^[A-Z]{2,5}[-_]`)
)

// detectWorkflow infers patterns from file path/name regularities. Every
// emitted pattern carries the detected group as its non-empty source_files
// set: leaving it empty once silently suppressed all workflow discoveries.
func (d *Detector) detectWorkflow(ctx context.Context) ([]Pattern, error) {
	type group struct {
		fileIDs  map[string]bool
		examples []string
		first    time.Time
		last     time.Time
	}
	groups := map[string]*group{}

	record := func(name string, f catalog.FileRecord, seriesDate time.Time) {
		g := groups[name]
		if g == nil {
			g = &group{fileIDs: map[string]bool{}}
			groups[name] = g
		}
		g.fileIDs[f.ID] = true
		if len(g.examples) < 5 {
			g.examples = append(g.examples, f.Filename)
		}
		ts := seriesDate
		if ts.IsZero() && f.IndexedAt != nil {
			ts = *f.IndexedAt
		}
		if !ts.IsZero() {
			if g.first.IsZero() || ts.Before(g.first) {
				g.first = ts
			}
			if ts.After(g.last) {
				g.last = ts
			}
		}
	}

	err := d.catalog.IterFiles(ctx, catalog.FileIndexed, func(f catalog.FileRecord) (bool, error) {
		if m := datePrefixRe.FindStringSubmatch(f.Filename); m != nil {
			date, _ := time.Parse("2006-01-02", fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3]))
			record("date_prefix", f, date)
		}
		if versionRe.MatchString(f.Filename) {
			record("versioned", f, time.Time{})
		}
		if statusSuffixRe.MatchString(f.Filename) {
			record("status_suffix", f, time.Time{})
		}
		if projectPrefixRe.MatchString(f.Filename) {
			record("project_prefix", f, time.Time{})
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("workflow scan: %w", err)
	}

	var patterns []Pattern
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		g := groups[name]
		if len(g.fileIDs) < 3 {
			continue
		}
		// A consistent naming series is strong direct evidence of a
		// deliberate workflow; confidence tracks the group size, floored
		// by the uniform formula.
		seriesScore := minf(1.0, 0.4+0.1*float64(len(g.fileIDs)))
		base := Score(EvidenceMetrics{
			Count:           len(g.fileIDs),
			DistinctSources: len(g.fileIDs),
			FirstSeen:       g.first,
			LastSeen:        g.last,
		}, d.now())
		confidence := math.Max(base, seriesScore)
		patterns = append(patterns, Pattern{
			ID:          patternID("workflow", name),
			Type:        "workflow",
			Title:       "Workflow: " + titleCase(strings.ReplaceAll(name, "_", " ")) + " Files",
			Description: fmt.Sprintf("Consistent %s naming convention across %d files", strings.ReplaceAll(name, "_", " "), len(g.fileIDs)),
			Confidence:  confidence,
			Evidence: map[string]interface{}{
				"file_count": len(g.fileIDs),
				"examples":   g.examples,
			},
			SourceFiles: sortedKeys(g.fileIDs),
			FirstSeen:   g.first,
			LastSeen:    g.last,
		})
	}
	return patterns, nil
}

// detectTechStack clusters TECH entities by category and emits one pattern
// per sufficiently dense cluster.
func (d *Detector) detectTechStack() []Pattern {
	entities := d.consolidator.Entities()
	type cluster struct {
		members []*Entity
		fileIDs map[string]bool
		first   time.Time
		last    time.Time
	}
	clusters := map[string]*cluster{}
	for _, ent := range entities {
		if ent.Type != catalog.EntityTech {
			continue
		}
		category, ok := techCategoryMap[ent.Normalized]
		if !ok {
			category = "other"
		}
		cl := clusters[category]
		if cl == nil {
			cl = &cluster{fileIDs: map[string]bool{}}
			clusters[category] = cl
		}
		cl.members = append(cl.members, ent)
		for fileID := range ent.FileIDs {
			cl.fileIDs[fileID] = true
		}
		if !ent.FirstSeen.IsZero() && (cl.first.IsZero() || ent.FirstSeen.Before(cl.first)) {
			cl.first = ent.FirstSeen
		}
		if ent.LastSeen.After(cl.last) {
			cl.last = ent.LastSeen
		}
	}

	var patterns []Pattern
	categories := make([]string, 0, len(clusters))
	for category := range clusters {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	now := d.now()
	for _, category := range categories {
		cl := clusters[category]
		if len(cl.members) < 2 || len(cl.fileIDs) < 2 {
			continue
		}
		occurrences := 0
		var entityIDs []string
		sort.Slice(cl.members, func(i, j int) bool {
			return cl.members[i].OccurrenceCount > cl.members[j].OccurrenceCount
		})
		top := make([]map[string]interface{}, 0, 5)
		for i, m := range cl.members {
			occurrences += m.OccurrenceCount
			entityIDs = append(entityIDs, m.ID)
			if i < 5 {
				top = append(top, map[string]interface{}{
					"name":        m.CanonicalValue,
					"occurrences": m.OccurrenceCount,
				})
			}
		}
		sort.Strings(entityIDs)
		confidence := Score(EvidenceMetrics{
			Count:           occurrences,
			DistinctSources: len(cl.fileIDs),
			FirstSeen:       cl.first,
			LastSeen:        cl.last,
		}, now)
		if confidence < 0.3 {
			continue
		}
		patterns = append(patterns, Pattern{
			ID:          patternID("tech-stack", category),
			Type:        "tech-stack",
			Title:       "Tech Stack: " + titleCase(category),
			Description: fmt.Sprintf("%d %s technologies recur across %d files", len(cl.members), category, len(cl.fileIDs)),
			Confidence:  confidence,
			Evidence: map[string]interface{}{
				"category":     category,
				"technologies": top,
				"member_count": len(cl.members),
			},
			SourceFiles:    sortedKeys(cl.fileIDs),
			SourceEntities: entityIDs,
			FirstSeen:      cl.first,
			LastSeen:       cl.last,
		})
	}
	return patterns
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func firstN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
