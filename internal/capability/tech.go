// File path: internal/capability/tech.go
package capability

import (
	"regexp"
	"strings"
)

// techTerms is the fixed vocabulary behind the regex technology-term
// detector that augments whatever NER the active capability produces.
var techTerms = []string{
	"python", "javascript", "typescript", "golang", "rust", "java", "c\\+\\+",
	"react", "vue", "angular", "fastapi", "django", "flask", "spring",
	"docker", "kubernetes", "terraform", "ansible", "helm",
	"aws", "gcp", "azure",
	"postgresql", "mysql", "sqlite", "mongodb", "redis", "kafka", "spark",
	"git", "github", "gitlab", "jenkins", "circleci",
	"tensorflow", "pytorch", "transformer", "graphql", "grpc",
}

var techRegexes = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(techTerms))
	for _, t := range techTerms {
		out = append(out, regexp.MustCompile(`(?i)\b`+t+`\b`))
	}
	return out
}()

// DetectTechTerms scans text for known technology vocabulary and returns
// TECH entity mentions. It runs alongside the model-backed extractor so a
// weak NER model never drops the tech signal the correlation detectors
// depend on.
func DetectTechTerms(text string) []Entity {
	var out []Entity
	for _, re := range techRegexes {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			out = append(out, Entity{
				Value:      text[loc[0]:loc[1]],
				Type:       "TECH",
				Position:   loc[0],
				Confidence: 0.9,
			})
		}
	}
	return out
}

// NormalizeEntity produces the stored normalized form of a mention:
// case-folded, diacritic-stripped, punctuation-trimmed, article-free.
// Alias resolution (nicknames) happens later, during consolidation, and
// only for PERSON entities.
func NormalizeEntity(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, prefix := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(normalized, prefix) {
			normalized = normalized[len(prefix):]
		}
	}
	normalized = stripDiacritics(normalized)
	var b strings.Builder
	for _, r := range normalized {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

var diacriticMap = map[rune]rune{
	'á': 'a', 'à': 'a', 'â': 'a', 'ä': 'a', 'ã': 'a', 'å': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
	'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i',
	'ó': 'o', 'ò': 'o', 'ô': 'o', 'ö': 'o', 'õ': 'o',
	'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u',
	'ñ': 'n', 'ç': 'c', 'ý': 'y',
}

func stripDiacritics(s string) string {
	var b strings.Builder
	for _, r := range s {
		if mapped, ok := diacriticMap[r]; ok {
			b.WriteRune(mapped)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
