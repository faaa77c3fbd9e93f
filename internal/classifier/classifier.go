// Package classifier decides how a question should be searched: its type, how
// many chunks it deserves and which extra sub-queries widen its recall.
package classifier

import (
	"sort"
	"strings"
)

// Classify is pure and deterministic: the same question always yields the same Analysis.
func Classify(question string) Analysis {
	norm := normalize(question)
	if norm == "" {
		return Analysis{Type: TypeGeneral, ContextSize: baseContextSize[TypeGeneral]}
	}
	if greetingPattern.MatchString(norm) {
		return Analysis{Type: TypeGreeting, ContextSize: 0}
	}

	queryType := TypeFactual
	for _, r := range typeRules {
		if r.pattern.MatchString(norm) {
			queryType = r.result
			break
		}
	}

	isCount := countPattern.MatchString(norm)
	cats := detectCategories(norm)
	apps := detectApplications(norm)
	codes := FindProductCodes(question)

	contextSize := baseContextSize[queryType]
	if isCount && contextSize < countContextFloor {
		contextSize = countContextFloor
	}
	if queryType == TypeAggregation && len(cats) > 0 && contextSize > scopedAggregationCeiling {
		contextSize = scopedAggregationCeiling
	}

	keywords := make([]string, 0, len(codes)+len(apps))
	for _, c := range codes {
		keywords = append(keywords, c.Canonical())
	}
	for _, a := range apps {
		keywords = append(keywords, a.name)
	}
	sort.Strings(keywords)

	return Analysis{
		Type:             queryType,
		ContextSize:      contextSize,
		NeedsMultiQuery:  multiQueryTypes[queryType] || len(codes) > 0,
		SuggestedQueries: suggestQueries(queryType, norm, cats, apps),
		Categories:       cats,
		Keywords:         keywords,
		IsCountQuery:     isCount,
		RequiresFullScan: isCount,
	}
}

func detectCategories(norm string) []string {
	var found []string
	for _, c := range categories {
		if c.pattern.MatchString(norm) {
			found = append(found, c.name)
		}
	}
	return found
}

func detectApplications(norm string) []application {
	var found []application
	for _, a := range applications {
		if a.pattern.MatchString(norm) {
			found = append(found, a)
		}
	}
	return found
}

func suggestQueries(queryType QueryType, norm string, cats []string, apps []application) []string {
	var out []string
	switch queryType {
	case TypeRecommendation:
		if len(apps) == 0 {
			out = append(out, genericRecommendationQueries...)
			break
		}
		for _, a := range apps {
			out = append(out, a.queries...)
		}
	case TypeAggregation:
		if len(cats) == 0 {
			out = append(out, genericAggregationQueries...)
			for _, name := range CategoryNames() {
				out = append(out, "modelos de "+name)
			}
			break
		}
		for _, name := range cats {
			out = append(out, "lista de "+name, "modelos de "+name, "catalogo "+name)
		}
	case TypeExploratory:
		m := subjectPattern.FindStringSubmatch(norm)
		if len(m) < 2 || strings.TrimSpace(m[1]) == "" {
			return nil
		}
		subject := strings.TrimSpace(m[1])
		out = append(out, subject, "caracteristicas de "+subject, "aplicacoes de "+subject)
	default:
		return nil
	}
	return dedupe(out, norm)
}

// dedupe keeps first occurrences and drops anything equal to the question itself.
func dedupe(queries []string, norm string) []string {
	seen := map[string]bool{norm: true}
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		if seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}
