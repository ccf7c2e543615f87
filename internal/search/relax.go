package search

import (
	"regexp"
	"strings"
)

// Relaxation strips restrictive operators in one pass, most specific first:
// file-type filters, OR-chained site filters, bare site filters, year ranges.
var relaxSteps = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bfiletype:\S+`),
	regexp.MustCompile(`(?i)\bOR\b\s+site:\S+`),
	regexp.MustCompile(`(?i)\bsite:\S+`),
	regexp.MustCompile(`\b\d{4}\.\.\d{4}\b`),
}

var multiSpace = regexp.MustCompile(`\s{2,}`)

// RelaxQuery removes every restrictive operator from the query in one pass,
// then collapses the leftover whitespace. It returns the input unchanged when
// nothing applies, and never relaxes down to an empty string.
func RelaxQuery(query string) string {
	relaxed := query
	for _, step := range relaxSteps {
		relaxed = step.ReplaceAllString(relaxed, " ")
	}
	relaxed = strings.TrimSpace(multiSpace.ReplaceAllString(relaxed, " "))
	if relaxed == "" {
		return query
	}
	return relaxed
}

// BuildQueryVariants returns the verbatim query plus, when any operator was
// stripped, the single fully relaxed rewrite. Retry attempt N uses variant
// min(N, len-1), so every retry after the first gets the relaxed form.
func BuildQueryVariants(query string) []string {
	variants := []string{query}
	if relaxed := RelaxQuery(query); relaxed != query {
		variants = append(variants, relaxed)
	}
	return variants
}
