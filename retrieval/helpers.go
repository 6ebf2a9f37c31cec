package retrieval

import (
	"strings"
)

// ftsSpecial strips FTS5 syntax characters from user text.
var ftsSpecial = strings.NewReplacer(
	"\"", "", "*", "", "(", "", ")", "",
	"+", "", "-", " ", "^", "", ":", "",
	"?", "", "[", "", "]", "", "{", "",
	"}", "", "!", "", ".", " ", ",", "",
	";", "", "/", " ", "'", "",
)

// extractSignificantTerms returns the meaningful lowercase words of a query,
// without stop words, words of two letters or fewer, and duplicates.
func extractSignificantTerms(query string) []string {
	words := strings.Fields(ftsSpecial.Replace(query))
	seen := make(map[string]bool)
	var terms []string
	for _, w := range words {
		lower := strings.ToLower(w)
		if len(lower) > 2 && !isStopWord(lower) && !seen[lower] {
			seen[lower] = true
			terms = append(terms, lower)
		}
	}
	return terms
}

// sanitizeFTSQuery builds an FTS5 OR query from free text: the whole phrase
// quoted plus each significant term. It returns "" when nothing is left.
func sanitizeFTSQuery(query string) string {
	words := strings.Fields(ftsSpecial.Replace(query))
	if len(words) == 0 {
		return ""
	}
	var parts []string
	if len(words) > 1 {
		parts = append(parts, "\""+strings.Join(words, " ")+"\"")
	}
	for _, t := range extractSignificantTerms(query) {
		parts = append(parts, "\""+t+"\"")
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " OR ")
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "must": true,
	"shall": true, "can": true, "this": true, "that": true, "these": true,
	"those": true, "what": true, "which": true, "who": true, "whom": true,
	"where": true, "when": true, "how": true, "why": true, "not": true,
	"no": true, "nor": true, "if": true, "then": true, "than": true,
	"so": true, "as": true, "about": true, "into": true, "between": true,
	"use": true, "used": true, "using": true, "product": true, "products": true,
}

func isStopWord(w string) bool {
	return stopWords[strings.ToLower(w)]
}
