package locator

import (
	"regexp"
	"sort"
	"strings"
)

var (
	sixCharTokenRe = regexp.MustCompile(`\b[A-Za-z0-9]{6}\b`)
	loadPhraseRe   = regexp.MustCompile(`(?i)\bload(?:\s*id)?\s*(?:is\s+)?[:#]?\s*([A-Za-z0-9]{4,8})\b`)
	vinPhraseRe    = regexp.MustCompile(`(?i)\b(?:vin|last\s*6)\s*(?:is\s+)?[:#]?\s*([A-Za-z0-9]{4,8})\b`)
	fiveDigitRe    = regexp.MustCompile(`\b(\d{5})\b`)
)

// ExtractLoadIDs scans free conversation text for candidate load identifiers.
// All heuristics run independently and the results are unioned; no ranking is
// applied because candidates are tried against the registry in turn anyway.
// Returns a deduplicated, sorted, upper-cased set; empty on no matches.
func ExtractLoadIDs(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	set := make(map[string]struct{})
	add := func(tok string) {
		tok = strings.ToUpper(strings.TrimSpace(tok))
		if tok != "" {
			set[tok] = struct{}{}
		}
	}

	for _, tok := range sixCharTokenRe.FindAllString(text, -1) {
		add(tok)
	}
	for _, m := range loadPhraseRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, m := range vinPhraseRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	// Truncated-identifier recovery: a bare 5-digit number is often a load id
	// that lost its leading zero in transit. Known to also pick up unrelated
	// 5-digit numbers (extensions, dollar amounts); the registry lookup is
	// what filters those out.
	for _, m := range fiveDigitRe.FindAllStringSubmatch(text, -1) {
		add("0" + m[1])
	}

	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for tok := range set {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}
