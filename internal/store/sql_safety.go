package store

import (
	"fmt"
	"regexp"
	"strings"
)

// forbiddenKeywords must not appear as whole words anywhere in a query
// accepted by ValidateReadOnly.
var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "TRUNCATE",
	"ALTER", "GRANT", "REVOKE", "EXECUTE", "CREATE",
}

var wordBoundary = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(forbiddenKeywords))
	for _, kw := range forbiddenKeywords {
		m[kw] = regexp.MustCompile(`(?i)\b` + kw + `\b`)
	}
	return m
}()

// ValidateReadOnly implements the keyword-blacklist filter of spec §6: a
// query is permitted only if it starts with SELECT or WITH, contains none
// of the forbidden keywords as whole words, and has no statement trailing a
// semicolon.
//
// This is intentionally conservative, not a security boundary (spec §9's
// open question) — it does not substitute for parameterized queries and
// callers must not treat a passing query as untrusted-input-safe beyond
// this narrow check.
func ValidateReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	upper := strings.ToUpper(trimmed)

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return fmt.Errorf("query must start with SELECT or WITH")
	}

	if idx := strings.Index(trimmed, ";"); idx != -1 && idx != len(trimmed)-1 {
		return fmt.Errorf("query must not contain a trailing statement after ';'")
	}

	for _, kw := range forbiddenKeywords {
		if wordBoundary[kw].MatchString(trimmed) {
			return fmt.Errorf("query contains forbidden keyword %q", kw)
		}
	}

	return nil
}
