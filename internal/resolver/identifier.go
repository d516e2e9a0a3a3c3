package resolver

import (
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Task ids are ULIDs; older imported data and template catalogs may carry
// UUIDs. Both count as well-formed identifiers for resolution purposes.
var (
	uuidRE = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	ulidRE = regexp.MustCompile(`[0-9A-HJKMNP-TV-Za-hjkmnp-tv-z]{26}`)
)

func isWellFormedID(s string) bool {
	if uuidRE.MatchString(s) && len(s) == 36 {
		return true
	}
	if len(s) == 26 {
		if _, err := ulid.ParseStrict(strings.ToUpper(s)); err == nil {
			return true
		}
	}
	return false
}

// extractID finds a well-formed identifier embedded in a decorated reference
// such as "task-<uuid>-v2". Returns "" when nothing well-formed is found.
func extractID(reference string) string {
	if id := uuidRE.FindString(reference); id != "" {
		return id
	}
	for _, candidate := range ulidRE.FindAllString(reference, -1) {
		if _, err := ulid.ParseStrict(strings.ToUpper(candidate)); err == nil {
			return candidate
		}
	}
	return ""
}

// compoundRemainder splits a type-prefixed reference like "factor-<id>" on
// its first separator and returns the remainder when it is a well-formed
// identifier. Returns "" otherwise.
func compoundRemainder(reference string) string {
	idx := strings.Index(reference, "-")
	if idx < 0 {
		return ""
	}
	rest := reference[idx+1:]
	if isWellFormedID(rest) {
		return rest
	}
	return ""
}
