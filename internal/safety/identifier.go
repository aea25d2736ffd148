// Package safety validates and escapes identifiers and values before they
// reach a query builder. Every identifier derived from untrusted input must
// pass through here before it is used in a filter, projection, or SQL
// fragment.
package safety

import (
	"regexp"
	"strings"

	"github.com/ownkit/docstore/internal/domain"
)

// identifierPattern is deliberately restrictive: letters, digits, and
// underscore, starting with a letter or underscore. Everything else is
// rejected, including whitespace, quotes, and SQL or regex metacharacters.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// MaxIdentifierLength bounds identifier names. PostgreSQL truncates names at
// 63 bytes; enforcing the same bound keeps both backends consistent.
const MaxIdentifierLength = 63

// AssertSafeIdentifier returns the name unchanged if it is safe to embed in
// a query, or an InvalidIdentifierError otherwise.
func AssertSafeIdentifier(name string) (string, error) {
	if name == "" || len(name) > MaxIdentifierLength || !identifierPattern.MatchString(name) {
		return "", &domain.InvalidIdentifierError{Name: name}
	}
	return name, nil
}

// AssertAllowedColumn verifies that name is both a safe identifier and a
// member of the allowed-column whitelist.
func AssertAllowedColumn(name string, allowed []string) (string, error) {
	if _, err := AssertSafeIdentifier(name); err != nil {
		return "", err
	}
	for _, col := range allowed {
		if col == name {
			return name, nil
		}
	}
	return "", &domain.ColumnNotAllowedError{Name: name}
}

// likeEscaper neutralizes the LIKE/ILIKE pattern metacharacters so a user
// value can never widen a match.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLikePattern escapes a value for safe embedding in a LIKE or ILIKE
// pattern.
func EscapeLikePattern(value string) string {
	return likeEscaper.Replace(value)
}

// EscapeRegex escapes a value so that it matches literally when embedded in
// a regular-expression pattern (the MongoDB case-insensitive comparison
// path).
func EscapeRegex(value string) string {
	return regexp.QuoteMeta(value)
}

// FoldCase normalizes a value for case-insensitive equality. Two values that
// differ only in case fold to the same string.
func FoldCase(value string) string {
	return strings.ToLower(value)
}

// EqualFold reports whether two values are equal under case folding.
func EqualFold(a, b string) bool {
	return strings.EqualFold(a, b)
}
