package migration

import (
	"regexp"
	"strings"
)

// TokenTable maps symbolic type aliases (lower case, without the
// surrounding percent signs) to native column definitions of a dialect
type TokenTable map[string]string

const (
	TokenPrimaryKey     = "pk"
	TokenInt            = "int"
	TokenUnsignedInt    = "uint"
	TokenString         = "string"
	TokenTimestamps     = "timestamps"
	TokenNullTimestamps = "timestamps_null"
)

var tokenRegexp = regexp.MustCompile(`%[A-Za-z_]+%`)

// Substitute replaces every %token% of the table in a single left to right,
// case insensitive pass. Replaced text is not scanned again and unknown
// tokens are kept as is. String literals are not recognized, so a literal
// that happens to spell a token is substituted as well.
func Substitute(stmt string, tokens TokenTable) string {
	if len(tokens) == 0 || !strings.Contains(stmt, "%") {
		return stmt
	}

	return tokenRegexp.ReplaceAllStringFunc(stmt, func(match string) string {
		name := strings.ToLower(strings.Trim(match, "%"))
		if replacement, ok := tokens[name]; ok {
			return replacement
		}

		return match
	})
}
