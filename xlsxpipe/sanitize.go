// CLAUDE:SUMMARY Deterministic, idempotent identifier sanitization for column and table names.
package xlsxpipe

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// TableNamePrefix is prepended to every derived table name.
const TableNamePrefix = "sheet_"

// NumericColumnPrefix is prepended to sanitized column names that would
// otherwise start with a digit.
const NumericColumnPrefix = "col_"

// asciiFold decomposes accented characters and strips combining marks,
// so "Prénom" slugs to "prenom" rather than losing the letter.
var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// slugify lowers s and reduces it to [a-z0-9_] with single underscores as
// the sole separator. Deterministic and idempotent.
func slugify(s string) string {
	if folded, _, err := transform.String(asciiFold, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range s {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SanitizeColumn maps arbitrary spreadsheet header text to a safe, stable
// relational column identifier. Idempotent: SanitizeColumn(SanitizeColumn(x))
// == SanitizeColumn(x). Output matches ^[a-z_][a-z0-9_]*$ for any input with
// at least one alphanumeric rune; inputs with none degrade to "col".
//
// Empty and placeholder headers are filtered by the caller, not here.
func SanitizeColumn(header string) string {
	s := slugify(header)
	if s == "" {
		return "col"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = NumericColumnPrefix + s
	}
	return s
}

// TableName derives the table identifier for a worksheet name. Deterministic;
// the single source of truth shared by ingestion-time creation and
// prompt-time reference.
func TableName(sheetName string) string {
	s := slugify(sheetName)
	if s == "" {
		s = "unnamed"
	}
	return TableNamePrefix + s
}
