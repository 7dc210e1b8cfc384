package dataset

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxDatasetNameLen bounds the slug used as a dataset's table-safe name.
const MaxDatasetNameLen = 50

// SlugDelimiter joins the words of a slug.
const SlugDelimiter = "_"

// MaxColumnNameLen bounds a column identifier, leaving room for a suffix
// under Postgres' 63-byte limit.
const MaxColumnNameLen = 60

// Slugify lowercases s, folds accented letters to ASCII and joins the remaining
// alphanumeric runs with SlugDelimiter. "Crimes – 2001 to Présent" becomes
// "crimes_2001_to_present".
func Slugify(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}

	var words []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			words = append(words, b.String())
			b.Reset()
		}
	}

	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r >= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			// Letters with no ASCII fold (ß, CJK) are dropped without splitting the word
		default:
			flush()
		}
	}
	flush()

	return strings.Join(words, SlugDelimiter)
}

// DatasetName is the slug of a human dataset name, truncated to MaxDatasetNameLen.
func DatasetName(humanName string) string {
	slug := Slugify(humanName)
	if len(slug) > MaxDatasetNameLen {
		slug = strings.TrimRight(slug[:MaxDatasetNameLen], SlugDelimiter)
	}
	return slug
}

// ColumnNames turns a header into unique column identifiers. Blank headers
// become column_<n>; repeats get a numeric suffix, so "Date", "Date" becomes
// date, date_2. Described columns and loaded tables are both named through it.
func ColumnNames(header []string) []string {
	seen := make(map[string]int, len(header))
	names := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		name := Slugify(h)
		if len(name) > MaxColumnNameLen {
			name = strings.TrimRight(name[:MaxColumnNameLen], SlugDelimiter)
		}
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		base := name
		for seen[name] > 0 {
			seen[base]++
			name = fmt.Sprintf("%s_%d", base, seen[base])
		}
		seen[name]++
		names[i] = name
	}
	return names
}
