package executor

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

var blankRuns = regexp.MustCompile(`\n([ \t]*\n){2,}`)

// Clean removes terminal escape sequences and every control character
// except tab and newline.
func Clean(s string) string {
	s = ansi.Strip(s)
	return strings.Map(func(r rune) rune {
		if r >= 32 || r == '\t' || r == '\n' {
			return r
		}
		return -1
	}, s)
}

// ExtractSummary returns the text from the first marker found, trying
// markers in order, with runs of blank lines collapsed. Without a match the
// whole trimmed output is returned.
func ExtractSummary(cleaned string, markers []string) string {
	for _, m := range markers {
		if m == "" {
			continue
		}
		if i := strings.Index(cleaned, m); i >= 0 {
			return blankRuns.ReplaceAllString(strings.TrimSpace(cleaned[i:]), "\n\n")
		}
	}
	return strings.TrimSpace(cleaned)
}
