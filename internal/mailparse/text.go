package mailparse

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	separatorLine = regexp.MustCompile(`(?i)^[-_]{3,}\s*(Original|Reply|Forward)`)
	attribution   = regexp.MustCompile(`^On.*wrote:`)
)

// StripQuoted drops lines starting with '>' and cuts the text at the first
// forwarded/original-message separator or "On ... wrote:" attribution.
func StripQuoted(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		if separatorLine.MatchString(line) || attribution.MatchString(line) {
			break
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// HTMLToText keeps the visible text of an HTML document with all runs of
// whitespace collapsed to single spaces.
func HTMLToText(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))

	var (
		b    strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			if isHidden(name) {
				skip++
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			name, _ := z.TagName()
			if isHidden(name) && skip > 0 {
				skip--
			}
			b.WriteByte(' ')
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isHidden(tag []byte) bool {
	switch string(tag) {
	case "script", "style", "head", "title":
		return true
	}
	return false
}
