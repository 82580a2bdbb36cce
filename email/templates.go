package email

import (
	"regexp"
	"strings"
)

var (
	markdownLink = regexp.MustCompile(`\[([^\]]*)\]\(([^)\s]*)\)`)
	numberedLine = regexp.MustCompile(`^\d+\. `)
)

// renderDigest turns a digest message into an HTML email. The first line becomes
// the heading, blank lines separate type groups, numbered lines become list items.
func renderDigest(text string) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; background: #fff; }\n")
	b.WriteString("h2 { border-bottom: 2px solid #2e86c1; padding-bottom: 10px; }\n")
	b.WriteString("h3 { color: #2e86c1; margin-bottom: 4px; }\n")
	b.WriteString("ol { margin-top: 0; padding-left: 20px; }\n")
	b.WriteString("a { color: #2e86c1; text-decoration: none; }\n")
	b.WriteString("a:hover { text-decoration: underline; }\n")
	b.WriteString("@media (prefers-color-scheme: dark) {\n")
	b.WriteString("body { background: #1a1a1a; color: #e0e0e0; }\n")
	b.WriteString("h3, a { color: #5dade2; }\n")
	b.WriteString("}\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	lines := strings.Split(text, "\n")
	inList := false
	closeList := func() {
		if inList {
			b.WriteString("</ol>\n")
			inList = false
		}
	}

	for i, line := range lines {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			closeList()
		case i == 0:
			b.WriteString("<h2>" + escapeHTML(line) + "</h2>\n")
		case numberedLine.MatchString(line):
			if !inList {
				b.WriteString("<ol>\n")
				inList = true
			}
			b.WriteString("<li>" + renderLinks(numberedLine.ReplaceAllString(line, "")) + "</li>\n")
		default:
			closeList()
			b.WriteString("<h3>" + escapeHTML(line) + "</h3>\n")
		}
	}
	closeList()

	b.WriteString("</body>\n</html>")
	return b.String()
}

// renderLinks escapes s and converts Markdown links with safe URLs into anchors.
func renderLinks(s string) string {
	var b strings.Builder
	last := 0
	for _, m := range markdownLink.FindAllStringSubmatchIndex(s, -1) {
		b.WriteString(escapeHTML(s[last:m[0]]))
		label, href := s[m[2]:m[3]], s[m[4]:m[5]]
		if isSafeURL(href) {
			b.WriteString(`<a href="` + escapeHTML(href) + `">` + escapeHTML(label) + "</a>")
		} else {
			b.WriteString(escapeHTML(label))
		}
		last = m[1]
	}
	b.WriteString(escapeHTML(s[last:]))
	return b.String()
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}

// isSafeURL allows only absolute http and https links in emails.
func isSafeURL(urlStr string) bool {
	urlStr = strings.TrimSpace(strings.ToLower(urlStr))
	return strings.HasPrefix(urlStr, "http://") || strings.HasPrefix(urlStr, "https://")
}
