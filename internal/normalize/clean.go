package normalize

import (
	"regexp"
	"strings"
)

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
	blankLinesPattern = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
)

// CleanBody turns a raw email body into plain text: HTML tags are removed,
// everything from the first signature separator line ("--", "---", ...) on
// is dropped, runs of blank lines collapse into one and the result is
// trimmed.
func CleanBody(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = htmlTagPattern.ReplaceAllString(text, "")
	text = stripSignature(text)
	text = blankLinesPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func stripSignature(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if isSignatureSeparator(line) {
			return strings.Join(lines[:i], "\n")
		}
	}
	return text
}

// isSignatureSeparator reports whether line consists of two or more hyphens,
// optionally followed by whitespace.
func isSignatureSeparator(line string) bool {
	line = strings.TrimRight(line, " \t")
	if len(line) < 2 {
		return false
	}
	return strings.Trim(line, "-") == ""
}
