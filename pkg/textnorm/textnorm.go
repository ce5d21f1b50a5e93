// Package textnorm canonicalizes decoded email bodies before extraction.
package textnorm

import (
	"regexp"
	"strings"
)

var (
	lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")
	newlineRuns = regexp.MustCompile(`\n{2,}`)
)

// Normalize unifies line endings to LF, collapses runs of newlines into one
// and trims surrounding whitespace. Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	s = lineEndings.Replace(s)
	s = newlineRuns.ReplaceAllLiteralString(s, "\n")
	return strings.TrimSpace(s)
}

// Lines returns the non-empty, trimmed lines of the normalized text.
func Lines(s string) []string {
	raw := strings.Split(Normalize(s), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
