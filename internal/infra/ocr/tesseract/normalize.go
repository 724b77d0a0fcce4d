package tesseract

import (
	"regexp"
	"strings"
)

var (
	reNonASCII   = regexp.MustCompile(`[^\x00-\x7F]+`)
	reMultiSpace = regexp.MustCompile(`[ \t]+`)
)

// Normalize cleans OCR output: strips non-ASCII engine noise, collapses
// runs of spaces, trims lines, and drops exact duplicate lines (scanned
// reports often repeat headers on every page).
func Normalize(s string) string {
	s = reNonASCII.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	seen := make(map[string]bool, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.TrimSpace(reMultiSpace.ReplaceAllString(line, " "))
		if clean == "" {
			if len(out) > 0 && out[len(out)-1] != "" {
				out = append(out, "")
			}
			continue
		}
		if seen[clean] {
			continue
		}
		seen[clean] = true
		out = append(out, clean)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
