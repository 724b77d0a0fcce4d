package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

// maxReportChars caps the report text sent to the model.
const maxReportChars = 8000

// GetSystemPrompt provides strict directions and schema for JSON output.
func GetSystemPrompt() string {
	return `You are a medical assistant helping patients understand their medical reports. You must produce one valid JSON object only (no markdown, no commentary, no code fences) that follows the schema below.

Requirements:
- "synopsis" is a short plain-language explanation of what the report says, written for a layperson. No medical jargon without explanation.
- "terms" lists every medical term that appears in the report, each with a one-sentence plain-language explanation. Terms must be unique.
- Do not diagnose, do not invent findings that are not in the report, and do not repeat the same sentence twice.
- Never output null. If there are no medical terms, return an empty array.

Schema (example with empty values):
{
  "synopsis": "<string>",
  "terms": [
    {"term": "<string>", "explanation": "<string>"}
  ]
}`
}

// GetUserPrompt wraps the cleaned report text.
func GetUserPrompt(reportText string) string {
	return fmt.Sprintf("Explain this medical report and respond with the JSON per schema.\n\nMEDICAL REPORT TEXT:\n%s", reportText)
}

var (
	reNonASCII = regexp.MustCompile(`[^\x00-\x7F]+`)
	reSpaces   = regexp.MustCompile(`\s+`)
)

// CleanReportText strips OCR junk before the text goes to the model:
// non-ASCII noise, collapsed whitespace, capped length.
func CleanReportText(s string) string {
	s = reNonASCII.ReplaceAllString(s, " ")
	s = strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
	if len(s) > maxReportChars {
		s = s[:maxReportChars]
	}
	return s
}
