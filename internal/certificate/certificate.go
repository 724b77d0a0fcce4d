// Package certificate builds the printable medical summary certificate:
// key information extracted from the report text plus the verification data
// of the anchored fingerprint.
package certificate

import (
	"regexp"
	"strings"
	"time"

	domain "github.com/bryanwahyu/certimed/internal/domain/certificates"
)

// Document is the printable rendering model of a certificate record.
type Document struct {
	CertificateID    string
	Fingerprint      string
	TxID             string
	AnchoredAt       time.Time
	PatientInitials  string
	Physician        string
	DiagnosisSummary string
	ICD10Codes       []string
	Terms            []domain.Term
	Status           string
}

var (
	rePatient = regexp.MustCompile(`(?i)(?:patient|name)[:\s]+([A-Za-z .]{2,30})`)
	reDoctor  = regexp.MustCompile(`(?i)(?:doctor|physician|dr\.?)[:\s]+([A-Za-z .]{2,30})`)
	reICD10   = regexp.MustCompile(`[\[(]?([A-Z]\d{2}(?:\.\d{1,2})?)[)\]]?`)
)

// Build assembles the printable document from an anchored record and the
// canonical result it certifies.
func Build(rec *domain.CertificateRecord, result domain.Result) Document {
	doc := Document{
		CertificateID:   rec.CertificateID,
		Fingerprint:     string(rec.Fingerprint),
		TxID:            string(rec.TxID),
		AnchoredAt:      rec.AnchoredAt,
		PatientInitials: "P.A.",
		Physician:       "Medical Professional",
		Terms:           result.Terms,
		Status:          "VALID",
	}

	if m := rePatient.FindStringSubmatch(result.Text); m != nil {
		doc.PatientInitials = initials(m[1])
	}
	if m := reDoctor.FindStringSubmatch(result.Text); m != nil {
		doc.Physician = strings.TrimSpace(m[1])
	}
	doc.ICD10Codes = icd10Codes(result.Text, 5)

	// Synopsis is the layperson summary; fall back to a neutral line when
	// summarization did not run.
	doc.DiagnosisSummary = strings.TrimSpace(result.Synopsis)
	if doc.DiagnosisSummary == "" {
		doc.DiagnosisSummary = "Medical report processed and analyzed"
	}
	return doc
}

// initials keeps only first+last initials for privacy.
func initials(name string) string {
	parts := strings.Fields(strings.TrimSpace(name))
	if len(parts) == 0 {
		return "P.A."
	}
	if len(parts) > 2 {
		parts = []string{parts[0], parts[len(parts)-1]}
	}
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteByte('.')
	}
	return b.String()
}

func icd10Codes(text string, max int) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range reICD10.FindAllStringSubmatch(text, -1) {
		code := m[1]
		if seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
		if len(out) >= max {
			break
		}
	}
	return out
}
