package certificate

import (
	"bytes"
	"html/template"
)

var certTmpl = template.Must(template.New("certificate").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Medical Summary Certificate {{.CertificateID}}</title>
<style>
body { font-family: Georgia, serif; margin: 2em auto; max-width: 40em; color: #222; }
.medical-certificate { border: 2px solid #00b3b3; border-radius: 6px; padding: 2em; }
.certificate-header { text-align: center; border-bottom: 1px solid #ddd; padding-bottom: 1em; }
.cert-id { color: #666; font-size: 0.9em; }
.section { margin-top: 1.5em; }
.section h3 { color: #00b3b3; margin-bottom: 0.3em; }
.mono { font-family: monospace; word-break: break-all; }
.status { font-weight: bold; color: #1a7f37; }
.certificate-footer { margin-top: 2em; border-top: 1px solid #ddd; padding-top: 0.8em; font-size: 0.85em; color: #666; }
</style>
</head>
<body>
<div class="medical-certificate">
  <div class="certificate-header">
    <h2>Medical Summary Certificate</h2>
    <p class="cert-id">ID: {{.CertificateID}}</p>
  </div>

  <div class="section">
    <h3>Document Verification</h3>
    <p><strong>Fingerprint:</strong> <span class="mono">{{.Fingerprint}}</span></p>
    <p><strong>Transaction:</strong> <span class="mono">{{.TxID}}</span></p>
    <p><strong>Anchored:</strong> {{.AnchoredAt.UTC.Format "Jan 02, 2006 at 15:04 UTC"}}</p>
  </div>

  <div class="section">
    <h3>Patient Information</h3>
    <p><strong>Patient Initials:</strong> {{.PatientInitials}}</p>
  </div>

  <div class="section">
    <h3>Medical Summary</h3>
    <p>{{.DiagnosisSummary}}</p>
    {{if .ICD10Codes}}
    <p><strong>Medical Codes:</strong></p>
    <ul>{{range .ICD10Codes}}<li>{{.}}</li>{{end}}</ul>
    {{end}}
    {{if .Terms}}
    <p><strong>Terms Explained:</strong></p>
    <ul>{{range .Terms}}<li><strong>{{.Term}}</strong>: {{.Explanation}}</li>{{end}}</ul>
    {{end}}
    <p><strong>Physician:</strong> {{.Physician}}</p>
  </div>

  <div class="section">
    <p>This certificate verifies that the referenced medical summary has been
    cryptographically fingerprinted and anchored on an immutable ledger. Any
    alteration of the summary content will fail verification.</p>
  </div>

  <div class="certificate-footer">
    <p class="status">Status: {{.Status}}</p>
  </div>
</div>
</body>
</html>
`))

// HTML renders the printable certificate page.
func (d Document) HTML() ([]byte, error) {
	var buf bytes.Buffer
	if err := certTmpl.Execute(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
