package certificates

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"

	"golang.org/x/crypto/sha3"
)

// CanonicalVersion tags the serialization below. The canonical form is part
// of the wire contract: changing field order or encoding invalidates every
// fingerprint issued before, so any change requires a new version tag.
const CanonicalVersion = "medcert/v1"

// Term is one term/explanation pair inside a canonical result.
type Term struct {
	Term        string
	Explanation string
}

// Result is the canonical fingerprint input: extracted text plus the
// structured summary.
type Result struct {
	Text     string
	Synopsis string
	Terms    []Term
}

// Canonical serializes the result deterministically. Fields are
// length-prefixed so no content can shift field boundaries, and terms are
// sorted by term so presentational reordering does not change the digest.
func (r Result) Canonical() []byte {
	terms := make([]Term, len(r.Terms))
	copy(terms, r.Terms)
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Term != terms[j].Term {
			return terms[i].Term < terms[j].Term
		}
		return terms[i].Explanation < terms[j].Explanation
	})

	var b bytes.Buffer
	b.WriteString(CanonicalVersion)
	b.WriteByte('\n')
	writeField(&b, r.Text)
	writeField(&b, r.Synopsis)
	fmt.Fprintf(&b, "%d\n", len(terms))
	for _, t := range terms {
		writeField(&b, t.Term)
		writeField(&b, t.Explanation)
	}
	return b.Bytes()
}

func writeField(b *bytes.Buffer, s string) {
	fmt.Fprintf(b, "%d:", len(s))
	b.WriteString(s)
	b.WriteByte('\n')
}

// ComputeFingerprint digests a canonical result. Pure: no randomness, no
// timestamp, stable across restarts and implementations.
func (r Result) ComputeFingerprint() Fingerprint {
	sum := sha3.Sum256(r.Canonical())
	return Fingerprint(hex.EncodeToString(sum[:]))
}
