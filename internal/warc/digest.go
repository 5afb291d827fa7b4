package warc

import (
	"encoding/base32"

	sha256 "github.com/minio/sha256-simd"
)

// digestAlgorithm is the label prefix written into WARC-*-Digest headers.
const digestAlgorithm = "sha256"

var digestEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Digest is a labelled content digest, e.g. "sha256:QW5...".
type Digest string

// ComputeDigest returns the digest of a response body. Bodies are hashed as
// received; two bodies share a digest only when they are byte-identical.
func ComputeDigest(body []byte) Digest {
	sum := sha256.Sum256(normalizeBody(body))
	return Digest(digestAlgorithm + ":" + digestEncoding.EncodeToString(sum[:]))
}

// normalizeBody is the identity: payloads are archived verbatim, so the
// digest must cover exactly the bytes a revisit stands in for.
func normalizeBody(body []byte) []byte {
	return body
}

func (d Digest) String() string {
	return string(d)
}
