package warc

import "time"

// IndexEntry locates the full record that first carried a digest.
type IndexEntry struct {
	// Ordinal is the position of the logical record within its archive.
	Ordinal int
	// RecordID is the WARC-Record-ID of the response record.
	RecordID string
	// TargetURI is the URL of the original response.
	TargetURI string
	// Date is the fetch date of the original response.
	Date time.Time
}

// DigestIndex maps content digests to the first full record of an archive
// that carried them. It lives and dies with one DeduplicatedWriter.
type DigestIndex struct {
	entries map[Digest]IndexEntry
}

// NewDigestIndex returns an empty index.
func NewDigestIndex() *DigestIndex {
	return &DigestIndex{entries: make(map[Digest]IndexEntry)}
}

// Lookup returns the entry recorded for d.
func (i *DigestIndex) Lookup(d Digest) (IndexEntry, bool) {
	e, ok := i.entries[d]
	return e, ok
}

// Insert records d unless it is already present; the first record wins.
func (i *DigestIndex) Insert(d Digest, e IndexEntry) bool {
	if _, ok := i.entries[d]; ok {
		return false
	}
	i.entries[d] = e
	return true
}

// Len returns the number of distinct digests.
func (i *DigestIndex) Len() int {
	return len(i.entries)
}
