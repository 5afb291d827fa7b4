package warc

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// RecordKind tells whether a write stored the payload or a revisit.
type RecordKind int

const (
	// KindResponse is a full record carrying the payload.
	KindResponse RecordKind = iota
	// KindRevisit is a revisit marker pointing at an earlier response.
	KindRevisit
)

// String returns the WARC-Type of the kind's payload record.
func (k RecordKind) String() string {
	if k == KindRevisit {
		return TypeRevisit
	}
	return TypeResponse
}

// Outcome describes one successful Write.
type Outcome struct {
	Kind         RecordKind
	Digest       Digest
	Ordinal      int
	EncodedBytes int
	// RefersTo is set for revisits: the ordinal of the original response.
	RefersTo int
}

// WriterOption configures a DeduplicatedWriter.
type WriterOption func(*DeduplicatedWriter)

// WithCompressionLevel sets the gzip level used for every record member.
func WithCompressionLevel(level int) WriterOption {
	return func(w *DeduplicatedWriter) {
		w.level = level
	}
}

// WithIDGenerator replaces the WARC-Record-ID generator.
func WithIDGenerator(fn func() string) WriterOption {
	return func(w *DeduplicatedWriter) {
		w.newID = fn
	}
}

// DeduplicatedWriter accumulates records into one compressed WARC archive,
// replacing payloads already present in the archive with revisit records.
//
// Each Record is encoded uncompressed into a staging buffer and then appended
// as its own gzip member, so the buffer only ever holds compressed bytes and a
// failed write never leaves a partial member behind.
//
// A DeduplicatedWriter is not safe for concurrent use.
type DeduplicatedWriter struct {
	out       bytes.Buffer
	staging   bytes.Buffer
	gz        *gzip.Writer
	index     *DigestIndex
	level     int
	newID     func() string
	numWrites int
	numBytes  int64
	finished  bool
}

// NewDeduplicatedWriter returns an empty writer.
func NewDeduplicatedWriter(opts ...WriterOption) *DeduplicatedWriter {
	w := &DeduplicatedWriter{
		index: NewDigestIndex(),
		level: gzip.DefaultCompression,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write appends rec to the archive. On error the writer is unchanged.
func (w *DeduplicatedWriter) Write(rec Record) (Outcome, error) {
	if w.finished {
		return Outcome{}, ErrWriterFinished
	}
	if err := rec.validate(); err != nil {
		return Outcome{}, err
	}

	digest := ComputeDigest(rec.Response.Body)
	ids := recordIDs{request: w.newID(), response: w.newID(), metadata: w.newID()}
	outcome := Outcome{Digest: digest, Ordinal: w.numWrites}

	w.staging.Reset()
	original, seen := w.index.Lookup(digest)
	if seen {
		encodeRevisit(&w.staging, rec, digest, original, ids)
		outcome.Kind = KindRevisit
		outcome.RefersTo = original.Ordinal
	} else {
		encodeFull(&w.staging, rec, digest, ids)
		outcome.Kind = KindResponse
	}

	if err := w.appendMember(w.staging.Bytes()); err != nil {
		return Outcome{}, err
	}

	if !seen {
		w.index.Insert(digest, IndexEntry{
			Ordinal:   w.numWrites,
			RecordID:  ids.response,
			TargetURI: rec.Request.URL.String(),
			Date:      rec.Request.Date,
		})
	}
	outcome.EncodedBytes = w.staging.Len()
	w.numWrites++
	w.numBytes += int64(outcome.EncodedBytes)

	return outcome, nil
}

// appendMember compresses data as a single gzip member onto the output.
func (w *DeduplicatedWriter) appendMember(data []byte) error {
	mark := w.out.Len()

	if w.gz == nil {
		gz, err := gzip.NewWriterLevel(&w.out, w.level)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrEncode, err)
		}
		w.gz = gz
	} else {
		w.gz.Reset(&w.out)
	}

	if _, err := w.gz.Write(data); err != nil {
		w.out.Truncate(mark)
		return fmt.Errorf("%w: compress record: %w", ErrEncode, err)
	}
	if err := w.gz.Close(); err != nil {
		w.out.Truncate(mark)
		return fmt.Errorf("%w: compress record: %w", ErrEncode, err)
	}
	return nil
}

// NumWrites returns the number of records written, revisits included.
func (w *DeduplicatedWriter) NumWrites() int {
	return w.numWrites
}

// NumBytes returns the uncompressed size of everything written so far.
func (w *DeduplicatedWriter) NumBytes() int64 {
	return w.numBytes
}

// NumUnique returns the number of full (non-revisit) records.
func (w *DeduplicatedWriter) NumUnique() int {
	return w.index.Len()
}

// CompressedBytes returns the current size of the compressed archive.
func (w *DeduplicatedWriter) CompressedBytes() int {
	return w.out.Len()
}

// Finish returns the compressed archive. The writer cannot be used afterwards.
func (w *DeduplicatedWriter) Finish() ([]byte, error) {
	if w.finished {
		return nil, ErrWriterFinished
	}
	w.finished = true
	w.index = NewDigestIndex()
	w.staging = bytes.Buffer{}
	w.gz = nil

	data := w.out.Bytes()
	w.out = bytes.Buffer{}
	return data, nil
}
