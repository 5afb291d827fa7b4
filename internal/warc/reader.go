package warc

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Entry is a single WARC record read back from an archive.
type Entry struct {
	headers map[string]string
	names   []string
	Block   []byte
}

// Get returns the value of a header, matched case-insensitively.
func (e *Entry) Get(name string) string {
	return e.headers[strings.ToLower(name)]
}

// HeaderNames returns the header names in the order they were read.
func (e *Entry) HeaderNames() []string {
	return e.names
}

// Type returns the WARC-Type.
func (e *Entry) Type() string {
	return e.Get(HeaderType)
}

// RecordID returns the WARC-Record-ID without its <urn:uuid:> wrapping.
func (e *Entry) RecordID() string {
	return unwrapRecordID(e.Get(HeaderRecordID))
}

// RefersTo returns the record id a revisit points at.
func (e *Entry) RefersTo() string {
	return unwrapRecordID(e.Get(HeaderRefersTo))
}

// TargetURI returns the WARC-Target-URI.
func (e *Entry) TargetURI() string {
	return e.Get(HeaderTargetURI)
}

// FetchTimeMS parses the fetch time out of a metadata record.
func (e *Entry) FetchTimeMS() (uint64, bool) {
	if e.Type() != TypeMetadata {
		return 0, false
	}
	for _, line := range strings.Split(string(e.Block), crlf) {
		name, value, ok := strings.Cut(line, ":")
		if ok && name == metadataFetchTimeField {
			ms, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
			return ms, err == nil
		}
	}
	return 0, false
}

func unwrapRecordID(v string) string {
	v = strings.TrimPrefix(v, "<urn:uuid:")
	return strings.TrimSuffix(v, ">")
}

// Reader iterates over the records of a .warc.gz stream.
type Reader struct {
	gz *gzip.Reader
	br *bufio.Reader
}

// NewReader opens a gzip-compressed WARC stream. Multi-member files are
// read as one continuous stream.
func NewReader(r io.Reader) (*Reader, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open warc.gz: %w", err)
	}
	return &Reader{gz: gz, br: bufio.NewReader(gz)}, nil
}

// Next returns the next record, or io.EOF when the archive is exhausted.
func (r *Reader) Next() (*Entry, error) {
	version, err := r.readVersionLine()
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(version, "WARC/") {
		return nil, fmt.Errorf("%w: unexpected version line %q", ErrMalformedRecord, version)
	}

	entry := &Entry{headers: make(map[string]string)}
	for {
		line, lineErr := r.readLine()
		if lineErr != nil {
			return nil, fmt.Errorf("%w: truncated header: %w", ErrMalformedRecord, lineErr)
		}
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: header line %q", ErrMalformedRecord, line)
		}
		name = strings.TrimSpace(name)
		entry.names = append(entry.names, name)
		entry.headers[strings.ToLower(name)] = strings.TrimSpace(value)
	}

	length, err := strconv.Atoi(entry.Get(HeaderContentLength))
	if err != nil || length < 0 {
		return nil, fmt.Errorf("%w: bad content-length %q", ErrMalformedRecord, entry.Get(HeaderContentLength))
	}

	entry.Block = make([]byte, length)
	if _, err = io.ReadFull(r.br, entry.Block); err != nil {
		return nil, fmt.Errorf("%w: truncated block: %w", ErrMalformedRecord, err)
	}

	trailer := make([]byte, 2*len(crlf))
	if _, err = io.ReadFull(r.br, trailer); err != nil || !bytes.Equal(trailer, []byte(crlf+crlf)) {
		return nil, fmt.Errorf("%w: missing record trailer", ErrMalformedRecord)
	}

	return entry, nil
}

// readVersionLine skips blank lines between records and returns the first
// non-empty line, or io.EOF at a clean end of stream.
func (r *Reader) readVersionLine() (string, error) {
	for {
		line, err := r.readLine()
		if errors.Is(err, io.EOF) && line == "" {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrMalformedRecord, err)
		}
		if line != "" {
			return line, nil
		}
	}
}

func (r *Reader) readLine() (string, error) {
	line, err := r.br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimRight(line, crlf), nil
}

// Close releases the decompressor.
func (r *Reader) Close() error {
	return r.gz.Close()
}

// ReadAll decodes every record of an in-memory archive.
func ReadAll(data []byte) ([]*Entry, error) {
	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var entries []*Entry
	for {
		e, nextErr := r.Next()
		if errors.Is(nextErr, io.EOF) {
			return entries, nil
		}
		if nextErr != nil {
			return entries, nextErr
		}
		entries = append(entries, e)
	}
}
