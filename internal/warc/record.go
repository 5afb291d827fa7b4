// Package warc encodes crawled pages as deduplicated, gzip-compressed WARC/1.1 archives
// and reads them back.
package warc

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"time"
	"unicode"

	"github.com/jonesrussell/north-cloud/warc-archiver/internal/domain"
)

// WARC record types and header names used by the writer and reader.
const (
	Version = "WARC/1.1"

	TypeRequest  = "request"
	TypeResponse = "response"
	TypeRevisit  = "revisit"
	TypeMetadata = "metadata"

	HeaderType              = "WARC-Type"
	HeaderRecordID          = "WARC-Record-ID"
	HeaderDate              = "WARC-Date"
	HeaderTargetURI         = "WARC-Target-URI"
	HeaderConcurrentTo      = "WARC-Concurrent-To"
	HeaderPayloadDigest     = "WARC-Payload-Digest"
	HeaderBlockDigest       = "WARC-Block-Digest"
	HeaderIdentifiedPayload = "WARC-Identified-Payload-Type"
	HeaderProfile           = "WARC-Profile"
	HeaderRefersTo          = "WARC-Refers-To"
	HeaderRefersToTargetURI = "WARC-Refers-To-Target-URI"
	HeaderRefersToDate      = "WARC-Refers-To-Date"
	HeaderContentType       = "Content-Type"
	HeaderContentLength     = "Content-Length"
	RevisitProfileIdentical = "http://netpreserve.org/warc/1.1/revisits/identical-payload-digest"
	contentTypeHTTPRequest  = "application/http; msgtype=request"
	contentTypeWARCFields   = "application/warc-fields"
	defaultPayloadType      = "application/octet-stream"
	metadataFetchTimeField  = "fetchTimeMs"
	crlf                    = "\r\n"
)

// Request describes what was fetched.
type Request struct {
	URL  *url.URL
	Date time.Time
}

// Response carries the fetched payload.
type Response struct {
	Body        []byte
	PayloadType string
}

// Metadata carries fetch bookkeeping.
type Metadata struct {
	FetchTimeMS uint64
}

// Record is one archived page: a request, its response and fetch metadata.
// On disk it becomes three WARC records; the response becomes a revisit
// when its payload already appears earlier in the same archive.
type Record struct {
	Request  Request
	Response Response
	Metadata Metadata
}

// FromDatum converts a crawled page into an archive record.
func FromDatum(d domain.CrawlDatum) Record {
	return Record{
		Request:  Request{URL: d.URL, Date: d.Date},
		Response: Response{Body: d.Body, PayloadType: d.PayloadType},
		Metadata: Metadata{FetchTimeMS: d.FetchTimeMS},
	}
}

// validate reports why rec cannot be written as WARC headers.
func (rec Record) validate() error {
	if rec.Request.URL == nil || !rec.Request.URL.IsAbs() || rec.Request.URL.Host == "" {
		return fmt.Errorf("%w: target uri must be absolute", ErrEncode)
	}
	if hasControl(rec.Request.URL.String()) {
		return fmt.Errorf("%w: target uri contains control characters", ErrEncode)
	}
	if rec.Request.Date.IsZero() {
		return fmt.Errorf("%w: missing fetch date", ErrEncode)
	}
	if hasControl(rec.Response.PayloadType) {
		return fmt.Errorf("%w: payload type contains control characters", ErrEncode)
	}
	return nil
}

func (rec Record) payloadType() string {
	if rec.Response.PayloadType == "" {
		return defaultPayloadType
	}
	return rec.Response.PayloadType
}

func hasControl(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

type field struct {
	name  string
	value string
}

// writeWARCRecord appends one serialized WARC record to buf.
func writeWARCRecord(buf *bytes.Buffer, fields []field, block []byte) {
	buf.WriteString(Version)
	buf.WriteString(crlf)
	for _, f := range fields {
		buf.WriteString(f.name)
		buf.WriteString(": ")
		buf.WriteString(f.value)
		buf.WriteString(crlf)
	}
	buf.WriteString(HeaderContentLength)
	buf.WriteString(": ")
	buf.WriteString(strconv.Itoa(len(block)))
	buf.WriteString(crlf)
	buf.WriteString(crlf)
	buf.Write(block)
	buf.WriteString(crlf)
	buf.WriteString(crlf)
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func recordIDHeader(id string) string {
	return "<urn:uuid:" + id + ">"
}

func requestBlock(u *url.URL) []byte {
	var b bytes.Buffer
	b.WriteString("GET ")
	b.WriteString(u.RequestURI())
	b.WriteString(" HTTP/1.1")
	b.WriteString(crlf)
	b.WriteString("Host: ")
	b.WriteString(u.Host)
	b.WriteString(crlf)
	b.WriteString(crlf)
	return b.Bytes()
}

func metadataBlock(m Metadata) []byte {
	return []byte(metadataFetchTimeField + ": " + strconv.FormatUint(m.FetchTimeMS, 10) + crlf)
}

// encodeFull writes the request, response and metadata records of rec.
func encodeFull(buf *bytes.Buffer, rec Record, digest Digest, ids recordIDs) {
	target := rec.Request.URL.String()
	date := formatDate(rec.Request.Date)

	writeWARCRecord(buf, []field{
		{HeaderType, TypeRequest},
		{HeaderRecordID, recordIDHeader(ids.request)},
		{HeaderDate, date},
		{HeaderTargetURI, target},
		{HeaderConcurrentTo, recordIDHeader(ids.response)},
		{HeaderContentType, contentTypeHTTPRequest},
	}, requestBlock(rec.Request.URL))

	writeWARCRecord(buf, []field{
		{HeaderType, TypeResponse},
		{HeaderRecordID, recordIDHeader(ids.response)},
		{HeaderDate, date},
		{HeaderTargetURI, target},
		{HeaderPayloadDigest, digest.String()},
		{HeaderBlockDigest, digest.String()},
		{HeaderContentType, rec.payloadType()},
	}, rec.Response.Body)

	writeMetadata(buf, rec, ids)
}

// encodeRevisit writes the request, revisit and metadata records of rec.
// The revisit refers to the original response and carries no payload.
func encodeRevisit(buf *bytes.Buffer, rec Record, digest Digest, original IndexEntry, ids recordIDs) {
	target := rec.Request.URL.String()
	date := formatDate(rec.Request.Date)

	writeWARCRecord(buf, []field{
		{HeaderType, TypeRequest},
		{HeaderRecordID, recordIDHeader(ids.request)},
		{HeaderDate, date},
		{HeaderTargetURI, target},
		{HeaderConcurrentTo, recordIDHeader(ids.response)},
		{HeaderContentType, contentTypeHTTPRequest},
	}, requestBlock(rec.Request.URL))

	writeWARCRecord(buf, []field{
		{HeaderType, TypeRevisit},
		{HeaderRecordID, recordIDHeader(ids.response)},
		{HeaderDate, date},
		{HeaderTargetURI, target},
		{HeaderProfile, RevisitProfileIdentical},
		{HeaderRefersTo, recordIDHeader(original.RecordID)},
		{HeaderRefersToTargetURI, original.TargetURI},
		{HeaderRefersToDate, formatDate(original.Date)},
		{HeaderPayloadDigest, digest.String()},
		{HeaderIdentifiedPayload, rec.payloadType()},
	}, nil)

	writeMetadata(buf, rec, ids)
}

func writeMetadata(buf *bytes.Buffer, rec Record, ids recordIDs) {
	writeWARCRecord(buf, []field{
		{HeaderType, TypeMetadata},
		{HeaderRecordID, recordIDHeader(ids.metadata)},
		{HeaderDate, formatDate(rec.Request.Date)},
		{HeaderTargetURI, rec.Request.URL.String()},
		{HeaderConcurrentTo, recordIDHeader(ids.response)},
		{HeaderContentType, contentTypeWARCFields},
	}, metadataBlock(rec.Metadata))
}

type recordIDs struct {
	request  string
	response string
	metadata string
}
