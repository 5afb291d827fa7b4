package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/jonesrussell/north-cloud/warc-archiver/internal/domain"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/logger"
)

// maxLineBytes bounds a single input line; bodies arrive base64 encoded.
const maxLineBytes = 64 << 20

// errLineTooLong is returned for a line longer than maxLineBytes.
var errLineTooLong = errors.New("line exceeds maximum length")

// line is one crawled page in the newline-delimited JSON input.
type line struct {
	URL         string    `json:"url"`
	Date        time.Time `json:"date"`
	Body        []byte    `json:"body"`
	PayloadType string    `json:"payload_type"`
	FetchTimeMS uint64    `json:"fetch_time_ms"`
}

// ParseLine decodes one input line into a crawl datum.
func ParseLine(raw []byte) (domain.CrawlDatum, error) {
	var l line
	if err := json.Unmarshal(raw, &l); err != nil {
		return domain.CrawlDatum{}, fmt.Errorf("decode line: %w", err)
	}

	u, err := url.Parse(l.URL)
	if err != nil {
		return domain.CrawlDatum{}, fmt.Errorf("parse url: %w", err)
	}

	d := domain.CrawlDatum{
		URL:         u,
		Date:        l.Date,
		Body:        l.Body,
		PayloadType: l.PayloadType,
		FetchTimeMS: l.FetchTimeMS,
	}
	if err = d.Validate(); err != nil {
		return domain.CrawlDatum{}, err
	}
	return d, nil
}

// Writer accepts crawl data; *archive.Sink satisfies it.
type Writer interface {
	Write(ctx context.Context, datum domain.CrawlDatum) error
}

// FeedResult counts what Feed did with its input.
type FeedResult struct {
	Written int
	Skipped int
}

// Feed reads newline-delimited JSON from r and writes every valid line to w.
// Invalid lines are logged and skipped; blank lines are ignored.
func Feed(ctx context.Context, r io.Reader, w Writer, log logger.Logger) (FeedResult, error) {
	var res FeedResult
	br := bufio.NewReaderSize(r, 1<<20)

	for lineNo := 1; ; lineNo++ {
		raw, readErr := readLine(br)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return res, fmt.Errorf("line %d: %w", lineNo, readErr)
		}

		if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
			d, err := ParseLine(trimmed)
			if err != nil {
				res.Skipped++
				log.Warn("Skipping invalid input line", logger.Int("line", lineNo), logger.Error(err))
			} else {
				if err = w.Write(ctx, d); err != nil {
					return res, fmt.Errorf("line %d: %w", lineNo, err)
				}
				res.Written++
			}
		}

		if errors.Is(readErr, io.EOF) {
			return res, nil
		}
	}
}

func readLine(br *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := br.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > maxLineBytes {
			return nil, errLineTooLong
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return buf, err
	}
}
