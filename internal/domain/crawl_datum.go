// Package domain holds the value types exchanged between the fetch layer and the archiver.
package domain

import (
	"errors"
	"net/url"
	"time"
)

var (
	// ErrMissingURL is returned when a datum carries no absolute URL.
	ErrMissingURL = errors.New("crawl datum: url must be absolute")
	// ErrMissingDate is returned when a datum carries a zero fetch date.
	ErrMissingDate = errors.New("crawl datum: date is required")
)

// CrawlDatum is one fetched page as produced by the fetch layer.
// The archiver takes ownership of Body once the datum is written to a sink.
type CrawlDatum struct {
	// URL is the fetched page URL.
	URL *url.URL
	// Date is when the page was fetched.
	Date time.Time
	// Body is the raw response body.
	Body []byte
	// PayloadType is the declared MIME type of Body.
	PayloadType string
	// FetchTimeMS is how long the fetch took, in milliseconds.
	FetchTimeMS uint64
}

// NewCrawlDatum parses rawURL and builds a datum fetched at date.
func NewCrawlDatum(rawURL string, date time.Time, body []byte, payloadType string, fetchTime time.Duration) (CrawlDatum, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return CrawlDatum{}, err
	}

	d := CrawlDatum{
		URL:         u,
		Date:        date,
		Body:        body,
		PayloadType: payloadType,
		FetchTimeMS: FetchTimeMillis(fetchTime),
	}
	if validateErr := d.Validate(); validateErr != nil {
		return CrawlDatum{}, validateErr
	}
	return d, nil
}

// FetchTimeMillis converts a fetch duration to whole milliseconds, clamping
// negative durations to zero.
func FetchTimeMillis(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d.Milliseconds())
}

// Validate checks the upstream contract: an absolute URL and a fetch date.
func (d CrawlDatum) Validate() error {
	if d.URL == nil || d.URL.Scheme == "" || d.URL.Host == "" {
		return ErrMissingURL
	}
	if d.Date.IsZero() {
		return ErrMissingDate
	}
	return nil
}
