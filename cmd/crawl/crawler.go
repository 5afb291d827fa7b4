package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/domain"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/logger"
)

const (
	defaultMaxDepth    = 1
	defaultParallelism = 2
	defaultUserAgent   = "warc-archiver/1.0"

	startedAtKey = "started_at"
)

// Writer accepts crawled pages; *archive.Sink satisfies it.
type Writer interface {
	Write(ctx context.Context, datum domain.CrawlDatum) error
}

// Options configures a crawl.
type Options struct {
	MaxDepth       int
	Parallelism    int
	Delay          time.Duration
	UserAgent      string
	AllowedDomains []string
	RespectRobots  bool
}

func (o *Options) setDefaults() {
	if o.MaxDepth <= 0 {
		o.MaxDepth = defaultMaxDepth
	}
	if o.Parallelism <= 0 {
		o.Parallelism = defaultParallelism
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
}

// Result counts what a crawl did.
type Result struct {
	Archived int64
	Failed   int64
}

// Crawler fetches pages with colly and hands every response to a Writer.
type Crawler struct {
	opts   Options
	writer Writer
	logger logger.Logger

	archived atomic.Int64
	failed   atomic.Int64
}

// NewCrawler creates a crawler writing to w.
func NewCrawler(opts Options, w Writer, log logger.Logger) *Crawler {
	opts.setDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Crawler{opts: opts, writer: w, logger: log}
}

// Run crawls from seeds until the frontier is exhausted or ctx is cancelled.
func (c *Crawler) Run(ctx context.Context, seeds []string) (Result, error) {
	if len(seeds) == 0 {
		return Result{}, errors.New("at least one seed url is required")
	}

	c.archived.Store(0)
	c.failed.Store(0)

	allowed := c.opts.AllowedDomains
	if len(allowed) == 0 {
		for _, seed := range seeds {
			u, err := url.Parse(seed)
			if err != nil || u.Host == "" {
				return Result{}, fmt.Errorf("invalid seed url %q", seed)
			}
			allowed = append(allowed, u.Hostname())
		}
	}

	opts := []colly.CollectorOption{
		colly.StdlibContext(ctx),
		colly.MaxDepth(c.opts.MaxDepth),
		colly.Async(true),
		colly.UserAgent(c.opts.UserAgent),
		colly.AllowedDomains(allowed...),
		colly.ParseHTTPErrorResponse(),
	}
	collector := colly.NewCollector(opts...)
	collector.IgnoreRobotsTxt = !c.opts.RespectRobots

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: c.opts.Parallelism,
		Delay:       c.opts.Delay,
	}); err != nil {
		return Result{}, fmt.Errorf("set rate limit: %w", err)
	}

	collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(startedAtKey, time.Now())
	})
	collector.OnResponse(c.responseCallback(ctx))
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		if err := e.Request.Visit(link); err != nil {
			c.logger.Debug("Skipping link", logger.URL(link), logger.Error(err))
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		c.failed.Add(1)
		c.logger.Warn("Fetch failed",
			logger.URL(r.Request.URL.String()),
			logger.Int("status", r.StatusCode),
			logger.Error(err),
		)
	})

	for _, seed := range seeds {
		if err := collector.Visit(seed); err != nil {
			c.logger.Warn("Failed to visit seed", logger.URL(seed), logger.Error(err))
		}
	}
	collector.Wait()

	res := Result{Archived: c.archived.Load(), Failed: c.failed.Load()}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// responseCallback turns each fetched page into a crawl datum.
func (c *Crawler) responseCallback(ctx context.Context) func(*colly.Response) {
	return func(r *colly.Response) {
		var fetchTime time.Duration
		if started, ok := r.Ctx.GetAny(startedAtKey).(time.Time); ok {
			fetchTime = time.Since(started)
		}

		payloadType := strings.TrimSpace(r.Headers.Get("Content-Type"))
		d := domain.CrawlDatum{
			URL:         r.Request.URL,
			Date:        time.Now().UTC(),
			Body:        r.Body,
			PayloadType: payloadType,
			FetchTimeMS: domain.FetchTimeMillis(fetchTime),
		}

		if err := c.writer.Write(ctx, d); err != nil {
			c.failed.Add(1)
			c.logger.Error("Failed to hand page to archive", logger.URL(d.URL.String()), logger.Error(err))
			return
		}
		c.archived.Add(1)
	}
}
