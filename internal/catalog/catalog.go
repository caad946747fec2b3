// Package catalog looks up track metadata by id.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly"

	"github.com/jaki95/tunecache/internal/domain"
)

var (
	ErrNotFound    = errors.New("track metadata not found")
	ErrUnavailable = errors.New("catalog unavailable")
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type Catalog interface {
	Metadata(ctx context.Context, id string) (domain.Metadata, error)
}

type Options struct {
	UserAgent string
	Timeout   time.Duration
}

// PageCatalog scrapes the public watch page of a track.
type PageCatalog struct {
	watchURL  string
	userAgent string
	timeout   time.Duration
}

func NewPageCatalog(watchURL string, opts Options) *PageCatalog {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &PageCatalog{
		watchURL:  watchURL,
		userAgent: opts.UserAgent,
		timeout:   opts.Timeout,
	}
}

func (p *PageCatalog) pageURL(id string) (string, error) {
	u, err := url.Parse(p.watchURL)
	if err != nil {
		return "", fmt.Errorf("invalid watch url: %w", err)
	}
	q := u.Query()
	q.Set("v", id)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Metadata fetches and parses the watch page for id. The collector has no
// context support, so ctx is only checked before the request.
func (p *PageCatalog) Metadata(ctx context.Context, id string) (domain.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return domain.Metadata{}, err
	}
	pageURL, err := p.pageURL(id)
	if err != nil {
		return domain.Metadata{}, err
	}

	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.MaxDepth(1),
		colly.UserAgent(p.userAgent),
	)
	c.SetRequestTimeout(p.timeout)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.5")
	})

	var meta domain.Metadata
	var durationRaw string
	c.OnHTML("html", func(e *colly.HTMLElement) {
		meta, durationRaw = parsePage(e.DOM)
	})

	var status int
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	slog.Debug("Fetching track metadata", "id", id, "url", pageURL)

	if err := c.Visit(pageURL); err != nil {
		if status == http.StatusNotFound {
			return domain.Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return domain.Metadata{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if meta.Title == "" || durationRaw == "" {
		return domain.Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	length, err := parseDuration(durationRaw)
	if err != nil {
		return domain.Metadata{}, fmt.Errorf("%w: %s: %v", ErrNotFound, id, err)
	}
	meta.Length = length
	return meta, nil
}

func parsePage(doc *goquery.Selection) (domain.Metadata, string) {
	attr := func(selector string) string {
		return strings.TrimSpace(doc.Find(selector).First().AttrOr("content", ""))
	}

	var authors []string
	doc.Find("[itemprop='author'] link[itemprop='name']").Each(func(_ int, s *goquery.Selection) {
		if name := strings.TrimSpace(s.AttrOr("content", "")); name != "" {
			authors = append(authors, name)
		}
	})

	meta := domain.Metadata{
		Title:     attr("meta[property='og:title']"),
		Authors:   strings.Join(authors, ", "),
		Thumbnail: BumpThumbnail(attr("meta[property='og:image']")),
	}
	return meta, attr("meta[itemprop='duration']")
}

var durationPattern = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// parseDuration converts an ISO-8601 duration such as PT3M20S to seconds.
func parseDuration(s string) (int, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil || s == "PT" {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	total := 0
	for i, mult := range []int{3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		total += n * mult
	}
	return total, nil
}

var thumbnailSize = regexp.MustCompile(`w120-h120(-l\d+-rj)$`)

// BumpThumbnail asks for the 544px rendition of a 120px music thumbnail.
// Other URLs are returned unchanged.
func BumpThumbnail(u string) string {
	return thumbnailSize.ReplaceAllString(u, "w544-h544${1}")
}
