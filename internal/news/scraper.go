package news

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"ibkr-copilot/internal/logger"
	"ibkr-copilot/internal/types"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxSummaryLen    = 280
)

// Scraper reads RSS and Atom feeds
type Scraper struct {
	timeout   time.Duration
	userAgent string
}

// NewScraper creates a feed scraper
func NewScraper(timeout time.Duration) *Scraper {
	return &Scraper{
		timeout:   timeout,
		userAgent: defaultUserAgent,
	}
}

// Fetch returns at most limit headlines from the feed at feedURL, in feed order.
func (s *Scraper) Fetch(ctx context.Context, source, feedURL string, limit int) ([]types.Headline, error) {
	headlines := []types.Headline{}

	c := colly.NewCollector(
		colly.MaxDepth(1),
		colly.Async(false),
	)
	c.SetRequestTimeout(s.timeout)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", s.userAgent)
		r.Headers.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")
	})

	// RSS 2.0
	c.OnXML("//item", func(e *colly.XMLElement) {
		if len(headlines) >= limit {
			return
		}
		h := types.Headline{
			Title:       strings.TrimSpace(e.ChildText("title")),
			Link:        strings.TrimSpace(e.ChildText("link")),
			Summary:     cleanSummary(e.ChildText("description")),
			PublishedAt: normalizeDate(e.ChildText("pubDate")),
			Source:      source,
		}
		if h.Title != "" {
			headlines = append(headlines, h)
		}
	})

	// Atom
	c.OnXML("//entry", func(e *colly.XMLElement) {
		if len(headlines) >= limit {
			return
		}
		h := types.Headline{
			Title:       strings.TrimSpace(e.ChildText("title")),
			Link:        strings.TrimSpace(e.ChildAttr("link", "href")),
			Summary:     cleanSummary(e.ChildText("summary")),
			PublishedAt: normalizeDate(e.ChildText("updated")),
			Source:      source,
		}
		if h.Title != "" {
			headlines = append(headlines, h)
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		logger.ErrorWithErr(ctx, "Feed fetch error", err, "source", source, "status", r.StatusCode)
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.Visit(feedURL); err != nil {
		return nil, fmt.Errorf("failed to fetch feed %s: %w", source, err)
	}
	c.Wait()

	logger.Debug(ctx, "Feed fetched", "source", source, "headlines", len(headlines))
	return headlines, nil
}

// cleanSummary strips markup from a feed description and shortens it.
func cleanSummary(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	text := raw
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw)); err == nil {
		text = doc.Text()
	}
	text = strings.Join(strings.Fields(text), " ")

	if r := []rune(text); len(r) > maxSummaryLen {
		text = strings.TrimSpace(string(r[:maxSummaryLen])) + "..."
	}
	return text
}

var feedDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
}

// normalizeDate renders a feed timestamp as RFC 3339 in UTC, or returns the
// input unchanged when it matches no known layout.
func normalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, layout := range feedDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return raw
}
