package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// ScrapedPage holds the raw result of fetching one article page.
type ScrapedPage struct {
	Title   string
	RawHTML string
}

// PageScraper fetches article and listing pages with polite rate limiting.
// Aggregators use it for the per-article page loads of website sources,
// where many pages of the same site are visited in one run.
type PageScraper struct {
	userAgent string
}

// NewPageScraper creates a PageScraper sending the given User-Agent.
func NewPageScraper(userAgent string) *PageScraper {
	return &PageScraper{userAgent: userAgent}
}

// newCollector creates a fresh collector per call to avoid state leakage.
func (s *PageScraper) newCollector() *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(s.userAgent),
		colly.AllowURLRevisit(),
		colly.MaxDepth(1),
	)

	// 1 request per second per domain, at most 2 in flight.
	_ = c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 2,
		Delay:       1 * time.Second,
		RandomDelay: 500 * time.Millisecond,
	})

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "de-DE,de;q=0.9,en-US;q=0.8,en;q=0.7")
	})

	return c
}

// Page fetches a single article page and returns its raw HTML. A 4xx from
// the site comes back as a SkipError so the caller drops the article.
func (s *PageScraper) Page(ctx context.Context, pageURL string) (*ScrapedPage, error) {
	c := s.newCollector()

	var (
		result ScrapedPage
		mu     sync.Mutex
		scrErr error
	)

	c.OnResponse(func(r *colly.Response) {
		mu.Lock()
		result.RawHTML = string(r.Body)
		mu.Unlock()
	})

	c.OnHTML("title", func(e *colly.HTMLElement) {
		mu.Lock()
		if result.Title == "" {
			result.Title = strings.TrimSpace(e.Text)
		}
		mu.Unlock()
	})

	c.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		if r != nil && r.StatusCode >= 400 && r.StatusCode < 500 {
			scrErr = &SkipError{StatusCode: r.StatusCode, URL: pageURL}
		} else {
			scrErr = fmt.Errorf("scrape %s: %w", pageURL, err)
		}
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.Visit(pageURL); err != nil {
			mu.Lock()
			if scrErr == nil {
				scrErr = fmt.Errorf("scrape visit %s: %w", pageURL, err)
			}
			mu.Unlock()
		}
		c.Wait()
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}

	if scrErr != nil {
		return nil, scrErr
	}
	return &result, nil
}

// Links fetches a listing page and returns the deduplicated absolute URLs of
// all elements matching the selector.
func (s *PageScraper) Links(ctx context.Context, listURL, linkSelector string) ([]string, error) {
	c := s.newCollector()

	base, err := url.Parse(listURL)
	if err != nil {
		return nil, fmt.Errorf("scrape: parse list URL: %w", err)
	}

	var (
		links  []string
		mu     sync.Mutex
		scrErr error
	)

	c.OnHTML(linkSelector, func(e *colly.HTMLElement) {
		href := strings.TrimSpace(e.Attr("href"))
		if href == "" {
			return
		}
		parsed, err := url.Parse(href)
		if err != nil {
			return
		}
		absolute := base.ResolveReference(parsed).String()

		mu.Lock()
		links = append(links, absolute)
		mu.Unlock()
	})

	c.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		scrErr = fmt.Errorf("scrape links %s: %w", listURL, err)
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.Visit(listURL); err != nil {
			mu.Lock()
			if scrErr == nil {
				scrErr = fmt.Errorf("scrape visit %s: %w", listURL, err)
			}
			mu.Unlock()
		}
		c.Wait()
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}

	if scrErr != nil {
		return nil, scrErr
	}

	seen := make(map[string]bool, len(links))
	unique := make([]string, 0, len(links))
	for _, l := range links {
		if !seen[l] {
			seen[l] = true
			unique = append(unique, l)
		}
	}
	return unique, nil
}
