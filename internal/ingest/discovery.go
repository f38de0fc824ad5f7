package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/david/opportunity-scout/internal/classify"
	"github.com/david/opportunity-scout/internal/models"
)

// DefaultPerDomainCap limits how many discovered URLs share one
// registrable domain.
const DefaultPerDomainCap = 3

// SourceDiscoverer returns candidate source URLs for a profile.
type SourceDiscoverer interface {
	Discover(ctx context.Context, profile AgentProfile, limit int) ([]string, error)
}

// SearchEngine returns raw result links for one query. Links may still be
// wrapped in the engine's redirect URL.
type SearchEngine interface {
	Name() string
	Search(ctx context.Context, query string) ([]string, error)
}

// WebDiscoverer runs every engine for every query in order, keeping links
// that point at non-blocked hosts and carry an opportunity keyword.
type WebDiscoverer struct {
	Engines          []SearchEngine
	ExtraAggregators []string
	PerDomainCap     int
	Limiter          *RateLimiter
}

// NewWebDiscoverer wires the default HTML and RSS engines.
func NewWebDiscoverer(extraAggregators []string) *WebDiscoverer {
	return &WebDiscoverer{
		Engines: []SearchEngine{
			NewDuckDuckGoEngine(),
			NewBingRSSEngine(),
			NewBingNewsRSSEngine(),
		},
		ExtraAggregators: extraAggregators,
		PerDomainCap:     DefaultPerDomainCap,
		Limiter:          NewRateLimiter(1, 1500*time.Millisecond),
	}
}

// Discover never fails because one engine or query failed; those errors are
// logged. It returns an error only when the context is done before any URL
// was found.
func (d *WebDiscoverer) Discover(ctx context.Context, profile AgentProfile, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}
	perDomain := d.PerDomainCap
	if perDomain <= 0 {
		perDomain = DefaultPerDomainCap
	}

	out := make([]string, 0, limit)
	seen := map[string]bool{}
	domains := map[string]int{}

	for _, query := range profile.Queries {
		query = strings.TrimSpace(query)
		if query == "" {
			continue
		}
		for _, engine := range d.Engines {
			if err := ctx.Err(); err != nil {
				if len(out) == 0 {
					return nil, err
				}
				return out, nil
			}
			if d.Limiter != nil {
				if err := d.Limiter.Wait(ctx); err != nil {
					return out, nil
				}
			}

			links, err := engine.Search(ctx, query)
			if err != nil {
				log.Printf("[discovery] %s failed for %q: %v", engine.Name(), query, err)
				continue
			}

			for _, link := range links {
				u, ok := d.accept(link)
				if !ok {
					continue
				}
				key := models.NormalizeSourceURL(u.String())
				if seen[key] {
					continue
				}
				domain := classify.RegistrableDomain(u.Hostname())
				if domains[domain] >= perDomain {
					continue
				}
				seen[key] = true
				domains[domain]++
				out = append(out, CanonicalizeURL(u.String()))
				if len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

func (d *WebDiscoverer) accept(link string) (*url.URL, bool) {
	resolved := ResolveResultURL(link)
	u, err := url.Parse(resolved)
	if err != nil || u.Host == "" {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	if classify.IsBlockedHost(u.Hostname(), d.ExtraAggregators...) {
		return nil, false
	}
	if !classify.HasOpportunityKeyword(u) {
		return nil, false
	}
	return u, true
}

// ResolveResultURL unwraps search-engine redirect links: DuckDuckGo's
// uddg parameter, Bing's base64 "u=a1..." click-through and url parameter,
// and Google's q/url parameters. Other links are returned unchanged.
func ResolveResultURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	q := u.Query()

	switch {
	case strings.HasSuffix(host, "duckduckgo.com") && strings.HasPrefix(u.Path, "/l"):
		if target := q.Get("uddg"); target != "" {
			return target
		}
	case strings.HasSuffix(host, "bing.com"):
		if enc := q.Get("u"); strings.HasPrefix(enc, "a1") {
			if decoded, ok := decodeBingTarget(enc[2:]); ok {
				return decoded
			}
		}
		if target := q.Get("url"); target != "" {
			return target
		}
	case strings.HasPrefix(host, "google.") && u.Path == "/url":
		for _, key := range []string{"q", "url"} {
			if target := q.Get(key); strings.HasPrefix(target, "http") {
				return target
			}
		}
	}
	return raw
}

func decodeBingTarget(enc string) (string, bool) {
	for _, enc64 := range []*base64.Encoding{base64.RawURLEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.StdEncoding} {
		b, err := enc64.DecodeString(enc)
		if err == nil && bytes.HasPrefix(b, []byte("http")) {
			return string(b), true
		}
	}
	return "", false
}

// DuckDuckGoEngine scrapes the HTML-only results page with colly.
type DuckDuckGoEngine struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

func NewDuckDuckGoEngine() *DuckDuckGoEngine {
	return &DuckDuckGoEngine{
		BaseURL:   "https://html.duckduckgo.com/html/",
		UserAgent: desktopUserAgent,
		Timeout:   20 * time.Second,
	}
}

func (e *DuckDuckGoEngine) Name() string { return "duckduckgo" }

func (e *DuckDuckGoEngine) Search(ctx context.Context, query string) ([]string, error) {
	c := colly.NewCollector(
		colly.UserAgent(e.UserAgent),
		colly.StdlibContext(ctx),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(e.Timeout)

	var links []string
	c.OnHTML("a.result__a, a.result__url", func(h *colly.HTMLElement) {
		if href := strings.TrimSpace(h.Attr("href")); href != "" {
			links = append(links, h.Request.AbsoluteURL(href))
		}
	})

	target := e.BaseURL + "?q=" + url.QueryEscape(query)
	if err := c.Visit(target); err != nil {
		return nil, fmt.Errorf("visit %s: %w", e.Name(), err)
	}
	return links, nil
}

// RSSEngine reads a search surface that answers with an RSS or Atom feed.
type RSSEngine struct {
	EngineName string
	// URLTemplate holds one %s for the escaped query.
	URLTemplate string
	HTTPClient  *http.Client
	UserAgent   string
}

func NewBingRSSEngine() *RSSEngine {
	return &RSSEngine{
		EngineName:  "bing-rss",
		URLTemplate: "https://www.bing.com/search?format=rss&q=%s",
		HTTPClient:  &http.Client{Timeout: 20 * time.Second},
		UserAgent:   desktopUserAgent,
	}
}

func NewBingNewsRSSEngine() *RSSEngine {
	return &RSSEngine{
		EngineName:  "bing-news-rss",
		URLTemplate: "https://www.bing.com/news/search?format=rss&q=%s",
		HTTPClient:  &http.Client{Timeout: 20 * time.Second},
		UserAgent:   desktopUserAgent,
	}
}

func (e *RSSEngine) Name() string { return e.EngineName }

func (e *RSSEngine) Search(ctx context.Context, query string) ([]string, error) {
	target := fmt.Sprintf(e.URLTemplate, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", e.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.5")

	client := e.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", e.EngineName, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}
	return ParseFeedLinks(body)
}

type rssRoot struct {
	Channel struct {
		Items []struct {
			Link string `xml:"link"`
			GUID string `xml:"guid"`
		} `xml:"item"`
	} `xml:"channel"`
}

type atomRoot struct {
	Entries []struct {
		Links []struct {
			Href string `xml:"href,attr"`
			Rel  string `xml:"rel,attr"`
		} `xml:"link"`
	} `xml:"entry"`
}

// ParseFeedLinks returns the item links of an RSS 2.0 or Atom document.
func ParseFeedLinks(data []byte) ([]string, error) {
	root, err := feedRootElement(data)
	if err != nil {
		return nil, err
	}

	var links []string
	switch root {
	case "rss":
		var doc rssRoot
		if err := xml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("feed: %w", err)
		}
		for _, item := range doc.Channel.Items {
			link := strings.TrimSpace(item.Link)
			if link == "" && strings.HasPrefix(strings.TrimSpace(item.GUID), "http") {
				link = strings.TrimSpace(item.GUID)
			}
			if link != "" {
				links = append(links, link)
			}
		}
	case "feed":
		var doc atomRoot
		if err := xml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("feed: %w", err)
		}
		for _, entry := range doc.Entries {
			for _, l := range entry.Links {
				if l.Rel == "" || l.Rel == "alternate" {
					links = append(links, strings.TrimSpace(l.Href))
					break
				}
			}
		}
	default:
		return nil, fmt.Errorf("feed: unknown root element %q", root)
	}
	return links, nil
}

func feedRootElement(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("feed: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return strings.ToLower(se.Name.Local), nil
		}
	}
}

// RateLimiter is a small token bucket used to pace search requests. One
// limiter is shared by every scan invocation, so the bucket is guarded.
type RateLimiter struct {
	mu          sync.Mutex
	requests    int
	perDuration time.Duration
	tokens      int
	lastRefill  time.Time
}

func NewRateLimiter(requests int, per time.Duration) *RateLimiter {
	if requests <= 0 {
		requests = 1
	}
	return &RateLimiter{
		requests:    requests,
		perDuration: per,
		tokens:      requests,
		lastRefill:  time.Now(),
	}
}

// Wait blocks until a request may be made or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait := r.reserve()
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve takes a token and returns zero, or returns how long until the
// next refill.
func (r *RateLimiter) reserve() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastRefill)
	if elapsed >= r.perDuration {
		r.tokens = r.requests
		r.lastRefill = now
		elapsed = 0
	}
	if r.tokens > 0 {
		r.tokens--
		return 0
	}
	return r.perDuration - elapsed
}
