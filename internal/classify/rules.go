// Package classify holds the declarative rule tables used across the pipeline:
// category synonyms, aggregator hints, blocked discovery hosts and
// opportunity keywords. Every table is consumed by exactly one function here.
package classify

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/david/opportunity-scout/internal/models"
)

// CategoryRule maps a free-text category pattern onto an enumerated category.
type CategoryRule struct {
	Pattern  *regexp.Regexp
	Category models.Category
}

// CategoryRules is evaluated in order; the first match wins.
var CategoryRules = []CategoryRule{
	{regexp.MustCompile(`(?i)scholar|bursar|tuition|studentship|phd position|masters? funding`), models.CategoryScholarship},
	{regexp.MustCompile(`(?i)fellow|residenc|visiting researcher|postdoc`), models.CategoryFellowship},
	{regexp.MustCompile(`(?i)\bintern(ship)?s?\b|\bjobs?\b|career|employ|vacanc|\bposition|hiring|trainee`), models.CategoryJob},
	{regexp.MustCompile(`(?i)compet|challenge|prize|award|contest|hackathon|pitch`), models.CategoryCompetition},
	{regexp.MustCompile(`(?i)grant|fund|research|call for proposals|cfp|seed|subsid`), models.CategoryGrant},
	{regexp.MustCompile(`(?i)accelerat|incubat|bootcamp|training|programme|program|course|mentorship`), models.CategoryProgram},
}

// AggregatorHints are host substrings of sites that only repost listings.
var AggregatorHints = []string{
	"opportunitydesk",
	"opportunitiesforafricans",
	"opportunitiesforyouth",
	"youthop",
	"scholarshipsads",
	"scholars4dev",
	"afterschoolafrica",
	"scholarship-positions",
	"fundsforngos",
	"grantwatch",
	"opportunitiescorners",
	"mladiinfo",
	"devex.com/funding",
	"globalsouthopportunities",
	"profellow",
	"wemakescholars",
	"scholarshipportal",
}

// BlockedHosts never count as discovered sources: search engines,
// social networks, link shorteners and the like.
var BlockedHosts = []string{
	"google.",
	"bing.com",
	"duckduckgo.com",
	"yahoo.com",
	"yandex.",
	"baidu.com",
	"facebook.com",
	"instagram.com",
	"twitter.com",
	"x.com",
	"linkedin.com",
	"youtube.com",
	"tiktok.com",
	"reddit.com",
	"pinterest.",
	"medium.com",
	"wikipedia.org",
	"t.co",
	"bit.ly",
}

// OpportunityKeywords mark a URL path or query as likely to describe a listing.
var OpportunityKeywords = []string{
	"grant",
	"fellowship",
	"scholarship",
	"call-for-proposals",
	"call-for-applications",
	"callforproposals",
	"calls",
	"apply",
	"application",
	"funding",
	"fund",
	"challenge",
	"programme",
	"program",
	"prize",
	"award",
	"competition",
	"accelerator",
	"opportunit",
	"residency",
	"internship",
}

// NormalizeCategory maps free-text such as "internship" or "research"
// onto the enumerated category set. Unknown input maps to CategoryOther.
func NormalizeCategory(raw string) models.Category {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.CategoryOther
	}
	if c := models.Category(strings.ToLower(raw)); c.Valid() {
		return c
	}
	for _, rule := range CategoryRules {
		if rule.Pattern.MatchString(raw) {
			return rule.Category
		}
	}
	return models.CategoryOther
}

// IsAggregator reports whether rawURL belongs to a known aggregator. The hint
// is matched against the full host, the registrable domain and host+path so
// that path-scoped hints like "devex.com/funding" work.
func IsAggregator(rawURL string, extra ...string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	hostPath := host + strings.ToLower(u.EscapedPath())
	domain := RegistrableDomain(host)

	hints := AggregatorHints
	if len(extra) > 0 {
		hints = append(append([]string{}, AggregatorHints...), extra...)
	}
	for _, hint := range hints {
		hint = strings.ToLower(strings.TrimSpace(hint))
		if hint == "" {
			continue
		}
		if strings.Contains(hostPath, hint) || strings.Contains(domain, hint) {
			return true
		}
	}
	return false
}

// IsBlockedHost reports whether host is a search engine, social network or
// aggregator that discovery must skip.
func IsBlockedHost(host string, extraAggregators ...string) bool {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	if host == "" {
		return true
	}
	for _, b := range BlockedHosts {
		if strings.HasSuffix(b, ".") {
			if strings.HasPrefix(host, b) || strings.Contains(host, "."+b) {
				return true
			}
			continue
		}
		if host == b || strings.HasSuffix(host, "."+b) {
			return true
		}
	}
	return IsAggregator("https://"+host+"/", extraAggregators...)
}

// HasOpportunityKeyword reports whether the path or query of u contains at
// least one opportunity-indicative keyword.
func HasOpportunityKeyword(u *url.URL) bool {
	if u == nil {
		return false
	}
	haystack := strings.ToLower(u.EscapedPath() + "?" + u.RawQuery)
	if unescaped, err := url.PathUnescape(haystack); err == nil {
		haystack = unescaped
	}
	for _, kw := range OpportunityKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// RegistrableDomain returns the eTLD+1 of host, or host itself when the
// public suffix list cannot decide (IP addresses, single labels).
func RegistrableDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}
