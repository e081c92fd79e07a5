package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DiscoverLinks collects outbound anchors resolved against the base URL.
// Anchors styled display:none are skipped, fragments are stripped, and
// duplicates are removed preserving document order.
func DiscoverLinks(doc *goquery.Document, base *url.URL, maxLinks int) []string {
	if doc == nil || base == nil {
		return nil
	}
	if maxLinks <= 0 {
		maxLinks = 200
	}

	seen := make(map[string]struct{})
	links := make([]string, 0, 32)

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if isHidden(s) {
			return true
		}
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			return true
		}

		u, err := base.Parse(href)
		if err != nil {
			return true
		}
		scheme := strings.ToLower(u.Scheme)
		if scheme != "http" && scheme != "https" {
			return true
		}
		u.Fragment = ""

		key := u.String()
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		links = append(links, key)
		return len(links) < maxLinks
	})

	return links
}

func isHidden(s *goquery.Selection) bool {
	style, ok := s.Attr("style")
	if !ok {
		return false
	}
	style = strings.ReplaceAll(strings.ToLower(style), " ", "")
	return strings.Contains(style, "display:none")
}
