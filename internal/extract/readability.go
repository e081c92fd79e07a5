package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// boilerplate holds selectors removed before the main content is scored.
var boilerplate = []string{
	"script", "style", "noscript", "iframe", "svg",
	"nav", "header", "footer", "aside", "form",
	"[role='navigation']", "[role='banner']", "[role='contentinfo']",
	"[aria-hidden='true']",
}

// candidateSelectors are tried in order before falling back to density
// scoring.
var candidateSelectors = []string{
	"article",
	"main",
	"[role='main']",
	"#content",
	".content",
	".post",
	".article-body",
}

// ReadableContent locates the primary readable region of the page and
// returns the page title plus the region's HTML with navigation and
// boilerplate discarded.
func ReadableContent(doc *goquery.Document) (title, contentHTML string, err error) {
	title = strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	work := goquery.CloneDocument(doc)
	work.Find(strings.Join(boilerplate, ",")).Remove()

	main := pickCandidate(work)
	if main == nil {
		return title, "", fmt.Errorf("no readable content found")
	}

	contentHTML, err = goquery.OuterHtml(main)
	if err != nil {
		return title, "", fmt.Errorf("serialise content: %w", err)
	}
	return title, contentHTML, nil
}

func pickCandidate(doc *goquery.Document) *goquery.Selection {
	for _, sel := range candidateSelectors {
		found := doc.Find(sel).First()
		if found.Length() > 0 && textLength(found) >= 80 {
			return found
		}
	}

	// Score block containers by text mass discounted by link density.
	var best *goquery.Selection
	bestScore := 0.0
	doc.Find("div, section, td").Each(func(_ int, s *goquery.Selection) {
		score := contentScore(s)
		if score > bestScore {
			bestScore = score
			best = s
		}
	})
	if best != nil {
		return best
	}

	body := doc.Find("body").First()
	if body.Length() == 0 {
		return nil
	}
	return body
}

func contentScore(s *goquery.Selection) float64 {
	total := textLength(s)
	if total == 0 {
		return 0
	}
	linkText := 0
	s.Find("a").Each(func(_ int, a *goquery.Selection) {
		linkText += textLength(a)
	})
	density := float64(linkText) / float64(total)
	return float64(total) * (1.0 - density)
}

func textLength(s *goquery.Selection) int {
	return len(strings.TrimSpace(s.Text()))
}
