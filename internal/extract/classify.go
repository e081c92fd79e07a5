package extract

import (
	"strings"

	"webharvest/pkg/types"
)

var productKeywords = []string{
	"add to cart", "add to basket", "buy now", "price", "in stock",
	"out of stock", "sku", "free shipping",
}

var blogKeywords = []string{
	"blog", "posted by", "read more posts",
}

var articleKeywords = []string{
	"article", "by line", "published", "min read",
}

// Classify derives the coarse content type from ordered keyword heuristics
// over the title and body text. Checked in priority order: product signals
// win over blog, blog over article; pages with none of them are GENERAL
// when there is enough text, otherwise UNKNOWN.
func Classify(title, text string, minGeneralLength int) types.ContentType {
	haystack := strings.ToLower(title + "\n" + text)

	if containsAny(haystack, productKeywords) {
		return types.ContentProduct
	}
	if containsAny(haystack, blogKeywords) {
		return types.ContentBlogPost
	}
	if containsAny(haystack, articleKeywords) {
		return types.ContentArticle
	}
	if len(strings.TrimSpace(text)) >= minGeneralLength {
		return types.ContentGeneral
	}
	return types.ContentUnknown
}

func containsAny(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}
