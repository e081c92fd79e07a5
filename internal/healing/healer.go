// Package healing implements schema-driven field extraction that repairs
// its own selectors: when a configured selector stops matching, the last
// known value is located in the current page by text and a new stable
// selector is derived from the element that holds it.
package healing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"webharvest/pkg/types"
)

const selectorFailed = "selector failed"

// Extract resolves every schema field against the document. A field whose
// selector fails is healed from the previous result when possible; a field
// that cannot be recovered is recorded with an error but never fails the
// page. Fields are processed in sorted name order so repeated runs produce
// identical results.
func Extract(doc *goquery.Document, schema map[string]string, previous *types.ScrapeResult) (map[string]types.FieldValue, []types.HealingEvent) {
	if doc == nil || len(schema) == 0 {
		return nil, nil
	}

	fields := make([]string, 0, len(schema))
	for name := range schema {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	data := make(map[string]types.FieldValue, len(schema))
	var events []types.HealingEvent

	for _, field := range fields {
		selector := schema[field]

		if sel := doc.Find(selector); sel.Length() > 0 {
			data[field] = types.FieldValue{
				Value:    normalizeText(sel.First().Text()),
				Selector: selector,
			}
			continue
		}

		prevValue, ok := previous.Field(field)
		if !ok || prevValue == "" {
			data[field] = types.FieldValue{Selector: selector, Error: selectorFailed}
			continue
		}

		healed, newSelector := healByText(doc, prevValue)
		if !healed {
			data[field] = types.FieldValue{Selector: selector, Error: selectorFailed}
			continue
		}

		data[field] = types.FieldValue{Value: prevValue, Selector: newSelector}
		events = append(events, types.HealingEvent{
			Field:       field,
			OldSelector: selector,
			NewSelector: newSelector,
		})
	}

	return data, events
}

// healByText scans the document in DOM order for the first element whose
// text equals the previous value after whitespace normalization, and
// derives a stable selector for it. Normalizing whitespace is a deliberate
// loosening of exact equality: formatting drift alone should not defeat
// healing.
func healByText(doc *goquery.Document, prevValue string) (bool, string) {
	want := normalizeText(prevValue)
	if want == "" {
		return false, ""
	}

	var found *goquery.Selection
	doc.Find("body *").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if normalizeText(s.Text()) == want {
			found = s
			return false
		}
		return true
	})
	if found == nil {
		return false, ""
	}
	return true, StableSelector(found)
}

// StableSelector derives the most specific durable selector available for
// an element: id, then data-testid, then tag plus full class list, then the
// bare tag name.
func StableSelector(s *goquery.Selection) string {
	if id, ok := s.Attr("id"); ok && strings.TrimSpace(id) != "" {
		return "#" + strings.TrimSpace(id)
	}
	if testID, ok := s.Attr("data-testid"); ok && strings.TrimSpace(testID) != "" {
		return fmt.Sprintf("[data-testid='%s']", strings.TrimSpace(testID))
	}
	tag := goquery.NodeName(s)
	if class, ok := s.Attr("class"); ok {
		classes := strings.Fields(class)
		if len(classes) > 0 {
			return tag + "." + strings.Join(classes, ".")
		}
	}
	return tag
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
