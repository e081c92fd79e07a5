package healing

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"webharvest/pkg/types"
)

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

func previousWith(field, value string) *types.ScrapeResult {
	return &types.ScrapeResult{
		Status: types.StatusSuccess,
		ExtractedData: map[string]types.FieldValue{
			field: {Value: value, Selector: ".stale"},
		},
	}
}

func TestExtractMatchingSelector(t *testing.T) {
	doc := parse(t, `<html><body><span class="price">$19.99</span></body></html>`)
	data, events := Extract(doc, map[string]string{"price": ".price"}, nil)

	if len(events) != 0 {
		t.Fatalf("expected no healing events, got %d", len(events))
	}
	fv := data["price"]
	if fv.Value != "$19.99" || fv.Selector != ".price" || fv.Error != "" {
		t.Fatalf("unexpected field value %+v", fv)
	}
}

func TestExtractHealsThroughID(t *testing.T) {
	doc := parse(t, `<html><body>
		<div><span>Something else</span><b id="price-42">Old Price</b></div>
	</body></html>`)

	data, events := Extract(doc, map[string]string{"price": ".price"}, previousWith("price", "Old Price"))

	if len(events) != 1 {
		t.Fatalf("expected exactly one healing event, got %d", len(events))
	}
	ev := events[0]
	if ev.Field != "price" || ev.OldSelector != ".price" || ev.NewSelector != "#price-42" {
		t.Fatalf("unexpected healing event %+v", ev)
	}
	fv := data["price"]
	if fv.Value != "Old Price" || fv.Selector != "#price-42" || fv.Error != "" {
		t.Fatalf("unexpected field value %+v", fv)
	}
}

func TestExtractHealsThroughTestID(t *testing.T) {
	doc := parse(t, `<html><body>
		<div><i>noise</i><em data-testid="price-tag">Old Price</em></div>
	</body></html>`)

	data, events := Extract(doc, map[string]string{"price": ".price"}, previousWith("price", "Old Price"))
	if len(events) != 1 || events[0].NewSelector != "[data-testid='price-tag']" {
		t.Fatalf("unexpected events %+v", events)
	}
	if data["price"].Value != "Old Price" {
		t.Fatalf("unexpected data %+v", data["price"])
	}
}

func TestExtractHealsThroughClassList(t *testing.T) {
	doc := parse(t, `<html><body>
		<p>filler paragraph</p><span class="amount bold">Old Price</span>
	</body></html>`)

	_, events := Extract(doc, map[string]string{"price": ".price"}, previousWith("price", "Old Price"))
	if len(events) != 1 || events[0].NewSelector != "span.amount.bold" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestExtractHealingFailsWithoutPrevious(t *testing.T) {
	doc := parse(t, `<html><body><p>nothing relevant</p></body></html>`)

	data, events := Extract(doc, map[string]string{"price": ".price"}, nil)
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
	fv := data["price"]
	if fv.Error != "selector failed" || fv.Value != "" {
		t.Fatalf("unexpected field value %+v", fv)
	}
}

func TestExtractHealingFailsWhenTextGone(t *testing.T) {
	doc := parse(t, `<html><body><p>New Price</p></body></html>`)

	data, events := Extract(doc, map[string]string{"price": ".price"}, previousWith("price", "Old Price"))
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
	if data["price"].Error != "selector failed" {
		t.Fatalf("unexpected field value %+v", data["price"])
	}
}

func TestExtractPerFieldFailureDoesNotAffectOthers(t *testing.T) {
	doc := parse(t, `<html><body><h1 class="title">Widget</h1></body></html>`)

	schema := map[string]string{
		"title": ".title",
		"price": ".price",
	}
	data, _ := Extract(doc, schema, nil)
	if data["title"].Value != "Widget" || data["title"].Error != "" {
		t.Fatalf("title should extract cleanly, got %+v", data["title"])
	}
	if data["price"].Error == "" {
		t.Fatal("price should record a selector failure")
	}
}

func TestExtractIdempotentOnUnchangedPage(t *testing.T) {
	html := `<html><body><span class="price">$5</span><h1 class="title">Widget</h1></body></html>`
	schema := map[string]string{"price": ".price", "title": ".title"}

	doc1 := parse(t, html)
	first, firstEvents := Extract(doc1, schema, nil)

	prev := &types.ScrapeResult{Status: types.StatusSuccess, ExtractedData: first}
	doc2 := parse(t, html)
	second, secondEvents := Extract(doc2, schema, prev)

	if len(firstEvents) != 0 || len(secondEvents) != 0 {
		t.Fatal("no healing events expected while selectors still match")
	}
	for name, fv := range first {
		if second[name] != fv {
			t.Fatalf("field %s drifted: %+v vs %+v", name, fv, second[name])
		}
	}
}

func TestStableSelectorPrecedence(t *testing.T) {
	doc := parse(t, `<html><body>
		<div id="a" data-testid="b" class="c d">x</div>
		<div data-testid="only-testid" class="c">y</div>
		<div class="c d">z</div>
		<div>w</div>
	</body></html>`)

	cases := []struct {
		query string
		want  string
	}{
		{"#a", "#a"},
		{"[data-testid='only-testid']", "[data-testid='only-testid']"},
		{"div.c.d:not([id])", "div.c.d"},
		{"body > div:last-child", "div"},
	}
	for _, tc := range cases {
		sel := doc.Find(tc.query).First()
		if sel.Length() == 0 {
			t.Fatalf("query %s matched nothing", tc.query)
		}
		if got := StableSelector(sel); got != tc.want {
			t.Errorf("StableSelector(%s) = %s, want %s", tc.query, got, tc.want)
		}
	}
}
