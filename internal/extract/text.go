package extract

import (
	"strings"

	"golang.org/x/net/html"
)

var textBlockTags = map[string]struct{}{
	"p": {}, "div": {}, "section": {}, "article": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"li": {}, "tr": {}, "table": {}, "blockquote": {}, "pre": {},
	"figure": {}, "figcaption": {},
}

var textSkipTags = map[string]struct{}{
	"script": {}, "style": {}, "noscript": {}, "img": {},
	"picture": {}, "video": {}, "audio": {}, "svg": {}, "iframe": {},
}

// PlainText converts an HTML fragment to plain text. Anchor markup and
// images are stripped; anchor text survives, block boundaries become
// newlines.
func PlainText(fragment string) string {
	root, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	var b strings.Builder
	writePlainText(root, &b)
	return squeezeBlankLines(b.String())
}

func writePlainText(node *html.Node, b *strings.Builder) {
	switch node.Type {
	case html.TextNode:
		text := strings.Join(strings.Fields(node.Data), " ")
		if text == "" {
			return
		}
		if n := b.Len(); n > 0 {
			last := b.String()[n-1]
			if last != ' ' && last != '\n' {
				b.WriteByte(' ')
			}
		}
		b.WriteString(text)
		return
	case html.ElementNode:
		tag := strings.ToLower(node.Data)
		if _, skip := textSkipTags[tag]; skip {
			return
		}
		if tag == "br" {
			b.WriteByte('\n')
			return
		}
		_, block := textBlockTags[tag]
		if block {
			ensureNewline(b)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			writePlainText(child, b)
		}
		if block {
			ensureNewline(b)
		}
		return
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		writePlainText(child, b)
	}
}

func ensureNewline(b *strings.Builder) {
	if n := b.Len(); n > 0 && b.String()[n-1] != '\n' {
		b.WriteByte('\n')
	}
}

func squeezeBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
