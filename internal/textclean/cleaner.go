// Package textclean defines the pluggable text-transform collaborator run
// over extracted page text. Implementations may call out to an external
// summariser; the crawler only depends on the interface.
package textclean

import (
	"context"
	"strings"
)

// Cleaner transforms extracted plain text before quality validation.
type Cleaner interface {
	Clean(ctx context.Context, text string) (string, error)
}

// Identity returns the input unchanged.
type Identity struct{}

func (Identity) Clean(_ context.Context, text string) (string, error) {
	return text, nil
}

// Normalizer collapses runs of whitespace within lines and squeezes blank
// lines, without touching wording.
type Normalizer struct{}

func (Normalizer) Clean(_ context.Context, text string) (string, error) {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
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
	return strings.TrimSpace(strings.Join(out, "\n")), nil
}
