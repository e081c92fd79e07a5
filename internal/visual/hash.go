// Package visual computes perceptual hashes of page screenshots so the
// persistence layer can detect re-crawls whose rendered appearance changed
// even when the text did not.
package visual

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/corona10/goimagehash"
)

// Hash decodes a screenshot (PNG or JPEG) and returns its 64-bit difference
// hash in the canonical "d:<hex>" form.
func Hash(screenshot []byte) (string, error) {
	if len(screenshot) == 0 {
		return "", fmt.Errorf("empty screenshot")
	}
	img, _, err := image.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return "", fmt.Errorf("decode screenshot: %w", err)
	}
	hash, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return "", fmt.Errorf("perceptual hash: %w", err)
	}
	return hash.ToString(), nil
}

// Distance returns the Hamming distance between two hashes produced by
// Hash. Small distances mean visually similar pages.
func Distance(a, b string) (int, error) {
	ha, err := goimagehash.ImageHashFromString(normalizeHash(a))
	if err != nil {
		return 0, fmt.Errorf("parse hash %q: %w", a, err)
	}
	hb, err := goimagehash.ImageHashFromString(normalizeHash(b))
	if err != nil {
		return 0, fmt.Errorf("parse hash %q: %w", b, err)
	}
	return ha.Distance(hb)
}

func normalizeHash(h string) string {
	return strings.TrimSpace(h)
}
