package frontier

import "strings"

// HasRepetitivePath reports whether a URL path looks like a crawl trap: a
// sequence of two or more path segments that repeats back-to-back at least
// threshold times, e.g. /a/b/a/b or calendar loops like /2023/01/2023/01.
// A partial repeat (/a/b/a) is not sufficient.
func HasRepetitivePath(path string, threshold int) bool {
	if threshold < 2 {
		threshold = 2
	}
	var segments []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	n := len(segments)
	for size := 2; size*threshold <= n; size++ {
		for start := 0; start+size*threshold <= n; start++ {
			if repeatsAt(segments, start, size, threshold) {
				return true
			}
		}
	}
	return false
}

func repeatsAt(segments []string, start, size, threshold int) bool {
	for rep := 1; rep < threshold; rep++ {
		for i := 0; i < size; i++ {
			if segments[start+i] != segments[start+rep*size+i] {
				return false
			}
		}
	}
	return true
}
