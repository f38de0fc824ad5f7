package models

import (
	"fmt"
	"strings"
)

// Slugify lowercases s and collapses every run of non [a-z0-9] characters
// into a single hyphen, trimming hyphens at both ends.
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingHyphen := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

// SlugCandidate returns the n-th attempt for base: base itself for n <= 1,
// then base-2, base-3 and so on.
func SlugCandidate(base string, n int) string {
	if base == "" {
		base = "opportunity"
	}
	if n <= 1 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n)
}
