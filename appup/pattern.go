package appup

import "strings"

// ---------------------------------------------------------------------------
// Version pattern matching
// ---------------------------------------------------------------------------

// Matches reports whether a dot-segmented version matches a dot-segmented
// pattern. A pattern segment of "*" or "" matches any version segment;
// any other segment must be byte-equal. Matching stops once the pattern
// is exhausted, so a pattern shorter than the version matches with the
// trailing version segments unconstrained. A pattern longer than the
// version never matches: there are not enough version segments to
// consume.
func Matches(pattern, version string) bool {
	psegs := strings.Split(pattern, ".")
	vsegs := strings.Split(version, ".")
	if len(psegs) > len(vsegs) {
		return false
	}
	for i, p := range psegs {
		if p == "*" || p == "" {
			continue
		}
		if p != vsegs[i] {
			return false
		}
	}
	return true
}
