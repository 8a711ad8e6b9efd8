// Package feedback detects the rating-invitation marker embedded in
// assistant replies and strips it from display text.
package feedback

import (
	"regexp"
	"strings"
)

// markerRe matches the rating invitation: the word "feedback" followed by
// the range 1..5, accepting hyphen, en-dash, or "to" as the separator.
var markerRe = regexp.MustCompile(`(?i)feedback\s*1\s*(?:[-\x{2013}]|to)\s*5`)

var (
	blankRunRe = regexp.MustCompile(`\n{3,}`)
	hspaceRe   = regexp.MustCompile(`[ \t]{2,}`)
)

// DetectAndStrip scans cleaned assistant text for the rating marker.
// Whole lines containing the marker are removed first, then any remaining
// bare occurrences; blank-line runs and repeated horizontal whitespace
// left behind are collapsed. The returned boolean tells the caller to
// open a rating capture, subject to the one-pending-at-a-time rule.
func DetectAndStrip(cleaned string) (display string, found bool) {
	if !markerRe.MatchString(cleaned) {
		return cleaned, false
	}

	lines := strings.Split(cleaned, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if markerRe.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	out := strings.Join(kept, "\n")

	out = markerRe.ReplaceAllString(out, "")
	out = blankRunRe.ReplaceAllString(out, "\n\n")
	out = hspaceRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out), true
}
