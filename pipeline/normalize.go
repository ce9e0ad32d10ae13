package pipeline

import (
	"regexp"
	"strings"

	"github.com/teranos/reel/job"
)

var urlPattern = regexp.MustCompile("https?://[^\\s\"'`<>()\\[\\]{}]+")

const (
	wrapChars     = " \t\r\n\"'`<>"
	trailingPunct = ".,;:!?)]}"
)

// CleanResultRef turns a provider result reference into a well-formed
// http(s) URL. It reports false when no URL can be recovered.
func CleanResultRef(raw string) (string, bool) {
	s := strings.TrimRight(strings.Trim(raw, wrapChars), trailingPunct)
	if job.IsWellFormedURL(s) {
		return s, true
	}

	// best effort: first URL-looking substring
	if m := urlPattern.FindString(raw); m != "" {
		m = strings.TrimRight(m, trailingPunct)
		if job.IsWellFormedURL(m) {
			return m, true
		}
	}
	return "", false
}
