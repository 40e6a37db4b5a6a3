package reelpost

import "strings"

// Checked in order; "reels/" never contains "reel/", so a URL matches at most
// one of them unless it carries both segments.
var shortcodeMarkers = []string{"reel/", "reels/"}

// ParseShortcode extracts the reel shortcode from a URL such as
// https://www.instagram.com/reel/ABC123/. The segment after the marker ends
// at the next '/', '?' or '#'.
func ParseShortcode(rawURL string) (Shortcode, error) {
	for _, marker := range shortcodeMarkers {
		idx := strings.Index(rawURL, marker)
		if idx < 0 {
			continue
		}
		rest := rawURL[idx+len(marker):]
		if end := strings.IndexAny(rest, "/?#"); end >= 0 {
			rest = rest[:end]
		}
		if rest == "" {
			return "", MalformedURLError{URL: rawURL, Reason: "empty shortcode after " + marker}
		}
		return Shortcode(rest), nil
	}
	return "", MalformedURLError{URL: rawURL, Reason: "no reel/ or reels/ segment"}
}
