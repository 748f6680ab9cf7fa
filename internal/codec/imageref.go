package codec

import (
	"regexp"
	"strings"
)

var (
	markdownImageRegex = regexp.MustCompile(`!\[[^\]]*\]\(\s*<?((?:https?://|data:image/)[^\s)>]+)>?(?:\s+"[^"]*")?\s*\)`)
	bareURLRegex       = regexp.MustCompile(`https?://[^\s<>"'()\[\]]+`)
)

// ExtractImageReference returns the first markdown image link in text, falling back to
// the first bare http(s) URL.
func ExtractImageReference(text string) (string, bool) {
	if m := markdownImageRegex.FindStringSubmatch(text); len(m) == 2 {
		return m[1], true
	}

	if m := bareURLRegex.FindString(text); m != "" {
		m = strings.TrimRight(m, ".,;:!?")
		if m != "" {
			return m, true
		}
	}
	return "", false
}
