package transport

import "strings"

// NormalizeBaseURL strips trailing slashes and trailing /v1beta or /v1 path segments so
// the result can prefix either wire protocol.
func NormalizeBaseURL(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	for {
		path := base[pathStart(base):]
		switch {
		case strings.HasSuffix(path, "/v1beta"):
			base = strings.TrimRight(strings.TrimSuffix(base, "/v1beta"), "/")
		case strings.HasSuffix(path, "/v1"):
			base = strings.TrimRight(strings.TrimSuffix(base, "/v1"), "/")
		default:
			return base
		}
	}
}

// pathStart returns the index where the path begins, so a host named "v1" is never
// mistaken for a version segment.
func pathStart(u string) int {
	hostStart := 0
	if idx := strings.Index(u, "://"); idx >= 0 {
		hostStart = idx + 3
	}
	if idx := strings.IndexByte(u[hostStart:], '/'); idx >= 0 {
		return hostStart + idx
	}
	return len(u)
}
