package obs

import "strings"

var tokenRoutes = []string{
	"/api/v1/verified-account/",
	"/api/v1/reset-password/",
}

// CanonicalPath strips the query and replaces the single-use token segment with
// a placeholder so that labels stay bounded and tokens never reach logs. The
// first segment after a token route is masked whatever follows it.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	for _, prefix := range tokenRoutes {
		if !strings.HasPrefix(path, prefix) || len(path) == len(prefix) {
			continue
		}
		rest := strings.TrimLeft(path[len(prefix):], "/")
		if rest == "" {
			continue
		}
		lead := path[len(prefix) : len(path)-len(rest)]
		tail := ""
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			tail = rest[i:]
		}
		return prefix + lead + ":token" + tail
	}
	return path
}
