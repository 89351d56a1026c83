package auth

import (
	"net/http"
	"path"
	"strings"
)

// IsPublicPath reports whether requestPath bypasses authentication.
// Paths with encoded separators never match, the path is cleaned before
// comparison, and matching respects segment boundaries so /healthz covers
// /healthz/live but not /healthzz.
func IsPublicPath(requestPath string, publicPaths []string) bool {
	lowerPath := strings.ToLower(requestPath)
	if strings.Contains(lowerPath, "%2f") || strings.Contains(lowerPath, "%2e") {
		return false
	}

	cleanPath := cleanAbs(requestPath)
	for _, publicPath := range publicPaths {
		p := cleanAbs(publicPath)
		if p == "/" || cleanPath == p || strings.HasPrefix(cleanPath, p+"/") {
			return true
		}
	}
	return false
}

func cleanAbs(p string) string {
	p = path.Clean(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// WrapWithPublicPaths applies authMw to every request except those whose
// path is public according to IsPublicPath
func WrapWithPublicPaths(
	authMw func(http.Handler) http.Handler,
	publicPaths []string,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		authWrappedNext := authMw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublicPath(r.URL.Path, publicPaths) {
				next.ServeHTTP(w, r)
				return
			}
			authWrappedNext.ServeHTTP(w, r)
		})
	}
}
