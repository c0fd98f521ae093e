package offline

import (
	"net/http"
	"path"
	"strings"
)

// Class is the request category driving the caching strategy.
type Class string

const (
	ClassImage      Class = "image"
	ClassAPI        Class = "api"
	ClassStatic     Class = "static"
	ClassNavigation Class = "navigation"
	ClassDefault    Class = "default"
)

var staticExtensions = map[string]bool{
	".js": true, ".mjs": true, ".css": true, ".map": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true,
	".svg": true, ".png": true, ".jpg": true, ".jpeg": true,
	".gif": true, ".webp": true, ".ico": true, ".json": true,
}

// Classify buckets a read request. Order matters: optimized-image routes are
// matched before the generic static-extension check so they land in the
// image cache, and API paths before navigation so JSON endpoints returning
// text/html error pages still count as API traffic.
func Classify(req *http.Request) Class {
	p := req.URL.Path

	if strings.Contains(p, "/_next/image") || strings.HasPrefix(p, "/images/") {
		return ClassImage
	}
	if strings.HasPrefix(p, "/api/") {
		return ClassAPI
	}
	if strings.Contains(req.Header.Get("Accept"), "text/html") {
		return ClassNavigation
	}
	if staticExtensions[strings.ToLower(path.Ext(p))] {
		return ClassStatic
	}
	return ClassDefault
}

// IsMutating reports whether a request changes server state and therefore
// must never be served from cache.
func IsMutating(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}
