package http

import (
	"net/http"
	"strings"
)

// access is the capability a route requires.
type access int

const (
	// accessAuthenticated is the zero value, so a route missing from the
	// table is denied until proven public.
	accessAuthenticated access = iota
	accessPublic
)

func (a access) String() string {
	if a == accessPublic {
		return "public"
	}
	return "authenticated"
}

// route is one entry of the capability table. A prefix route matches every
// path under pattern for any method.
type route struct {
	method  string
	pattern string
	access  access
	prefix  bool
	handler http.Handler
}

// routeTable enumerates every route the service serves. The request gate
// consults it before dispatch and the router registers its handlers.
type routeTable []route

// accessFor returns the capability required by method and path. Unknown
// routes require authentication.
func (t routeTable) accessFor(method, path string) access {
	for _, rt := range t {
		if rt.prefix {
			if strings.HasPrefix(path, rt.pattern) {
				return rt.access
			}
			continue
		}
		if rt.method == method && rt.pattern == path {
			return rt.access
		}
	}
	return accessAuthenticated
}
