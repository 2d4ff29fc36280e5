package plugins

import (
	"net/http"
	"sort"
)

// Route is a type that contains information about a route.
type Route struct {
	// Name is the name of the route. In order to avoid conflicts in
	// the router, the name preferably should be a combination of both
	// http method type and the path. For example: "Get foobar" would
	// be an appropriate name for [GET foobar] endpoint.
	Name string

	// Methods represents an array of HTTP method type. It is preferable
	// to use values defined in net/http package to avoid typos.
	Methods []string

	// Path is the path that it expects to serve the requests on.
	// Variables must follow the gorilla/mux format, e.g. {index}.
	Path string

	// HandlerFunc is the handler function that is responsible for
	// responding the request made to this route.
	HandlerFunc http.HandlerFunc

	// Description about this route.
	Description string
}

// RouteBy is the type of a "less" function that defines the ordering of routes.
type RouteBy func(r1, r2 Route) bool

// RouteSort sorts the argument slice according to the less function.
func (by RouteBy) RouteSort(routes []Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		return by(routes[i], routes[j])
	})
}
