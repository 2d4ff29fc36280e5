package middleware

import "net/http"

// Middleware is a type that represents a middleware function. A
// middleware usually operates on the request before and after the
// request is served.
type Middleware func(http.HandlerFunc) http.HandlerFunc

// Adapt wraps h in the given middleware. The first middleware in the
// list is the outermost one, i.e. it sees the request first.
func Adapt(h http.HandlerFunc, mw ...Middleware) http.HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
