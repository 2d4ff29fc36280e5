package interpreter

import (
	"net/http"

	"github.com/appbaseio/upgrade-assistant/middleware"
	"github.com/appbaseio/upgrade-assistant/plugins"
	"github.com/appbaseio/upgrade-assistant/util"
)

const basePath = "/api/interpreter"

func (ip *interpreter) routes() []plugins.Route {
	return []plugins.Route{
		{
			Name:        "List server functions",
			Methods:     []string{http.MethodGet},
			Path:        basePath + "/fns",
			HandlerFunc: ip.ready(ip.listFunctions()),
			Description: "Returns the definitions of the functions the server runs and the names of the known types.",
		},
		{
			Name:        "Run server functions",
			Methods:     []string{http.MethodPost},
			Path:        basePath + "/fns",
			HandlerFunc: ip.wrap(ip.runFunctions()),
			Description: "Runs a batch of function calls and returns one result per call id.",
		},
		{
			Name:        "Run expression",
			Methods:     []string{http.MethodPost},
			Path:        basePath + "/run",
			HandlerFunc: ip.wrap(ip.runExpression()),
			Description: "Parses and interprets an expression against a context.",
		},
	}
}

// wrap applies the rate limit, if any, to routes running functions.
func (ip *interpreter) wrap(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handler := ip.ready(h)
		if ip.limit != nil {
			handler = middleware.Adapt(handler, ip.limit)
		}
		handler(w, r)
	}
}

// ready rejects requests until the plugin is initialized.
func (ip *interpreter) ready(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ip.interpreter == nil {
			util.WriteBackError(w, "interpreter is not initialized", http.StatusServiceUnavailable)
			return
		}
		h(w, r)
	}
}
