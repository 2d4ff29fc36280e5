package reindexer

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/appbaseio/upgrade-assistant/middleware"
	"github.com/appbaseio/upgrade-assistant/util"
)

func (rx *reindexer) wrap(h http.HandlerFunc) http.HandlerFunc {
	return middleware.Adapt(h, rx.ready, validateIndex)
}

// ready rejects requests until the plugin is initialized.
func (rx *reindexer) ready(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rx.service == nil || rx.worker == nil {
			util.WriteBackError(w, "reindexer is not initialized", http.StatusServiceUnavailable)
			return
		}
		h(w, r)
	}
}

// validateIndex rejects index names elasticsearch would never accept.
func validateIndex(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		indexName, ok := mux.Vars(r)["index"]
		if !ok {
			util.WriteBackError(w, "Route inconsistency, expecting var {index}", http.StatusInternalServerError)
			return
		}
		if indexName == "" || indexName == "." || indexName == ".." ||
			strings.ContainsAny(indexName, `\/*?"<>| ,#`) ||
			strings.IndexAny(indexName[:1], "-_+") == 0 {
			util.WriteBackError(w, "invalid index name: "+indexName, http.StatusBadRequest)
			return
		}
		h(w, r)
	}
}
