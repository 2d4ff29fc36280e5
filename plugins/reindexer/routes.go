package reindexer

import (
	"net/http"

	"github.com/appbaseio/upgrade-assistant/plugins"
)

const basePath = "/api/upgrade_assistant/reindex/{index}"

func (rx *reindexer) routes() []plugins.Route {
	routes := []plugins.Route{
		{
			Name:        "Get reindex status",
			Methods:     []string{http.MethodGet},
			Path:        basePath,
			HandlerFunc: rx.wrap(rx.getReindexStatus()),
			Description: "Returns the reindex operation of an index along with its warnings and whether the user has the required privileges.",
		},
		{
			Name:        "Start reindex",
			Methods:     []string{http.MethodPost},
			Path:        basePath,
			HandlerFunc: rx.wrap(rx.startReindex()),
			Description: "Creates a reindex operation for an index, or resumes it when it is paused.",
		},
		{
			Name:        "Pause reindex",
			Methods:     []string{http.MethodPost},
			Path:        basePath + "/pause",
			HandlerFunc: rx.wrap(rx.pauseReindex()),
			Description: "Pauses an in-progress reindex operation.",
		},
		{
			Name:        "Resume reindex",
			Methods:     []string{http.MethodPost},
			Path:        basePath + "/resume",
			HandlerFunc: rx.wrap(rx.resumeReindex()),
			Description: "Resumes a paused reindex operation.",
		},
		{
			Name:        "Cancel reindex",
			Methods:     []string{http.MethodPost},
			Path:        basePath + "/cancel",
			HandlerFunc: rx.wrap(rx.cancelReindex()),
			Description: "Cancels the reindex task of an operation waiting for it to complete.",
		},
	}
	return routes
}
