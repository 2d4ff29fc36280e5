package reindexer

import (
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/appbaseio/upgrade-assistant/errors"
	"github.com/appbaseio/upgrade-assistant/model/reindex"
	"github.com/appbaseio/upgrade-assistant/util"
)

type reindexStatus struct {
	ReindexOp             *reindex.Operation `json:"reindexOp"`
	Warnings              []reindex.Warning  `json:"warnings"`
	HasRequiredPrivileges bool               `json:"hasRequiredPrivileges"`
}

func writeBackErr(w http.ResponseWriter, err error) {
	code := errors.StatusCode(err)
	if code >= http.StatusInternalServerError {
		log.Errorln(logTag, ":", err)
	}
	util.WriteBackError(w, err.Error(), code)
}

func (rx *reindexer) getReindexStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		indexName := mux.Vars(r)["index"]
		ctx := r.Context()

		op, err := rx.service.FindReindexOperation(ctx, indexName)
		if err != nil {
			writeBackErr(w, err)
			return
		}
		warnings, err := rx.service.DetectReindexWarnings(ctx, indexName)
		if err != nil {
			writeBackErr(w, err)
			return
		}
		privileged, err := rx.service.HasRequiredPrivileges(ctx, indexName)
		if err != nil {
			writeBackErr(w, err)
			return
		}
		util.WriteBackJSON(w, reindexStatus{op, warnings, privileged}, http.StatusOK)
	}
}

func (rx *reindexer) startReindex() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		indexName := mux.Vars(r)["index"]
		ctx := r.Context()

		privileged, err := rx.service.HasRequiredPrivileges(ctx, indexName)
		if err != nil {
			writeBackErr(w, err)
			return
		}
		if !privileged {
			util.WriteBackError(w, "You do not have adequate privileges to reindex this index.", http.StatusForbidden)
			return
		}

		existing, err := rx.service.FindReindexOperation(ctx, indexName)
		if err != nil {
			writeBackErr(w, err)
			return
		}
		var op *reindex.Operation
		if existing != nil && existing.Status == reindex.Paused {
			op, err = rx.service.ResumeReindexOperation(ctx, indexName)
		} else {
			op, err = rx.service.CreateReindexOperation(ctx, indexName)
		}
		if err != nil {
			writeBackErr(w, err)
			return
		}

		rx.worker.ForceRefresh()
		util.WriteBackJSON(w, op, http.StatusOK)
	}
}

func (rx *reindexer) pauseReindex() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		indexName := mux.Vars(r)["index"]
		op, err := rx.service.PauseReindexOperation(r.Context(), indexName)
		if err != nil {
			writeBackErr(w, err)
			return
		}
		util.WriteBackJSON(w, op, http.StatusOK)
	}
}

func (rx *reindexer) resumeReindex() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		indexName := mux.Vars(r)["index"]
		op, err := rx.service.ResumeReindexOperation(r.Context(), indexName)
		if err != nil {
			writeBackErr(w, err)
			return
		}
		rx.worker.ForceRefresh()
		util.WriteBackJSON(w, op, http.StatusOK)
	}
}

func (rx *reindexer) cancelReindex() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		indexName := mux.Vars(r)["index"]
		if _, err := rx.service.CancelReindexing(r.Context(), indexName); err != nil {
			writeBackErr(w, err)
			return
		}
		util.WriteBackJSON(w, map[string]bool{"acknowledged": true}, http.StatusOK)
	}
}
