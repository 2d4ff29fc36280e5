package reindexer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
)

func newTestRouter(t *testing.T) (*mux.Router, *mockCluster) {
	service, cluster, _ := newTestService(t)
	w, err := newWorker(service, defaultWorkerInterval)
	if err != nil {
		t.Fatalf("unable to create worker: %v", err)
	}
	// let a forced refresh finish before the store is closed
	t.Cleanup(func() {
		w.running.Lock()
		w.running.Unlock()
	})
	rx := &reindexer{service: service, worker: w}
	router := mux.NewRouter()
	for _, route := range rx.routes() {
		router.Methods(route.Methods...).Path(route.Path).HandlerFunc(route.HandlerFunc)
	}
	return router, cluster
}

func serve(router *mux.Router, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

var handlerTests = []struct {
	name    string
	method  string
	path    string
	status  int
	message string
}{
	{"unknown index", http.MethodPost, "/api/upgrade_assistant/reindex/missing", http.StatusNotFound, "index missing does not exist in this cluster"},
	{"invalid index", http.MethodPost, "/api/upgrade_assistant/reindex/_bad", http.StatusBadRequest, "invalid index name: _bad"},
	{"pause without operation", http.MethodPost, "/api/upgrade_assistant/reindex/test/pause", http.StatusNotFound, "no reindex operation found for index test"},
	{"resume without operation", http.MethodPost, "/api/upgrade_assistant/reindex/test/resume", http.StatusNotFound, "no reindex operation found for index test"},
	{"cancel without operation", http.MethodPost, "/api/upgrade_assistant/reindex/test/cancel", http.StatusNotFound, "no reindex operation found for index test"},
}

func TestHandlerErrors(t *testing.T) {
	for _, tt := range handlerTests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t)
			rec := serve(router, tt.method, tt.path)
			if rec.Code != tt.status {
				t.Fatalf("expected status %d got: %d (%s)\n", tt.status, rec.Code, rec.Body.String())
			}
			var body struct {
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unable to decode response: %v\n", err)
			}
			if body.Error.Message != tt.message {
				t.Fatalf("expected message %q got: %q\n", tt.message, body.Error.Message)
			}
		})
	}
}

func TestStartAndInspectReindex(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := serve(router, http.MethodPost, "/api/upgrade_assistant/reindex/test")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got: %d (%s)\n", rec.Code, rec.Body.String())
	}
	var op map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &op); err != nil {
		t.Fatalf("unable to decode response: %v\n", err)
	}
	if op["indexName"] != "test" || op["newIndexName"] != "test_reindexed_1" {
		t.Fatalf("unexpected operation returned: %v\n", op)
	}

	rec = serve(router, http.MethodPost, "/api/upgrade_assistant/reindex/test")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409 for a second operation got: %d\n", rec.Code)
	}

	rec = serve(router, http.MethodPost, "/api/upgrade_assistant/reindex/test/pause")
	// the forced refresh may hold the operation at the same time
	if rec.Code != http.StatusOK && rec.Code != http.StatusLocked && rec.Code != http.StatusConflict {
		t.Fatalf("unexpected pause status: %d (%s)\n", rec.Code, rec.Body.String())
	}

	rec = serve(router, http.MethodGet, "/api/upgrade_assistant/reindex/test")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got: %d (%s)\n", rec.Code, rec.Body.String())
	}
	var status struct {
		ReindexOp             map[string]interface{} `json:"reindexOp"`
		Warnings              []string               `json:"warnings"`
		HasRequiredPrivileges bool                   `json:"hasRequiredPrivileges"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("unable to decode response: %v\n", err)
	}
	if status.ReindexOp["indexName"] != "test" {
		t.Fatalf("unexpected operation returned: %v\n", status.ReindexOp)
	}
	if len(status.Warnings) != 1 || status.Warnings[0] != "booleanFields" {
		t.Fatalf("unexpected warnings returned: %v\n", status.Warnings)
	}
	if !status.HasRequiredPrivileges {
		t.Fatalf("expected privileges without security enabled\n")
	}
}

func TestStartReindexWithoutPrivileges(t *testing.T) {
	router, cluster := newTestRouter(t)
	cluster.security = true
	cluster.privileged = false

	rec := serve(router, http.MethodPost, "/api/upgrade_assistant/reindex/test")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 got: %d (%s)\n", rec.Code, rec.Body.String())
	}
}

func TestUninitializedPlugin(t *testing.T) {
	rx := &reindexer{}
	router := mux.NewRouter()
	for _, route := range rx.routes() {
		router.Methods(route.Methods...).Path(route.Path).HandlerFunc(route.HandlerFunc)
	}
	rec := serve(router, http.MethodGet, "/api/upgrade_assistant/reindex/test")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 got: %d\n", rec.Code)
	}
}
