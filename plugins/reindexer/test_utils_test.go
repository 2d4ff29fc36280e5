package reindexer

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	es7 "github.com/olivere/elastic/v7"
)

func compareErrs(expectedErr string, actual error) bool {
	if actual == nil {
		return expectedErr == ""
	}
	return expectedErr == actual.Error()
}

// ServerSetup describes one canned elasticsearch response. An empty Body
// matches any request body; JSON bodies are compared compacted.
type ServerSetup struct {
	Method, Path, Body, Response string
	HTTPStatus                   int
}

func compactJSON(s string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}

// This function is a modified version of: https://github.com/github/vulcanizer/blob/master/es_test.go
func buildTestServer(t *testing.T, setups []*ServerSetup) *httptest.Server {
	handlerFunc := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestBytes, _ := ioutil.ReadAll(r.Body)
		requestBody := compactJSON(string(requestBytes))

		for _, setup := range setups {
			if r.Method != setup.Method || r.URL.EscapedPath() != setup.Path {
				continue
			}
			if setup.Body != "" && compactJSON(setup.Body) != requestBody {
				continue
			}
			w.Header().Set("Content-Type", "application/json")
			if setup.HTTPStatus == 0 {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(setup.HTTPStatus)
			}
			if _, err := w.Write([]byte(setup.Response)); err != nil {
				t.Errorf("Unable to write test server response: %v", err)
			}
			return
		}
		t.Errorf("No requests matched setup. Got method %s, Path %s, body %s", r.Method, r.URL.EscapedPath(), requestBody)
		w.WriteHeader(http.StatusNotImplemented)
	})

	return httptest.NewServer(handlerFunc)
}

func newTestClient(url string) (*elasticsearch, error) {
	client, err := es7.NewClient(
		es7.SetURL(url),
		es7.SetSniff(false),
		es7.SetHealthcheck(false),
	)
	if err != nil {
		return nil, err
	}
	return newCluster(client), nil
}

func newTestStore(t *testing.T) *sqliteStore {
	store, err := newSQLiteStore(filepath.Join(t.TempDir(), "reindex.db"))
	if err != nil {
		t.Fatalf("unable to open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.close() })
	return store
}
