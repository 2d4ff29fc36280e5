package interpreter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/appbaseio/upgrade-assistant/model/registry"
)

func newTestRouter(t *testing.T) *mux.Router {
	ip := &interpreter{}
	if err := ip.init(registry.Handlers{"environment": "server"}, false); err != nil {
		t.Fatalf("unable to initialize interpreter: %v", err)
	}
	router := mux.NewRouter()
	for _, route := range ip.routes() {
		router.Methods(route.Methods...).Path(route.Path).HandlerFunc(route.HandlerFunc)
	}
	return router
}

func serve(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(rec *httptest.ResponseRecorder, v interface{}) {
	So(json.Unmarshal(rec.Body.Bytes(), v), ShouldBeNil)
}

func TestFunctionCatalog(t *testing.T) {
	router := newTestRouter(t)

	Convey("The catalog lists server functions and types", t, func() {
		rec := serve(router, http.MethodGet, "/api/interpreter/fns", "")
		So(rec.Code, ShouldEqual, http.StatusOK)

		var body struct {
			Functions []*registry.FnDef `json:"functions"`
			Types     []string          `json:"types"`
		}
		decode(rec, &body)
		names := make([]string, 0, len(body.Functions))
		for _, def := range body.Functions {
			names = append(names, def.Name)
		}
		So(names, ShouldResemble, []string{"context", "datatable", "eq", "escount", "if", "math", "pointseries", "string"})
		So(body.Types, ShouldContain, "datatable")

		for _, def := range body.Functions {
			if def.Name != "if" {
				continue
			}
			So(def.Args["then"].Resolves(), ShouldBeFalse)
			So(def.Args["condition"].Aliases, ShouldResemble, []string{"_"})
		}
	})
}

func TestRunFunctions(t *testing.T) {
	router := newTestRouter(t)

	Convey("A batch returns one result per call", t, func() {
		batch := `{"functions":[
			{"id":1,"functionName":"concat","args":{"_":["a",1,true]},"context":null},
			{"id":2,"functionName":"nope","args":{},"context":null},
			{"id":3,"functionName":"pointseries","args":{"x":"host","y":"cpu"},
			 "context":{"type":"datatable","columns":[{"name":"host","type":"string"},{"name":"cpu","type":"number"}],
			            "rows":[{"host":"a","cpu":0.5},{"host":"b","cpu":1.5}]}},
			{"id":4,"functionName":"math","args":{"_":"mean"},
			 "context":{"type":"pointseries","columns":{"y":{"type":"number","role":"measure","expression":"cpu"}},
			            "rows":[{"y":1},{"y":3}]}},
			{"id":5,"functionName":"escount","args":{},"context":null}
		]}`
		rec := serve(router, http.MethodPost, "/api/interpreter/fns", batch)
		So(rec.Code, ShouldEqual, http.StatusOK)

		var body struct {
			Results []struct {
				ID     int64           `json:"id"`
				Result json.RawMessage `json:"result"`
			} `json:"results"`
		}
		decode(rec, &body)
		So(body.Results, ShouldHaveLength, 5)

		results := map[int64]string{}
		for _, r := range body.Results {
			results[r.ID] = string(r.Result)
		}
		So(results[1], ShouldEqual, `"a1true"`)
		So(results[2], ShouldEqual, `{"statusCode":404,"err":"Not Found","message":"Function \"nope\" could not be found."}`)
		So(results[3], ShouldContainSubstring, `"type":"pointseries"`)
		So(results[3], ShouldContainSubstring, `"x":{"type":"string","role":"dimension","expression":"host"}`)
		So(results[4], ShouldEqual, `2`)
		So(results[5], ShouldEqual, `{"statusCode":500,"err":"Internal Server Error","message":"elasticsearch is not configured"}`)
	})

	Convey("Malformed batches are rejected", t, func() {
		rec := serve(router, http.MethodPost, "/api/interpreter/fns", `{"functions":`)
		So(rec.Code, ShouldEqual, http.StatusBadRequest)
	})
}

func TestRunExpression(t *testing.T) {
	router := newTestRouter(t)

	Convey("Expressions run server side", t, func() {
		body := `{"expression":"datatable \"n,label\n4,a\n10,b\" | pointseries y=n | math max","context":null}`
		rec := serve(router, http.MethodPost, "/api/interpreter/run", body)
		So(rec.Code, ShouldEqual, http.StatusOK)
		So(strings.TrimSpace(rec.Body.String()), ShouldEqual, `{"result":10}`)
	})

	Convey("Lazy branches only run when taken", t, func() {
		body := `{"expression":"if {eq 2} then={string yes} else={escount}","context":2}`
		rec := serve(router, http.MethodPost, "/api/interpreter/run", body)
		So(rec.Code, ShouldEqual, http.StatusOK)
		So(strings.TrimSpace(rec.Body.String()), ShouldEqual, `{"result":"yes"}`)
	})

	Convey("Chain failures are returned as error values", t, func() {
		body := `{"expression":"math sum column=z","context":{"type":"pointseries","columns":{},"rows":[]}}`
		rec := serve(router, http.MethodPost, "/api/interpreter/run", body)
		So(rec.Code, ShouldEqual, http.StatusOK)

		var out struct {
			Result struct {
				Type  string `json:"type"`
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			} `json:"result"`
		}
		decode(rec, &out)
		So(out.Result.Type, ShouldEqual, "error")
		So(out.Result.Error.Message, ShouldStartWith, "[math] > ")
	})

	Convey("Unparsable expressions are a bad request", t, func() {
		rec := serve(router, http.MethodPost, "/api/interpreter/run", `{"expression":"math (","context":null}`)
		So(rec.Code, ShouldEqual, http.StatusBadRequest)
	})
}

func TestUninitializedPlugin(t *testing.T) {
	ip := &interpreter{}
	router := mux.NewRouter()
	for _, route := range ip.routes() {
		router.Methods(route.Methods...).Path(route.Path).HandlerFunc(route.HandlerFunc)
	}
	rec := serve(router, http.MethodGet, "/api/interpreter/fns", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d got: %d\n", http.StatusServiceUnavailable, rec.Code)
	}
}
