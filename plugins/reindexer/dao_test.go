package reindexer

import (
	"context"
	"net/http"
	"reflect"
	"testing"

	es7 "github.com/olivere/elastic/v7"

	"github.com/appbaseio/upgrade-assistant/model/reindex"
)

var nodeVersionsTests = []struct {
	setup    *ServerSetup
	expected []nodeVersion
	err      string
}{
	{
		&ServerSetup{
			Method: "GET",
			Path:   "/_nodes",
			Response: `{"nodes":{
				"b2":{"name":"node-b","version":"6.6.1"},
				"a1":{"name":"node-a","version":"6.7.0"}
			}}`,
		},
		[]nodeVersion{{"node-a", "6.7.0"}, {"node-b", "6.6.1"}},
		"",
	},
	{
		&ServerSetup{
			Method:   "GET",
			Path:     "/_nodes",
			Response: `{"nodes":{"a1":{"name":"node-a"}}}`,
		},
		nil,
		"node a1 has no version: Key path not found",
	},
}

func TestNodeVersions(t *testing.T) {
	for _, tt := range nodeVersionsTests {
		t.Run("Should read the name and version of every node", func(t *testing.T) {
			ts := buildTestServer(t, []*ServerSetup{tt.setup})
			defer ts.Close()
			es, _ := newTestClient(ts.URL)

			nodes, err := es.nodeVersions(context.Background())
			if !compareErrs(tt.err, err) {
				t.Fatalf("expected error: %v got: %v\n", tt.err, err)
			}
			if !reflect.DeepEqual(nodes, tt.expected) {
				t.Fatalf("wrong nodes returned expected: %v got: %v\n", tt.expected, nodes)
			}
		})
	}
}

var flatSettingsTests = []struct {
	setup    *ServerSetup
	index    string
	expected *reindex.FlatSettings
}{
	{
		&ServerSetup{
			Method:   "GET",
			Path:     "/test",
			Response: `{"test":{"aliases":{},"settings":{"index.number_of_shards":"1"},"mappings":{"properties":{"flag":{"type":"boolean"}}}}}`,
		},
		"test",
		&reindex.FlatSettings{
			Settings: map[string]interface{}{"index.number_of_shards": "1"},
			Mappings: map[string]interface{}{
				"properties": map[string]interface{}{
					"flag": map[string]interface{}{"type": "boolean"},
				},
			},
		},
	},
	{
		&ServerSetup{
			Method:     "GET",
			Path:       "/missing",
			Response:   `{"error":{"type":"index_not_found_exception"},"status":404}`,
			HTTPStatus: http.StatusNotFound,
		},
		"missing",
		nil,
	},
}

func TestFlatSettings(t *testing.T) {
	for _, tt := range flatSettingsTests {
		t.Run("Should return the flat settings or nil for a missing index", func(t *testing.T) {
			ts := buildTestServer(t, []*ServerSetup{tt.setup})
			defer ts.Close()
			es, _ := newTestClient(ts.URL)

			flat, err := es.flatSettings(context.Background(), tt.index)
			if err != nil {
				t.Fatalf("unexpected error: %v\n", err)
			}
			if !reflect.DeepEqual(flat, tt.expected) {
				t.Fatalf("wrong settings returned expected: %v got: %v\n", tt.expected, flat)
			}
		})
	}
}

var createIndexTests = []struct {
	setup    *ServerSetup
	index    string
	expected bool
	err      string
}{
	{
		&ServerSetup{
			Method:   "PUT",
			Path:     "/test_reindexed_1",
			Body:     `{"mappings":{"properties":{"flag":{"type":"boolean"}}},"settings":{"index.number_of_shards":"1"}}`,
			Response: `{"acknowledged": true, "shards_acknowledged": true, "index": "test_reindexed_1"}`,
		},
		"test_reindexed_1",
		true,
		"",
	},
	{
		&ServerSetup{
			Method:   "PUT",
			Path:     "/test_reindexed_1",
			Response: `{"acknowledged": false, "shards_acknowledged": false, "index": "test_reindexed_1"}`,
		},
		"test_reindexed_1",
		false,
		"",
	},
	{
		&ServerSetup{
			Method: "PUT",
			Path:   "/",
		},
		"",
		false,
		"missing index name",
	},
}

func TestCreateIndex(t *testing.T) {
	settings := map[string]interface{}{"index.number_of_shards": "1"}
	mappings := map[string]interface{}{
		"properties": map[string]interface{}{
			"flag": map[string]interface{}{"type": "boolean"},
		},
	}
	for _, tt := range createIndexTests {
		t.Run("Should create the index with settings and mappings", func(t *testing.T) {
			ts := buildTestServer(t, []*ServerSetup{tt.setup})
			defer ts.Close()
			es, _ := newTestClient(ts.URL)

			ack, err := es.createIndex(context.Background(), tt.index, settings, mappings)
			if !compareErrs(tt.err, err) {
				t.Fatalf("expected error: %v got: %v\n", tt.err, err)
			}
			if ack != tt.expected {
				t.Fatalf("expected acknowledged=%t got: %t\n", tt.expected, ack)
			}
		})
	}
}

func TestAliasesOf(t *testing.T) {
	ts := buildTestServer(t, []*ServerSetup{
		{
			Method:   "GET",
			Path:     "/test/_alias",
			Response: `{"test":{"aliases":{"alias1":{},"alias2":{"filter":{"term":{"user":"kimchy"}},"index_routing":"1"}}}}`,
		},
	})
	defer ts.Close()
	es, _ := newTestClient(ts.URL)

	aliases, err := es.aliasesOf(context.Background(), "test")
	if err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	expected := map[string]map[string]interface{}{
		"alias1": {},
		"alias2": {
			"filter":        map[string]interface{}{"term": map[string]interface{}{"user": "kimchy"}},
			"index_routing": "1",
		},
	}
	if !reflect.DeepEqual(aliases, expected) {
		t.Fatalf("wrong aliases returned expected: %v got: %v\n", expected, aliases)
	}
}

func TestUpdateAliases(t *testing.T) {
	ts := buildTestServer(t, []*ServerSetup{
		{
			Method:   "POST",
			Path:     "/_aliases",
			Body:     `{"actions":[{"add":{"alias":"test","index":"test_reindexed_1"}},{"remove_index":{"index":"test"}}]}`,
			Response: `{"acknowledged": true}`,
		},
	})
	defer ts.Close()
	es, _ := newTestClient(ts.URL)

	ack, err := es.updateAliases(context.Background(), []map[string]interface{}{
		{"add": map[string]interface{}{"index": "test_reindexed_1", "alias": "test"}},
		{"remove_index": map[string]interface{}{"index": "test"}},
	})
	if err != nil || !ack {
		t.Fatalf("expected acknowledged alias update, got: %t %v\n", ack, err)
	}
}

func TestStartReindex(t *testing.T) {
	ts := buildTestServer(t, []*ServerSetup{
		{
			Method:   "POST",
			Path:     "/_reindex",
			Response: `{"task":"oTUltX4IQMOUUVeiohTt8A:12345"}`,
		},
	})
	defer ts.Close()
	es, _ := newTestClient(ts.URL)

	taskID, err := es.startReindex(context.Background(), "test", "test_reindexed_1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	if taskID != "oTUltX4IQMOUUVeiohTt8A:12345" {
		t.Fatalf("wrong task id returned: %s\n", taskID)
	}
}

func TestStartReindexWithScript(t *testing.T) {
	ts := buildTestServer(t, []*ServerSetup{
		{
			Method:   "POST",
			Path:     "/_reindex",
			Response: `{"task":"node:7"}`,
		},
	})
	defer ts.Close()
	es, _ := newTestClient(ts.URL)

	script := es7.NewScript("ctx._source.x = 1").Lang("painless")
	taskID, err := es.startReindex(context.Background(), "test", "test_reindexed_1", script)
	if err != nil || taskID != "node:7" {
		t.Fatalf("expected task node:7, got: %s %v\n", taskID, err)
	}
}

var deleteTaskDocTests = []struct {
	setup    *ServerSetup
	expected string
}{
	{
		&ServerSetup{
			Method:   "DELETE",
			Path:     "/.tasks/_doc/node:7",
			Response: `{"_index":".tasks","_id":"node:7","result":"deleted"}`,
		},
		"deleted",
	},
	{
		&ServerSetup{
			Method:     "DELETE",
			Path:       "/.tasks/_doc/node:7",
			Response:   `{"_index":".tasks","_id":"node:7","result":"not_found"}`,
			HTTPStatus: http.StatusNotFound,
		},
		"not_found",
	},
}

func TestDeleteTaskDoc(t *testing.T) {
	for _, tt := range deleteTaskDocTests {
		t.Run("Should return the delete result of the task document", func(t *testing.T) {
			ts := buildTestServer(t, []*ServerSetup{tt.setup})
			defer ts.Close()
			es, _ := newTestClient(ts.URL)

			result, err := es.deleteTaskDoc(context.Background(), "node:7")
			if err != nil {
				t.Fatalf("unexpected error: %v\n", err)
			}
			if result != tt.expected {
				t.Fatalf("expected result %s got: %s\n", tt.expected, result)
			}
		})
	}
}

var securityEnabledTests = []struct {
	setup    *ServerSetup
	expected bool
}{
	{
		&ServerSetup{
			Method:   "GET",
			Path:     "/_xpack",
			Response: `{"features":{"security":{"available":true,"enabled":true}}}`,
		},
		true,
	},
	{
		&ServerSetup{
			Method:   "GET",
			Path:     "/_xpack",
			Response: `{"features":{"security":{"available":true,"enabled":false}}}`,
		},
		false,
	},
	{
		&ServerSetup{
			Method:     "GET",
			Path:       "/_xpack",
			Response:   `{"error":"Incorrect HTTP method for uri [/_xpack]","status":400}`,
			HTTPStatus: http.StatusBadRequest,
		},
		false,
	},
}

func TestSecurityEnabled(t *testing.T) {
	for _, tt := range securityEnabledTests {
		t.Run("Should detect whether security is enabled", func(t *testing.T) {
			ts := buildTestServer(t, []*ServerSetup{tt.setup})
			defer ts.Close()
			es, _ := newTestClient(ts.URL)

			enabled, err := es.securityEnabled(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v\n", err)
			}
			if enabled != tt.expected {
				t.Fatalf("expected %t got: %t\n", tt.expected, enabled)
			}
		})
	}
}

func TestIndexGroupServiceCalls(t *testing.T) {
	ts := buildTestServer(t, []*ServerSetup{
		{Method: "POST", Path: "/_ml/set_upgrade_mode", Response: `{"acknowledged":true}`},
		{Method: "POST", Path: "/_watcher/_stop", Response: `{"acknowledged":true}`},
		{Method: "POST", Path: "/_watcher/_start", Response: `{"acknowledged":false}`},
	})
	defer ts.Close()
	es, _ := newTestClient(ts.URL)
	ctx := context.Background()

	if ack, err := es.setMLUpgradeMode(ctx, true); err != nil || !ack {
		t.Fatalf("expected ML upgrade mode to be acknowledged, got: %t %v\n", ack, err)
	}
	if ack, err := es.stopWatcher(ctx); err != nil || !ack {
		t.Fatalf("expected watcher stop to be acknowledged, got: %t %v\n", ack, err)
	}
	if ack, err := es.startWatcher(ctx); err != nil || ack {
		t.Fatalf("expected watcher start not to be acknowledged, got: %t %v\n", ack, err)
	}
}

func TestHasPrivileges(t *testing.T) {
	ts := buildTestServer(t, []*ServerSetup{
		{
			Method:   "POST",
			Path:     "/_security/user/_has_privileges",
			Body:     `{"cluster":["manage"]}`,
			Response: `{"username":"elastic","has_all_requested":true}`,
		},
	})
	defer ts.Close()
	es, _ := newTestClient(ts.URL)

	ok, err := es.hasPrivileges(context.Background(), map[string]interface{}{"cluster": []string{"manage"}})
	if err != nil || !ok {
		t.Fatalf("expected all privileges, got: %t %v\n", ok, err)
	}
}
