package reindexer

import (
	"context"
	"fmt"
	"sync"

	es7 "github.com/olivere/elastic/v7"

	"github.com/appbaseio/upgrade-assistant/model/reindex"
)

// mockCluster is an in-memory clusterService. Every call is recorded; calls
// listed in failures return that error and calls listed in nack are not
// acknowledged.
type mockCluster struct {
	mu sync.Mutex

	calls    []string
	failures map[string]error
	nack     map[string]bool

	versions       []nodeVersion
	indices        map[string]bool
	flat           *reindex.FlatSettings
	aliases        map[string]map[string]interface{}
	task           []byte
	docCount       int64
	deleteResult   string
	cancelResponse []byte
	security       bool
	privileged     bool

	script         *es7.Script
	aliasActions   []map[string]interface{}
	privilegesBody map[string]interface{}
	createdIndex   map[string]interface{}
}

func newMockCluster() *mockCluster {
	return &mockCluster{
		failures: map[string]error{},
		nack:     map[string]bool{},
		versions: []nodeVersion{{"node-1", "6.7.0"}, {"node-2", "6.7.2"}},
		indices:  map[string]bool{"test": true, ".ml-state": true, ".watches": true},
		flat: &reindex.FlatSettings{
			Settings: map[string]interface{}{
				"index.number_of_shards": "1",
				"index.uuid":             "hqhO4oiCReawwtOqFHaVLA",
				"index.blocks.write":     "true",
			},
			Mappings: map[string]interface{}{
				"_doc": map[string]interface{}{
					"properties": map[string]interface{}{
						"enabled": map[string]interface{}{"type": "boolean"},
						"title":   map[string]interface{}{"type": "text"},
					},
				},
			},
		},
		aliases:        map[string]map[string]interface{}{},
		task:           []byte(`{"completed":true,"task":{"status":{"total":10,"created":10}}}`),
		docCount:       10,
		deleteResult:   "deleted",
		cancelResponse: []byte(`{"nodes":{}}`),
		privileged:     true,
	}
}

func (m *mockCluster) record(call string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return m.failures[call]
}

func (m *mockCluster) acked(call string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.nack[call]
}

func (m *mockCluster) recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.calls...)
}

func (m *mockCluster) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *mockCluster) nodeVersions(ctx context.Context) ([]nodeVersion, error) {
	if err := m.record("nodeVersions"); err != nil {
		return nil, err
	}
	return m.versions, nil
}

func (m *mockCluster) indexExists(ctx context.Context, index string) (bool, error) {
	if err := m.record("indexExists"); err != nil {
		return false, err
	}
	return m.indices[index], nil
}

func (m *mockCluster) flatSettings(ctx context.Context, index string) (*reindex.FlatSettings, error) {
	if err := m.record("flatSettings"); err != nil {
		return nil, err
	}
	if !m.indices[index] {
		return nil, nil
	}
	return m.flat, nil
}

func (m *mockCluster) mappingsOf(ctx context.Context, index string) (map[string]interface{}, error) {
	if err := m.record("mappingsOf"); err != nil {
		return nil, err
	}
	return m.flat.Mappings, nil
}

func (m *mockCluster) putWriteBlock(ctx context.Context, index string, blocked bool) (bool, error) {
	call := fmt.Sprintf("putWriteBlock(%s,%t)", index, blocked)
	if err := m.record(call); err != nil {
		return false, err
	}
	return m.acked("putWriteBlock"), nil
}

func (m *mockCluster) createIndex(ctx context.Context, index string, settings, mappings map[string]interface{}) (bool, error) {
	if err := m.record("createIndex(" + index + ")"); err != nil {
		return false, err
	}
	m.mu.Lock()
	m.createdIndex = map[string]interface{}{"settings": settings, "mappings": mappings}
	m.mu.Unlock()
	return m.acked("createIndex"), nil
}

func (m *mockCluster) deleteIndex(ctx context.Context, index string) error {
	return m.record("deleteIndex(" + index + ")")
}

func (m *mockCluster) aliasesOf(ctx context.Context, index string) (map[string]map[string]interface{}, error) {
	if err := m.record("aliasesOf"); err != nil {
		return nil, err
	}
	return m.aliases, nil
}

func (m *mockCluster) updateAliases(ctx context.Context, actions []map[string]interface{}) (bool, error) {
	if err := m.record("updateAliases"); err != nil {
		return false, err
	}
	m.mu.Lock()
	m.aliasActions = actions
	m.mu.Unlock()
	return m.acked("updateAliases"), nil
}

func (m *mockCluster) startReindex(ctx context.Context, source, dest string, script *es7.Script) (string, error) {
	if err := m.record("startReindex(" + source + "," + dest + ")"); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.script = script
	m.mu.Unlock()
	return "node-1:42", nil
}

func (m *mockCluster) getTask(ctx context.Context, taskID string) ([]byte, error) {
	if err := m.record("getTask(" + taskID + ")"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.task, nil
}

func (m *mockCluster) cancelTask(ctx context.Context, taskID string) ([]byte, error) {
	if err := m.record("cancelTask(" + taskID + ")"); err != nil {
		return nil, err
	}
	return m.cancelResponse, nil
}

func (m *mockCluster) deleteTaskDoc(ctx context.Context, taskID string) (string, error) {
	if err := m.record("deleteTaskDoc(" + taskID + ")"); err != nil {
		return "", err
	}
	return m.deleteResult, nil
}

func (m *mockCluster) count(ctx context.Context, index string) (int64, error) {
	if err := m.record("count(" + index + ")"); err != nil {
		return 0, err
	}
	return m.docCount, nil
}

func (m *mockCluster) securityEnabled(ctx context.Context) (bool, error) {
	if err := m.record("securityEnabled"); err != nil {
		return false, err
	}
	return m.security, nil
}

func (m *mockCluster) hasPrivileges(ctx context.Context, body map[string]interface{}) (bool, error) {
	if err := m.record("hasPrivileges"); err != nil {
		return false, err
	}
	m.mu.Lock()
	m.privilegesBody = body
	m.mu.Unlock()
	return m.privileged, nil
}

func (m *mockCluster) setMLUpgradeMode(ctx context.Context, enabled bool) (bool, error) {
	if err := m.record(fmt.Sprintf("setMLUpgradeMode(%t)", enabled)); err != nil {
		return false, err
	}
	return m.acked("setMLUpgradeMode"), nil
}

func (m *mockCluster) stopWatcher(ctx context.Context) (bool, error) {
	if err := m.record("stopWatcher"); err != nil {
		return false, err
	}
	return m.acked("stopWatcher"), nil
}

func (m *mockCluster) startWatcher(ctx context.Context) (bool, error) {
	if err := m.record("startWatcher"); err != nil {
		return false, err
	}
	return m.acked("startWatcher"), nil
}
