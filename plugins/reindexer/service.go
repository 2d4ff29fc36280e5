package reindexer

import (
	"context"

	"github.com/appbaseio/upgrade-assistant/model/reindex"
	es7 "github.com/olivere/elastic/v7"
)

// clusterService is the set of cluster calls the reindex state machine needs.
type clusterService interface {
	nodeVersions(ctx context.Context) ([]nodeVersion, error)
	indexExists(ctx context.Context, index string) (bool, error)
	flatSettings(ctx context.Context, index string) (*reindex.FlatSettings, error)
	mappingsOf(ctx context.Context, index string) (map[string]interface{}, error)
	putWriteBlock(ctx context.Context, index string, blocked bool) (bool, error)
	createIndex(ctx context.Context, index string, settings, mappings map[string]interface{}) (bool, error)
	deleteIndex(ctx context.Context, index string) error
	aliasesOf(ctx context.Context, index string) (map[string]map[string]interface{}, error)
	updateAliases(ctx context.Context, actions []map[string]interface{}) (bool, error)
	startReindex(ctx context.Context, source, dest string, script *es7.Script) (string, error)
	getTask(ctx context.Context, taskID string) ([]byte, error)
	cancelTask(ctx context.Context, taskID string) ([]byte, error)
	deleteTaskDoc(ctx context.Context, taskID string) (string, error)
	count(ctx context.Context, index string) (int64, error)
	securityEnabled(ctx context.Context) (bool, error)
	hasPrivileges(ctx context.Context, body map[string]interface{}) (bool, error)
	setMLUpgradeMode(ctx context.Context, enabled bool) (bool, error)
	stopWatcher(ctx context.Context) (bool, error)
	startWatcher(ctx context.Context) (bool, error)
}

// operationStore persists reindex operations and index group counters.
// Updates are optimistic: a record whose Version no longer matches the
// stored one is rejected with a *errors.ConflictError.
type operationStore interface {
	create(ctx context.Context, op *reindex.Operation) (*reindex.Operation, error)
	get(ctx context.Context, id string) (*reindex.Operation, error)
	update(ctx context.Context, op *reindex.Operation) (*reindex.Operation, error)
	delete(ctx context.Context, op *reindex.Operation) error
	findByIndexName(ctx context.Context, indexName string) ([]*reindex.Operation, error)
	findAllByStatus(ctx context.Context, status reindex.Status) ([]*reindex.Operation, error)
	indexGroup(ctx context.Context, group reindex.IndexGroup) (*reindex.IndexGroupCounter, error)
	updateIndexGroup(ctx context.Context, counter *reindex.IndexGroupCounter) (*reindex.IndexGroupCounter, error)
}

type nodeVersion struct {
	Name    string
	Version string
}
