package reindexer

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/appbaseio/upgrade-assistant/plugins"
	"github.com/appbaseio/upgrade-assistant/util"
)

const (
	logTag = "[reindexer]"

	envStore          = "REINDEX_STORE"
	envOpsIndex       = "REINDEX_OPS_ES_INDEX"
	envSQLitePath     = "REINDEX_SQLITE_PATH"
	envWorkerInterval = "REINDEX_WORKER_INTERVAL"
	envLockWindow     = "REINDEX_LOCK_WINDOW"

	defaultOpsIndex   = ".reindex-operations"
	defaultSQLitePath = "reindex.db"
)

var (
	singleton *reindexer
	once      sync.Once
)

type reindexer struct {
	service *ReindexService
	worker  *worker
}

// Instance returns the singleton of the reindexer plugin. Use only this
// function to fetch the instance from within this package to avoid
// creating stateless duplicates of the plugin.
func Instance() *reindexer {
	once.Do(func() { singleton = &reindexer{} })
	return singleton
}

// Name returns the name of the plugin: [reindexer]
func (rx *reindexer) Name() string {
	return logTag
}

// InitFunc connects to the cluster, opens the operation store and starts
// the background worker.
func (rx *reindexer) InitFunc() error {
	ctx := context.Background()

	client, err := util.GetClient7()
	if err != nil {
		return err
	}

	var store operationStore
	switch backend := util.GetEnv(envStore, "elasticsearch"); backend {
	case "elasticsearch":
		store, err = newESStore(ctx, client, util.GetEnv(envOpsIndex, defaultOpsIndex))
	case "sqlite":
		store, err = newSQLiteStore(util.GetEnv(envSQLitePath, defaultSQLitePath))
	default:
		err = fmt.Errorf("unknown %s %q, expected elasticsearch or sqlite", envStore, backend)
	}
	if err != nil {
		return err
	}

	lockWindow, err := util.GetEnvDuration(envLockWindow, defaultLockWindow)
	if err != nil {
		return fmt.Errorf("invalid %s: %v", envLockWindow, err)
	}
	rx.service, err = newReindexService(newCluster(client), store, lockWindow)
	if err != nil {
		return err
	}

	rx.worker, err = newWorker(rx.service, util.GetEnv(envWorkerInterval, defaultWorkerInterval))
	if err != nil {
		return fmt.Errorf("invalid %s: %v", envWorkerInterval, err)
	}
	rx.worker.start()

	log.Println(logTag, ": initialized with", util.GetEnv(envStore, "elasticsearch"), "store")
	return nil
}

// Routes returns the reindex operator routes.
func (rx *reindexer) Routes() []plugins.Route {
	return rx.routes()
}
