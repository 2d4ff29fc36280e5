package reindexer

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/buger/jsonparser"
	es7 "github.com/olivere/elastic/v7"
	log "github.com/sirupsen/logrus"

	"github.com/appbaseio/upgrade-assistant/errors"
	"github.com/appbaseio/upgrade-assistant/model/reindex"
)

const canceledByUser = "by user request"

// ReindexService drives reindex operations through their steps and serves
// the operator commands.
type ReindexService struct {
	actions  *actions
	cluster  clusterService
	settings reindex.SettingsPolicy
	coercion reindex.FieldCoercion
}

func newReindexService(cluster clusterService, store operationStore, lockWindow time.Duration) (*ReindexService, error) {
	if cluster == nil {
		return nil, errors.ErrNilCluster
	}
	if store == nil {
		return nil, errors.ErrNilStore
	}
	return &ReindexService{
		actions:  newActions(store, cluster, lockWindow),
		cluster:  cluster,
		settings: reindex.DefaultSettingsPolicy{},
		coercion: reindex.PainlessBooleanCoercion{},
	}, nil
}

// ProcessNextStep performs exactly one step transition of op while holding
// its lock. A failing step marks the operation failed and its changes are
// rolled back; the returned error is then nil.
func (s *ReindexService) ProcessNextStep(ctx context.Context, op *reindex.Operation) (*reindex.Operation, error) {
	return s.actions.runWhileLocked(ctx, op, func(locked *reindex.Operation) (*reindex.Operation, error) {
		next, err := s.runStep(ctx, locked)
		if next == nil {
			next = locked
		}
		if err == nil {
			return next, nil
		}

		log.Errorln(logTag, ": reindex step", next.LastCompletedStep, "failed for", next.IndexName, ":", err)
		failed, updateErr := s.markFailed(ctx, next, err)
		if updateErr != nil {
			return next, updateErr
		}
		cleaned, cleanupErr := s.cleanupChanges(ctx, failed)
		if cleanupErr != nil {
			log.Warnln(logTag, ": unable to clean up after failed reindex of", failed.IndexName, ":", cleanupErr)
			return failed, nil
		}
		return cleaned, nil
	})
}

func (s *ReindexService) markFailed(ctx context.Context, op *reindex.Operation, cause error) (*reindex.Operation, error) {
	mutate := func(o *reindex.Operation) {
		o.Status = reindex.Failed
		o.ErrorMessage = cause.Error()
	}
	failed, err := s.actions.updateReindexOp(ctx, op, mutate)
	if err != nil && errors.IsConflict(err) {
		// the step may have persisted a newer version before failing
		latest, getErr := s.actions.store.get(ctx, op.ID)
		if getErr != nil {
			return nil, err
		}
		return s.actions.updateReindexOp(ctx, latest, mutate)
	}
	return failed, err
}

func (s *ReindexService) runStep(ctx context.Context, op *reindex.Operation) (next *reindex.Operation, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorln(logTag, ": recovered from panic while processing", op.IndexName, ":", r, "\n", string(debug.Stack()))
			next, err = op, fmt.Errorf("%v", r)
		}
	}()

	if op.Status != reindex.InProgress {
		return op, nil
	}
	switch op.LastCompletedStep {
	case reindex.Created:
		return s.stopServices(ctx, op)
	case reindex.IndexGroupServicesStopped:
		return s.setReadonly(ctx, op)
	case reindex.Readonly:
		return s.createNewIndex(ctx, op)
	case reindex.NewIndexCreated:
		return s.startReindexing(ctx, op)
	case reindex.ReindexStarted:
		return s.updateReindexStatus(ctx, op)
	case reindex.ReindexCompleted:
		return s.switchAlias(ctx, op)
	case reindex.AliasCreated:
		return s.resumeServices(ctx, op)
	case reindex.IndexGroupServicesStarted:
		return s.actions.updateReindexOp(ctx, op, func(o *reindex.Operation) {
			o.Status = reindex.Completed
		})
	}
	return op, nil
}

func (s *ReindexService) stopServices(ctx context.Context, op *reindex.Operation) (*reindex.Operation, error) {
	if err := s.stopIndexGroupServices(ctx, op); err != nil {
		return op, err
	}
	return s.actions.updateReindexOp(ctx, op, func(o *reindex.Operation) {
		o.LastCompletedStep = reindex.IndexGroupServicesStopped
	})
}

func (s *ReindexService) setReadonly(ctx context.Context, op *reindex.Operation) (*reindex.Operation, error) {
	ack, err := s.cluster.putWriteBlock(ctx, op.IndexName, true)
	if err != nil {
		return op, err
	}
	if !ack {
		return op, fmt.Errorf("index could not be set to readonly")
	}
	return s.actions.updateReindexOp(ctx, op, func(o *reindex.Operation) {
		o.LastCompletedStep = reindex.Readonly
	})
}

func (s *ReindexService) createNewIndex(ctx context.Context, op *reindex.Operation) (*reindex.Operation, error) {
	flat, err := s.actions.getFlatSettings(ctx, op.IndexName)
	if err != nil {
		return op, err
	}
	if flat == nil {
		return op, errors.NewNotFoundError("index %s does not exist in this cluster", op.IndexName)
	}
	settings, mappings := s.settings.Transform(flat)
	ack, err := s.cluster.createIndex(ctx, op.NewIndexName, settings, mappings)
	if err != nil {
		return op, err
	}
	if !ack {
		return op, fmt.Errorf("index could not be created: %s", op.NewIndexName)
	}
	return s.actions.updateReindexOp(ctx, op, func(o *reindex.Operation) {
		o.LastCompletedStep = reindex.NewIndexCreated
	})
}

func (s *ReindexService) startReindexing(ctx context.Context, op *reindex.Operation) (*reindex.Operation, error) {
	paths, err := s.actions.getBooleanFieldPaths(ctx, op.IndexName)
	if err != nil {
		return op, err
	}
	var script *es7.Script
	if s.coercion != nil {
		script = s.coercion.Script(paths)
	}
	taskID, err := s.cluster.startReindex(ctx, op.IndexName, op.NewIndexName, script)
	if err != nil {
		return op, err
	}
	return s.actions.updateReindexOp(ctx, op, func(o *reindex.Operation) {
		o.LastCompletedStep = reindex.ReindexStarted
		o.ReindexTaskID = taskID
		o.ReindexTaskPercComplete = 0
	})
}

// updateReindexStatus polls the reindex task. Until it completes only the
// progress is recorded.
func (s *ReindexService) updateReindexStatus(ctx context.Context, op *reindex.Operation) (*reindex.Operation, error) {
	taskID := op.ReindexTaskID
	task, err := s.cluster.getTask(ctx, taskID)
	if err != nil {
		return op, err
	}

	completed, _ := jsonparser.GetBoolean(task, "completed")
	created, _ := jsonparser.GetInt(task, "task", "status", "created")
	if !completed {
		total, _ := jsonparser.GetInt(task, "task", "status", "total")
		perc := 0.0
		if total > 0 {
			perc = float64(created) / float64(total)
		}
		return s.actions.updateReindexOp(ctx, op, func(o *reindex.Operation) {
			o.ReindexTaskPercComplete = perc
		})
	}

	canceled, _ := jsonparser.GetString(task, "task", "status", "canceled")
	if canceled == canceledByUser {
		op, err = s.actions.updateReindexOp(ctx, op, func(o *reindex.Operation) {
			o.Status = reindex.Cancelled
		})
		if err != nil {
			return nil, err
		}
		if op, err = s.cleanupChanges(ctx, op); err != nil {
			return op, err
		}
	} else {
		count, err := s.cluster.count(ctx, op.IndexName)
		if err != nil {
			return op, err
		}
		if created < count {
			return op, fmt.Errorf("reindexing failed: %s", string(task))
		}
		op, err = s.actions.updateReindexOp(ctx, op, func(o *reindex.Operation) {
			o.LastCompletedStep = reindex.ReindexCompleted
			o.ReindexTaskPercComplete = 1
		})
		if err != nil {
			return nil, err
		}
	}

	result, err := s.cluster.deleteTaskDoc(ctx, taskID)
	if op.Status == reindex.Cancelled {
		// the operation is already cancelled and cleaned up
		if err != nil || result != "deleted" {
			log.Warnln(logTag, ": unable to delete reindexing task", taskID, "of cancelled", op.IndexName, ":", err)
		}
		return op, nil
	}
	if err != nil {
		return op, err
	}
	if result != "deleted" {
		return op, fmt.Errorf("could not delete reindexing task %s", taskID)
	}
	return op, nil
}

// switchAlias points an alias named after the old index to the new index
// and removes the old index in one atomic request. Existing aliases move
// over with their attributes.
func (s *ReindexService) switchAlias(ctx context.Context, op *reindex.Operation) (*reindex.Operation, error) {
	aliases, err := s.cluster.aliasesOf(ctx, op.IndexName)
	if err != nil {
		return op, err
	}
	actions := []map[string]interface{}{
		{"add": map[string]interface{}{"index": op.NewIndexName, "alias": op.IndexName}},
		{"remove_index": map[string]interface{}{"index": op.IndexName}},
	}
	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		add := map[string]interface{}{}
		for k, v := range aliases[name] {
			add[k] = v
		}
		add["index"] = op.NewIndexName
		add["alias"] = name
		actions = append(actions, map[string]interface{}{"add": add})
	}

	ack, err := s.cluster.updateAliases(ctx, actions)
	if err != nil {
		return op, err
	}
	if !ack {
		return op, fmt.Errorf("index aliases could not be created")
	}
	return s.actions.updateReindexOp(ctx, op, func(o *reindex.Operation) {
		o.LastCompletedStep = reindex.AliasCreated
	})
}

// resumeServices resumes the index group services. The step only advances
// while the operation is still in progress since cleanups reuse it.
func (s *ReindexService) resumeServices(ctx context.Context, op *reindex.Operation) (*reindex.Operation, error) {
	if err := s.resumeIndexGroupServices(ctx, op); err != nil {
		return op, err
	}
	if op.Status != reindex.InProgress {
		return op, nil
	}
	return s.actions.updateReindexOp(ctx, op, func(o *reindex.Operation) {
		o.LastCompletedStep = reindex.IndexGroupServicesStarted
	})
}

// cleanupChanges reverts the cluster changes made by the steps op completed.
func (s *ReindexService) cleanupChanges(ctx context.Context, op *reindex.Operation) (*reindex.Operation, error) {
	step := op.LastCompletedStep

	if step == reindex.ReindexStarted {
		if _, err := s.cluster.cancelTask(ctx, op.ReindexTaskID); err != nil {
			log.Debugln(logTag, ": ignoring task cancel error for", op.ReindexTaskID, ":", err)
		}
	}
	if step >= reindex.Readonly {
		if _, err := s.cluster.putWriteBlock(ctx, op.IndexName, false); err != nil {
			return op, err
		}
	}
	if step >= reindex.NewIndexCreated && step < reindex.AliasCreated {
		if err := s.cluster.deleteIndex(ctx, op.NewIndexName); err != nil && !es7.IsNotFound(err) {
			return op, err
		}
	}
	if step >= reindex.IndexGroupServicesStopped {
		return s.resumeServices(ctx, op)
	}
	return op, nil
}

// HasRequiredPrivileges reports whether the current user may reindex
// indexName. Clusters without security always pass.
func (s *ReindexService) HasRequiredPrivileges(ctx context.Context, indexName string) (bool, error) {
	enabled, err := s.cluster.securityEnabled(ctx)
	if err != nil {
		return false, err
	}
	if !enabled {
		return true, nil
	}

	newIndexName, err := reindex.NewIndexName(indexName)
	if err != nil {
		return false, errors.NewBadRequestError("%v", err)
	}
	names := []string{indexName, newIndexName}
	if source := reindex.SourceNameForIndex(indexName); source != indexName {
		names = append(names, source)
	}

	cluster := []string{"manage"}
	if group, ok := reindex.GroupOf(indexName); ok {
		switch group {
		case reindex.MLGroup:
			cluster = append(cluster, "manage_ml")
		case reindex.WatcherGroup:
			cluster = append(cluster, "manage_watcher")
		}
	}
	body := map[string]interface{}{
		"cluster": cluster,
		"index": []map[string]interface{}{
			{
				"names":                    names,
				"allow_restricted_indices": true,
				"privileges":               []string{"all"},
			},
			{
				"names":      []string{".tasks"},
				"privileges": []string{"read", "delete"},
			},
		},
	}
	return s.cluster.hasPrivileges(ctx, body)
}

// DetectReindexWarnings returns nil when the index does not exist.
func (s *ReindexService) DetectReindexWarnings(ctx context.Context, indexName string) ([]reindex.Warning, error) {
	flat, err := s.actions.getFlatSettings(ctx, indexName)
	if err != nil {
		return nil, err
	}
	if flat == nil {
		return nil, nil
	}
	return s.settings.Warnings(flat), nil
}

// CreateReindexOperation starts tracking a new operation for indexName.
// Failed or cancelled operations of the index are discarded first.
func (s *ReindexService) CreateReindexOperation(ctx context.Context, indexName string) (*reindex.Operation, error) {
	exists, err := s.cluster.indexExists(ctx, indexName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.NewNotFoundError("index %s does not exist in this cluster", indexName)
	}

	// TODO: find-then-create is not atomic; a unique index_name constraint in
	// the stores would reject a concurrent second create.
	existing, err := s.actions.store.findByIndexName(ctx, indexName)
	if err != nil {
		return nil, err
	}
	for _, op := range existing {
		if op.IsActive() {
			return nil, errors.NewConflictError("a reindex operation already in-progress for %s", indexName)
		}
	}
	for _, op := range existing {
		if err := s.actions.deleteReindexOp(ctx, op); err != nil {
			return nil, err
		}
	}
	return s.actions.createReindexOp(ctx, indexName)
}

// FindReindexOperation returns nil when no operation exists for indexName.
func (s *ReindexService) FindReindexOperation(ctx context.Context, indexName string) (*reindex.Operation, error) {
	ops, err := s.actions.store.findByIndexName(ctx, indexName)
	if err != nil {
		return nil, err
	}
	switch len(ops) {
	case 0:
		return nil, nil
	case 1:
		return ops[0], nil
	}
	return nil, errors.NewConflictError("more than one reindex operation found for %s", indexName)
}

// FindAllByStatus lists every operation with the given status.
func (s *ReindexService) FindAllByStatus(ctx context.Context, status reindex.Status) ([]*reindex.Operation, error) {
	return s.actions.store.findAllByStatus(ctx, status)
}

// PauseReindexOperation is a no-op for an already paused operation.
func (s *ReindexService) PauseReindexOperation(ctx context.Context, indexName string) (*reindex.Operation, error) {
	op, err := s.FindReindexOperation(ctx, indexName)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, errors.NewNotFoundError("no reindex operation found for index %s", indexName)
	}
	return s.actions.runWhileLocked(ctx, op, func(locked *reindex.Operation) (*reindex.Operation, error) {
		switch locked.Status {
		case reindex.Paused:
			return locked, nil
		case reindex.InProgress:
			return s.actions.updateReindexOp(ctx, locked, func(o *reindex.Operation) {
				o.Status = reindex.Paused
			})
		}
		return locked, errors.NewBadRequestError("reindex operation must be inProgress in order to be paused")
	})
}

// ResumeReindexOperation moves a paused operation back in progress. It is a
// no-op for an operation already in progress.
func (s *ReindexService) ResumeReindexOperation(ctx context.Context, indexName string) (*reindex.Operation, error) {
	op, err := s.FindReindexOperation(ctx, indexName)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, errors.NewNotFoundError("no reindex operation found for index %s", indexName)
	}
	return s.actions.runWhileLocked(ctx, op, func(locked *reindex.Operation) (*reindex.Operation, error) {
		switch locked.Status {
		case reindex.InProgress:
			return locked, nil
		case reindex.Paused:
			return s.actions.updateReindexOp(ctx, locked, func(o *reindex.Operation) {
				o.Status = reindex.InProgress
			})
		}
		return locked, errors.NewBadRequestError("reindex operation must be paused in order to be resumed")
	})
}

// CancelReindexing asks the cluster to cancel the running reindex task. The
// operation itself turns cancelled on the next status poll.
func (s *ReindexService) CancelReindexing(ctx context.Context, indexName string) (*reindex.Operation, error) {
	op, err := s.FindReindexOperation(ctx, indexName)
	if err != nil {
		return nil, err
	}
	switch {
	case op == nil:
		return nil, errors.NewNotFoundError("no reindex operation found for index %s", indexName)
	case op.Status != reindex.InProgress:
		return nil, errors.NewBadRequestError("reindex operation is not in progress")
	case op.LastCompletedStep != reindex.ReindexStarted:
		return nil, errors.NewBadRequestError("reindex operation is not currently waiting for reindex task to complete")
	}

	response, err := s.cluster.cancelTask(ctx, op.ReindexTaskID)
	if err != nil {
		return nil, err
	}
	failures := 0
	_, _ = jsonparser.ArrayEach(response, func(_ []byte, _ jsonparser.ValueType, _ int, _ error) {
		failures++
	}, "node_failures")
	if failures > 0 {
		return nil, fmt.Errorf("could not cancel reindex")
	}
	return op, nil
}
