package reindexer

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/appbaseio/upgrade-assistant/errors"
	"github.com/appbaseio/upgrade-assistant/model/reindex"
)

const (
	defaultLockWindow        = 90 * time.Second
	defaultGroupLockAttempts = 10
	defaultGroupLockInterval = time.Second
)

// actions holds the record level operations of the state machine: lock
// handling, record updates and the index group counters.
type actions struct {
	store   operationStore
	cluster clusterService

	lockWindow        time.Duration
	groupLockAttempts int
	groupLockInterval time.Duration
	now               func() time.Time
}

func newActions(store operationStore, cluster clusterService, lockWindow time.Duration) *actions {
	if lockWindow <= 0 {
		lockWindow = defaultLockWindow
	}
	return &actions{
		store:             store,
		cluster:           cluster,
		lockWindow:        lockWindow,
		groupLockAttempts: defaultGroupLockAttempts,
		groupLockInterval: defaultGroupLockInterval,
		now:               time.Now,
	}
}

// isLocked reports whether a lock taken at locked is still within the lock
// window. Older locks are assumed to belong to a process that died.
func (a *actions) isLocked(locked *time.Time) bool {
	if locked == nil {
		return false
	}
	return locked.Add(a.lockWindow).After(a.now())
}

func (a *actions) timestamp() *time.Time {
	t := a.now().UTC()
	return &t
}

func (a *actions) createReindexOp(ctx context.Context, indexName string) (*reindex.Operation, error) {
	op, err := reindex.NewOperation(indexName)
	if err != nil {
		return nil, errors.NewBadRequestError("%v", err)
	}
	return a.store.create(ctx, op)
}

func (a *actions) deleteReindexOp(ctx context.Context, op *reindex.Operation) error {
	return a.store.delete(ctx, op)
}

// updateReindexOp applies mutate to a copy of op and persists it. The
// caller must hold the lock of op; the lock timestamp is refreshed.
func (a *actions) updateReindexOp(ctx context.Context, op *reindex.Operation, mutate func(*reindex.Operation)) (*reindex.Operation, error) {
	if !a.isLocked(op.Locked) {
		return nil, fmt.Errorf("reindex operation must be locked before updating")
	}
	next := op.Clone()
	if mutate != nil {
		mutate(next)
	}
	next.Locked = a.timestamp()
	return a.store.update(ctx, next)
}

func (a *actions) acquireLock(ctx context.Context, op *reindex.Operation) (*reindex.Operation, error) {
	if a.isLocked(op.Locked) {
		return nil, errors.NewLockedError("reindex operation for " + op.IndexName)
	}
	next := op.Clone()
	next.Locked = a.timestamp()
	return a.store.update(ctx, next)
}

func (a *actions) releaseLock(ctx context.Context, op *reindex.Operation) (*reindex.Operation, error) {
	next := op.Clone()
	next.Locked = nil
	return a.store.update(ctx, next)
}

// runWhileLocked locks op, runs fn and releases the lock whatever fn
// returns. fn must return the latest version of the record, even alongside
// an error, so that the release does not conflict.
func (a *actions) runWhileLocked(ctx context.Context, op *reindex.Operation, fn func(*reindex.Operation) (*reindex.Operation, error)) (result *reindex.Operation, err error) {
	locked, err := a.acquireLock(ctx, op)
	if err != nil {
		return op, err
	}

	current := locked
	defer func() {
		released, releaseErr := a.releaseLock(ctx, current)
		if releaseErr != nil {
			log.Errorln(logTag, ": unable to release lock of reindex operation for", current.IndexName, ":", releaseErr)
			if err == nil {
				err = releaseErr
			}
			result = current
			return
		}
		result = released
	}()

	next, err := fn(locked)
	if next != nil {
		current = next
	}
	return current, err
}

func (a *actions) acquireGroupLock(ctx context.Context, counter *reindex.IndexGroupCounter) (*reindex.IndexGroupCounter, error) {
	if a.isLocked(counter.Locked) {
		return nil, errors.NewLockedError(string(counter.Group) + " index group")
	}
	next := counter.Clone()
	next.Locked = a.timestamp()
	return a.store.updateIndexGroup(ctx, next)
}

func (a *actions) updateIndexGroup(ctx context.Context, counter *reindex.IndexGroupCounter, mutate func(*reindex.IndexGroupCounter)) (*reindex.IndexGroupCounter, error) {
	if !a.isLocked(counter.Locked) {
		return nil, fmt.Errorf("index group must be locked before updating")
	}
	next := counter.Clone()
	mutate(next)
	next.Locked = a.timestamp()
	return a.store.updateIndexGroup(ctx, next)
}

// runWhileIndexGroupLocked fetches (or creates) the counter of group, locks
// it and runs fn. Locking is retried groupLockAttempts times.
func (a *actions) runWhileIndexGroupLocked(ctx context.Context, group reindex.IndexGroup, fn func(*reindex.IndexGroupCounter) (*reindex.IndexGroupCounter, error)) (err error) {
	var locked *reindex.IndexGroupCounter
	for attempt := 1; ; attempt++ {
		counter, fetchErr := a.store.indexGroup(ctx, group)
		if fetchErr == nil {
			locked, fetchErr = a.acquireGroupLock(ctx, counter)
		}
		if fetchErr == nil {
			break
		}
		if attempt >= a.groupLockAttempts {
			return fmt.Errorf("could not acquire lock for %s index group: %v", group, fetchErr)
		}
		log.Debugln(logTag, ": retrying lock of", group, "index group:", fetchErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.groupLockInterval):
		}
	}

	current := locked
	defer func() {
		next := current.Clone()
		next.Locked = nil
		if _, releaseErr := a.store.updateIndexGroup(ctx, next); releaseErr != nil {
			log.Errorln(logTag, ": unable to release lock of", group, "index group:", releaseErr)
			if err == nil {
				err = releaseErr
			}
		}
	}()

	next, err := fn(locked)
	if next != nil {
		current = next
	}
	return err
}

func (a *actions) incrementIndexGroupReindexes(ctx context.Context, group reindex.IndexGroup) error {
	return a.runWhileIndexGroupLocked(ctx, group, func(counter *reindex.IndexGroupCounter) (*reindex.IndexGroupCounter, error) {
		return a.updateIndexGroup(ctx, counter, func(c *reindex.IndexGroupCounter) {
			c.RunningReindexCount++
		})
	})
}

func (a *actions) decrementIndexGroupReindexes(ctx context.Context, group reindex.IndexGroup) error {
	return a.runWhileIndexGroupLocked(ctx, group, func(counter *reindex.IndexGroupCounter) (*reindex.IndexGroupCounter, error) {
		return a.updateIndexGroup(ctx, counter, func(c *reindex.IndexGroupCounter) {
			if c.RunningReindexCount > 0 {
				c.RunningReindexCount--
			}
		})
	})
}

// getFlatSettings returns nil when the index does not exist.
func (a *actions) getFlatSettings(ctx context.Context, indexName string) (*reindex.FlatSettings, error) {
	return a.cluster.flatSettings(ctx, indexName)
}

func (a *actions) getBooleanFieldPaths(ctx context.Context, indexName string) ([][]string, error) {
	mappings, err := a.cluster.mappingsOf(ctx, indexName)
	if err != nil {
		return nil, err
	}
	return reindex.BooleanFieldPaths(reindex.SingleMappingType(mappings)), nil
}
