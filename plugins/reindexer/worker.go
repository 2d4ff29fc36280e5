package reindexer

import (
	"context"
	"sync"

	"github.com/robfig/cron"
	log "github.com/sirupsen/logrus"

	"github.com/appbaseio/upgrade-assistant/errors"
	"github.com/appbaseio/upgrade-assistant/model/reindex"
)

const defaultWorkerInterval = "@every 5s"

// worker periodically advances every in-progress operation by one step.
type worker struct {
	service *ReindexService
	job     *cron.Cron
	running sync.Mutex
}

func newWorker(service *ReindexService, spec string) (*worker, error) {
	w := &worker{service: service, job: cron.New()}
	if err := w.job.AddFunc(spec, w.tick); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *worker) start() {
	w.job.Start()
	log.Println(logTag, ": reindex worker started")
}

func (w *worker) stop() {
	w.job.Stop()
}

// ForceRefresh processes the in-progress operations right away instead of
// waiting for the next tick.
func (w *worker) ForceRefresh() {
	go w.tick()
}

func (w *worker) tick() {
	// skip when the previous pass is still running
	if !w.running.TryLock() {
		return
	}
	defer w.running.Unlock()
	w.processAll(context.Background())
}

func (w *worker) processAll(ctx context.Context) {
	ops, err := w.service.FindAllByStatus(ctx, reindex.InProgress)
	if err != nil {
		log.Errorln(logTag, ": unable to list in-progress reindex operations:", err)
		return
	}
	for _, op := range ops {
		next, err := w.service.ProcessNextStep(ctx, op)
		if err != nil {
			if errors.IsLocked(err) || errors.IsConflict(err) {
				log.Debugln(logTag, ": skipping reindex operation for", op.IndexName, ":", err)
				continue
			}
			log.Errorln(logTag, ": error while processing reindex operation for", op.IndexName, ":", err)
			continue
		}
		log.Debugln(logTag, ": reindex operation for", next.IndexName, "at step", next.LastCompletedStep, "status", next.Status)
	}
}
