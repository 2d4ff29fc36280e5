package reindexer

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/appbaseio/upgrade-assistant/model/reindex"
	"github.com/appbaseio/upgrade-assistant/util"
)

const (
	minNodeMajor = 6
	minNodeMinor = 7
)

// stopIndexGroupServices registers the operation with its index group and
// pauses the group's service. Indices outside of a group are untouched.
func (s *ReindexService) stopIndexGroupServices(ctx context.Context, op *reindex.Operation) error {
	group, ok := reindex.GroupOf(op.IndexName)
	if !ok {
		return nil
	}
	if err := s.actions.incrementIndexGroupReindexes(ctx, group); err != nil {
		return err
	}
	return s.actions.runWhileIndexGroupLocked(ctx, group, func(counter *reindex.IndexGroupCounter) (*reindex.IndexGroupCounter, error) {
		switch group {
		case reindex.MLGroup:
			return counter, s.stopMLDatafeeds(ctx)
		case reindex.WatcherGroup:
			return counter, s.stopWatcher(ctx)
		}
		return counter, nil
	})
}

// resumeIndexGroupServices unregisters the operation from its index group
// and resumes the group's service once no other operation needs it paused.
func (s *ReindexService) resumeIndexGroupServices(ctx context.Context, op *reindex.Operation) error {
	group, ok := reindex.GroupOf(op.IndexName)
	if !ok {
		return nil
	}
	if err := s.actions.decrementIndexGroupReindexes(ctx, group); err != nil {
		return err
	}
	return s.actions.runWhileIndexGroupLocked(ctx, group, func(counter *reindex.IndexGroupCounter) (*reindex.IndexGroupCounter, error) {
		if counter.RunningReindexCount > 0 {
			log.Println(logTag, ":", counter.RunningReindexCount, "reindex operations still running for", group, "index group")
			return counter, nil
		}
		switch group {
		case reindex.MLGroup:
			return counter, s.startMLDatafeeds(ctx)
		case reindex.WatcherGroup:
			return counter, s.startWatcher(ctx)
		}
		return counter, nil
	})
}

func (s *ReindexService) stopMLDatafeeds(ctx context.Context) error {
	if err := s.validateNodesMinimumVersion(ctx, minNodeMajor, minNodeMinor); err != nil {
		return err
	}
	ack, err := s.cluster.setMLUpgradeMode(ctx, true)
	if err != nil {
		return err
	}
	if !ack {
		return fmt.Errorf("could not stop ML jobs")
	}
	return nil
}

func (s *ReindexService) startMLDatafeeds(ctx context.Context) error {
	if err := s.validateNodesMinimumVersion(ctx, minNodeMajor, minNodeMinor); err != nil {
		return err
	}
	ack, err := s.cluster.setMLUpgradeMode(ctx, false)
	if err != nil {
		return err
	}
	if !ack {
		return fmt.Errorf("could not resume ML jobs")
	}
	return nil
}

func (s *ReindexService) stopWatcher(ctx context.Context) error {
	ack, err := s.cluster.stopWatcher(ctx)
	if err != nil {
		return err
	}
	if !ack {
		return fmt.Errorf("could not stop watcher")
	}
	return nil
}

func (s *ReindexService) startWatcher(ctx context.Context) error {
	ack, err := s.cluster.startWatcher(ctx)
	if err != nil {
		return err
	}
	if !ack {
		return fmt.Errorf("could not start watcher")
	}
	return nil
}

// validateNodesMinimumVersion fails unless every node runs at least
// major.minor. Patch versions are ignored.
func (s *ReindexService) validateNodesMinimumVersion(ctx context.Context, major, minor int) error {
	nodes, err := s.cluster.nodeVersions(ctx)
	if err != nil {
		return err
	}
	var outdated []string
	for _, node := range nodes {
		ok, err := util.AtLeastMajorMinor(node.Version, major, minor)
		if err != nil {
			return err
		}
		if !ok {
			outdated = append(outdated, node.Name)
		}
	}
	if len(outdated) > 0 {
		return fmt.Errorf("some nodes are not on minimum version (%d.%d.0) required: %s",
			major, minor, strings.Join(outdated, ", "))
	}
	return nil
}
