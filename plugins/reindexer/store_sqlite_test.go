package reindexer

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/appbaseio/upgrade-assistant/errors"
	"github.com/appbaseio/upgrade-assistant/model/reindex"
)

func TestSQLiteStore(t *testing.T) {
	Convey("Given an empty sqlite store", t, func() {
		store := newTestStore(t)
		ctx := context.Background()

		op, err := reindex.NewOperation("twitter")
		So(err, ShouldBeNil)

		Convey("A created operation gets an id and a version", func() {
			created, err := store.create(ctx, op)
			So(err, ShouldBeNil)
			So(created.ID, ShouldNotBeEmpty)
			So(created.Version, ShouldEqual, "1")

			fetched, err := store.get(ctx, created.ID)
			So(err, ShouldBeNil)
			So(fetched.IndexName, ShouldEqual, "twitter")
			So(fetched.NewIndexName, ShouldEqual, "twitter_reindexed_1")
			So(fetched.Version, ShouldEqual, "1")
		})

		Convey("Fetching an unknown id is not found", func() {
			_, err := store.get(ctx, "nope")
			So(errors.IsNotFound(err), ShouldBeTrue)
		})

		Convey("Updating bumps the version and rejects stale copies", func() {
			created, err := store.create(ctx, op)
			So(err, ShouldBeNil)

			created.Status = reindex.Paused
			updated, err := store.update(ctx, created)
			So(err, ShouldBeNil)
			So(updated.Version, ShouldEqual, "2")

			_, err = store.update(ctx, created)
			So(errors.IsConflict(err), ShouldBeTrue)

			paused, err := store.findAllByStatus(ctx, reindex.Paused)
			So(err, ShouldBeNil)
			So(len(paused), ShouldEqual, 1)
			inProgress, err := store.findAllByStatus(ctx, reindex.InProgress)
			So(err, ShouldBeNil)
			So(inProgress, ShouldBeEmpty)
		})

		Convey("Operations are found by index name and deleted", func() {
			created, err := store.create(ctx, op)
			So(err, ShouldBeNil)
			other, err := reindex.NewOperation("logs")
			So(err, ShouldBeNil)
			_, err = store.create(ctx, other)
			So(err, ShouldBeNil)

			found, err := store.findByIndexName(ctx, "twitter")
			So(err, ShouldBeNil)
			So(len(found), ShouldEqual, 1)
			So(found[0].ID, ShouldEqual, created.ID)

			So(store.delete(ctx, created), ShouldBeNil)
			found, err = store.findByIndexName(ctx, "twitter")
			So(err, ShouldBeNil)
			So(found, ShouldBeEmpty)
		})

		Convey("Index groups are created once and versioned", func() {
			counter, err := store.indexGroup(ctx, reindex.MLGroup)
			So(err, ShouldBeNil)
			So(counter.RunningReindexCount, ShouldEqual, 0)
			So(counter.Version, ShouldEqual, "1")

			counter.RunningReindexCount = 2
			updated, err := store.updateIndexGroup(ctx, counter)
			So(err, ShouldBeNil)
			So(updated.Version, ShouldEqual, "2")

			again, err := store.indexGroup(ctx, reindex.MLGroup)
			So(err, ShouldBeNil)
			So(again.RunningReindexCount, ShouldEqual, 2)
			So(again.Version, ShouldEqual, "2")

			_, err = store.updateIndexGroup(ctx, counter)
			So(errors.IsConflict(err), ShouldBeTrue)
		})
	})
}
