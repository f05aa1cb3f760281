package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/stopodds/internal/adapters/registry"
	"github.com/okian/stopodds/internal/adapters/repository"
	"github.com/okian/stopodds/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var epoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func run(id string, kind model.RunKind, at time.Duration) *model.ModelRun {
	typ := model.ModelPoisson
	if kind == model.RunEngagement {
		typ = model.ModelGBT
	}
	return &model.ModelRun{ID: id, Kind: kind, Type: typ, CreatedAt: epoch.Add(at), TrainRows: 600}
}

func cells(n int) []model.GroupCell {
	out := make([]model.GroupCell, n)
	for i := range out {
		out[i] = model.GroupCell{Key: model.GroupKey{Trait: model.TraitGender, Value: "Male"}, NPeople: 50 + i}
	}
	return out
}

func TestRegistryPublish(t *testing.T) {
	Convey("Given a registry over a memory store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore(ctx)
		Reset(func() { _ = store.Close() })
		reg := registry.New(store, store)

		Convey("When nothing has been published", func() {
			snap := reg.Current()

			Convey("Then the snapshot should be empty", func() {
				So(snap, ShouldNotBeNil)
				So(snap.Primary, ShouldBeNil)
				So(snap.Engagement, ShouldBeNil)
				So(snap.Cells, ShouldBeEmpty)
			})
		})

		Convey("When a primary run is recorded and published", func() {
			So(reg.Record(ctx, run("run-1", model.RunPrimary, 0), cells(2)), ShouldBeNil)
			before := reg.Current()
			published, err := reg.Publish(ctx, "run-1")

			Convey("Then the snapshot should carry the run and its cells", func() {
				So(err, ShouldBeNil)
				So(published.Published, ShouldBeTrue)
				snap := reg.Current()
				So(snap.Primary.ID, ShouldEqual, "run-1")
				So(snap.Cells, ShouldHaveLength, 2)
			})

			Convey("Then a snapshot taken earlier should be unchanged", func() {
				So(before.Primary, ShouldBeNil)
			})

			Convey("Then the pointer should be persisted", func() {
				id, err := store.Current(ctx, model.RunPrimary)
				So(err, ShouldBeNil)
				So(id, ShouldEqual, "run-1")
			})

			Convey("Then an engagement publish should keep the primary run", func() {
				So(reg.Record(ctx, run("eng-1", model.RunEngagement, time.Hour), nil), ShouldBeNil)
				_, err := reg.Publish(ctx, "eng-1")
				So(err, ShouldBeNil)
				snap := reg.Current()
				So(snap.Primary.ID, ShouldEqual, "run-1")
				So(snap.Engagement.ID, ShouldEqual, "eng-1")
				So(snap.Cells, ShouldHaveLength, 2)
			})

			Convey("Then publishing an older run should roll back", func() {
				So(reg.Record(ctx, run("run-2", model.RunPrimary, time.Hour), cells(3)), ShouldBeNil)
				_, err := reg.Publish(ctx, "run-2")
				So(err, ShouldBeNil)
				So(reg.Current().Cells, ShouldHaveLength, 3)

				_, err = reg.Publish(ctx, "run-1")
				So(err, ShouldBeNil)
				So(reg.Current().Primary.ID, ShouldEqual, "run-1")
				So(reg.Current().Cells, ShouldHaveLength, 2)
			})

			Convey("Then listing should mark only the published run", func() {
				So(reg.Record(ctx, run("run-2", model.RunPrimary, time.Hour), nil), ShouldBeNil)
				runs, err := reg.List(ctx, model.RunPrimary, 10)
				So(err, ShouldBeNil)
				So(runs, ShouldHaveLength, 2)
				So(runs[0].ID, ShouldEqual, "run-2")
				So(runs[0].Published, ShouldBeFalse)
				So(runs[1].Published, ShouldBeTrue)

				got, err := reg.Get(ctx, "run-1")
				So(err, ShouldBeNil)
				So(got.Published, ShouldBeTrue)
			})
		})

		Convey("When publishing an unknown id", func() {
			_, err := reg.Publish(ctx, "missing")

			Convey("Then it should fail and leave the snapshot alone", func() {
				So(errors.Is(err, registry.ErrUnknownRun), ShouldBeTrue)
				So(reg.Current().Primary, ShouldBeNil)
			})
		})

		Convey("When recording an invalid run", func() {
			So(errors.Is(reg.Record(ctx, nil, nil), registry.ErrInvalidRun), ShouldBeTrue)
			So(errors.Is(reg.Record(ctx, &model.ModelRun{ID: "x", Kind: "shadow"}, nil), registry.ErrInvalidRun), ShouldBeTrue)
		})

		Convey("When a suppressed cell is recorded", func() {
			bad := cells(1)
			bad[0].Suppressed = true
			err := reg.Record(ctx, run("run-1", model.RunPrimary, 0), bad)

			Convey("Then the store should refuse it", func() {
				So(errors.Is(err, repository.ErrSuppressedCell), ShouldBeTrue)
			})
		})
	})
}

func TestRegistryRefresh(t *testing.T) {
	Convey("Given two registries sharing one store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore(ctx)
		Reset(func() { _ = store.Close() })
		server := registry.New(store, store)
		admin := registry.New(store, store)

		So(admin.Record(ctx, run("run-1", model.RunPrimary, 0), cells(4)), ShouldBeNil)
		_, err := admin.Publish(ctx, "run-1")
		So(err, ShouldBeNil)

		Convey("When the server has not refreshed", func() {
			So(server.Current().Primary, ShouldBeNil)
		})

		Convey("When the server refreshes", func() {
			So(server.Refresh(ctx), ShouldBeNil)

			Convey("Then it should see the publish made elsewhere", func() {
				snap := server.Current()
				So(snap.Primary.ID, ShouldEqual, "run-1")
				So(snap.Primary.Published, ShouldBeTrue)
				So(snap.Cells, ShouldHaveLength, 4)
			})

			Convey("Then an unchanged pointer should keep the same snapshot", func() {
				snap := server.Current()
				So(server.Refresh(ctx), ShouldBeNil)
				So(server.Current(), ShouldPointTo, snap)
			})
		})
	})
}
