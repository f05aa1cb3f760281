package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/stopodds/internal/adapters/repository"
	"github.com/okian/stopodds/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func submission(id string, trips, stops int, at time.Time, anomalies ...string) model.Submission {
	return model.Submission{
		ID:            id,
		Trips:         trips,
		Stops:         stops,
		Traits:        model.Traits{model.TraitGender: "Female", model.TraitConcession: model.ValueTrue},
		CreatedAt:     at,
		FraudSignal:   "token-" + id,
		Anomalies:     anomalies,
		SchemaVersion: model.SchemaVersion,
	}
}

func float(v float64) *float64 { return &v }

type backend struct {
	name string
	open func(t *testing.T) repository.Store
}

func backends() []backend {
	return []backend{
		{name: "memory", open: func(t *testing.T) repository.Store {
			return repository.NewMemoryStore(context.Background())
		}},
		{name: "sqlite", open: func(t *testing.T) repository.Store {
			s, err := repository.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "stopodds.db"))
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return s
		}},
	}
}

func TestSubmissionStore(t *testing.T) {
	for _, b := range backends() {
		Convey("Given an empty "+b.name+" store", t, func() {
			ctx := context.Background()
			store := b.open(t)
			Reset(func() { _ = store.Close() })

			Convey("When rows are inserted", func() {
				So(store.Insert(ctx, submission("a", 20, 1, epoch)), ShouldBeNil)
				So(store.Insert(ctx, submission("b", 25, 2, epoch.Add(time.Minute))), ShouldBeNil)
				So(store.Insert(ctx, submission("c", 150, 3, epoch.Add(2*time.Minute), model.AnomalyHighTrips)), ShouldBeNil)

				Convey("Then the snapshot should return them in insertion order", func() {
					rows, err := store.Snapshot(ctx)
					So(err, ShouldBeNil)
					So(rows, ShouldHaveLength, 3)
					So(rows[0].ID, ShouldEqual, "a")
					So(rows[0].Traits, ShouldResemble, model.Traits{model.TraitGender: "Female", model.TraitConcession: model.ValueTrue})
					So(rows[0].CreatedAt.Equal(epoch), ShouldBeTrue)
					So(rows[0].Anomalies, ShouldBeNil)
					So(rows[2].Anomalies, ShouldResemble, []string{model.AnomalyHighTrips})
				})

				Convey("Then stats should exclude anomalous rows from the clean totals", func() {
					st, err := store.Stats(ctx)
					So(err, ShouldBeNil)
					So(st.Stored, ShouldEqual, 3)
					So(st.Clean, ShouldResemble, model.Totals{Submissions: 2, Trips: 45, Stops: 3})
				})

				Convey("Then reusing an id should fail", func() {
					err := store.Insert(ctx, submission("a", 10, 0, epoch))
					So(errors.Is(err, repository.ErrDuplicate), ShouldBeTrue)
				})

				Convey("Then deleting before a cutoff should drop older rows only", func() {
					n, err := store.DeleteBefore(ctx, epoch.Add(time.Minute))
					So(err, ShouldBeNil)
					So(n, ShouldEqual, 1)

					rows, err := store.Snapshot(ctx)
					So(err, ShouldBeNil)
					So(rows, ShouldHaveLength, 2)
					So(rows[0].ID, ShouldEqual, "b")
				})
			})

			Convey("When a snapshot row is mutated", func() {
				So(store.Insert(ctx, submission("a", 20, 1, epoch)), ShouldBeNil)
				rows, _ := store.Snapshot(ctx)
				rows[0].Traits[model.TraitGender] = "Male"

				Convey("Then the stored row should not change", func() {
					again, err := store.Snapshot(ctx)
					So(err, ShouldBeNil)
					So(again[0].Traits[model.TraitGender], ShouldEqual, "Female")
				})
			})
		})
	}
}

func TestRunStore(t *testing.T) {
	for _, b := range backends() {
		Convey("Given a "+b.name+" run store", t, func() {
			ctx := context.Background()
			store := b.open(t)
			Reset(func() { _ = store.Close() })

			first := &model.ModelRun{
				ID: "run-1", Kind: model.RunPrimary, Type: model.ModelPoisson, CreatedAt: epoch, TrainRows: 600,
				References: model.DefaultReferences(),
				Intercept:  model.Coefficient{Term: "(intercept)", Beta: -3},
				Coefficients: []model.Coefficient{
					{Term: "gender=Female", Trait: model.TraitGender, Value: "Female", Beta: 0.7, StdErr: 0.1, NPeople: 300},
				},
				Covariance: [][]float64{{0.01, -0.01}, {-0.01, 0.02}},
			}
			second := &model.ModelRun{ID: "run-2", Kind: model.RunPrimary, Type: model.ModelNegBin, CreatedAt: epoch.Add(time.Hour)}
			eng := &model.ModelRun{ID: "eng-1", Kind: model.RunEngagement, Type: model.ModelGBT, CreatedAt: epoch.Add(2 * time.Hour)}
			So(store.Append(ctx, first), ShouldBeNil)
			So(store.Append(ctx, second), ShouldBeNil)
			So(store.Append(ctx, eng), ShouldBeNil)

			Convey("When fetching a run by id", func() {
				run, err := store.Get(ctx, "run-1")

				Convey("Then it should round-trip its fitted content", func() {
					So(err, ShouldBeNil)
					So(run.Type, ShouldEqual, model.ModelPoisson)
					So(run.TrainRows, ShouldEqual, 600)
					So(run.References[model.TraitGender], ShouldEqual, "Male")
					So(run.Coefficients, ShouldResemble, first.Coefficients)
					So(run.Covariance, ShouldResemble, first.Covariance)
					So(run.Published, ShouldBeFalse)
				})
			})

			Convey("When fetching an unknown run", func() {
				_, err := store.Get(ctx, "missing")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})

			Convey("When appending a duplicate id", func() {
				err := store.Append(ctx, &model.ModelRun{ID: "run-1", Kind: model.RunPrimary})
				So(errors.Is(err, repository.ErrDuplicate), ShouldBeTrue)
			})

			Convey("When listing runs", func() {
				all, err := store.List(ctx, "", 10)
				So(err, ShouldBeNil)
				primary, err := store.List(ctx, model.RunPrimary, 1)
				So(err, ShouldBeNil)

				Convey("Then they should come newest first and honour kind and limit", func() {
					So(all, ShouldHaveLength, 3)
					So(all[0].ID, ShouldEqual, "eng-1")
					So(primary, ShouldHaveLength, 1)
					So(primary[0].ID, ShouldEqual, "run-2")
				})

				Convey("Then a non-positive limit should be refused", func() {
					_, err := store.List(ctx, "", 0)
					So(errors.Is(err, repository.ErrInvalidLimit), ShouldBeTrue)
				})
			})

			Convey("When no pointer has been set", func() {
				_, err := store.Current(ctx, model.RunPrimary)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})

			Convey("When pointers are moved", func() {
				So(store.SetCurrent(ctx, model.RunPrimary, "run-2"), ShouldBeNil)
				So(store.SetCurrent(ctx, model.RunPrimary, "run-1"), ShouldBeNil)
				So(store.SetCurrent(ctx, model.RunEngagement, "eng-1"), ShouldBeNil)

				Convey("Then each kind should keep its own latest pointer", func() {
					id, err := store.Current(ctx, model.RunPrimary)
					So(err, ShouldBeNil)
					So(id, ShouldEqual, "run-1")
					id, err = store.Current(ctx, model.RunEngagement)
					So(err, ShouldBeNil)
					So(id, ShouldEqual, "eng-1")
				})

				Convey("Then pointing at a run of another kind should fail", func() {
					err := store.SetCurrent(ctx, model.RunPrimary, "eng-1")
					So(errors.Is(err, repository.ErrKindMismatch), ShouldBeTrue)
				})

				Convey("Then pointing at an unknown run should fail", func() {
					err := store.SetCurrent(ctx, model.RunPrimary, "missing")
					So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				})
			})
		})
	}
}

func TestAggregateStore(t *testing.T) {
	for _, b := range backends() {
		Convey("Given a "+b.name+" aggregate store", t, func() {
			ctx := context.Background()
			store := b.open(t)
			Reset(func() { _ = store.Close() })

			cells := []model.GroupCell{
				{Key: model.GroupKey{Trait: model.TraitGender, Value: "Male"}, NPeople: 300, NTrips: 6000, NStops: 300, RatePer100: 5, IRR: float(1)},
				{Key: model.GroupKey{Trait: model.TraitGender, Value: "Female"}, NPeople: 300, NTrips: 6000, NStops: 600, RatePer100: 10,
					IRR: float(2), CILower: float(1.7), CIUpper: float(2.3)},
				{Key: model.GroupKey{Trait: model.TraitSkinTone, Value: "Dark"}, NPeople: 60, NTrips: 1200, NStops: 40, RatePer100: 3.33},
			}

			Convey("When cells are written for a run", func() {
				So(store.Replace(ctx, "run-1", cells), ShouldBeNil)
				got, err := store.ListByRun(ctx, "run-1")

				Convey("Then they should read back in order with their nullable fields", func() {
					So(err, ShouldBeNil)
					So(got, ShouldResemble, cells)
				})

				Convey("Then replacing should discard the previous set", func() {
					So(store.Replace(ctx, "run-1", cells[:1]), ShouldBeNil)
					got, err := store.ListByRun(ctx, "run-1")
					So(err, ShouldBeNil)
					So(got, ShouldHaveLength, 1)
				})

				Convey("Then other runs should stay empty", func() {
					got, err := store.ListByRun(ctx, "run-2")
					So(err, ShouldBeNil)
					So(got, ShouldBeEmpty)
				})
			})

			Convey("When a suppressed cell is offered", func() {
				bad := append([]model.GroupCell(nil), cells...)
				bad[2].Suppressed = true
				err := store.Replace(ctx, "run-1", bad)

				Convey("Then the write should be refused entirely", func() {
					So(errors.Is(err, repository.ErrSuppressedCell), ShouldBeTrue)
					got, _ := store.ListByRun(ctx, "run-1")
					So(got, ShouldBeEmpty)
				})
			})
		})
	}
}

func TestSQLiteReopen(t *testing.T) {
	Convey("Given a sqlite file with data", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "stopodds.db")
		store, err := repository.OpenSQLite(ctx, path)
		So(err, ShouldBeNil)
		So(store.Insert(ctx, submission("a", 20, 1, epoch)), ShouldBeNil)
		So(store.Append(ctx, &model.ModelRun{ID: "run-1", Kind: model.RunPrimary, Type: model.ModelPoisson, CreatedAt: epoch}), ShouldBeNil)
		So(store.SetCurrent(ctx, model.RunPrimary, "run-1"), ShouldBeNil)
		So(store.Close(), ShouldBeNil)

		Convey("When the file is reopened", func() {
			again, err := repository.OpenSQLite(ctx, path)
			So(err, ShouldBeNil)
			Reset(func() { _ = again.Close() })

			Convey("Then rows and pointers should survive", func() {
				st, err := again.Stats(ctx)
				So(err, ShouldBeNil)
				So(st.Stored, ShouldEqual, 1)
				id, err := again.Current(ctx, model.RunPrimary)
				So(err, ShouldBeNil)
				So(id, ShouldEqual, "run-1")
			})
		})
	})

	Convey("Given an empty path", t, func() {
		_, err := repository.OpenSQLite(context.Background(), "  ")
		So(err, ShouldNotBeNil)
	})
}
