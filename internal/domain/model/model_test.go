package model_test

import (
	"testing"

	model "github.com/okian/stopodds/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestTraitSchema(t *testing.T) {
	convey.Convey("Given the trait schema", t, func() {
		convey.Convey("When looking up a known trait", func() {
			spec, ok := model.LookupTrait(model.TraitGender)

			convey.Convey("Then its enumeration should be closed", func() {
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(spec.Valid("Female"), convey.ShouldBeTrue)
				convey.So(spec.Valid("female"), convey.ShouldBeFalse)
				convey.So(spec.Valid(""), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When looking up an unknown trait", func() {
			_, ok := model.LookupTrait("postcode")

			convey.Convey("Then it should not be found", func() {
				convey.So(ok, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When checking the default reference levels", func() {
			refs := model.DefaultReferences()

			convey.Convey("Then every trait should have a valid reference", func() {
				for _, spec := range model.Schema() {
					ref, ok := refs[spec.Name]
					convey.So(ok, convey.ShouldBeTrue)
					convey.So(spec.Valid(ref), convey.ShouldBeTrue)
				}
			})
		})

		convey.Convey("When mutating the returned schema", func() {
			s := model.Schema()
			s[0].Name = "mutated"

			convey.Convey("Then the package schema should be unchanged", func() {
				convey.So(model.Schema()[0].Name, convey.ShouldEqual, model.TraitAgeBracket)
			})
		})
	})
}

func TestTraits(t *testing.T) {
	convey.Convey("Given a partial trait set", t, func() {
		traits := model.Traits{
			model.TraitConcession: model.ValueTrue,
			model.TraitAgeBracket: "18-24",
		}

		convey.Convey("Then keys should come back in schema order", func() {
			convey.So(traits.Keys(), convey.ShouldResemble, []model.Trait{model.TraitAgeBracket, model.TraitConcession})
		})

		convey.Convey("Then clones should be independent", func() {
			c := traits.Clone()
			c[model.TraitGender] = "Female"
			convey.So(traits, convey.ShouldNotContainKey, model.TraitGender)
		})
	})
}

func TestTotals(t *testing.T) {
	convey.Convey("Given corpus totals", t, func() {
		convey.Convey("When there is no exposure", func() {
			var totals model.Totals

			convey.Convey("Then the rate should be zero", func() {
				convey.So(totals.RatePer100(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When rows are accumulated", func() {
			var totals model.Totals
			totals.Add(20, 1)
			totals.Add(30, 3)

			convey.Convey("Then the rate should be additive", func() {
				convey.So(totals.Submissions, convey.ShouldEqual, 2)
				convey.So(totals.RatePer100(), convey.ShouldAlmostEqual, 8.0, 1e-12)
			})
		})
	})
}

func TestModelRunLookup(t *testing.T) {
	convey.Convey("Given a run with coefficients", t, func() {
		run := &model.ModelRun{Coefficients: []model.Coefficient{
			{Term: "gender=Female", Trait: model.TraitGender, Value: "Female", Beta: 0.2},
			{Term: "concession=true", Trait: model.TraitConcession, Value: model.ValueTrue, Beta: -0.1},
		}}

		convey.Convey("Then lookups should return the term and its index", func() {
			c, idx, ok := run.Lookup(model.TraitConcession, model.ValueTrue)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(idx, convey.ShouldEqual, 1)
			convey.So(c.Beta, convey.ShouldEqual, -0.1)

			_, _, ok = run.Lookup(model.TraitGender, "Male")
			convey.So(ok, convey.ShouldBeFalse)
		})
	})

	convey.Convey("Given group keys", t, func() {
		convey.So(model.GroupKey{Trait: model.TraitGender, Value: "Female"}.String(), convey.ShouldEqual, "gender=Female")
	})
}

func TestParseRunKind(t *testing.T) {
	convey.Convey("Given run kind names", t, func() {
		k, err := model.ParseRunKind("engagement")
		convey.So(err, convey.ShouldBeNil)
		convey.So(k, convey.ShouldEqual, model.RunEngagement)

		_, err = model.ParseRunKind("shadow")
		convey.So(err, convey.ShouldNotBeNil)
	})
}
