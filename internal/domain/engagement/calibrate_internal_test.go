package engagement

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestIsotonic(t *testing.T) {
	Convey("Given scores with one order violation", t, func() {
		raw := []float64{0.4, 0.1, 0.3, 0.2}
		y := []float64{1, 0, 0, 1}

		Convey("When fitting the calibration", func() {
			c := fitIsotonic(raw, y)

			Convey("Then violators should be pooled", func() {
				So(c.X, ShouldResemble, []float64{0.1, 0.3, 0.4})
				So(c.Y, ShouldResemble, []float64{0, 0.5, 1})
			})

			Convey("Then the step function should be monotone", func() {
				prev := -1.0
				for _, p := range []float64{0, 0.05, 0.1, 0.15, 0.25, 0.35, 0.5, 1} {
					v := calibrate(c, p)
					So(v, ShouldBeGreaterThanOrEqualTo, prev)
					prev = v
				}
				So(calibrate(c, 0.05), ShouldEqual, 0)
				So(calibrate(c, 0.25), ShouldEqual, 0.5)
				So(calibrate(c, 0.9), ShouldEqual, 1)
			})
		})

		Convey("When scores tie", func() {
			c := fitIsotonic([]float64{0.5, 0.5, 0.5}, []float64{1, 0, 0})

			Convey("Then they should share one value", func() {
				So(c.X, ShouldHaveLength, 1)
				So(c.Y[0], ShouldAlmostEqual, 1.0/3, 1e-12)
			})
		})
	})

	Convey("Given an empty calibration", t, func() {
		c := fitIsotonic(nil, nil)

		Convey("Then it should act as the identity", func() {
			So(calibrate(c, 0.42), ShouldEqual, 0.42)
		})
	})
}

func TestRankMetrics(t *testing.T) {
	Convey("Given ranked scores", t, func() {
		y := []float64{0, 0, 1, 1}

		Convey("Then perfect ranking should give AUC 1", func() {
			So(auc([]float64{0.1, 0.2, 0.8, 0.9}, y), ShouldEqual, 1)
		})

		Convey("Then reversed ranking should give AUC 0", func() {
			So(auc([]float64{0.9, 0.8, 0.2, 0.1}, y), ShouldEqual, 0)
		})

		Convey("Then constant scores should give AUC 0.5", func() {
			So(auc([]float64{0.5, 0.5, 0.5, 0.5}, y), ShouldEqual, 0.5)
		})

		Convey("Then a single class should give AUC 0.5", func() {
			So(auc([]float64{0.1, 0.9}, []float64{1, 1}), ShouldEqual, 0.5)
		})

		Convey("Then the Brier score should be the mean squared error", func() {
			So(brier([]float64{0, 0, 1, 1}, y), ShouldEqual, 0)
			So(brier([]float64{0.5, 0.5, 0.5, 0.5}, y), ShouldEqual, 0.25)
		})
	})
}
