package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	dedupe "github.com/okian/stopodds/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryCounter(t *testing.T) {
	Convey("Given a new in-memory counter", t, func() {
		ctx := context.Background()

		Convey("When creating a counter with default options", func() {
			c := dedupe.NewInMemoryCounter()

			Convey("Then it should start empty", func() {
				So(c, ShouldNotBeNil)
				So(c.Size(), ShouldEqual, 0)
			})
		})

		Convey("When recording the same token repeatedly", func() {
			c := dedupe.NewInMemoryCounter()
			first := c.SeenAndRecord(ctx, "tok")
			second := c.SeenAndRecord(ctx, "tok")
			third := c.SeenAndRecord(ctx, "tok")

			Convey("Then the count should increase", func() {
				So(first, ShouldEqual, 1)
				So(second, ShouldEqual, 2)
				So(third, ShouldEqual, 3)
				So(c.Size(), ShouldEqual, 1)
			})
		})

		Convey("When unrecording", func() {
			c := dedupe.NewInMemoryCounter()
			c.SeenAndRecord(ctx, "tok")
			c.SeenAndRecord(ctx, "tok")
			c.Unrecord(ctx, "tok")

			Convey("Then the count should go back down", func() {
				So(c.SeenAndRecord(ctx, "tok"), ShouldEqual, 2)
			})

			Convey("And a token at zero should be forgotten", func() {
				c.Unrecord(ctx, "tok")
				c.Unrecord(ctx, "tok")
				So(c.Size(), ShouldEqual, 0)
				So(c.SeenAndRecord(ctx, "tok"), ShouldEqual, 1)
			})

			Convey("And unknown tokens should be ignored", func() {
				c.Unrecord(ctx, "missing")
				So(c.Size(), ShouldEqual, 1)
			})
		})

		Convey("When the counter is bounded", func() {
			c := dedupe.NewInMemoryCounter(dedupe.WithMaxSize(3))
			for i := 0; i < 4; i++ {
				c.SeenAndRecord(ctx, fmt.Sprintf("tok-%d", i))
			}

			Convey("Then the oldest token should be evicted", func() {
				So(c.Size(), ShouldEqual, 3)
				So(c.SeenAndRecord(ctx, "tok-0"), ShouldEqual, 1)
				So(c.SeenAndRecord(ctx, "tok-3"), ShouldEqual, 2)
			})
		})

		Convey("When the counter is unbounded", func() {
			c := dedupe.NewInMemoryCounter(dedupe.WithMaxSize(0))
			for i := 0; i < 1000; i++ {
				c.SeenAndRecord(ctx, fmt.Sprintf("tok-%d", i))
			}

			Convey("Then nothing should be evicted", func() {
				So(c.Size(), ShouldEqual, 1000)
			})
		})

		Convey("When many goroutines record the same token", func() {
			c := dedupe.NewInMemoryCounter()
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					c.SeenAndRecord(ctx, "shared")
				}()
			}
			wg.Wait()

			Convey("Then every sighting should be counted", func() {
				So(c.SeenAndRecord(ctx, "shared"), ShouldEqual, 51)
			})
		})
	})
}
