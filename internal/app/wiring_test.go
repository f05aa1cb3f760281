package service_test

import (
	"context"
	"path/filepath"
	"testing"

	service "github.com/okian/stopodds/internal/app"
	"github.com/okian/stopodds/internal/config"
	. "github.com/smartystreets/goconvey/convey"
)

func TestOpenStore(t *testing.T) {
	Convey("Given storage configuration", t, func() {
		ctx := context.Background()
		cfg := config.New()

		Convey("When the memory driver is selected", func() {
			store, err := service.OpenStore(ctx, cfg)
			So(err, ShouldBeNil)
			So(store.Close(), ShouldBeNil)
		})

		Convey("When the sqlite driver is selected", func() {
			cfg.StorageDriver = config.DriverSQLite
			cfg.SQLitePath = filepath.Join(t.TempDir(), "stopodds.db")
			store, err := service.OpenStore(ctx, cfg)
			So(err, ShouldBeNil)
			So(store.Close(), ShouldBeNil)
		})

		Convey("When no redis url is set", func() {
			locker, closeLocker, err := service.OpenLocker(ctx, cfg)
			So(err, ShouldBeNil)
			So(locker, ShouldNotBeNil)
			closeLocker()
		})

		Convey("When the redis url is malformed", func() {
			cfg.RedisURL = "not a url"
			_, _, err := service.OpenLocker(ctx, cfg)
			So(err, ShouldNotBeNil)
		})
	})
}
