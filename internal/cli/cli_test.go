package cli_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/okian/stopodds/internal/adapters/repository"
	service "github.com/okian/stopodds/internal/app"
	"github.com/okian/stopodds/internal/cli"
	"github.com/okian/stopodds/internal/domain/model"
	"github.com/okian/stopodds/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	color.NoColor = true
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	root := cli.NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func useSQLite(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "stopodds.db")
	env := map[string]string{
		"STOPODDS_STORAGE_DRIVER": "sqlite",
		"STOPODDS_SQLITE_PATH":    path,
		"STOPODDS_FRAUD_SECRET":   "s3cret",
		"STOPODDS_LOG_LEVEL":      "error",
	}
	for k, v := range env {
		_ = os.Setenv(k, v)
	}
	Reset(func() {
		for k := range env {
			_ = os.Unsetenv(k)
		}
	})
	return path
}

func primaryRuns(path string) []*model.ModelRun {
	ctx := context.Background()
	store, err := repository.OpenSQLite(ctx, path)
	So(err, ShouldBeNil)
	defer func() { _ = store.Close() }()
	runs, err := store.List(ctx, model.RunPrimary, 10)
	So(err, ShouldBeNil)
	return runs
}

func TestAdminCommands(t *testing.T) {
	Convey("Given an empty sqlite deployment", t, func() {
		path := useSQLite(t)

		Convey("When training without data", func() {
			out, err := execute("train")

			Convey("Then it should explain the gate", func() {
				So(errors.Is(err, service.ErrInsufficientSample), ShouldBeTrue)
				So(out, ShouldContainSubstring, "not enough data")
			})
		})

		Convey("When listing runs", func() {
			out, err := execute("runs")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "no runs recorded")
		})

		Convey("When an unknown kind or run is asked for", func() {
			_, err := execute("runs", "--kind", "bogus")
			So(err, ShouldNotBeNil)
			_, err = execute("publish", "missing")
			So(err, ShouldNotBeNil)
			_, err = execute("publish")
			So(err, ShouldNotBeNil)
		})

		Convey("When the corpus is seeded and trained twice", func() {
			out, err := execute("seed", "-n", "3000", "--seed", "5", "--workers", "8")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "accepted=3000")

			out, err = execute("train")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "published")

			out, err = execute("train", "--publish=false", "--reason", "candidate")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "recorded, not published")

			runs := primaryRuns(path)
			So(runs, ShouldHaveLength, 2)
			newest, older := runs[0], runs[1]
			So(newest.Notes, ShouldEqual, "candidate")

			Convey("Then runs should mark the older one current", func() {
				out, err := execute("runs", "--kind", "primary")
				So(err, ShouldBeNil)
				So(out, ShouldContainSubstring, newest.ID)
				lines := strings.Split(strings.TrimSpace(out), "\n")
				So(lines, ShouldHaveLength, 3)
				So(lines[2], ShouldContainSubstring, older.ID)
				So(strings.HasSuffix(strings.TrimSpace(lines[2]), "*"), ShouldBeTrue)
			})

			Convey("Then publishing the newer run should move the pointer", func() {
				out, err := execute("publish", newest.ID)
				So(err, ShouldBeNil)
				So(out, ShouldContainSubstring, "published primary run "+newest.ID)

				out, err = execute("runs", "--limit", "1")
				So(err, ShouldBeNil)
				So(out, ShouldContainSubstring, newest.ID)
				So(strings.HasSuffix(strings.TrimSpace(out), "*"), ShouldBeTrue)
			})

			Convey("Then pruning fresh rows should delete nothing", func() {
				out, err := execute("prune")
				So(err, ShouldBeNil)
				So(out, ShouldContainSubstring, "pruned 0 submissions older than 12 months")
			})
		})
	})

	Convey("Given an invalid configuration", t, func() {
		_ = os.Setenv("STOPODDS_STORAGE_DRIVER", "postgres")
		Reset(func() { _ = os.Unsetenv("STOPODDS_STORAGE_DRIVER") })

		Convey("Then every command should fail before touching storage", func() {
			_, err := execute("prune")
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given a config file flag pointing nowhere", t, func() {
		Reset(func() { _ = os.Unsetenv("STOPODDS_CONFIG") })
		_, err := execute("--config", filepath.Join(t.TempDir(), "missing.yaml"), "runs")
		So(err, ShouldNotBeNil)
	})
}
