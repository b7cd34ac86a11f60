package usecase

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/kibotos/kibotos/internal/archive"
	"github.com/kibotos/kibotos/internal/config"
	"github.com/kibotos/kibotos/internal/domain"
)

type testLogger struct{}

func (testLogger) Infof(string, ...interface{})  {}
func (testLogger) Warnf(string, ...interface{})  {}
func (testLogger) Errorf(string, ...interface{}) {}

type fakeUploader struct {
	domain.ErrorFlag
	name    string
	fail    bool
	uploads []string
	hints   []string
	closed  bool
}

func (f *fakeUploader) UploadFile(ctx context.Context, localPath, destHint string) {
	if f.fail {
		f.SetError()
		return
	}
	f.uploads = append(f.uploads, localPath)
	f.hints = append(f.hints, destHint)
}

func (f *fakeUploader) Test(ctx context.Context, localPath string) {
	if f.fail {
		f.SetError()
	}
}

func (f *fakeUploader) Name() string              { return f.name }
func (f *fakeUploader) SetupInstructions() string { return "" }
func (f *fakeUploader) Close() error              { f.closed = true; return nil }

type fakeRetainer struct {
	fakeUploader
	pruned []string
}

func (f *fakeRetainer) PruneRemote(ctx context.Context, destHint string) error {
	f.pruned = append(f.pruned, destHint)
	return nil
}

type fakeStager struct {
	staged    []domain.BackupSource
	failed    bool
	cleanedUp bool
}

func (f *fakeStager) Stage(ctx context.Context, sources []config.ExternalSource, format string) ([]domain.BackupSource, bool) {
	return f.staged, f.failed
}

func (f *fakeStager) Cleanup() error {
	f.cleanedUp = true
	return nil
}

// Fractional seconds keep back-to-back runs from colliding on the same name.
const testFormat = "Backup-2006-01-02T15-04-05.000"

func testConfig(localDir string, uploaders ...config.UploaderConfig) *config.Config {
	return &config.Config{
		Backup: config.BackupConfig{
			LocalDir:         localDir,
			LocalKeepCount:   -1,
			RemoteKeepCount:  -1,
			Format:           testFormat,
			CompressionLevel: 1,
			Sources:          []config.SourceConfig{{Path: "world"}},
		},
		Schedule: config.ScheduleConfig{Timezone: "UTC", IntervalMinutes: -1},
		Uploader: uploaders,
	}
}

func newTestBackup(t *testing.T, cfg *config.Config, stager ExternalStager, adapters ...domain.Uploader) *Backup {
	t.Helper()
	archiver, err := archive.New(cfg.Backup.LocalDir, cfg.Backup.CompressionLevel)
	if err != nil {
		t.Fatal(err)
	}
	return NewBackup(cfg, archiver, stager, func(context.Context) []domain.Uploader {
		return adapters
	}, testLogger{})
}

func enabledUploader() config.UploaderConfig {
	return config.UploaderConfig{Type: "s3", Enabled: true}
}

func TestRun(t *testing.T) {
	t.Chdir(t.TempDir())
	ctx := context.Background()

	Convey("Given a world directory to back up", t, func() {
		So(os.MkdirAll("world", 0o755), ShouldBeNil)
		So(os.WriteFile(filepath.Join("world", "level.dat"), []byte("seed"), 0o644), ShouldBeNil)

		Convey("a successful run archives, uploads and cleans up", func() {
			up := &fakeUploader{name: "A"}
			stager := &fakeStager{}
			backup := newTestBackup(t, testConfig("backups-ok", enabledUploader()), stager, up)

			var completed, success bool
			backup.SetOnComplete(func(ok bool) { completed, success = true, ok })

			So(backup.Run(ctx), ShouldBeNil)

			So(up.uploads, ShouldHaveLength, 1)
			So(up.hints, ShouldResemble, []string{"world"})
			So(up.closed, ShouldBeTrue)
			So(stager.cleanedUp, ShouldBeTrue)
			So(completed, ShouldBeTrue)
			So(success, ShouldBeTrue)
			So(backup.Progress().State, ShouldEqual, domain.StateIdle)

			_, err := os.Stat(up.uploads[0])
			So(err, ShouldBeNil)
		})

		Convey("one failing destination never blocks the others", func() {
			bad := &fakeUploader{name: "A", fail: true}
			good := &fakeUploader{name: "B"}
			backup := newTestBackup(t, testConfig("backups-fanout", enabledUploader()), &fakeStager{}, bad, good)

			var success bool
			backup.SetOnComplete(func(ok bool) { success = ok })

			So(backup.Run(ctx), ShouldWrap, ErrBackupIncomplete)
			So(good.uploads, ShouldHaveLength, 1)
			So(success, ShouldBeFalse)
			So(backup.Progress().State, ShouldEqual, domain.StateIdle)
		})

		Convey("a second run is rejected while one is in flight", func() {
			backup := newTestBackup(t, testConfig("backups-reject", enabledUploader()), &fakeStager{})
			backup.setProgress(domain.StateUploading, "world", 0, 1)

			err := backup.Run(ctx)
			So(err, ShouldWrap, ErrAlreadyRunning)

			snapshot := backup.Progress()
			So(snapshot.State, ShouldEqual, domain.StateUploading)
			So(snapshot.Source, ShouldEqual, "world")
		})

		Convey("a run with nowhere to put backups is refused", func() {
			cfg := testConfig("backups-nodest")
			cfg.Backup.LocalKeepCount = 0
			backup := newTestBackup(t, cfg, &fakeStager{})

			So(backup.Run(ctx), ShouldWrap, ErrNoDestination)
			So(backup.Progress().State, ShouldEqual, domain.StateIdle)
		})

		Convey("local retention keeps only the configured count", func() {
			cfg := testConfig("backups-keep", enabledUploader())
			cfg.Backup.LocalKeepCount = 1
			backup := newTestBackup(t, cfg, &fakeStager{}, &fakeUploader{name: "A"})

			So(backup.Run(ctx), ShouldBeNil)
			time.Sleep(5 * time.Millisecond)
			So(backup.Run(ctx), ShouldBeNil)

			entries, err := os.ReadDir(filepath.Join("backups-keep", "world"))
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 1)
		})

		Convey("destinations that retain remotely are pruned per backup set", func() {
			up := &fakeRetainer{fakeUploader: fakeUploader{name: "A"}}
			backup := newTestBackup(t, testConfig("backups-remote", enabledUploader()), &fakeStager{}, up)

			So(backup.Run(ctx), ShouldBeNil)
			So(up.pruned, ShouldResemble, []string{"world"})
		})

		Convey("staged external sources are archived like any other set", func() {
			stagedDir := filepath.Join("external-backups", "ftp-files.example.com-21")
			So(os.MkdirAll(stagedDir, 0o755), ShouldBeNil)
			So(os.WriteFile(filepath.Join(stagedDir, "site.db"), []byte("x"), 0o644), ShouldBeNil)

			up := &fakeUploader{name: "A"}
			stager := &fakeStager{staged: []domain.BackupSource{{
				Path:      stagedDir,
				Format:    testFormat,
				Create:    true,
				Ephemeral: true,
			}}}
			backup := newTestBackup(t, testConfig("backups-staged", enabledUploader()), stager, up)

			So(backup.Run(ctx), ShouldBeNil)
			So(up.hints, ShouldResemble, []string{"world", "external-backups/ftp-files.example.com-21"})
			So(stager.cleanedUp, ShouldBeTrue)
		})

		Convey("a staging failure marks the run but the rest still backs up", func() {
			up := &fakeUploader{name: "A"}
			backup := newTestBackup(t, testConfig("backups-stagefail", enabledUploader()), &fakeStager{failed: true}, up)

			So(backup.Run(ctx), ShouldWrap, ErrBackupIncomplete)
			So(up.uploads, ShouldHaveLength, 1)
		})

		Convey("a create=false set uploads its newest existing archive", func() {
			cfg := testConfig("backups-nocreate", enabledUploader())
			no := false
			cfg.Backup.Sources = []config.SourceConfig{{Path: "world", Create: &no}}

			existing := filepath.Join("backups-nocreate", "world",
				time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC).Format(testFormat)+".zip")
			So(os.MkdirAll(filepath.Dir(existing), 0o755), ShouldBeNil)
			So(os.WriteFile(existing, []byte("zip"), 0o644), ShouldBeNil)

			up := &fakeUploader{name: "A"}
			backup := newTestBackup(t, cfg, &fakeStager{}, up)

			So(backup.Run(ctx), ShouldBeNil)
			So(up.uploads, ShouldResemble, []string{existing})
		})

		Convey("glob sources expand to one set per matching directory", func() {
			So(os.MkdirAll("world_nether", 0o755), ShouldBeNil)
			So(os.WriteFile(filepath.Join("world_nether", "level.dat"), []byte("x"), 0o644), ShouldBeNil)

			cfg := testConfig("backups-glob", enabledUploader())
			cfg.Backup.Sources = []config.SourceConfig{{Glob: "world*"}}

			up := &fakeUploader{name: "A"}
			backup := newTestBackup(t, cfg, &fakeStager{}, up)

			So(backup.Run(ctx), ShouldBeNil)
			So(up.hints, ShouldResemble, []string{"world", "world_nether"})
		})
	})
}

func TestDestFolder(t *testing.T) {
	Convey("Given backup set paths", t, func() {
		Convey("plain relative paths map to themselves", func() {
			So(destFolder("world"), ShouldEqual, "world")
			So(destFolder("plugins/Essentials"), ShouldEqual, "plugins/Essentials")
		})

		Convey("parent references are stripped", func() {
			So(destFolder("../world"), ShouldEqual, "world")
			So(destFolder("../../srv/data"), ShouldEqual, "srv/data")
		})

		Convey("the working directory maps to root", func() {
			So(destFolder("."), ShouldEqual, "root")
			So(destFolder("./"), ShouldEqual, "root")
		})
	})
}
