package domain

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestProgress(t *testing.T) {
	Convey("Given run progress snapshots", t, func() {
		Convey("idle reads as no backup running", func() {
			So(Progress{}.String(), ShouldEqual, "no backup is running")
		})

		Convey("an active run names the set and its position", func() {
			p := Progress{State: StateCompressing, Source: "world", Index: 0, Total: 3}
			So(p.String(), ShouldEqual, `compressing backup set "world", set 1 of 3`)
		})
	})
}

func TestBackupSourceLabel(t *testing.T) {
	Convey("Given backup sources", t, func() {
		So(BackupSource{Path: "world"}.Label(), ShouldEqual, "world")
		So(BackupSource{Glob: "world*"}.Label(), ShouldEqual, "world*")
	})
}
