package archive

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestBlacklist(t *testing.T) {
	Convey("Given a blacklist with glob patterns", t, func() {
		Convey("a matching path is suppressed and counted", func() {
			bl := NewBlacklist([]string{"**/*.tmp"})
			So(bl.Match("cache/session.tmp"), ShouldBeTrue)
			So(bl.Match("top.tmp"), ShouldBeTrue)
			So(bl.Match("world/level.dat"), ShouldBeFalse)

			entries := bl.Entries()
			So(entries, ShouldHaveLength, 1)
			So(entries[0].Pattern, ShouldEqual, "**/*.tmp")
			So(entries[0].Suppressed, ShouldEqual, 2)
		})

		Convey("every matching pattern counts the same path", func() {
			bl := NewBlacklist([]string{"logs/**", "**/*.log"})
			So(bl.Match("logs/latest.log"), ShouldBeTrue)

			entries := bl.Entries()
			So(entries[0].Suppressed, ShouldEqual, 1)
			So(entries[1].Suppressed, ShouldEqual, 1)
		})

		Convey("a malformed pattern never matches", func() {
			bl := NewBlacklist([]string{"[unclosed"})
			So(bl.Match("anything"), ShouldBeFalse)
			So(bl.Entries()[0].Suppressed, ShouldEqual, 0)
		})

		Convey("an empty blacklist suppresses nothing", func() {
			bl := NewBlacklist(nil)
			So(bl.Match("file.txt"), ShouldBeFalse)
			So(bl.Entries(), ShouldBeEmpty)
		})

		Convey("Entries returns a snapshot, not live state", func() {
			bl := NewBlacklist([]string{"*.tmp"})
			snapshot := bl.Entries()
			bl.Match("a.tmp")
			So(snapshot[0].Suppressed, ShouldEqual, 0)
			So(bl.Entries()[0].Suppressed, ShouldEqual, 1)
		})
	})
}
