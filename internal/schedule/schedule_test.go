package schedule

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/kibotos/kibotos/internal/config"
)

func TestExpandDays(t *testing.T) {
	Convey("Given symbolic weekday groups", t, func() {
		Convey("weekdays expands to Monday through Friday", func() {
			days, err := ExpandDays([]string{"weekdays"})
			So(err, ShouldBeNil)
			So(days, ShouldResemble, []time.Weekday{
				time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
			})
		})

		Convey("weekends expands to Sunday and Saturday", func() {
			days, err := ExpandDays([]string{"weekends"})
			So(err, ShouldBeNil)
			So(days, ShouldResemble, []time.Weekday{time.Sunday, time.Saturday})
		})

		Convey("everyday expands to all seven days", func() {
			days, err := ExpandDays([]string{"everyday"})
			So(err, ShouldBeNil)
			So(len(days), ShouldEqual, 7)
		})

		Convey("overlapping groups and names never produce duplicates", func() {
			days, err := ExpandDays([]string{"weekdays", "monday", "friday"})
			So(err, ShouldBeNil)
			So(days, ShouldResemble, []time.Weekday{
				time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
			})
		})

		Convey("the result is independent of input order", func() {
			a, err := ExpandDays([]string{"saturday", "monday", "weekends"})
			So(err, ShouldBeNil)
			b, err := ExpandDays([]string{"weekends", "monday", "saturday"})
			So(err, ShouldBeNil)
			So(a, ShouldResemble, b)
		})

		Convey("expanding an already-concrete set is a no-op", func() {
			days, err := ExpandDays([]string{"tuesday", "thursday"})
			So(err, ShouldBeNil)
			So(days, ShouldResemble, []time.Weekday{time.Tuesday, time.Thursday})
		})

		Convey("names are case-insensitive and trimmed", func() {
			days, err := ExpandDays([]string{" Monday ", "FRIDAY"})
			So(err, ShouldBeNil)
			So(days, ShouldResemble, []time.Weekday{time.Monday, time.Friday})
		})

		Convey("an unknown name is an error", func() {
			_, err := ExpandDays([]string{"monday", "caturday"})
			So(err, ShouldNotBeNil)
		})

		Convey("an empty set is an error", func() {
			_, err := ExpandDays(nil)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestResolve(t *testing.T) {
	// 2026-08-25 is a Tuesday.
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	Convey("Given a Tuesday at 10:00", t, func() {
		Convey("an entry for Wednesday 03:00 resolves to the next morning", func() {
			occ, err := Resolve([]config.ScheduleEntry{
				{Days: []string{"wednesday"}, Time: "03:00"},
			}, now)
			So(err, ShouldBeNil)
			So(occ, ShouldHaveLength, 1)
			So(occ[0].At, ShouldEqual, time.Date(2026, 8, 26, 3, 0, 0, 0, time.UTC))
			So(occ[0].Period, ShouldEqual, 7*24*time.Hour)
		})

		Convey("an entry earlier the same day rolls forward a week", func() {
			occ, err := Resolve([]config.ScheduleEntry{
				{Days: []string{"tuesday"}, Time: "09:00"},
			}, now)
			So(err, ShouldBeNil)
			So(occ[0].At, ShouldEqual, time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC))

			Convey("its previous occurrence is earlier today, so the period stays weekly", func() {
				So(occ[0].Period, ShouldEqual, 7*24*time.Hour)
			})
		})

		Convey("every weekly pair has a period of exactly one week", func() {
			occ, err := Resolve([]config.ScheduleEntry{
				{Days: []string{"everyday"}, Time: "09:00"},
				{Days: []string{"everyday"}, Time: "10:00"},
				{Days: []string{"everyday"}, Time: "11:00"},
			}, now)
			So(err, ShouldBeNil)
			for _, o := range occ {
				So(o.Period, ShouldEqual, 7*24*time.Hour)
			}
		})

		Convey("an occurrence equal to now counts as future", func() {
			occ, err := Resolve([]config.ScheduleEntry{
				{Days: []string{"tuesday"}, Time: "10:00"},
			}, now)
			So(err, ShouldBeNil)
			So(occ[0].At, ShouldEqual, now)
		})

		Convey("every resolved occurrence is at or after now", func() {
			occ, err := Resolve([]config.ScheduleEntry{
				{Days: []string{"everyday"}, Time: "00:00"},
				{Days: []string{"weekdays"}, Time: "23:30"},
			}, now)
			So(err, ShouldBeNil)
			So(occ, ShouldHaveLength, 12)
			for _, o := range occ {
				So(o.At.Before(now), ShouldBeFalse)
			}
		})

		Convey("a malformed time is an error", func() {
			_, err := Resolve([]config.ScheduleEntry{
				{Days: []string{"monday"}, Time: "25:00"},
			}, now)
			So(err, ShouldNotBeNil)
		})

		Convey("an unknown weekday is an error", func() {
			_, err := Resolve([]config.ScheduleEntry{
				{Days: []string{"someday"}, Time: "10:00"},
			}, now)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestNearest(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	Convey("Given a set of occurrences", t, func() {
		Convey("the occurrence with the smallest absolute distance wins", func() {
			near := Occurrence{At: now.Add(2 * time.Hour)}
			far := Occurrence{At: now.Add(30 * time.Hour)}
			best, ok := Nearest([]Occurrence{far, near}, now)
			So(ok, ShouldBeTrue)
			So(best.At, ShouldEqual, near.At)
		})

		Convey("ties are broken by the earlier timestamp", func() {
			before := Occurrence{At: now.Add(-3 * time.Hour)}
			after := Occurrence{At: now.Add(3 * time.Hour)}
			best, ok := Nearest([]Occurrence{after, before}, now)
			So(ok, ShouldBeTrue)
			So(best.At, ShouldEqual, before.At)
		})

		Convey("an empty set reports no occurrence", func() {
			_, ok := Nearest(nil, now)
			So(ok, ShouldBeFalse)
		})
	})
}
