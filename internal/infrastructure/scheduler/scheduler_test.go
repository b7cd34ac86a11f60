package scheduler

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/kibotos/kibotos/internal/config"
)

func TestScheduler(t *testing.T) {
	Convey("Given a scheduler", t, func() {
		sched := New(time.UTC, func() {})

		Convey("schedule mode creates one timer per weekday and time pair", func() {
			err := sched.Configure(config.ScheduleConfig{
				Enabled: true,
				Entries: []config.ScheduleEntry{
					{Days: []string{"weekdays"}, Time: "03:00"},
					{Days: []string{"sunday"}, Time: "12:30"},
				},
			})
			So(err, ShouldBeNil)
			So(sched.entries, ShouldHaveLength, 6)
			So(sched.Active(), ShouldBeTrue)

			_, ok := sched.NextIntervalBackup()
			So(ok, ShouldBeFalse)
		})

		Convey("interval mode creates a single timer and tracks the next fire", func() {
			before := time.Now()
			err := sched.Configure(config.ScheduleConfig{IntervalMinutes: 30})
			So(err, ShouldBeNil)
			So(sched.entries, ShouldHaveLength, 1)

			next, ok := sched.NextIntervalBackup()
			So(ok, ShouldBeTrue)
			So(next, ShouldHappenBetween, before.Add(29*time.Minute), time.Now().Add(31*time.Minute))
		})

		Convey("schedule mode wins over interval mode when both are set", func() {
			err := sched.Configure(config.ScheduleConfig{
				Enabled:         true,
				Entries:         []config.ScheduleEntry{{Days: []string{"monday"}, Time: "05:00"}},
				IntervalMinutes: 30,
			})
			So(err, ShouldBeNil)
			So(sched.entries, ShouldHaveLength, 1)

			_, ok := sched.NextIntervalBackup()
			So(ok, ShouldBeFalse)
		})

		Convey("reconfiguring cancels every existing timer first", func() {
			err := sched.Configure(config.ScheduleConfig{
				Enabled: true,
				Entries: []config.ScheduleEntry{{Days: []string{"everyday"}, Time: "00:00"}},
			})
			So(err, ShouldBeNil)
			So(sched.entries, ShouldHaveLength, 7)

			err = sched.Configure(config.ScheduleConfig{IntervalMinutes: 5})
			So(err, ShouldBeNil)
			So(sched.entries, ShouldHaveLength, 1)

			err = sched.Configure(config.ScheduleConfig{})
			So(err, ShouldBeNil)
			So(sched.Active(), ShouldBeFalse)
		})

		Convey("an unknown weekday fails configuration", func() {
			err := sched.Configure(config.ScheduleConfig{
				Enabled: true,
				Entries: []config.ScheduleEntry{{Days: []string{"noday"}, Time: "03:00"}},
			})
			So(err, ShouldNotBeNil)
		})

		Convey("a malformed time fails configuration", func() {
			err := sched.Configure(config.ScheduleConfig{
				Enabled: true,
				Entries: []config.ScheduleEntry{{Days: []string{"monday"}, Time: "3am"}},
			})
			So(err, ShouldNotBeNil)
		})
	})
}
