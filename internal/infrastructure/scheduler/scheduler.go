package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kibotos/kibotos/internal/config"
	"github.com/kibotos/kibotos/internal/schedule"
)

// Scheduler owns the pending backup timers. Exactly one of two modes is
// active: schedule mode (one cron entry per expanded weekday/time pair) or
// interval mode (one fixed-period entry). Reconfiguring cancels every
// existing entry before creating new ones.
type Scheduler struct {
	cron    *cron.Cron
	trigger func()

	mu           sync.Mutex
	entries      []cron.EntryID
	nextInterval time.Time
	intervalMode bool
}

// New creates a scheduler in the given timezone. trigger is invoked once per
// timer fire, in its own goroutine, and must not block the caller.
func New(loc *time.Location, trigger func()) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		trigger: trigger,
	}
}

// Configure replaces all pending timers according to cfg. Schedule mode wins
// over interval mode when both are configured; with neither, the scheduler
// ends up with no timers at all.
func (s *Scheduler) Configure(cfg config.ScheduleConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.entries {
		s.cron.Remove(id)
	}
	s.entries = s.entries[:0]
	s.intervalMode = false

	switch {
	case cfg.Enabled:
		for i, entry := range cfg.Entries {
			days, err := schedule.ExpandDays(entry.Days)
			if err != nil {
				return fmt.Errorf("entries[%d]: %w", i, err)
			}
			at, err := time.Parse("15:04", entry.Time)
			if err != nil {
				return fmt.Errorf("entries[%d]: time must be HH:MM: %w", i, err)
			}

			for _, wd := range days {
				spec := fmt.Sprintf("%d %d * * %d", at.Minute(), at.Hour(), int(wd))
				id, err := s.cron.AddFunc(spec, s.trigger)
				if err != nil {
					return fmt.Errorf("entries[%d]: %w", i, err)
				}
				s.entries = append(s.entries, id)
			}
		}

	case cfg.IntervalMinutes > 0:
		period := time.Duration(cfg.IntervalMinutes) * time.Minute
		id := s.cron.Schedule(cron.Every(period), cron.FuncJob(func() {
			s.resetNextInterval(period)
			s.trigger()
		}))
		s.entries = append(s.entries, id)
		s.intervalMode = true
		s.nextInterval = time.Now().Add(period)
	}

	return nil
}

func (s *Scheduler) resetNextInterval(period time.Duration) {
	s.mu.Lock()
	s.nextInterval = time.Now().Add(period)
	s.mu.Unlock()
}

// NextIntervalBackup returns the tracked time of the next interval-mode fire.
// The second return is false outside interval mode.
func (s *Scheduler) NextIntervalBackup() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextInterval, s.intervalMode
}

// Active reports whether any timers are pending.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries) > 0
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
