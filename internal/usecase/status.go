package usecase

import (
	"fmt"
	"time"

	"github.com/kibotos/kibotos/internal/domain"
	"github.com/kibotos/kibotos/internal/schedule"
)

// Progress returns a snapshot of the run in flight. Safe to call from any
// goroutine while a run mutates its own state.
func (b *Backup) Progress() domain.Progress {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.progress
}

// NextBackupMessage describes when the next automatic backup fires, or that
// scheduling is disabled. An empty string means the question cannot be
// answered right now.
func (b *Backup) NextBackupMessage(now time.Time) string {
	sched := b.cfg.Schedule
	if sched.Enabled && len(sched.Entries) > 0 {
		local := now.In(b.cfg.Location())
		occurrences, err := schedule.Resolve(sched.Entries, local)
		if err != nil {
			return ""
		}
		// Resolve yields only future occurrences, so the nearest one is the
		// next one.
		nearest, ok := schedule.Nearest(occurrences, local)
		if !ok {
			return ""
		}
		next := nearest.At
		return fmt.Sprintf("The next backup is in %s, at %s",
			formatUntil(next.Sub(now)), next.Format("15:04 on Monday"))
	}

	if b.nextInterval != nil {
		if next, ok := b.nextInterval(); ok {
			return fmt.Sprintf("The next backup is in %s", formatUntil(next.Sub(now)))
		}
	}
	return "Automatic backups are disabled"
}

func formatUntil(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Minute)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	switch {
	case hours == 0:
		return fmt.Sprintf("%d minute(s)", minutes)
	case minutes == 0:
		return fmt.Sprintf("%d hour(s)", hours)
	default:
		return fmt.Sprintf("%d hour(s) and %d minute(s)", hours, minutes)
	}
}
