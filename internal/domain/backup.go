package domain

import "fmt"

// RunState is the state of the backup run machine. Exactly one run may be
// non-Idle at a time process-wide.
type RunState int

const (
	StateIdle RunState = iota
	StateStaging
	StateCompressing
	StateUploading
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStaging:
		return "staging"
	case StateCompressing:
		return "compressing"
	case StateUploading:
		return "uploading"
	default:
		return "unknown"
	}
}

// BackupSource is one unit to archive: either a concrete relative path or a
// glob expanding to several of them. Sources appended by the external stager
// are marked Ephemeral and discarded at the end of the run.
type BackupSource struct {
	Path      string
	Glob      string
	Format    string
	Create    bool
	Blacklist []string
	Ephemeral bool
}

// Label returns the human-readable name of the source for status output.
func (s BackupSource) Label() string {
	if s.Path != "" {
		return s.Path
	}
	return s.Glob
}

// Progress is an immutable snapshot of the run in flight, safe to hand to
// status queries while the run mutates its own state.
type Progress struct {
	State  RunState
	Source string
	Index  int
	Total  int
}

func (p Progress) String() string {
	if p.State == StateIdle {
		return "no backup is running"
	}
	return fmt.Sprintf("%s backup set %q, set %d of %d", p.State, p.Source, p.Index+1, p.Total)
}
