// Package retention prunes archives beyond a configured keep-count, oldest
// first, ordering solely by the timestamp parsed from each filename.
package retention

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoArchives is returned when a directory holds nothing parseable under
// the configured layout.
var ErrNoArchives = errors.New("no archives found")

// Record is one archive on disk with the timestamp recovered from its name.
type Record struct {
	At   time.Time
	Path string
}

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// Scan parses every filename in dir against the layout and returns the
// matching records sorted newest first. Files written under a different
// layout do not parse and are ignored entirely; changing the layout while old
// archives exist orphans them from retention accounting.
func Scan(dir, layout string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		at, ok := parseName(entry.Name(), layout)
		if !ok {
			continue
		}
		records = append(records, Record{At: at, Path: filepath.Join(dir, entry.Name())})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].At.After(records[j].At) })
	return records, nil
}

func parseName(name, layout string) (time.Time, bool) {
	if at, err := time.Parse(layout, name); err == nil {
		return at, true
	}
	// The archiver appends .zip when the layout doesn't carry it.
	if trimmed := strings.TrimSuffix(name, ".zip"); trimmed != name {
		if at, err := time.Parse(layout, trimmed); err == nil {
			return at, true
		}
	}
	return time.Time{}, false
}

// Newest resolves the most recent archive in dir under the layout.
func Newest(dir, layout string) (Record, error) {
	records, err := Scan(dir, layout)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, fmt.Errorf("%w in %q", ErrNoArchives, dir)
	}
	return records[0], nil
}

// Prune deletes the oldest archives in dir until keep remain. keep = -1 means
// unlimited, never delete. Deletion failures are reported and skipped; the
// loop continues so other files still get pruned. Returns the number deleted.
func Prune(dir, layout string, keep int, log Logger) (int, error) {
	if keep < 0 {
		return 0, nil
	}

	records, err := Scan(dir, layout)
	if err != nil {
		return 0, err
	}
	if len(records) <= keep {
		return 0, nil
	}

	log.Infof("There are %d archive(s) in %q which exceeds the local limit of %d, deleting oldest",
		len(records), dir, keep)

	deleted := 0
	for i := len(records) - 1; i >= keep; i-- {
		if err := os.Remove(records[i].Path); err != nil {
			log.Errorf("Failed to delete local archive %q: %v", records[i].Path, err)
			continue
		}
		deleted++
	}
	return deleted, nil
}
