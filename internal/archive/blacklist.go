package archive

import "github.com/bmatcuk/doublestar/v4"

// BlacklistEntry is a glob pattern plus the number of files it suppressed
// during the current operation.
type BlacklistEntry struct {
	Pattern    string
	Suppressed int
}

// Blacklist matches relative paths against a set of glob patterns, counting
// suppressions per pattern for end-of-operation reporting. Counts reset with
// each new Blacklist, so build one per operation.
type Blacklist struct {
	entries []BlacklistEntry
}

func NewBlacklist(patterns []string) *Blacklist {
	entries := make([]BlacklistEntry, 0, len(patterns))
	for _, pattern := range patterns {
		entries = append(entries, BlacklistEntry{Pattern: pattern})
	}
	return &Blacklist{entries: entries}
}

// Match tests a slash-separated relative path against every pattern. Each
// matching pattern's suppression count increments; the path is suppressed if
// any pattern matched. Malformed patterns never match.
func (b *Blacklist) Match(relPath string) bool {
	suppressed := false
	for i := range b.entries {
		ok, err := doublestar.Match(b.entries[i].Pattern, relPath)
		if err != nil || !ok {
			continue
		}
		b.entries[i].Suppressed++
		suppressed = true
	}
	return suppressed
}

// Entries returns a snapshot of the patterns and their suppression counts.
func (b *Blacklist) Entries() []BlacklistEntry {
	out := make([]BlacklistEntry, len(b.entries))
	copy(out, b.entries)
	return out
}
