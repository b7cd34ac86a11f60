// Package archive turns a directory tree into a timestamp-named zip, honoring
// blacklist globs and never swallowing its own output directory.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
)

// ErrAbsolutePath is returned when the requested root is absolute. Archiving
// an absolute path can reach outside the server tree and is refused outright.
var ErrAbsolutePath = errors.New("backup root must be a relative path")

// Report summarizes one archive operation for end-of-run logging.
type Report struct {
	// Archived is the number of files written into the container.
	Archived int

	// InBackupDir counts files excluded because they live under the local
	// backup output directory.
	InBackupDir int

	// Unreadable counts files skipped because they could not be read.
	Unreadable int

	// Blacklist holds per-pattern suppression counts.
	Blacklist []BlacklistEntry
}

// Archiver writes zip archives with a configurable deflate level, excluding
// everything under the local backup output directory.
type Archiver struct {
	localDir string // canonical absolute path of the backup output root
	level    int
}

func New(localDir string, level int) (*Archiver, error) {
	abs, err := filepath.Abs(localDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backup directory: %w", err)
	}
	if level < flate.NoCompression || level > flate.BestCompression {
		return nil, fmt.Errorf("compression level %d out of range", level)
	}
	return &Archiver{localDir: abs, level: level}, nil
}

// Create archives the tree rooted at root into outPath. Entry names are
// rooted at the last path segment of root, or "root" when root is the
// process's base directory. A single unreadable file is skipped and counted;
// it does not abort the archive.
func (a *Archiver) Create(root string, blacklist *Blacklist, outPath string) (*Report, error) {
	if filepath.IsAbs(root) {
		return nil, ErrAbsolutePath
	}
	root = filepath.Clean(strings.ReplaceAll(root, ".."+string(filepath.Separator), ""))

	prefix := filepath.Base(root)
	if root == "." {
		prefix = "root"
	}

	report := &Report{}

	files, err := a.collect(root, blacklist, report)
	if err != nil {
		return nil, err
	}
	report.Blacklist = blacklist.Entries()

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, a.level)
	})

	for _, rel := range files {
		if err := a.addFile(zw, root, prefix, rel, report); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return report, nil
}

// collect walks the tree and returns the relative paths to archive, applying
// the backup-folder exclusion and the blacklist.
func (a *Archiver) collect(root string, blacklist *Blacklist, report *Report) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		if abs == a.localDir || strings.HasPrefix(abs, a.localDir+string(filepath.Separator)) {
			report.InBackupDir++
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if blacklist.Match(filepath.ToSlash(rel)) {
			return nil
		}

		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %q: %w", root, err)
	}

	return files, nil
}

func (a *Archiver) addFile(zw *zip.Writer, root, prefix, rel string, report *Report) error {
	src, err := os.Open(filepath.Join(root, rel))
	if err != nil {
		// Locked or vanished since the walk; skip it, the archive is still
		// usable without.
		report.Unreadable++
		return nil
	}
	defer src.Close()

	w, err := zw.Create(prefix + "/" + filepath.ToSlash(rel))
	if err != nil {
		return fmt.Errorf("failed to add %q: %w", rel, err)
	}

	if _, err := io.Copy(w, src); err != nil {
		report.Unreadable++
		return nil
	}

	report.Archived++
	return nil
}

// GlobDirs expands a directory glob relative to the working directory into
// concrete directories, each of which becomes its own backup root.
func GlobDirs(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad glob %q: %w", pattern, err)
	}

	var dirs []string
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || !info.IsDir() {
			continue
		}
		dirs = append(dirs, match)
	}
	return dirs, nil
}
