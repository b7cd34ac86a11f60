// Package usecase drives a full backup run: stage external sources, archive
// every backup set, fan out to the configured destinations, prune old
// archives, and clean up.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kibotos/kibotos/internal/archive"
	"github.com/kibotos/kibotos/internal/config"
	"github.com/kibotos/kibotos/internal/domain"
	"github.com/kibotos/kibotos/internal/retention"
)

var (
	// ErrAlreadyRunning rejects a run while another is in flight. Runs are
	// rejected, never queued.
	ErrAlreadyRunning = errors.New("a backup is already running")

	// ErrNoDestination rejects a run that would produce nothing: no enabled
	// destinations and a local keep count of zero.
	ErrNoDestination = errors.New("no backup destinations are configured")

	// ErrBackupIncomplete reports that the run finished but at least one
	// source or destination had problems.
	ErrBackupIncomplete = errors.New("backup completed, but some problems occurred")
)

type Logger interface {
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// ExternalStager pulls remote file servers and databases into a local
// directory before archiving. Satisfied by external.Stager.
type ExternalStager interface {
	Stage(ctx context.Context, sources []config.ExternalSource, format string) ([]domain.BackupSource, bool)
	Cleanup() error
}

// AdapterFactory builds a fresh set of destination adapters for one run.
// Construction failures are handled inside the factory; it returns only the
// adapters that connected.
type AdapterFactory func(ctx context.Context) []domain.Uploader

// Backup is the run orchestrator. It owns the single-flight guard: at most
// one run is in progress per process, and concurrent requests are rejected
// with a snapshot of the current progress.
type Backup struct {
	cfg      *config.Config
	archiver *archive.Archiver
	stager   ExternalStager
	adapters AdapterFactory
	log      Logger

	mu       sync.Mutex
	progress domain.Progress

	onComplete   func(success bool)
	nextInterval func() (time.Time, bool)
}

func NewBackup(cfg *config.Config, archiver *archive.Archiver, stager ExternalStager, adapters AdapterFactory, log Logger) *Backup {
	return &Backup{
		cfg:      cfg,
		archiver: archiver,
		stager:   stager,
		adapters: adapters,
		log:      log,
	}
}

// SetOnComplete registers a hook invoked at the end of every run with the
// run's overall success.
func (b *Backup) SetOnComplete(fn func(success bool)) { b.onComplete = fn }

// SetIntervalSource registers the scheduler's next-interval query, used for
// the next-backup status message in interval mode.
func (b *Backup) SetIntervalSource(fn func() (time.Time, bool)) { b.nextInterval = fn }

// Run executes one full backup. It returns ErrAlreadyRunning when a run is
// in flight, ErrNoDestination when the run would produce nothing, and
// ErrBackupIncomplete when the run finished with problems.
func (b *Backup) Run(ctx context.Context) error {
	if err := b.begin(); err != nil {
		return err
	}
	defer b.setProgress(domain.StateIdle, "", 0, 0)

	if len(b.cfg.GetEnabledUploaders()) == 0 && b.cfg.Backup.LocalKeepCount == 0 {
		b.log.Errorf("No backup destinations are configured and the local keep count is 0, skipping backup")
		return ErrNoDestination
	}

	b.log.Infof("Creating backups, the server may lag for a little while...")
	b.runHook(ctx, "pause")

	errorOccurred := !b.execute(ctx)

	b.runHook(ctx, "resume")
	if err := b.stager.Cleanup(); err != nil {
		b.log.Warnf("Failed to remove the external staging directory: %v", err)
	}

	if b.onComplete != nil {
		b.onComplete(!errorOccurred)
	}
	if msg := b.NextBackupMessage(time.Now()); msg != "" {
		b.log.Infof("%s", msg)
	}

	if errorOccurred {
		b.log.Errorf("Backup completed, but some problems occurred")
		return ErrBackupIncomplete
	}
	b.log.Infof("Backup completed successfully")
	return nil
}

// execute performs staging, archiving and upload. It reports success.
func (b *Backup) execute(ctx context.Context) bool {
	ok := true

	staged, stagingFailed := b.stager.Stage(ctx, b.cfg.External, b.cfg.Backup.Format)
	if stagingFailed {
		ok = false
	}

	sources, err := b.resolveSources(staged)
	if err != nil {
		b.log.Errorf("Failed to resolve backup sets: %v", err)
		return false
	}

	adapters := b.adapters(ctx)
	defer b.closeAdapters(adapters)

	for i, src := range sources {
		if !b.backupSource(ctx, src, i, len(sources), adapters) {
			ok = false
		}
	}

	for _, up := range adapters {
		if up.IsErrorWhileUploading() {
			if hint := up.SetupInstructions(); hint != "" {
				b.log.Infof("%s", hint)
			}
			ok = false
		}
	}
	return ok
}

// resolveSources turns the configured backup sets plus the staged external
// sets into the concrete list for this run, expanding globs to directories.
func (b *Backup) resolveSources(staged []domain.BackupSource) ([]domain.BackupSource, error) {
	var out []domain.BackupSource
	for _, src := range b.cfg.Backup.Sources {
		if src.Glob != "" {
			dirs, err := archive.GlobDirs(src.Glob)
			if err != nil {
				return nil, fmt.Errorf("bad glob %q: %w", src.Glob, err)
			}
			if len(dirs) == 0 {
				b.log.Warnf("Glob %q did not match any directories", src.Glob)
			}
			for _, dir := range dirs {
				out = append(out, domain.BackupSource{
					Path:      dir,
					Format:    b.cfg.SourceFormat(src),
					Create:    b.cfg.SourceCreate(src),
					Blacklist: src.Blacklist,
				})
			}
			continue
		}
		out = append(out, domain.BackupSource{
			Path:      src.Path,
			Format:    b.cfg.SourceFormat(src),
			Create:    b.cfg.SourceCreate(src),
			Blacklist: src.Blacklist,
		})
	}
	return append(out, staged...), nil
}

// backupSource archives one backup set and uploads its newest archive. A
// failure here stops this set only, never the run.
func (b *Backup) backupSource(ctx context.Context, src domain.BackupSource, index, total int, adapters []domain.Uploader) bool {
	label := src.Label()
	outDir := filepath.Join(b.cfg.Backup.LocalDir, destFolder(src.Path))

	if src.Create {
		b.setProgress(domain.StateCompressing, label, index, total)
		name := time.Now().Format(src.Format)
		if !strings.HasSuffix(name, ".zip") {
			name += ".zip"
		}

		report, err := b.archiver.Create(src.Path, archive.NewBlacklist(src.Blacklist), filepath.Join(outDir, name))
		if errors.Is(err, archive.ErrAbsolutePath) {
			b.log.Errorf("Failed to create a backup of %q: absolute paths cannot be backed up, use a path relative to the working directory", label)
			return false
		}
		if err != nil {
			b.log.Errorf("Failed to create a backup of %q: %v", label, err)
			return false
		}
		b.logReport(label, report)
	}

	b.setProgress(domain.StateUploading, label, index, total)
	newest, err := retention.Newest(outDir, src.Format)
	if errors.Is(err, retention.ErrNoArchives) {
		b.log.Warnf("No backup files found for %q, nothing to upload", label)
		return !src.Create // only a problem when one was supposed to exist
	}
	if err != nil {
		b.log.Errorf("Failed to find the newest backup of %q: %v", label, err)
		return false
	}

	ok := true
	hint := destFolder(src.Path)
	for _, up := range adapters {
		start := time.Now()
		up.UploadFile(ctx, newest.Path, hint)
		elapsed := time.Since(start).Round(time.Millisecond)
		if up.IsErrorWhileUploading() {
			b.log.Errorf("Uploading %q to %s failed after %s", label, up.Name(), elapsed)
			ok = false
			continue
		}
		b.log.Infof("Uploaded %q to %s in %s", label, up.Name(), elapsed)

		if pruner, can := up.(domain.RemoteRetainer); can {
			if err := pruner.PruneRemote(ctx, hint); err != nil {
				b.log.Warnf("Failed to prune old backups of %q on %s: %v", label, up.Name(), err)
			}
		}
	}

	if _, err := retention.Prune(outDir, src.Format, b.cfg.Backup.LocalKeepCount, b.log); err != nil {
		b.log.Warnf("Failed to prune local backups of %q: %v", label, err)
	}
	return ok
}

func (b *Backup) logReport(label string, report *archive.Report) {
	b.log.Infof("Backed up %d file(s) from %q", report.Archived, label)
	if report.InBackupDir > 0 {
		b.log.Infof("Didn't include %d file(s) in the backup, as they are in the backup directory", report.InBackupDir)
	}
	if report.Unreadable > 0 {
		b.log.Infof("Didn't include %d file(s) in the backup, as they could not be read", report.Unreadable)
	}
	for _, entry := range report.Blacklist {
		if entry.Suppressed > 0 {
			b.log.Infof("Didn't include %d file(s) in the backup, as they are blacklisted by %q", entry.Suppressed, entry.Pattern)
		}
	}
}

func (b *Backup) closeAdapters(adapters []domain.Uploader) {
	for _, up := range adapters {
		if err := up.Close(); err != nil {
			b.log.Warnf("Failed to close the %s connection: %v", up.Name(), err)
		}
	}
}

// begin claims the single-flight slot or rejects with the current progress.
func (b *Backup) begin() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.progress.State != domain.StateIdle {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, b.progress)
	}
	b.progress = domain.Progress{State: domain.StateStaging}
	return nil
}

func (b *Backup) setProgress(state domain.RunState, source string, index, total int) {
	b.mu.Lock()
	b.progress = domain.Progress{State: state, Source: source, Index: index, Total: total}
	b.mu.Unlock()
}

// runHook invokes the configured autosave command with the given phase.
// Best effort: a failing hook never aborts the backup.
func (b *Backup) runHook(ctx context.Context, phase string) {
	cmd := b.cfg.Backup.PauseAutosaveCmd
	if cmd == "" {
		return
	}
	if out, err := exec.CommandContext(ctx, "sh", "-c", cmd+" "+phase).CombinedOutput(); err != nil {
		b.log.Warnf("Autosave %s command failed: %v (%s)", phase, err, strings.TrimSpace(string(out)))
	}
}

// destFolder maps a backup set path to its folder under the local backup
// directory and to the destination hint given to the uploaders. Parent
// references are stripped so a set like "../data" cannot place archives
// outside the backup directory.
func destFolder(p string) string {
	parts := strings.Split(filepath.ToSlash(filepath.Clean(p)), "/")
	kept := parts[:0]
	for _, seg := range parts {
		if seg == ".." || seg == "." || seg == "" {
			continue
		}
		kept = append(kept, seg)
	}
	if len(kept) == 0 {
		return "root"
	}
	return strings.Join(kept, "/")
}
