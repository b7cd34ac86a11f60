// Package external stages remote file-server trees and database dumps into a
// local directory so the current run can archive them like any other source.
package external

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/kibotos/kibotos/internal/adapter/database"
	"github.com/kibotos/kibotos/internal/adapter/uploader"
	"github.com/kibotos/kibotos/internal/archive"
	"github.com/kibotos/kibotos/internal/config"
	"github.com/kibotos/kibotos/internal/domain"
)

// RootDir is the staging root, deleted wholesale at the end of every run.
const RootDir = "external-backups"

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// FileServerDialer and DatabaseDialer connect a configured external source;
// injectable so tests can stage from fakes.
type (
	FileServerDialer func(cfg *config.ExternalSource) (domain.FileServer, error)
	DatabaseDialer   func(cfg *config.ExternalSource) (domain.DatabaseServer, error)
)

// Stager materializes external sources under RootDir and hands back the
// staged directories as synthetic backup sources for the current run.
type Stager struct {
	root     string
	log      Logger
	dialFile FileServerDialer
	dialDB   DatabaseDialer
}

func NewStager(log Logger) *Stager {
	return &Stager{
		root: RootDir,
		log:  log,
		dialFile: func(cfg *config.ExternalSource) (domain.FileServer, error) {
			if cfg.Type == "sftpServer" {
				return uploader.NewSFTPSource(cfg, log)
			}
			return uploader.NewFTPSource(cfg, log)
		},
		dialDB: func(cfg *config.ExternalSource) (domain.DatabaseServer, error) {
			return database.NewMySQL(cfg), nil
		},
	}
}

// NewStagerWithDialers is for tests.
func NewStagerWithDialers(root string, log Logger, files FileServerDialer, dbs DatabaseDialer) *Stager {
	return &Stager{root: root, log: log, dialFile: files, dialDB: dbs}
}

// StageDirName derives the stable per-source staging directory name from the
// source's kind, host and port, disambiguating multiple external sources in
// the same run.
func StageDirName(cfg *config.ExternalSource) string {
	kind := "ftp"
	switch cfg.Type {
	case "sftpServer":
		kind = "sftp"
	case "mysqlServer":
		kind = "mysql"
	}
	return fmt.Sprintf("%s-%s-%d", kind, cfg.Host, cfg.Port)
}

// Stage pulls every configured external source into the staging root. Each
// staged directory becomes a synthetic backup source even when staging
// partially failed: whatever was retrieved still gets archived. The second
// return reports whether any staging error occurred.
func (s *Stager) Stage(ctx context.Context, sources []config.ExternalSource, format string) ([]domain.BackupSource, bool) {
	var staged []domain.BackupSource
	errorOccurred := false

	for i := range sources {
		src := &sources[i]
		stageDir := filepath.Join(s.root, StageDirName(src))

		var err error
		switch src.Type {
		case "mysqlServer":
			s.log.Infof("Downloading databases from a MySQL server (%s:%d) to include in backup", src.Host, src.Port)
			err = s.stageDatabases(ctx, src, stageDir)
		default:
			s.log.Infof("Downloading files from a (S)FTP server (%s:%d) to include in backup", src.Host, src.Port)
			err = s.stageFiles(ctx, src, stageDir)
		}

		if err != nil {
			s.log.Errorf("Failed to include content from %s:%d in the backup, check the server credentials: %v",
				src.Host, src.Port, err)
			errorOccurred = true
		}

		// Archive whatever made it into the staging directory.
		if _, statErr := os.Stat(stageDir); statErr == nil {
			staged = append(staged, domain.BackupSource{
				Path:      stageDir,
				Format:    format,
				Create:    true,
				Ephemeral: true,
			})
		}
	}

	return staged, errorOccurred
}

func (s *Stager) stageFiles(ctx context.Context, src *config.ExternalSource, stageDir string) error {
	server, err := s.dialFile(src)
	if err != nil {
		return err
	}
	defer server.Close()

	var firstErr error
	for _, bp := range src.BackupPaths {
		blacklist := archive.NewBlacklist(bp.Blacklist)
		remoteBase := path.Join(src.BaseDir, bp.Path)

		files, err := server.GetFiles(ctx, remoteBase)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		for _, rel := range files {
			if blacklist.Match(rel) {
				continue
			}

			localDir := filepath.Join(stageDir, bp.Path, filepath.FromSlash(path.Dir(rel)))
			if err := server.DownloadFile(ctx, path.Join(remoteBase, rel), localDir); err != nil {
				s.log.Errorf("Failed to download %q: %v", rel, err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}

		for _, entry := range blacklist.Entries() {
			if entry.Suppressed > 0 {
				s.log.Infof("Didn't include %d file(s) from the file server, blacklisted by %q",
					entry.Suppressed, entry.Pattern)
			}
		}
	}

	return firstErr
}

func (s *Stager) stageDatabases(ctx context.Context, src *config.ExternalSource, stageDir string) error {
	server, err := s.dialDB(src)
	if err != nil {
		return err
	}
	defer server.Close()

	if err := server.Ping(ctx); err != nil {
		return err
	}

	var firstErr error
	for _, db := range src.Databases {
		for _, table := range db.Blacklist {
			s.log.Infof("Didn't include table %q of database %q in the backup, as it is blacklisted", table, db.Name)
		}

		if err := server.DownloadDatabase(ctx, db.Name, stageDir, db.Blacklist); err != nil {
			s.log.Errorf("Failed to dump database %q: %v", db.Name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// Cleanup removes the whole staging root, partial results included.
func (s *Stager) Cleanup() error {
	return os.RemoveAll(s.root)
}
