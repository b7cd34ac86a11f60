package uploader

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/kibotos/kibotos/internal/config"
	"github.com/kibotos/kibotos/internal/domain"
)

// FTP is both an upload backend and a file-server source, optionally over
// explicit TLS (FTPS).
type FTP struct {
	domain.ErrorFlag

	conn      *ftp.ServerConn
	remoteDir string
	keep      int
	log       Logger
	closed    bool
}

// NewFTP connects an upload target from the uploaders config.
func NewFTP(cfg *config.UploaderConfig, keep int, log Logger) (*FTP, error) {
	return dialFTP(cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.FTPS, cfg.RemoteDir, keep, log)
}

// NewFTPSource connects a file-server external source.
func NewFTPSource(cfg *config.ExternalSource, log Logger) (*FTP, error) {
	return dialFTP(cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.FTPS, cfg.BaseDir, -1, log)
}

func dialFTP(host string, port int, user, password string, ftps bool, remoteDir string, keep int, log Logger) (*FTP, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	opts := []ftp.DialOption{ftp.DialWithTimeout(30 * time.Second)}
	if ftps {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: host}))
	}

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if err := conn.Login(user, password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("failed to log in to %s: %w", addr, err)
	}

	return &FTP{
		conn:      conn,
		remoteDir: remoteDir,
		keep:      keep,
		log:       log,
	}, nil
}

func (f *FTP) Name() string { return "FTP" }

func (f *FTP) SetupInstructions() string {
	return "Couldn't upload over FTP: check the host, credentials and remote_dir in the uploaders section"
}

// mkdirAll creates each path segment, ignoring errors for segments that
// already exist.
func (f *FTP) mkdirAll(dir string) {
	var built string
	for _, segment := range strings.Split(path.Clean(dir), "/") {
		if segment == "" || segment == "." {
			continue
		}
		built = path.Join(built, segment)
		_ = f.conn.MakeDir(built)
	}
}

func (f *FTP) UploadFile(ctx context.Context, localPath string, destHint string) {
	src, err := os.Open(localPath)
	if err != nil {
		f.log.Errorf("Failed to open %q for FTP upload: %v", localPath, err)
		f.SetError()
		return
	}
	defer src.Close()

	destDir := path.Join(f.remoteDir, destHint)
	f.mkdirAll(destDir)

	if err := f.conn.Stor(path.Join(destDir, filepath.Base(localPath)), src); err != nil {
		f.log.Errorf("Failed to upload over FTP: %v", err)
		f.SetError()
	}
}

func (f *FTP) Test(ctx context.Context, localPath string) {
	f.UploadFile(ctx, localPath, "")
	if f.IsErrorWhileUploading() {
		return
	}
	remote := path.Join(f.remoteDir, filepath.Base(localPath))
	if err := f.conn.Delete(remote); err != nil {
		f.log.Errorf("FTP test cleanup failed: %v", err)
		f.SetError()
	}
}

// PruneRemote deletes the oldest files in the backup set's remote directory
// until the keep-count remains, ordered by server-reported modification time.
func (f *FTP) PruneRemote(ctx context.Context, destHint string) error {
	if f.keep < 0 {
		return nil
	}

	destDir := path.Join(f.remoteDir, destHint)
	entries, err := f.conn.List(destDir)
	if err != nil {
		return fmt.Errorf("failed to list %q: %w", destDir, err)
	}

	var files []*ftp.Entry
	for _, entry := range entries {
		if entry.Type == ftp.EntryTypeFile {
			files = append(files, entry)
		}
	}
	if len(files) <= f.keep {
		return nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Time.Before(files[j].Time) })

	f.log.Infof("There are %d file(s) on the FTP server which exceeds the limit of %d, deleting oldest",
		len(files), f.keep)

	for _, entry := range files[:len(files)-f.keep] {
		if err := f.conn.Delete(path.Join(destDir, entry.Name)); err != nil {
			return fmt.Errorf("failed to delete %q: %w", entry.Name, err)
		}
	}
	return nil
}

// GetFiles lists every file under remotePath recursively, relative to it.
func (f *FTP) GetFiles(ctx context.Context, remotePath string) ([]string, error) {
	var files []string

	var walk func(dir, rel string) error
	walk = func(dir, rel string) error {
		entries, err := f.conn.List(dir)
		if err != nil {
			return fmt.Errorf("failed to list %q: %w", dir, err)
		}
		for _, entry := range entries {
			switch entry.Type {
			case ftp.EntryTypeFile:
				files = append(files, path.Join(rel, entry.Name))
			case ftp.EntryTypeFolder:
				if entry.Name == "." || entry.Name == ".." {
					continue
				}
				if err := walk(path.Join(dir, entry.Name), path.Join(rel, entry.Name)); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(remotePath, ""); err != nil {
		return nil, err
	}
	return files, nil
}

// DownloadFile retrieves remotePath into localDir, keeping the base name.
func (f *FTP) DownloadFile(ctx context.Context, remotePath string, localDir string) error {
	resp, err := f.conn.Retr(remotePath)
	if err != nil {
		return fmt.Errorf("failed to retrieve %q: %w", remotePath, err)
	}
	defer resp.Close()

	if err := os.MkdirAll(localDir, 0755); err != nil {
		return fmt.Errorf("failed to create %q: %w", localDir, err)
	}

	dst, err := os.Create(filepath.Join(localDir, path.Base(remotePath)))
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer dst.Close()

	if _, err := dst.ReadFrom(resp); err != nil {
		return fmt.Errorf("failed to download %q: %w", remotePath, err)
	}
	return nil
}

// Close sends QUIT and drops the connection. Idempotent.
func (f *FTP) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	return f.conn.Quit()
}
