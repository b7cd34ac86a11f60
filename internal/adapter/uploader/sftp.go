package uploader

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/kibotos/kibotos/internal/config"
	"github.com/kibotos/kibotos/internal/domain"
)

// SFTP is both an upload backend and a file-server source: the stager uses
// GetFiles/DownloadFile to pull a remote tree into the staging directory.
type SFTP struct {
	domain.ErrorFlag

	conn      *ssh.Client
	client    *sftp.Client
	remoteDir string
	keep      int
	log       Logger
	closed    bool
}

// NewSFTP connects an upload target from the uploaders config.
func NewSFTP(cfg *config.UploaderConfig, keep int, log Logger) (*SFTP, error) {
	return dialSFTP(cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.KeyFile, cfg.Passphrase, cfg.RemoteDir, keep, log)
}

// NewSFTPSource connects a file-server external source.
func NewSFTPSource(cfg *config.ExternalSource, log Logger) (*SFTP, error) {
	return dialSFTP(cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.KeyFile, cfg.Passphrase, cfg.BaseDir, -1, log)
}

func dialSFTP(host string, port int, user, password, keyFile, passphrase, remoteDir string, keep int, log Logger) (*SFTP, error) {
	var auth []ssh.AuthMethod

	if keyFile != "" {
		key, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key from %s: %w", keyFile, err)
		}
		var signer ssh.Signer
		if passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if password != "" {
		auth = append(auth, ssh.Password(password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no sftp credentials provided")
	}

	sshCfg := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // backup targets are operator-controlled
		Timeout:         30 * time.Second,
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := ssh.Dial("tcp", addr, sshCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to start sftp subsystem: %w", err)
	}

	return &SFTP{
		conn:      conn,
		client:    client,
		remoteDir: remoteDir,
		keep:      keep,
		log:       log,
	}, nil
}

func (s *SFTP) Name() string { return "SFTP" }

func (s *SFTP) SetupInstructions() string {
	return "Couldn't upload over SFTP: check the host, credentials and remote_dir in the uploaders section"
}

func (s *SFTP) UploadFile(ctx context.Context, localPath string, destHint string) {
	src, err := os.Open(localPath)
	if err != nil {
		s.log.Errorf("Failed to open %q for SFTP upload: %v", localPath, err)
		s.SetError()
		return
	}
	defer src.Close()

	destDir := path.Join(s.remoteDir, destHint)
	if err := s.client.MkdirAll(destDir); err != nil {
		s.log.Errorf("Failed to create remote directory %q: %v", destDir, err)
		s.SetError()
		return
	}

	dst, err := s.client.Create(path.Join(destDir, filepath.Base(localPath)))
	if err != nil {
		s.log.Errorf("Failed to create remote file: %v", err)
		s.SetError()
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		s.log.Errorf("Failed to upload over SFTP: %v", err)
		s.SetError()
	}
}

func (s *SFTP) Test(ctx context.Context, localPath string) {
	s.UploadFile(ctx, localPath, "")
	if s.IsErrorWhileUploading() {
		return
	}
	remote := path.Join(s.remoteDir, filepath.Base(localPath))
	if err := s.client.Remove(remote); err != nil {
		s.log.Errorf("SFTP test cleanup failed: %v", err)
		s.SetError()
	}
}

// PruneRemote deletes the oldest files in the backup set's remote directory
// until the keep-count remains, ordered by modification time.
func (s *SFTP) PruneRemote(ctx context.Context, destHint string) error {
	if s.keep < 0 {
		return nil
	}

	destDir := path.Join(s.remoteDir, destHint)
	entries, err := s.client.ReadDir(destDir)
	if err != nil {
		return fmt.Errorf("failed to list %q: %w", destDir, err)
	}

	var files []os.FileInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry)
		}
	}
	if len(files) <= s.keep {
		return nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].ModTime().Before(files[j].ModTime()) })

	s.log.Infof("There are %d file(s) on the SFTP server which exceeds the limit of %d, deleting oldest",
		len(files), s.keep)

	for _, file := range files[:len(files)-s.keep] {
		if err := s.client.Remove(path.Join(destDir, file.Name())); err != nil {
			return fmt.Errorf("failed to delete %q: %w", file.Name(), err)
		}
	}
	return nil
}

// GetFiles lists every file under remotePath recursively, relative to it.
func (s *SFTP) GetFiles(ctx context.Context, remotePath string) ([]string, error) {
	var files []string

	walker := s.client.Walk(remotePath)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return nil, fmt.Errorf("failed to walk %q: %w", remotePath, err)
		}
		if walker.Stat().IsDir() {
			continue
		}
		rel, err := filepath.Rel(remotePath, walker.Path())
		if err != nil {
			return nil, err
		}
		files = append(files, filepath.ToSlash(rel))
	}

	return files, nil
}

// DownloadFile retrieves remotePath into localDir, keeping the base name.
func (s *SFTP) DownloadFile(ctx context.Context, remotePath string, localDir string) error {
	src, err := s.client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file %q: %w", remotePath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(localDir, 0755); err != nil {
		return fmt.Errorf("failed to create %q: %w", localDir, err)
	}

	dst, err := os.Create(filepath.Join(localDir, path.Base(remotePath)))
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to download %q: %w", remotePath, err)
	}
	return nil
}

// Close releases the sftp session and the ssh connection. Idempotent.
func (s *SFTP) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.client.Close()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
