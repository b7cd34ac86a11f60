package database

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/kibotos/kibotos/internal/config"
)

// MySQL dumps databases from a remote MySQL server via mysqldump, used by
// the external stager.
type MySQL struct {
	config *config.ExternalSource
}

func NewMySQL(cfg *config.ExternalSource) *MySQL {
	return &MySQL{config: cfg}
}

// DownloadDatabase dumps the named database into destDir as <name>.sql,
// skipping the blacklisted tables.
func (m *MySQL) DownloadDatabase(ctx context.Context, name string, destDir string, blacklist []string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create %q: %w", destDir, err)
	}

	sslMode := "DISABLED"
	if m.config.SSL {
		sslMode = "REQUIRED"
	}

	args := []string{
		fmt.Sprintf("--host=%s", m.config.Host),
		fmt.Sprintf("--port=%d", m.config.Port),
		fmt.Sprintf("--user=%s", m.config.Username),
		fmt.Sprintf("--password=%s", m.config.Password),
		fmt.Sprintf("--ssl-mode=%s", sslMode),
		"--single-transaction",
		"--quick",
		"--lock-tables=false",
		"--routines",
		"--triggers",
		"--events",
	}
	for _, table := range blacklist {
		args = append(args, fmt.Sprintf("--ignore-table=%s.%s", name, table))
	}
	args = append(args,
		fmt.Sprintf("--result-file=%s", filepath.Join(destDir, name+".sql")),
		name,
	)

	cmd := exec.CommandContext(ctx, "mysqldump", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mysqldump failed: %w, output: %s", err, string(output))
	}
	return nil
}

// Ping verifies the server is reachable with the configured credentials.
func (m *MySQL) Ping(ctx context.Context) error {
	args := []string{
		fmt.Sprintf("--host=%s", m.config.Host),
		fmt.Sprintf("--port=%d", m.config.Port),
		fmt.Sprintf("--user=%s", m.config.Username),
		fmt.Sprintf("--password=%s", m.config.Password),
		"-e", "SELECT 1",
	}

	cmd := exec.CommandContext(ctx, "mysql", args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("mysql ping failed: %w", err)
	}
	return nil
}

func (m *MySQL) Close() error { return nil }
