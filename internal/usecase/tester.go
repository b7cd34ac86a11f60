package usecase

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kibotos/kibotos/internal/domain"
)

const defaultTestFileSize = 1000

// RunConnectivityTest verifies that a destination is reachable and writable
// by uploading a throwaway file of the given size in bytes and deleting the
// local copy afterwards. The adapter removes its remote copy itself.
func RunConnectivityTest(ctx context.Context, up domain.Uploader, dir string, size int, log Logger) error {
	if size <= 0 {
		size = defaultTestFileSize
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create the backup directory: %w", err)
	}

	payload := make([]byte, size)
	if _, err := rand.Read(payload); err != nil {
		return fmt.Errorf("failed to generate the test file: %w", err)
	}

	localPath := filepath.Join(dir, "testfile.txt")
	if err := os.WriteFile(localPath, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write the test file: %w", err)
	}
	defer os.Remove(localPath)

	log.Infof("Testing the %s connection with a %d byte file...", up.Name(), size)
	up.Test(ctx, localPath)
	if up.IsErrorWhileUploading() {
		return fmt.Errorf("the %s connection test failed", up.Name())
	}
	log.Infof("The %s connection works, successfully uploaded and deleted the test file", up.Name())
	return nil
}
