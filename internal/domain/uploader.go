package domain

import "context"

// Uploader is the capability contract every storage backend implements. Upload
// failures never cross this boundary as errors; they set the adapter's error
// flag, which the orchestrator reads after the run.
type Uploader interface {
	// UploadFile ships localPath to the backend under the destination hint
	// (the backup set name, e.g. "world" or "root").
	UploadFile(ctx context.Context, localPath string, destHint string)

	// Test uploads then deletes a throwaway file, same error-flag contract.
	Test(ctx context.Context, localPath string)

	IsErrorWhileUploading() bool

	// Close releases connections. Idempotent.
	Close() error

	Name() string

	// SetupInstructions is remediation text shown when the error flag is set
	// at the end of a run.
	SetupInstructions() string
}

// RemoteRetainer is implemented by uploaders that can list and delete their
// own remote copies. The orchestrator asks each one to enforce the remote
// keep-count after a successful upload; backends that cannot list remote
// files (e.g. chat notifications) simply don't implement it.
type RemoteRetainer interface {
	PruneRemote(ctx context.Context, destHint string) error
}

// FileServer is the listing/download side of file-transfer backends, used by
// the external stager to pull a remote tree into the staging directory.
type FileServer interface {
	// GetFiles lists all files under remotePath, recursively, as paths
	// relative to remotePath.
	GetFiles(ctx context.Context, remotePath string) ([]string, error)

	// DownloadFile retrieves remotePath into the local destination directory.
	DownloadFile(ctx context.Context, remotePath string, localDir string) error

	Close() error
}

// DatabaseServer dumps named remote databases into a local directory, used by
// the external stager for database sources.
type DatabaseServer interface {
	// Ping verifies the server is reachable with the configured credentials.
	Ping(ctx context.Context) error

	// DownloadDatabase dumps the named database into destDir, excluding the
	// blacklisted tables.
	DownloadDatabase(ctx context.Context, name string, destDir string, blacklist []string) error

	Close() error
}

// ErrorFlag is the shared per-run error flag implementation embedded by the
// uploader adapters.
type ErrorFlag struct {
	failed bool
}

func (f *ErrorFlag) SetError() { f.failed = true }

func (f *ErrorFlag) ResetError() { f.failed = false }

func (f *ErrorFlag) IsErrorWhileUploading() bool { return f.failed }
