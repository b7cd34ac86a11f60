package uploader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/kibotos/kibotos/internal/config"
	"github.com/kibotos/kibotos/internal/domain"
)

const driveFolderMime = "application/vnd.google-apps.folder"

// GDrive uploads archives into a per-backup-set subfolder of the configured
// Drive folder.
type GDrive struct {
	domain.ErrorFlag

	service  *drive.Service
	folderID string
	keep     int
	log      Logger
}

func NewGDrive(cfg *config.UploaderConfig, keep int, log Logger) (*GDrive, error) {
	service, err := drive.NewService(context.Background(), option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &GDrive{
		service:  service,
		folderID: cfg.FolderID,
		keep:     keep,
		log:      log,
	}, nil
}

func (g *GDrive) Name() string { return "Google Drive" }

func (g *GDrive) SetupInstructions() string {
	return "Couldn't upload to Google Drive: re-link the account via the /auth/google/drive endpoint " +
		"and point uploaders.credentials_file at the stored token"
}

func (g *GDrive) UploadFile(ctx context.Context, localPath string, destHint string) {
	file, err := os.Open(localPath)
	if err != nil {
		g.log.Errorf("Failed to open %q for Google Drive upload: %v", localPath, err)
		g.SetError()
		return
	}
	defer file.Close()

	parent, err := g.ensureFolder(ctx, destHint)
	if err != nil {
		g.log.Errorf("Failed to resolve Google Drive folder %q: %v", destHint, err)
		g.SetError()
		return
	}

	meta := &drive.File{
		Name:    filepath.Base(localPath),
		Parents: []string{parent},
	}
	if _, err := g.service.Files.Create(meta).Media(file).Context(ctx).Do(); err != nil {
		g.log.Errorf("Failed to upload to Google Drive: %v", err)
		g.SetError()
	}
}

func (g *GDrive) Test(ctx context.Context, localPath string) {
	file, err := os.Open(localPath)
	if err != nil {
		g.log.Errorf("Failed to open test file: %v", err)
		g.SetError()
		return
	}
	defer file.Close()

	meta := &drive.File{
		Name:    filepath.Base(localPath),
		Parents: []string{g.folderID},
	}
	created, err := g.service.Files.Create(meta).Media(file).Context(ctx).Do()
	if err != nil {
		g.log.Errorf("Google Drive test upload failed: %v", err)
		g.SetError()
		return
	}

	if err := g.service.Files.Delete(created.Id).Context(ctx).Do(); err != nil {
		g.log.Errorf("Google Drive test cleanup failed: %v", err)
		g.SetError()
	}
}

// PruneRemote deletes the oldest files in the backup set's subfolder until
// the keep-count remains. keep = -1 leaves everything.
func (g *GDrive) PruneRemote(ctx context.Context, destHint string) error {
	if g.keep < 0 {
		return nil
	}

	parent, err := g.ensureFolder(ctx, destHint)
	if err != nil {
		return fmt.Errorf("failed to resolve folder: %w", err)
	}

	query := fmt.Sprintf("'%s' in parents and trashed=false", parent)
	list, err := g.service.Files.List().
		Q(query).
		Fields("files(id, name, createdTime)").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}

	files := list.Files
	if len(files) <= g.keep {
		return nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].CreatedTime < files[j].CreatedTime })

	g.log.Infof("There are %d file(s) on Google Drive which exceeds the limit of %d, deleting oldest",
		len(files), g.keep)

	for _, file := range files[:len(files)-g.keep] {
		if err := g.service.Files.Delete(file.Id).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to delete %q: %w", file.Name, err)
		}
	}
	return nil
}

// ensureFolder finds or creates the backup set's subfolder under the
// configured parent.
func (g *GDrive) ensureFolder(ctx context.Context, name string) (string, error) {
	query := fmt.Sprintf("'%s' in parents and name='%s' and mimeType='%s' and trashed=false",
		g.folderID, name, driveFolderMime)

	list, err := g.service.Files.List().Q(query).Fields("files(id)").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}

	created, err := g.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: driveFolderMime,
		Parents:  []string{g.folderID},
	}).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

func (g *GDrive) Close() error { return nil }
