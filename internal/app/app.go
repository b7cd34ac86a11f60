// Package app wires configuration, logging, the scheduler, the destination
// adapters and the backup use case into a runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kibotos/kibotos/internal/adapter/uploader"
	"github.com/kibotos/kibotos/internal/archive"
	"github.com/kibotos/kibotos/internal/config"
	"github.com/kibotos/kibotos/internal/domain"
	"github.com/kibotos/kibotos/internal/external"
	"github.com/kibotos/kibotos/internal/infrastructure/logger"
	"github.com/kibotos/kibotos/internal/infrastructure/scheduler"
	"github.com/kibotos/kibotos/internal/usecase"
)

type App struct {
	config    *config.Config
	logger    *logger.Logger
	scheduler *scheduler.Scheduler
	backupUC  *usecase.Backup
	oauth     *GoogleOAuthService
	oauthAddr string
}

func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.App.LogLevel, cfg.App.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Infof("Starting %s", cfg.App.Name)
	log.Infof("Found %d backup set(s) and %d external source(s) configured",
		len(cfg.Backup.Sources), len(cfg.External))

	archiver, err := archive.New(cfg.Backup.LocalDir, cfg.Backup.CompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize archiver: %w", err)
	}

	stager := external.NewStager(log.Named("external"))

	backupUC := usecase.NewBackup(cfg, archiver, stager, func(ctx context.Context) []domain.Uploader {
		return buildAdapters(cfg, log)
	}, log.Named("backup"))

	sched := scheduler.New(cfg.Location(), func() {
		if err := backupUC.Run(context.Background()); err != nil {
			if errors.Is(err, usecase.ErrAlreadyRunning) {
				log.Warnf("Skipping scheduled backup: %v", err)
				return
			}
			log.Errorf("Scheduled backup failed: %v", err)
		}
	})
	if err := sched.Configure(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("failed to configure the backup schedule: %w", err)
	}
	backupUC.SetIntervalSource(sched.NextIntervalBackup)

	app := &App{
		config:    cfg,
		logger:    log,
		scheduler: sched,
		backupUC:  backupUC,
	}

	if err := app.setupDriveLinking(); err != nil {
		return nil, err
	}
	return app, nil
}

// setupDriveLinking starts the one-time Google Drive linking server when a
// gdrive destination is enabled but not yet linked.
func (a *App) setupDriveLinking() error {
	for _, up := range a.config.GetEnabledUploaders() {
		if up.Type != "gdrive" || IsLinked(up.CredentialsFile) {
			continue
		}

		a.logger.Warnf("Google Drive is enabled but no account is linked, backups will not be uploaded to it")
		if up.ClientSecretFile == "" {
			a.logger.Warnf("Set client_secret_file in the gdrive uploader config to enable account linking")
			return nil
		}

		svc, err := NewGoogleOAuthService(a.logger, up.ClientSecretFile, up.CredentialsFile)
		if err != nil {
			return fmt.Errorf("failed to initialize Google Drive linking: %w", err)
		}
		a.oauth = svc
		a.oauthAddr = up.OAuthAddr
		if a.oauthAddr == "" {
			a.oauthAddr = ":8090"
		}
		return nil
	}
	return nil
}

// buildAdapters connects every enabled destination for one run. A
// destination that fails to connect is logged and skipped, never aborting
// the run; unlinked Google Drive destinations are excluded up front.
func buildAdapters(cfg *config.Config, log *logger.Logger) []domain.Uploader {
	var adapters []domain.Uploader
	keep := cfg.Backup.RemoteKeepCount

	for i := range cfg.Uploader {
		upCfg := &cfg.Uploader[i]
		if !upCfg.Enabled {
			continue
		}

		var (
			up  domain.Uploader
			err error
		)
		switch upCfg.Type {
		case "gdrive":
			if !IsLinked(upCfg.CredentialsFile) {
				log.Warnf("Skipping Google Drive, no account is linked")
				continue
			}
			up, err = uploader.NewGDrive(upCfg, keep, log)
		case "s3":
			up, err = uploader.NewS3(upCfg, keep, log)
		case "telegram":
			up, err = uploader.NewTelegram(upCfg, log)
		case "sftp":
			up, err = uploader.NewSFTP(upCfg, keep, log)
		case "ftp":
			up, err = uploader.NewFTP(upCfg, keep, log)
		default:
			log.Warnf("Unknown uploader type: %s", upCfg.Type)
			continue
		}
		if err != nil {
			log.Errorf("Failed to initialize the %s uploader: %v", upCfg.Type, err)
			continue
		}
		adapters = append(adapters, up)
	}
	return adapters
}

// BackupNow runs a backup immediately, outside the schedule.
func (a *App) BackupNow(ctx context.Context) error {
	return a.backupUC.Run(ctx)
}

// TestConnections uploads and deletes a small test file on every enabled
// destination, reporting which of them are usable.
func (a *App) TestConnections(ctx context.Context, size int) error {
	adapters := buildAdapters(a.config, a.logger)
	if len(adapters) == 0 {
		return errors.New("no destinations could be initialized")
	}

	var failed int
	for _, up := range adapters {
		if err := usecase.RunConnectivityTest(ctx, up, a.config.Backup.LocalDir, size, a.logger); err != nil {
			a.logger.Errorf("%v", err)
			if hint := up.SetupInstructions(); hint != "" {
				a.logger.Infof("%s", hint)
			}
			failed++
		}
		if err := up.Close(); err != nil {
			a.logger.Warnf("Failed to close the %s connection: %v", up.Name(), err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d destination(s) failed the connection test", failed, len(adapters))
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	if a.oauth != nil {
		if err := a.oauth.StartAuthServer(ctx, a.oauthAddr); err != nil {
			return err
		}
	}

	if a.scheduler.Active() {
		a.scheduler.Start()
		a.logger.Infof("Scheduler started")
	} else {
		a.logger.Infof("Automatic backups are disabled")
	}
	if msg := a.backupUC.NextBackupMessage(time.Now()); msg != "" {
		a.logger.Infof("%s", msg)
	}

	<-ctx.Done()
	return nil
}

func (a *App) Shutdown() {
	a.logger.Infof("Shutting down...")
	a.scheduler.Stop()
	if a.oauth != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.oauth.Shutdown(shutdownCtx); err != nil {
			a.logger.Errorf("%v", err)
		}
	}
	a.logger.Close()
}
