package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig        `mapstructure:"app"`
	Backup   BackupConfig     `mapstructure:"backup"`
	Schedule ScheduleConfig   `mapstructure:"schedule"`
	External []ExternalSource `mapstructure:"external"`
	Uploader []UploaderConfig `mapstructure:"uploaders"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

type BackupConfig struct {
	LocalDir         string         `mapstructure:"local_dir"`
	LocalKeepCount   int            `mapstructure:"local_keep_count"`
	RemoteKeepCount  int            `mapstructure:"remote_keep_count"`
	Format           string         `mapstructure:"format"`
	CompressionLevel int            `mapstructure:"compression_level"`
	PauseAutosaveCmd string         `mapstructure:"pause_autosave_cmd"`
	Sources          []SourceConfig `mapstructure:"sources"`
}

type SourceConfig struct {
	Path      string   `mapstructure:"path"`
	Glob      string   `mapstructure:"glob"`
	Format    string   `mapstructure:"format"`
	Create    *bool    `mapstructure:"create"`
	Blacklist []string `mapstructure:"blacklist"`
}

type ScheduleConfig struct {
	Enabled         bool            `mapstructure:"enabled"`
	Timezone        string          `mapstructure:"timezone"`
	Entries         []ScheduleEntry `mapstructure:"entries"`
	IntervalMinutes int             `mapstructure:"interval_minutes"`
}

type ScheduleEntry struct {
	Days []string `mapstructure:"days"`
	Time string   `mapstructure:"time"`
}

// ExternalSource describes a remote file server or database server whose
// content is staged locally before archiving.
type ExternalSource struct {
	Type     string `mapstructure:"type"` // ftpServer, sftpServer, mysqlServer
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// File servers
	FTPS        bool           `mapstructure:"ftps"`
	KeyFile     string         `mapstructure:"key_file"`
	Passphrase  string         `mapstructure:"passphrase"`
	BaseDir     string         `mapstructure:"base_dir"`
	BackupPaths []ExternalPath `mapstructure:"backup_paths"`

	// Database servers
	SSL       bool               `mapstructure:"ssl"`
	Databases []ExternalDatabase `mapstructure:"databases"`
}

type ExternalPath struct {
	Path      string   `mapstructure:"path"`
	Blacklist []string `mapstructure:"blacklist"`
}

type ExternalDatabase struct {
	Name      string   `mapstructure:"name"`
	Blacklist []string `mapstructure:"blacklist"`
}

type UploaderConfig struct {
	Type    string `mapstructure:"type"`
	Enabled bool   `mapstructure:"enabled"`

	// Google Drive
	CredentialsFile  string `mapstructure:"credentials_file"`
	FolderID         string `mapstructure:"folder_id"`
	ClientSecretFile string `mapstructure:"client_secret_file"`
	OAuthAddr        string `mapstructure:"oauth_addr"`

	// AWS S3
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`

	// Telegram
	BotToken   string `mapstructure:"bot_token"`
	ChatID     string `mapstructure:"chat_id"`
	SendFile   bool   `mapstructure:"send_file"`
	NotifyOnly bool   `mapstructure:"notify_only"`

	// FTP / SFTP
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	KeyFile    string `mapstructure:"key_file"`
	Passphrase string `mapstructure:"passphrase"`
	RemoteDir  string `mapstructure:"remote_dir"`
	FTPS       bool   `mapstructure:"ftps"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("app.name", "kibotos")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("backup.local_dir", "backups")
	v.SetDefault("backup.local_keep_count", -1)
	v.SetDefault("backup.remote_keep_count", -1)
	v.SetDefault("backup.format", "Backup-2006-01-02T15-04-05")
	v.SetDefault("backup.compression_level", 1)
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("schedule.interval_minutes", -1)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Backup.Sources) == 0 {
		return fmt.Errorf("at least one backup source is required")
	}

	for i, src := range c.Backup.Sources {
		if src.Path == "" && src.Glob == "" {
			return fmt.Errorf("sources[%d]: either path or glob is required", i)
		}
		if src.Path != "" && src.Glob != "" {
			return fmt.Errorf("sources[%d]: path and glob are mutually exclusive", i)
		}
	}

	if c.Backup.LocalDir == "" {
		return fmt.Errorf("backup.local_dir is required")
	}
	if c.Backup.CompressionLevel < 0 || c.Backup.CompressionLevel > 9 {
		return fmt.Errorf("backup.compression_level must be between 0 and 9")
	}

	if c.Schedule.Enabled {
		if len(c.Schedule.Entries) == 0 {
			return fmt.Errorf("schedule.entries is required when the schedule is enabled")
		}
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			return fmt.Errorf("schedule.timezone: %w", err)
		}
		for i, entry := range c.Schedule.Entries {
			if len(entry.Days) == 0 {
				return fmt.Errorf("schedule.entries[%d]: days is required", i)
			}
			if _, err := time.Parse("15:04", entry.Time); err != nil {
				return fmt.Errorf("schedule.entries[%d]: time must be HH:MM: %w", i, err)
			}
		}
	}

	for i, ext := range c.External {
		switch ext.Type {
		case "ftpServer", "sftpServer":
			if len(ext.BackupPaths) == 0 {
				return fmt.Errorf("external[%d]: backup_paths is required for %s", i, ext.Type)
			}
		case "mysqlServer":
			if len(ext.Databases) == 0 {
				return fmt.Errorf("external[%d]: databases is required for mysqlServer", i)
			}
		default:
			return fmt.Errorf("external[%d]: unknown type %q", i, ext.Type)
		}
		if ext.Host == "" {
			return fmt.Errorf("external[%d]: host is required", i)
		}
	}

	return nil
}

// SourceFormat resolves the effective filename layout for a source, falling
// back to the global one.
func (c *Config) SourceFormat(src SourceConfig) string {
	if src.Format != "" {
		return src.Format
	}
	return c.Backup.Format
}

// SourceCreate reports whether the source should be archived before upload.
// Unset means true.
func (c *Config) SourceCreate(src SourceConfig) bool {
	if src.Create == nil {
		return true
	}
	return *src.Create
}

func (c *Config) GetEnabledUploaders() []UploaderConfig {
	var enabled []UploaderConfig
	for _, target := range c.Uploader {
		if target.Enabled {
			enabled = append(enabled, target)
		}
	}
	return enabled
}

// Location returns the configured schedule timezone. Validation guarantees it
// loads; a zero config falls back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
