package config

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/miroshar-success/book-adapter-epub/internal/entities"
)

type (
	Config struct {
		HTTP
		Global
		Database
		Library
		Storage
		Metadata
		Auth
		Tasks
		Scheduler
		Log
	}

	HTTP struct {
		Port int32
		Host string
	}
	Global struct {
		ShutdownTimeoutInSeconds int
	}
	Database struct {
		Path string
	}
	Library struct {
		Root            string
		HashAlgorithm   entities.HashAlgorithm
		DownloadWorkers int
		SkipCovers      bool
	}
	Storage struct {
		Provider StorageProvider
		LocalDir string
		BaseURL  string // Public URL prefix of the local provider

		S3Bucket          string
		S3Region          string
		S3Endpoint        string
		S3AccessKeyID     string
		S3SecretAccessKey string
		S3UsePathStyle    bool
		PresignExpiry     time.Duration

		DropboxToken        string
		DropboxRoot         string
		DropboxAppKey       string // With DropboxRefreshToken, replaces DropboxToken
		DropboxRefreshToken string
	}
	Metadata struct {
		Provider     MetadataProvider
		DSN          string
		PollInterval time.Duration
	}
	Auth struct {
		JWTSecret    string
		SessionToken string        // Restores a session at startup
		StaticUser   string        // Fixed identity, for single-user devices
		TokenExpiry  time.Duration // Validity of tokens issued by sign-in
	}
	Tasks struct {
		Enabled         bool
		Workers         int
		ReleaseAfter    time.Duration
		CleanupInterval time.Duration
	}
	Scheduler struct {
		ReplaySchedule string // Cron format, empty disables
		GCSchedule     string
	}
	Log struct {
		Level  string
		Format string // text or json
	}
)

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8188)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("shutdown_timeout_in_seconds", 5)
	v.SetDefault("database_path", DefaultDatabasePath)

	// Library defaults
	v.SetDefault("library_root", DefaultLibraryRoot)
	v.SetDefault("library_hash_algorithm", string(entities.HashAlgorithmSHA256))
	v.SetDefault("library_download_workers", 4)
	v.SetDefault("library_skip_covers", false)

	// Storage defaults
	v.SetDefault("storage_provider", string(StorageLocal))
	v.SetDefault("storage_local_dir", DefaultBlobDir)
	v.SetDefault("storage_base_url", "")
	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("s3_use_path_style", false)
	v.SetDefault("s3_presign_expiry", "15m")
	v.SetDefault("dropbox_root", "/Apps/Books")

	// Metadata defaults
	v.SetDefault("metadata_provider", string(MetadataMemory))
	v.SetDefault("metadata_poll_interval", "5s")

	// Auth defaults
	v.SetDefault("auth_token_expiry", "720h") // 30 days

	// Task queue defaults
	v.SetDefault("tasks_enabled", true)
	v.SetDefault("task_workers", 2)
	v.SetDefault("task_release_after", "15m")
	v.SetDefault("task_cleanup_interval", "1h")

	// Scheduler defaults
	v.SetDefault("replay_schedule", "*/15 * * * *") // Every 15 minutes
	v.SetDefault("gc_schedule", "0 4 * * *")        // Daily at 04:00

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			log.Printf("Config file %s not loaded: %v", file, err)
		}
	}

	return &Config{
		HTTP: HTTP{
			Port: v.GetInt32("PORT"),
			Host: v.GetString("HOST"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
		Database: Database{
			Path: v.GetString("DATABASE_PATH"),
		},
		Library: Library{
			Root:            v.GetString("LIBRARY_ROOT"),
			HashAlgorithm:   entities.HashAlgorithm(v.GetString("LIBRARY_HASH_ALGORITHM")),
			DownloadWorkers: v.GetInt("LIBRARY_DOWNLOAD_WORKERS"),
			SkipCovers:      v.GetBool("LIBRARY_SKIP_COVERS"),
		},
		Storage: Storage{
			Provider:          StorageProvider(v.GetString("STORAGE_PROVIDER")),
			LocalDir:          v.GetString("STORAGE_LOCAL_DIR"),
			BaseURL:           v.GetString("STORAGE_BASE_URL"),
			S3Bucket:          v.GetString("S3_BUCKET"),
			S3Region:          v.GetString("S3_REGION"),
			S3Endpoint:        v.GetString("S3_ENDPOINT"),
			S3AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
			S3SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
			S3UsePathStyle:    v.GetBool("S3_USE_PATH_STYLE"),
			PresignExpiry:     v.GetDuration("S3_PRESIGN_EXPIRY"),
			DropboxToken:      v.GetString("DROPBOX_TOKEN"),
			DropboxRoot:       v.GetString("DROPBOX_ROOT"),

			DropboxAppKey:       v.GetString("DROPBOX_APP_KEY"),
			DropboxRefreshToken: v.GetString("DROPBOX_REFRESH_TOKEN"),
		},
		Metadata: Metadata{
			Provider:     MetadataProvider(v.GetString("METADATA_PROVIDER")),
			DSN:          v.GetString("METADATA_DSN"),
			PollInterval: v.GetDuration("METADATA_POLL_INTERVAL"),
		},
		Auth: Auth{
			JWTSecret:    v.GetString("AUTH_JWT_SECRET"),
			SessionToken: v.GetString("AUTH_SESSION_TOKEN"),
			StaticUser:   v.GetString("AUTH_STATIC_USER"),
			TokenExpiry:  v.GetDuration("AUTH_TOKEN_EXPIRY"),
		},
		Tasks: Tasks{
			Enabled:         v.GetBool("TASKS_ENABLED"),
			Workers:         v.GetInt("TASK_WORKERS"),
			ReleaseAfter:    v.GetDuration("TASK_RELEASE_AFTER"),
			CleanupInterval: v.GetDuration("TASK_CLEANUP_INTERVAL"),
		},
		Scheduler: Scheduler{
			ReplaySchedule: v.GetString("REPLAY_SCHEDULE"),
			GCSchedule:     v.GetString("GC_SCHEDULE"),
		},
		Log: Log{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error

	switch c.Library.HashAlgorithm {
	case entities.HashAlgorithmSHA256, entities.HashAlgorithmXXH64:
	default:
		errs = append(errs, fmt.Errorf("unknown hash algorithm %q", c.Library.HashAlgorithm))
	}

	switch c.Storage.Provider {
	case StorageLocal:
	case StorageS3:
		if c.Storage.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for the s3 storage provider"))
		}
	case StorageDropbox:
		if c.Storage.DropboxToken == "" && (c.Storage.DropboxAppKey == "" || c.Storage.DropboxRefreshToken == "") {
			errs = append(errs, errors.New("DROPBOX_TOKEN or DROPBOX_APP_KEY with DROPBOX_REFRESH_TOKEN is required for the dropbox storage provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage provider %q", c.Storage.Provider))
	}

	switch c.Metadata.Provider {
	case MetadataMemory:
	case MetadataPostgres:
		if c.Metadata.DSN == "" {
			errs = append(errs, errors.New("METADATA_DSN is required for the postgres metadata provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown metadata provider %q", c.Metadata.Provider))
	}

	if c.Auth.StaticUser == "" && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("either AUTH_STATIC_USER or AUTH_JWT_SECRET must be set"))
	}

	return errors.Join(errs...)
}
