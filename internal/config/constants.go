package config

// Default paths and providers
const (
	// DefaultDatabasePath is the default path for the local state database
	DefaultDatabasePath = "./library-state.db"

	// DefaultLibraryRoot is where per-user library directories live
	DefaultLibraryRoot = "./library"

	// DefaultBlobDir is the blob directory of the local storage provider
	DefaultBlobDir = "./blobs"
)

type StorageProvider string

const (
	StorageLocal   StorageProvider = "local"
	StorageS3      StorageProvider = "s3"
	StorageDropbox StorageProvider = "dropbox"
)

type MetadataProvider string

const (
	MetadataMemory   MetadataProvider = "memory"
	MetadataPostgres MetadataProvider = "postgres"
)
