package app

import (
	"flag"
	"fmt"
	"strings"

	"github.com/filedepot/filedepot/common/logger"
	"github.com/filedepot/filedepot/server/api/rest/server"
	"github.com/filedepot/filedepot/server/services"
	"github.com/filedepot/filedepot/server/services/blob"
	"github.com/filedepot/filedepot/server/store"
)

// LogSafeFlags is a list of flags by name whose values are safe to log.
var LogSafeFlags = []string{
	"blob_store_type",
	"blob_store_local_directory",
	"blob_store_aws_s3_bucket_name",
	"blob_store_aws_s3_region",
	"blob_store_aws_s3_access_key_id",
	"api_server_address",
	"database_driver",
	"database_max_idle_connections",
	"database_max_open_connections",
	"log_levels",
}

type BlobStoreConfig struct {
	// BlobStoreType specifies which blob store should be used.
	BlobStoreType string
	// LocalBlobStoreDir is the base directory on the local filesystem to store blobs to, if enabled.
	LocalBlobStoreDir string
	// S3BlobStoreConfig contains configuration for the S3 blob store, if enabled.
	S3BlobStoreConfig blob.S3BlobStoreConfig
}

func BlobStoreFactory(config BlobStoreConfig, logFactory logger.LogFactory) (services.BlobStore, error) {
	switch strings.ToLower(config.BlobStoreType) {
	case strings.ToLower(blob.AWSS3BlobStoreType.String()):
		return blob.NewS3BlobStore(config.S3BlobStoreConfig, logFactory)
	case strings.ToLower(blob.LocalBlobStoreType.String()):
		return blob.NewLocalBlobStore(blob.LocalBlobStoreDirectory(config.LocalBlobStoreDir)), nil
	default:
		return nil, fmt.Errorf("error unsupported blob store type: %v", config.BlobStoreType)
	}
}

type ServerConfig struct {
	APIConfig       server.AppAPIServerConfig
	DatabaseConfig  store.DatabaseConfig
	BlobStoreConfig BlobStoreConfig
	LogLevels       logger.LogLevelConfig
}

func ConfigFromFlags() (*ServerConfig, error) {
	var (
		databaseDriverStr        string
		databaseConnectionString string
		logLevels                string
	)

	config := &ServerConfig{}

	// Blob Storage
	flag.StringVar(&config.BlobStoreConfig.BlobStoreType, "blob_store_type",
		blob.LocalBlobStoreType.String(), fmt.Sprintf("The type of blob store to use. Options: %s", strings.Join(blob.BlobStoreTypes(), ", ")))
	flag.StringVar(&config.BlobStoreConfig.LocalBlobStoreDir, "blob_store_local_directory",
		defaultLocalBlobStoreDir, "The path on the local host to store blob files to, if using the local blob store.")
	flag.StringVar(&config.BlobStoreConfig.S3BlobStoreConfig.BucketName, "blob_store_aws_s3_bucket_name",
		"", "The name of the S3 bucket to store blobs to, if using the S3 blob store.")
	flag.StringVar(&config.BlobStoreConfig.S3BlobStoreConfig.Region, "blob_store_aws_s3_region",
		"", "The region of the S3 bucket to store blobs to, if using the S3 blob store.")
	flag.StringVar(&config.BlobStoreConfig.S3BlobStoreConfig.AccessKeyID, "blob_store_aws_s3_access_key_id",
		"", "The AWS Access Key ID to use to authenticate to the S3 bucket, if using the S3 blob store.")
	flag.StringVar(&config.BlobStoreConfig.S3BlobStoreConfig.SecretAccessKey, "blob_store_aws_s3_secret_key",
		"", "The AWS Secret Key to use to authenticate to the S3 bucket, if using the S3 blob store.")

	// API
	flag.StringVar(&config.APIConfig.Address, "api_server_address",
		"0.0.0.0:8080", "The interface and port to bind the API server to.")

	// Database
	flag.StringVar(&databaseConnectionString, "database_connection_string",
		defaultSQLiteConnectionString, "The connection string for the database")
	flag.StringVar(&databaseDriverStr, "database_driver",
		string(store.Sqlite), "The Database Driver to use (i.e sqlite3|postgres)")
	flag.IntVar(&config.DatabaseConfig.MaxIdleConnections, "database_max_idle_connections",
		store.DefaultDatabaseMaxIdleConnections, "The maximum number of idle database connections to use")
	flag.IntVar(&config.DatabaseConfig.MaxOpenConnections, "database_max_open_connections",
		store.DefaultDatabaseMaxOpenConnections, "The maximum number of open database connections to use")

	// Misc
	flag.StringVar(&logLevels, "log_levels",
		"", fmt.Sprintf("A comma separated list of name=level pairs where name is the name of the logger and level is one of: %s", logger.ListLogLevels()))
	flag.Parse()

	config.DatabaseConfig.Driver = store.DBDriver(databaseDriverStr)
	config.DatabaseConfig.ConnectionString = store.DatabaseConnectionString(databaseConnectionString)
	config.LogLevels = logger.LogLevelConfig(logLevels)

	return config, nil
}
